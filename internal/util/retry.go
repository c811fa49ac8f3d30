package util

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts int           // Maximum number of attempts, 1 disables retrying
	InitialWait time.Duration // Initial wait duration (doubled each retry)
	MaxWait     time.Duration // Maximum wait duration between retries
}

// NoRetry performs every operation exactly once
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// NASRetryConfig returns retry config for archives on network storage.
// Only idempotent filesystem calls go through it (mkdir, stat, remove).
func NASRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// IsRetryableError checks if an error is worth retrying
// Returns true for transient network/filesystem errors
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pathError *os.PathError
	var linkError *os.LinkError
	var syscallError syscall.Errno

	if errors.As(err, &pathError) {
		err = pathError.Err
	}
	if errors.As(err, &linkError) {
		err = linkError.Err
	}

	if errors.As(err, &syscallError) {
		switch syscallError {
		case syscall.EAGAIN,
			syscall.ETIMEDOUT,
			syscall.ECONNRESET,
			syscall.ECONNABORTED,
			syscall.ECONNREFUSED,
			syscall.ENETDOWN,
			syscall.ENETUNREACH,
			syscall.EHOSTDOWN,
			syscall.EHOSTUNREACH,
			syscall.EIO:
			return true
		}
	}

	errMsg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"broken pipe",
		"no route to host",
		"network is unreachable",
		"network is down",
		"resource temporarily unavailable",
		"i/o error",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

// RetryWithBackoff executes a function with exponential backoff retry logic
// Returns the result of the function or the final error after all retries exhausted
func RetryWithBackoff[T any](cfg *RetryConfig, operation func() (T, error), operationName string) (T, error) {
	var result T
	var err error

	if cfg == nil || cfg.MaxAttempts < 1 {
		cfg = NoRetry()
	}

	waitDuration := cfg.InitialWait

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err = operation()
		if err == nil {
			if attempt > 1 {
				DebugLog("Retry: %s succeeded on attempt %d/%d", operationName, attempt, cfg.MaxAttempts)
			}
			return result, nil
		}

		if !IsRetryableError(err) {
			return result, err
		}

		if attempt == cfg.MaxAttempts {
			if cfg.MaxAttempts > 1 {
				WarnLog("Retry: %s failed after %d attempts: %v", operationName, cfg.MaxAttempts, err)
				return result, fmt.Errorf("max retries exceeded (%d attempts): %w", cfg.MaxAttempts, err)
			}
			return result, err
		}

		DebugLog("Retry: %s failed (attempt %d/%d), retrying in %v: %v",
			operationName, attempt, cfg.MaxAttempts, waitDuration, err)

		time.Sleep(waitDuration)

		waitDuration *= 2
		if waitDuration > cfg.MaxWait {
			waitDuration = cfg.MaxWait
		}
	}

	return result, err
}

// Retry executes a function with retry logic (no return value)
func Retry(cfg *RetryConfig, operation func() error, operationName string) error {
	_, err := RetryWithBackoff(cfg, func() (struct{}, error) {
		return struct{}{}, operation()
	}, operationName)
	return err
}

// RetryableStat stats a path on fsys with retry logic
func RetryableStat(fsys afero.Fs, path string, cfg *RetryConfig) (os.FileInfo, error) {
	return RetryWithBackoff(cfg, func() (os.FileInfo, error) {
		return fsys.Stat(path)
	}, fmt.Sprintf("stat(%s)", path))
}

// RetryableRemove removes a file on fsys with retry logic
func RetryableRemove(fsys afero.Fs, path string, cfg *RetryConfig) error {
	return Retry(cfg, func() error {
		return fsys.Remove(path)
	}, fmt.Sprintf("remove(%s)", path))
}

// RetryableMkdirAll creates a directory on fsys with retry logic
func RetryableMkdirAll(fsys afero.Fs, path string, perm os.FileMode, cfg *RetryConfig) error {
	return Retry(cfg, func() error {
		return fsys.MkdirAll(path, perm)
	}, fmt.Sprintf("mkdir(%s)", path))
}
