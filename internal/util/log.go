package util

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	currentLogLevel           = LevelInfo
	logOutput       io.Writer = os.Stderr
	logMu           sync.Mutex

	gray   = color.New(color.FgHiBlack).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
)

func init() {
	fd := os.Stderr.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		color.NoColor = true
	}
}

// SetLogLevel sets the minimum log level to display
func SetLogLevel(level LogLevel) {
	currentLogLevel = level
}

// SetVerbose enables verbose (debug) logging
func SetVerbose(verbose bool) {
	if verbose {
		currentLogLevel = LevelDebug
	}
}

// SetQuiet enables quiet mode (errors only)
func SetQuiet(quiet bool) {
	if quiet {
		currentLogLevel = LevelError
	}
}

// IsQuiet reports whether only errors are printed
func IsQuiet() bool {
	return currentLogLevel >= LevelError
}

// SetColors enables or disables colored output
func SetColors(enabled bool) {
	color.NoColor = !enabled
}

// SetOutput redirects log lines, mostly for tests
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	logOutput = w
}

func write(level LogLevel, paint func(a ...interface{}) string, tag string, format string, args []interface{}) {
	if currentLogLevel > level {
		return
	}
	msg := fmt.Sprintf(format, args...)

	logMu.Lock()
	defer logMu.Unlock()
	fmt.Fprintf(logOutput, "%s %s %s\n", paint(timestamp()), tag, msg)
}

// DebugLog logs debug messages
func DebugLog(format string, args ...interface{}) {
	write(LevelDebug, gray, "[DEBUG]", format, args)
}

// InfoLog logs informational messages
func InfoLog(format string, args ...interface{}) {
	write(LevelInfo, cyan, "[INFO] ", format, args)
}

// WarnLog logs warning messages
func WarnLog(format string, args ...interface{}) {
	write(LevelWarn, yellow, "[WARN] ", format, args)
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...interface{}) {
	write(LevelError, red, "[ERROR]", format, args)
}

// SuccessLog logs success messages (always shown unless quiet)
func SuccessLog(format string, args ...interface{}) {
	write(LevelInfo, green, "[OK]   ", format, args)
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}
