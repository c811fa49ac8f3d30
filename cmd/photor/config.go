package main

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"

	"github.com/franz/photor/internal/dates"
	"github.com/franz/photor/internal/fingerprint"
	"github.com/franz/photor/internal/meta"
	"github.com/franz/photor/internal/util"
)

const (
	configFileName = "photor"
	configFileExt  = ".toml"
	defaultDBName  = "photor.db"

	defaultEventsDir = "artifacts"

	providerAuto     = "auto"
	providerExiftool = "exiftool"
	providerNative   = "native"
)

func setDefaults() {
	viper.SetDefault("prefix_bytes", fingerprint.DefaultPrefixBytes)
	viper.SetDefault("additional_extensions", []string{})
	viper.SetDefault("date_pattern", dates.DefaultPattern)
	viper.SetDefault("metadata.provider", providerAuto)
	viper.SetDefault("concurrency", 1)
	viper.SetDefault("events_dir", defaultEventsDir)
	viper.SetDefault("network_optimized", false)
}

// fileConfig is the on-disk layout of photor.toml
type fileConfig struct {
	PrefixBytes          int64          `toml:"prefix_bytes"`
	AdditionalExtensions []string       `toml:"additional_extensions"`
	DatePattern          string         `toml:"date_pattern"`
	Concurrency          int            `toml:"concurrency"`
	EventsDir            string         `toml:"events_dir"`
	NetworkOptimized     bool           `toml:"network_optimized"`
	Metadata             metadataConfig `toml:"metadata"`
}

type metadataConfig struct {
	Provider string `toml:"provider"`
}

// appConfig is the validated configuration of one command invocation
type appConfig struct {
	Archive              string
	DB                   string
	PrefixBytes          int64
	AdditionalExtensions []string
	DatePattern          *regexp.Regexp
	Provider             string
	Concurrency          int
	EventsDir            string
	NetworkOptimized     bool
	Verbose              bool
	Quiet                bool
}

// loadConfig assembles the configuration with the usual precedence:
// flag, PHOTOR_* environment variable, config file, default
func loadConfig() (*appConfig, error) {
	cfg := &appConfig{
		Archive:              viper.GetString("archive"),
		DB:                   viper.GetString("db"),
		PrefixBytes:          viper.GetInt64("prefix_bytes"),
		AdditionalExtensions: viper.GetStringSlice("additional_extensions"),
		Provider:             strings.ToLower(viper.GetString("metadata.provider")),
		Concurrency:          viper.GetInt("concurrency"),
		EventsDir:            viper.GetString("events_dir"),
		NetworkOptimized:     viper.GetBool("network_optimized"),
		Verbose:              viper.GetBool("verbose"),
		Quiet:                viper.GetBool("quiet"),
	}

	if cfg.Archive == "" {
		return nil, fmt.Errorf("archive directory is required (use --archive/-a or PHOTOR_ARCHIVE): %w", util.ErrInvalidConfig)
	}
	cfg.Archive = filepath.Clean(cfg.Archive)
	if cfg.DB == "" {
		cfg.DB = filepath.Join(cfg.Archive, defaultDBName)
	}

	if cfg.PrefixBytes <= 0 {
		return nil, fmt.Errorf("prefix_bytes must be positive, got %d: %w", cfg.PrefixBytes, util.ErrInvalidConfig)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	pattern, err := regexp.Compile(viper.GetString("date_pattern"))
	if err != nil {
		return nil, fmt.Errorf("invalid date_pattern: %v: %w", err, util.ErrInvalidConfig)
	}
	cfg.DatePattern = pattern

	switch cfg.Provider {
	case providerAuto, providerExiftool, providerNative:
	default:
		return nil, fmt.Errorf("unknown metadata.provider %q (want auto, exiftool or native): %w", cfg.Provider, util.ErrInvalidConfig)
	}

	return cfg, nil
}

// eventsPath returns the event log directory; a relative events_dir is
// taken relative to the archive root
func (c *appConfig) eventsPath() string {
	dir := c.EventsDir
	if dir == "" {
		dir = defaultEventsDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Archive, dir)
}

// toFile returns the settings persisted by `photor init`
func (c *appConfig) toFile() *fileConfig {
	return &fileConfig{
		PrefixBytes:          c.PrefixBytes,
		AdditionalExtensions: c.AdditionalExtensions,
		DatePattern:          c.DatePattern.String(),
		Concurrency:          c.Concurrency,
		EventsDir:            c.EventsDir,
		NetworkOptimized:     c.NetworkOptimized,
		Metadata:             metadataConfig{Provider: c.Provider},
	}
}

// newProvider builds the configured metadata provider. "auto" prefers
// exiftool and falls back to the native decoders.
func newProvider(name string) (meta.Provider, error) {
	if name == providerAuto {
		name = providerNative
		if meta.CheckExiftoolAvailable() {
			name = providerExiftool
		} else {
			util.WarnLog("exiftool not found in PATH - using native decoders")
		}
	}

	if name == providerNative {
		return meta.NewNative(nil), nil
	}
	et, err := meta.NewExiftool()
	if err != nil {
		return nil, err
	}
	return et, nil
}
