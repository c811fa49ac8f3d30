package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/photor/internal/util"
)

var (
	// Version is set at build time
	Version = "dev"

	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "photor",
		Short: "Photo archive importer - deduplicate and file photos and videos by capture date",
		Long: `photor imports photos and videos from a staging directory into a
date-bucketed archive. Each file is fingerprinted and checked against the
catalog, so importing the same files twice never creates duplicates. New files
are copied into YYYY-MM-DD directories using their capture date and recorded
in a SQLite catalog together with their camera metadata.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetVerbose(viper.GetBool("verbose"))
			util.SetQuiet(viper.GetBool("quiet"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <archive>/photor.toml)")
	rootCmd.PersistentFlags().StringP("archive", "a", "", "archive root directory")
	rootCmd.PersistentFlags().String("db", "", "catalog database file (default is <archive>/photor.db)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "quiet output (errors only)")

	// Bind flags to viper
	viper.BindPFlag("archive", rootCmd.PersistentFlags().Lookup("archive"))
	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))

	setDefaults()
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// The archive root carries its own configuration
		if archive := viper.GetString("archive"); archive != "" {
			viper.AddConfigPath(archive)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(configFileName)
		viper.SetConfigType("toml")
	}

	// Read in environment variables that match, e.g. PHOTOR_METADATA_PROVIDER
	viper.SetEnvPrefix("PHOTOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		util.DebugLog("Using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		util.WarnLog("Cannot read config file %s: %v", filepath.Clean(cfgFile), err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
