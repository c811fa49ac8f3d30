package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/franz/photor/internal/util"
)

var initCmd = &cobra.Command{
	Use:   "init [archive-dir]",
	Short: "Create an archive with its config file and catalog",
	Long: `Create the archive root, write photor.toml with the current settings,
and create the catalog database with all migrations applied.

An existing photor.toml is kept unless --force is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "overwrite an existing photor.toml")
}

func runInit(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		viper.Set("archive", args[0])
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	force, _ := cmd.Flags().GetBool("force")

	if err := os.MkdirAll(cfg.Archive, 0o755); err != nil {
		return fmt.Errorf("cannot create archive %s: %w", cfg.Archive, err)
	}

	cfgPath := filepath.Join(cfg.Archive, configFileName+configFileExt)
	written, err := writeConfigFile(cfgPath, cfg.toFile(), force)
	if err != nil {
		return err
	}
	if written {
		util.SuccessLog("Wrote %s", cfgPath)
	} else {
		util.InfoLog("Keeping existing %s (use --force to overwrite)", cfgPath)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	util.SuccessLog("Catalog ready: %s (schema version %d)", cfg.DB, status.Current)
	return nil
}

// writeConfigFile writes cfg as TOML. It reports false when the file exists
// and force is not set.
func writeConfigFile(path string, cfg *fileConfig, force bool) (bool, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot write %s: %w", path, err)
	}

	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		f.Close()
		return false, fmt.Errorf("cannot encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("cannot write %s: %w", path, err)
	}
	return true, nil
}

// readConfigFile decodes a photor.toml written by writeConfigFile
func readConfigFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &cfg, nil
}
