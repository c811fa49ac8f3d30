package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/franz/photor/internal/store"
	"github.com/franz/photor/internal/util"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending catalog migrations",
	Long: `Apply pending catalog schema migrations. Other commands migrate the
catalog automatically when they open it; use --check to report the schema
state without changing anything.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("check", false, "report pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	check, _ := cmd.Flags().GetBool("check")

	db, err := store.OpenWithOptions(cfg.DB, &store.OpenOptions{
		NetworkOptimized: cfg.NetworkOptimized,
		SkipMigrations:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer db.Close()

	status, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	if status.Dirty {
		return fmt.Errorf("catalog schema version %d is dirty; a previous migration failed halfway", status.Current)
	}

	if !status.Pending() {
		util.SuccessLog("Catalog schema is up to date (version %d)", status.Current)
		return nil
	}

	if check {
		util.WarnLog("Catalog schema is at version %d, latest is %d", status.Current, status.Latest)
		return fmt.Errorf("%d pending migration(s)", status.Latest-status.Current)
	}

	if err := db.Migrate(); err != nil {
		return err
	}
	util.SuccessLog("Migrated catalog schema from version %d to %d", status.Current, status.Latest)
	return nil
}
