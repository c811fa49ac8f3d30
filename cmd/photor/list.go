package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/franz/photor/internal/dates"
	"github.com/franz/photor/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List cataloged photos by capture date",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var dirsCmd = &cobra.Command{
	Use:   "dirs",
	Short: "List archive date directories, newest first",
	Args:  cobra.NoArgs,
	RunE:  runDirs,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog totals",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(listCmd, dirsCmd, statsCmd)

	listCmd.Flags().IntP("limit", "n", 100, "maximum number of photos to list")
	listCmd.Flags().Bool("paths", false, "print bare directory/filename paths instead of a table")
}

// withCatalog opens the configured catalog for a read-only command
func withCatalog(fn func(ctx context.Context, db *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}

func runList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	pathsOnly, _ := cmd.Flags().GetBool("paths")

	return withCatalog(func(ctx context.Context, db *store.Store) error {
		photos, err := db.ListPhotos(ctx, limit)
		if err != nil {
			return err
		}

		if pathsOnly {
			for _, p := range photos {
				fmt.Println(p.RelPath())
			}
			return nil
		}

		fmt.Println(renderTable(
			[]string{"ID", "Path", "Captured", "Size", "Camera"},
			photoRows(photos),
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		))
		return nil
	})
}

func photoRows(photos []*store.Photo) [][]string {
	rows := make([][]string, 0, len(photos))
	for _, p := range photos {
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10),
			p.RelPath(),
			p.CreateDate,
			humanize.IBytes(uint64(p.FileSizeBytes)),
			camera(p),
		})
	}
	return rows
}

func camera(p *store.Photo) string {
	switch {
	case p.Make != nil && p.Model != nil:
		return *p.Make + " " + *p.Model
	case p.Model != nil:
		return *p.Model
	case p.Make != nil:
		return *p.Make
	}
	return ""
}

func runDirs(cmd *cobra.Command, args []string) error {
	return withCatalog(func(ctx context.Context, db *store.Store) error {
		dirs, err := db.ListDirectories(ctx)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(dirs))
		for _, d := range dirs {
			rows = append(rows, []string{d.Directory, strconv.Itoa(d.Photos), humanize.IBytes(uint64(d.Bytes))})
		}
		fmt.Println(renderTable(
			[]string{"Directory", "Photos", "Size"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight},
		))
		return nil
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	return withCatalog(func(ctx context.Context, db *store.Store) error {
		stats, err := db.Count(ctx, dates.Bucket(dates.Sentinel))
		if err != nil {
			return err
		}

		fmt.Println(renderTable(
			[]string{"Metric", "Value"},
			[][]string{
				{"Photos", humanize.Comma(int64(stats.Photos))},
				{"Total size", humanize.IBytes(uint64(stats.Bytes))},
				{"Directories", strconv.Itoa(stats.Directories)},
				{"Undated", strconv.Itoa(stats.Undated)},
			},
			[]columnAlignment{alignLeft, alignRight},
		))
		return nil
	})
}
