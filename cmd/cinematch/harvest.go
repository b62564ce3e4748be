package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/cinematch/internal/config"
	"github.com/kalambet/cinematch/internal/harvest"
	"github.com/kalambet/cinematch/internal/storage"
	"github.com/kalambet/cinematch/internal/tmdb"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Build the film catalog from the movie API",
	Long: `Fetch listing pages from the movie API, enrich each film with its lead
cast, and write the catalog file once at the end.

Interrupting with Ctrl-C stops at the next page boundary and still writes
what was collected.

Examples:
  cinematch harvest
  cinematch harvest --pages 20 --concurrency 4
  cinematch harvest --output ./films.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireToken(); err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		if cmd.Flags().Changed("pages") {
			cfg.Harvest.Pages, _ = cmd.Flags().GetInt("pages")
		}
		if cmd.Flags().Changed("concurrency") {
			cfg.Harvest.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		}
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = cfg.CatalogPath()
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := tmdb.New(tmdb.Options{
			BaseURL:       cfg.TMDB.BaseURL,
			Token:         cfg.TMDB.Token,
			Language:      cfg.TMDB.Language,
			Timeout:       config.Duration(cfg.TMDB.Timeout, 10*time.Second),
			RatePerSecond: cfg.TMDB.RatePerSecond,
		})
		if err := tmdb.EnsureReady(ctx, client, os.Stderr); err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		h := harvest.New(client, harvest.Options{
			Pages:       cfg.Harvest.Pages,
			Concurrency: cfg.Harvest.Concurrency,
			CastLimit:   cfg.Harvest.CastLimit,
			Query: tmdb.DiscoverQuery{
				MinVoteCount:   cfg.Harvest.MinVoteCount,
				ReleaseDateGTE: cfg.Harvest.ReleaseDateGTE,
				SortBy:         cfg.Harvest.SortBy,
			},
		})

		printStep("Harvesting %d pages into %s", cfg.Harvest.Pages, output)
		sum, err := harvest.Run(ctx, h, output, store)
		printSummary(sum)
		if err != nil {
			return err
		}
		if sum.Canceled {
			printWarning("Harvest interrupted; wrote %d films to %s", sum.Items, output)
			return nil
		}
		printSuccess("Wrote %d films to %s", sum.Items, output)
		return nil
	},
}

var harvestHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past harvest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		runs, err := store.ListHarvestRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No harvest runs recorded.")
			return nil
		}
		for _, r := range runs {
			fmt.Println(formatRun(r))
		}
		return nil
	},
}

func init() {
	harvestCmd.Flags().Int("pages", 0, "number of listing pages to fetch (default from config)")
	harvestCmd.Flags().Int("concurrency", 0, "pages fetched at once (default from config)")
	harvestCmd.Flags().String("output", "", "catalog file to write (default from config)")
	harvestHistoryCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	harvestCmd.AddCommand(harvestHistoryCmd)
}

func printSummary(sum harvest.Summary) {
	printStatus("Pages", "%d ok, %d skipped of %d", sum.PagesOK, sum.PagesSkipped, sum.PagesRequested)
	printStatus("Films", "%d (%d enriched, %d without cast)", sum.Items, sum.ItemsEnriched, sum.ItemsSkipped)
	if reasons := sum.SortedReasons(); len(reasons) > 0 {
		printStatus("Skipped", "%s", strings.Join(reasons, " "))
	}
	if n := len(sum.DuplicateIDs); n > 0 {
		printWarning("%d film ids appear more than once", n)
	}
	printStatus("Duration", "%s", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
}

func formatRun(r storage.HarvestRun) string {
	status := r.Status
	switch r.Status {
	case storage.RunCompleted:
		status = colorize(colorGreen, status)
	case storage.RunCanceled:
		status = colorize(colorYellow, status)
	case storage.RunFailed:
		status = colorize(colorRed, status)
	}
	line := fmt.Sprintf("%s  %s  %-9s  %5d films  %3d/%d pages  %s",
		colorize(colorCyan, shortID(r.ID)),
		r.StartedAt.Local().Format(time.DateTime),
		status,
		r.Items,
		r.PagesOK,
		r.PagesRequested,
		r.Duration().Round(time.Second),
	)
	if r.Error != "" {
		line += "  " + r.Error
	}
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
