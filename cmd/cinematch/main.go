package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "cinematch",
	Short: "Content-based film recommendations from a local catalog",
	Long: `cinematch harvests a film catalog from the movie API and recommends
films similar to one you name, by genre, cast, and plot.

Examples:
  cinematch harvest --pages 50
  cinematch start
  cinematch login alice
  cinematch search "Le Fabuleux Destin d'Amélie Poulain"`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if os.Getenv("NO_COLOR") != "" {
			noColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(harvestCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(filtersCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(showcaseCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// setupLogging installs a text handler on stderr as the default logger.
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

func versionLine() string {
	return fmt.Sprintf("cinematch version %s", version)
}
