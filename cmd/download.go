package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecheck/internal/constants"
	"github.com/kozaktomas/facecheck/internal/dataset"
)

var downloadCmd = &cobra.Command{
	Use:   "download <category>=<csv>...",
	Short: "Download subject images listed in CSV exports",
	Long: `Download subject images listed in CSV exports into <root>/<category>/<id>/.

The id column and the image URL columns are detected from the CSV header.
Each subject folder also gets an info.json with the original CSV row.

Example:
  facecheck download CC=rejected_CC.csv MV=rejected_MV.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().String("root", "data", "Root directory for downloaded subjects")
	downloadCmd.Flags().Int("concurrency", constants.DownloadConcurrency, "Number of rows downloaded in parallel")
}

type csvSource struct {
	category string
	path     string
}

func parseSources(args []string) ([]csvSource, error) {
	sources := make([]csvSource, 0, len(args))
	for _, arg := range args {
		category, path, ok := strings.Cut(arg, "=")
		category = strings.TrimSpace(category)
		path = strings.TrimSpace(path)
		if !ok || category == "" || path == "" {
			return nil, fmt.Errorf("invalid source %q, expected <category>=<csv>", arg)
		}
		if strings.ContainsAny(category, `/\`) {
			return nil, fmt.Errorf("invalid category %q", category)
		}
		sources = append(sources, csvSource{category: category, path: path})
	}
	return sources, nil
}

func runDownload(cmd *cobra.Command, args []string) error {
	root := mustGetString(cmd, "root")
	concurrency := mustGetInt(cmd, "concurrency")

	sources, err := parseSources(args)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if _, err := os.Stat(src.path); err != nil {
			return fmt.Errorf("CSV file for %s not found: %w", src.category, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nReceived interrupt signal...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create data root: %w", err)
	}
	abs, _ := filepath.Abs(root)
	fmt.Printf("Data root: %s\n\n", abs)

	downloader := dataset.NewDownloader(root, logger)
	downloader.Concurrency = concurrency

	var total dataset.Stats
	var failedSources []string
	for _, src := range sources {
		fmt.Printf("Processing category: %s (%s)\n", src.category, src.path)

		bar := newProgressBar(-1, "Downloading "+src.category, "rows")
		downloader.OnProgress = func(done, count int) {
			bar.ChangeMax(count)
			bar.Add(1)
		}

		stats, err := downloader.ProcessCSV(ctx, src.category, src.path)
		bar.Finish()
		fmt.Println()
		total.Add(stats)

		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			fmt.Printf("  error: %v\n\n", err)
			failedSources = append(failedSources, src.category)
			continue
		}
		fmt.Printf("%s complete: %d/%d successful\n\n", src.category, stats.Success, stats.Processed)
	}

	fmt.Printf("Total processed: %d\n", total.Processed)
	fmt.Printf("Total successful: %d\n", total.Success)
	fmt.Printf("Total failed: %d\n", total.Failed)
	if total.Success > 0 {
		fmt.Printf("Success rate: %.1f%%\n", total.SuccessRate())
	}

	if ctx.Err() != nil {
		return errors.New("download interrupted")
	}
	if len(failedSources) > 0 {
		return fmt.Errorf("could not process: %s", strings.Join(failedSources, ", "))
	}
	return nil
}
