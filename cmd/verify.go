package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/facecheck/internal/batch"
	"github.com/kozaktomas/facecheck/internal/config"
	"github.com/kozaktomas/facecheck/internal/faceapi"
	"github.com/kozaktomas/facecheck/internal/matcher"
	"github.com/kozaktomas/facecheck/internal/pairing"
	"github.com/kozaktomas/facecheck/internal/report"
	"github.com/kozaktomas/facecheck/internal/store"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare passport and selfie for every subject folder",
	Long: `Verify every subject folder under the data root.

For each folder the passport scan and the selfie are chosen from the file names
(or by size when the names do not tell), compared by the face matching service
and judged against the similarity threshold. Results are written to a CSV report.

Settings come from the environment (.env is loaded when present); flags override them.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("root", "", "Folder with one subfolder per subject (env DATA_ROOT)")
	verifyCmd.Flags().String("output", "", "CSV report path (env RESULTS_CSV)")
	verifyCmd.Flags().Float64("threshold", 0, "Similarity needed for a match, between 0 and 1 (env FACE_MATCH_THRESHOLD)")
	verifyCmd.Flags().String("endpoint", "", "Face matching service URL (env FACE_API_URL)")
	verifyCmd.Flags().Duration("timeout", 0, "Timeout of one face service call (env FACE_API_TIMEOUT)")
	verifyCmd.Flags().Int("concurrency", 0, "Number of subjects processed in parallel (env VERIFY_CONCURRENCY)")
	verifyCmd.Flags().String("mode", "", "Similarity mode: single or best (env FACE_MATCH_MODE)")
	verifyCmd.Flags().Bool("save-crops", false, "Save aligned face crops (env SAVE_CROPS)")
	verifyCmd.Flags().String("crops-dir", "", "Where face crops are saved (env CROPS_DIR)")
	verifyCmd.Flags().String("keywords", "", "YAML file with passport/selfie file name keywords (env CLASSIFIER_KEYWORDS)")
	verifyCmd.Flags().String("cache", "", "Redis address for caching comparisons (env REDIS_ADDR)")
	verifyCmd.Flags().String("store", "", "PostgreSQL URL for run history (env DATABASE_URL)")
	verifyCmd.Flags().Int("limit", 0, "Limit number of subjects to process (0 = no limit)")
}

// applyVerifyFlags overrides configuration with the flags the user actually set.
func applyVerifyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Data.Root = mustGetString(cmd, "root")
	}
	if flags.Changed("output") {
		cfg.Data.ResultsCSV = mustGetString(cmd, "output")
	}
	if flags.Changed("threshold") {
		cfg.Face.Threshold = mustGetFloat64(cmd, "threshold")
	}
	if flags.Changed("endpoint") {
		cfg.Face.URL = mustGetString(cmd, "endpoint")
	}
	if flags.Changed("timeout") {
		cfg.Face.Timeout = mustGetDuration(cmd, "timeout")
	}
	if flags.Changed("concurrency") {
		cfg.Verify.Concurrency = mustGetInt(cmd, "concurrency")
	}
	if flags.Changed("mode") {
		cfg.Face.Mode = mustGetString(cmd, "mode")
	}
	if flags.Changed("save-crops") {
		cfg.Data.SaveCrops = mustGetBool(cmd, "save-crops")
	}
	if flags.Changed("crops-dir") {
		cfg.Data.CropsDir = mustGetString(cmd, "crops-dir")
	}
	if flags.Changed("keywords") {
		cfg.Classifier.KeywordsPath = mustGetString(cmd, "keywords")
	}
	if flags.Changed("cache") {
		cfg.Redis.Addr = mustGetString(cmd, "cache")
	}
	if flags.Changed("store") {
		cfg.Database.URL = mustGetString(cmd, "store")
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	applyVerifyFlags(cmd, cfg)
	limit := mustGetInt(cmd, "limit")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	mode, err := matcher.ParseMode(cfg.Face.Mode)
	if err != nil {
		return err
	}

	selector, err := newSelector(cfg)
	if err != nil {
		return err
	}

	subjects, err := batch.Discover(cfg.Data.Root)
	if err != nil {
		return err
	}
	if limit > 0 && len(subjects) > limit {
		subjects = subjects[:limit]
	}

	// Set up context with signal handling for graceful cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			fmt.Println("\nReceived interrupt signal, finishing subjects in progress...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var service matcher.Service = faceapi.NewClient(cfg.Face.URL, faceapi.WithLogger(logger))
	if cfg.Redis.Addr != "" {
		client, err := connectRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			logger.Warn("comparison cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer client.Close()
			service = matcher.NewCachingService(service, matcher.NewRedisCache(client), cfg.Redis.TTL, logger)
		}
	}

	invoker := &matcher.Invoker{
		Service:   service,
		Threshold: cfg.Face.Threshold,
		Timeout:   cfg.Face.Timeout,
		Mode:      mode,
		Crops:     report.DirSink{Root: cfg.Data.CropsDir},
		SaveCrops: cfg.Data.SaveCrops,
		Logger:    logger,
	}

	fmt.Printf("Data root: %s\n", cfg.Data.Root)
	fmt.Printf("Face service: %s\n", cfg.Face.URL)
	fmt.Printf("Threshold: %s (mode: %s)\n", formatThreshold(cfg.Face.Threshold), mode)
	if cfg.Data.SaveCrops {
		fmt.Printf("Face crops: %s\n", cfg.Data.CropsDir)
	}
	fmt.Printf("Subjects: %d\n\n", len(subjects))

	bar := newProgressBar(len(subjects), fmt.Sprintf("Verifying subjects (%d workers)", cfg.Verify.Concurrency), "subjects")
	orch := &batch.Orchestrator{
		Selector:    selector,
		Invoker:     invoker,
		Concurrency: cfg.Verify.Concurrency,
		OnProgress:  func(completed, total int) { bar.Add(1) },
		Logger:      logger,
	}

	startedAt := time.Now()
	records := orch.Run(ctx, subjects)
	finishedAt := time.Now()
	bar.Finish()
	fmt.Println()

	if ctx.Err() != nil {
		fmt.Printf("Run interrupted: %d of %d subjects processed\n", len(records), len(subjects))
	}

	if err := report.Write(cfg.Data.ResultsCSV, records); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Printf("Report: %s\n\n", cfg.Data.ResultsCSV)

	printSummary(batch.Summarize(records))

	if cfg.Database.URL != "" {
		// The run context may be cancelled by now; history is still recorded.
		storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer storeCancel()
		runID, err := saveRun(storeCtx, cfg, store.Run{
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			Root:       cfg.Data.Root,
			ReportPath: cfg.Data.ResultsCSV,
			Threshold:  cfg.Face.Threshold,
			Mode:       string(mode),
		}, records)
		if err != nil {
			return fmt.Errorf("report written but run history not saved: %w", err)
		}
		fmt.Printf("\nRun saved: %s\n", runID)
	}

	return nil
}

func newSelector(cfg *config.Config) (*pairing.Selector, error) {
	kw, err := cfg.Keywords()
	if err != nil {
		return nil, err
	}
	return pairing.NewSelector(pairing.NewKeywordClassifier(kw.Passport, kw.Selfie)), nil
}

func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func saveRun(ctx context.Context, cfg *config.Config, run store.Run, records []batch.Record) (string, error) {
	pool, err := store.Open(ctx, &cfg.Database)
	if err != nil {
		return "", err
	}
	defer pool.Close()

	id, err := store.NewRunRepository(pool).SaveRun(ctx, run, records)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func printSummary(s batch.Summary) {
	fmt.Printf("Processed: %d subjects\n", s.Total)
	fmt.Printf("  Compared:        %d\n", s.OK)
	fmt.Printf("    Matched:       %d\n", s.Matched)
	fmt.Printf("    Below thresh.: %d\n", s.BelowThreshold)
	fmt.Printf("  Skipped:         %d\n", s.Skipped)
	fmt.Printf("  Errors:          %d\n", s.Errored)
	if s.OK > 0 {
		fmt.Printf("Match rate: %.1f%%\n", float64(s.Matched)/float64(s.OK)*100)
	}
}
