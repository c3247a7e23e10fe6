package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecheck/internal/config"
	"github.com/kozaktomas/facecheck/internal/constants"
	"github.com/kozaktomas/facecheck/internal/report"
	"github.com/kozaktomas/facecheck/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previous verification runs",
	Long: `List verification runs recorded in PostgreSQL (DATABASE_URL or --store).
With --run, print the records of a single run.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().String("store", "", "PostgreSQL URL (env DATABASE_URL)")
	historyCmd.Flags().Int("limit", constants.DefaultHistoryLimit, "Number of runs to list")
	historyCmd.Flags().String("run", "", "Show the records of this run ID")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cmd.Flags().Changed("store") {
		cfg.Database.URL = mustGetString(cmd, "store")
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable or --store is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Open(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	repo := store.NewRunRepository(pool)

	if runArg := mustGetString(cmd, "run"); runArg != "" {
		runID, err := uuid.Parse(runArg)
		if err != nil {
			return fmt.Errorf("invalid run ID: %w", err)
		}
		return printRunRecords(ctx, repo, runID)
	}

	runs, err := repo.ListRuns(ctx, mustGetInt(cmd, "limit"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tTHRESHOLD\tMODE\tSUBJECTS\tMATCHED\tBELOW\tSKIPPED\tERRORS")
	fmt.Fprintln(w, "--\t-------\t--------\t---------\t----\t--------\t-------\t-----\t-------\t------")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.FinishedAt.Sub(r.StartedAt).Round(time.Second),
			formatThreshold(r.Threshold), r.Mode,
			r.Summary.Total, r.Summary.Matched, r.Summary.BelowThreshold, r.Summary.Skipped, r.Summary.Errored)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d runs\n", len(runs))
	return nil
}

func printRunRecords(ctx context.Context, repo *store.RunRepository, runID uuid.UUID) error {
	records, err := repo.Records(ctx, runID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tSIMILARITY\tMATCH\tSTATUS\tREASON")
	fmt.Fprintln(w, "-------\t----------\t-----\t------\t------")
	for _, rec := range records {
		row := report.Row(rec)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row[0], row[3], row[4], row[6], row[5])
	}
	w.Flush()

	fmt.Printf("\nTotal: %d records\n", len(records))
	return nil
}
