package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/facecheck/internal/config"
	"github.com/kozaktomas/facecheck/internal/pairing"
)

var pairCmd = &cobra.Command{
	Use:   "pair <subject-dir>...",
	Short: "Show which images would be compared",
	Long: `Show how the images of subject folders are classified and which passport
and selfie would be sent to the face matching service. Nothing is uploaded.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPair,
}

func init() {
	rootCmd.AddCommand(pairCmd)

	pairCmd.Flags().String("keywords", "", "YAML file with passport/selfie file name keywords (env CLASSIFIER_KEYWORDS)")
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cmd.Flags().Changed("keywords") {
		cfg.Classifier.KeywordsPath = mustGetString(cmd, "keywords")
	}
	kw, err := cfg.Keywords()
	if err != nil {
		return err
	}
	classifier := pairing.NewKeywordClassifier(kw.Passport, kw.Selfie)
	selector := pairing.NewSelector(classifier)

	for i, dir := range args {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("%s\n", dir)

		images, err := pairing.ListImages(dir)
		if err != nil {
			fmt.Printf("  error: %v\n", err)
			continue
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  FILE\tSIZE\tROLE")
		fmt.Fprintln(w, "  ----\t----\t----")
		for _, img := range images {
			fmt.Fprintf(w, "  %s\t%d\t%s\n", img.Name, img.Size, classifier.Role(img))
		}
		w.Flush()

		pair, err := selector.Choose(images)
		var failure *pairing.PairingFailure
		switch {
		case errors.As(err, &failure):
			fmt.Printf("  => skipped: %s\n", failure.Reason)
		case err != nil:
			fmt.Printf("  => error: %v\n", err)
		default:
			fmt.Printf("  => passport: %s, selfie: %s\n", pair.Passport.Name, pair.Selfie.Name)
		}
	}
	return nil
}
