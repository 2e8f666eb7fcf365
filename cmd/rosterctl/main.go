// Command rosterctl runs the roster import pipeline from the terminal:
// it parses a workbook, prints the preview, and applies it against the
// backend API after confirmation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/classkit/roster/internal/importer"
	"github.com/classkit/roster/internal/logging"
	"github.com/classkit/roster/internal/roster"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagFile     string
	flagStandard string
	flagDivision string
	flagBaseURL  string
	flagToken    string
	flagTimeout  time.Duration
	flagYes      bool
	flagLogLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "rosterctl",
		Short: "Import and edit student rosters from Excel workbooks",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			logging.Setup(flagLogLevel, "text")
			if flagBaseURL == "" {
				flagBaseURL = firstEnv("BACKEND_BASE_URL", "API_BASE_URL")
			}
			if flagToken == "" {
				flagToken = os.Getenv("BACKEND_API_TOKEN")
			}
		},
	}

	root.PersistentFlags().StringVarP(&flagFile, "file", "f", "", "path to the .xlsx workbook (required)")
	root.PersistentFlags().StringVarP(&flagStandard, "standard", "s", "", "standard (class) id (required)")
	root.PersistentFlags().StringVarP(&flagDivision, "division", "d", "", "division (section) id (required)")
	root.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend API base URL (default: $BACKEND_BASE_URL)")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "backend API token (default: $BACKEND_API_TOKEN)")
	root.PersistentFlags().DurationVar(&flagTimeout, "timeout", roster.DefaultRequestTimeout, "per-request backend timeout")
	root.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "apply without asking for confirmation")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "import",
		Short: "Import new students from a workbook (strict mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), importer.ModeImport)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Apply edits to existing students from a workbook (lenient mode)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), importer.ModeEdit)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func run(ctx context.Context, mode importer.Mode) error {
	if flagFile == "" || flagStandard == "" || flagDivision == "" {
		return fmt.Errorf("--file, --standard, and --division are required")
	}
	if flagBaseURL == "" {
		return fmt.Errorf("backend base URL not set (use --base-url or $BACKEND_BASE_URL)")
	}

	data, err := os.ReadFile(flagFile)
	if err != nil {
		return fmt.Errorf("read workbook: %w", err)
	}

	backend := roster.NewClient(flagBaseURL, flagToken, flagTimeout)
	service := importer.NewService(backend, importer.Options{
		MaxConcurrent:  1,
		RequestTimeout: flagTimeout,
	})

	jobID, err := service.Start(ctx, mode, flagStandard, flagDivision, filepath.Base(flagFile), data)
	if err != nil {
		return err
	}

	updates, err := service.SubscribeProgress(jobID)
	if err != nil {
		return err
	}

	// Wait for the parse to settle.
	phase := waitFor(ctx, updates, importer.PhasePreviewReady)
	switch phase {
	case importer.PhasePreviewReady:
	case importer.PhaseNothingToDo:
		fmt.Println("Nothing to do: the workbook introduces no changes.")
		return nil
	default:
		res, err := service.Result(ctx, jobID)
		if err != nil {
			return err
		}
		return fmt.Errorf("parse failed: %s", res.Error)
	}

	importBatch, editBatch, _, err := service.Preview(jobID)
	if err != nil {
		return err
	}
	printPreview(mode, importBatch, editBatch)

	if !flagYes && !confirmPrompt() {
		_ = service.Cancel(jobID)
		fmt.Println("Cancelled, no changes made.")
		return nil
	}

	if err := service.Confirm(jobID); err != nil {
		return err
	}

	res, err := service.Result(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Println(res.Summary())
	for _, item := range res.Items {
		if item.Failed() {
			fmt.Printf("  row %d (%s): %s\n", item.Row, item.UID, item.Error)
		}
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d items failed", res.Failed, res.TotalItems)
	}
	return nil
}

// waitFor drains progress updates until the job reaches want or any
// terminal phase, and returns the phase it stopped on.
func waitFor(ctx context.Context, updates <-chan importer.Progress, want importer.Phase) importer.Phase {
	for {
		select {
		case <-ctx.Done():
			return importer.PhaseCancelled
		case p, open := <-updates:
			if !open {
				return importer.PhaseCancelled
			}
			if p.Phase == want || p.Phase.Terminal() {
				return p.Phase
			}
		}
	}
}

func printPreview(mode importer.Mode, importBatch *importer.ImportBatch, editBatch *importer.EditBatch) {
	if mode == importer.ModeImport && importBatch != nil {
		fmt.Printf("Ready to import %d students:\n", len(importBatch.Candidates))
		for _, c := range importBatch.Candidates {
			fmt.Printf("  row %d: %s (uid %s, roll %s)\n",
				c.Row, c.Student.Name, c.Student.UID, c.Student.RollNumber)
		}
		for _, r := range importBatch.ReassignedRolls {
			fmt.Printf("  note: row %d (%s) roll %s already taken, reassigned to %s\n",
				r.Row, r.UID, r.OldRoll, r.NewRoll)
		}
		return
	}
	if editBatch != nil {
		fmt.Printf("Ready to update %d students:\n", len(editBatch.ChangeSets))
		for _, cs := range editBatch.ChangeSets {
			fmt.Printf("  row %d: %s\n", cs.Row, cs.Student.Name)
			for _, ch := range cs.Changes {
				fmt.Printf("    %s: %s -> %s\n", ch.Field, ch.Old, ch.New)
			}
		}
		if len(editBatch.InvalidRows) > 0 {
			fmt.Printf("Skipping %d invalid rows:\n", len(editBatch.InvalidRows))
			for _, re := range editBatch.InvalidRows {
				fmt.Printf("  row %d: %s\n", re.Row, re.Reason)
			}
		}
		if len(editBatch.NotFoundUIDs) > 0 {
			fmt.Printf("No matching student for uids: %s\n", strings.Join(editBatch.NotFoundUIDs, ", "))
		}
	}
}

func confirmPrompt() bool {
	fmt.Print("Apply these changes? [y/N] ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
