package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/witx/internal/formatter"
	"github.com/desertthunder/witx/internal/repositories"
	"github.com/desertthunder/witx/internal/tasks"
)

// LedgerExport writes the reports of the given runs, or of every run when none are named.
func (r *Runner) LedgerExport(ctx context.Context, cmd *cli.Command) error {
	format, err := reportFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	runIDs := cmd.Args().Slice()
	if len(runIDs) == 0 {
		runs, err := repositories.NewRunRepository(db).List(map[string]any{})
		if err != nil {
			return err
		}
		for _, run := range runs {
			runIDs = append(runIDs, run.ID())
		}
	}
	if len(runIDs) == 0 {
		r.writePlain("No runs to export\n")
		return nil
	}

	r.logger.Info("exporting ledger", "runs", len(runIDs), "format", format)

	progressCh := make(chan tasks.ProgressUpdate, 50)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progressCh {
			r.writePlain("📤 [%d/%d] %s\n", update.Step, update.Total, update.Message)
		}
	}()

	manifest, err := tasks.ExportLedger(ctx, progressCh, repositories.NewLedgerRepository(db), runIDs, tasks.ExportOpts{
		Format:     format,
		OutputDir:  cmd.String("dir"),
		NumWorkers: cmd.Int("workers"),
	})
	close(progressCh)
	<-done

	if err != nil {
		return err
	}

	r.writePlainln("✓ Exported %d/%d runs to %s", manifest.SuccessfulExports, manifest.TotalRuns, manifest.OutputDirectory)
	for _, res := range manifest.Results {
		if !res.Success {
			r.writePlain("  ✗ %s: %s\n", res.RunID, res.Error)
		}
	}
	if manifest.ManifestPath != "" {
		r.writePlain("Manifest: %s\n", manifest.ManifestPath)
	}
	if manifest.FailedExports > 0 {
		return fmt.Errorf("%d of %d run exports failed", manifest.FailedExports, manifest.TotalRuns)
	}
	return nil
}

func ledgerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "ledger",
		Usage: "Run ledger operations",
		Commands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "Export run summaries and per-record ledgers",
				ArgsUsage: "[run-id...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "md, text, csv or json",
						Value:   formatter.FormatJSON,
					},
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"d"},
						Usage:   "Output directory (default: witx_export_<epoch>)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent export workers",
						Value: 4,
					},
				},
				Action: r.LedgerExport,
			},
		},
	}
}
