package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/witx/internal/formatter"
	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

// LedgerReader loads the stored summary of a finished run.
type LedgerReader interface {
	Summary(runID string) (*models.RunSummary, error)
}

// ExportOpts contains configuration for ledger exports.
type ExportOpts struct {
	Format     string // Export format: json, csv, markdown, text
	OutputDir  string // Base output directory (default: witx_export_{epoch})
	NumWorkers int    // Concurrent workers (default: 4)
}

// ExportJob is one run queued for export.
type ExportJob struct {
	RunID   string
	Summary *models.RunSummary
}

// ExportLedger writes the reports of several runs concurrently and a manifest summarizing the export.
//
// Runs that cannot be loaded or written are recorded as failed in the manifest; the export
// itself only fails when the output directory or the manifest cannot be written.
func ExportLedger(ctx context.Context, prog chan<- ProgressUpdate, ledger LedgerReader, runIDs []string, opts ExportOpts) (*formatter.ExportManifest, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger not initialized", shared.ErrInvalidInput)
	}

	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("witx_export_%d", time.Now().Unix())
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 8 {
		opts.NumWorkers = 8
	}
	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest := &formatter.ExportManifest{
		Format:          opts.Format,
		TotalRuns:       len(runIDs),
		OutputDirectory: opts.OutputDir,
		Results:         make([]formatter.RunExportResult, 0, len(runIDs)),
	}

	jobs := make(chan ExportJob, len(runIDs))
	results := make(chan formatter.RunExportResult, len(runIDs))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go exportWorker(ctx, &wg, jobs, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, runID := range runIDs {
			select {
			case <-ctx.Done():
				return
			default:
			}

			summary, err := ledger.Summary(runID)
			if err != nil {
				results <- formatter.RunExportResult{
					RunID: runID,
					Error: fmt.Sprintf("failed to load run: %v", err),
				}
				continue
			}

			sendProgress(prog, exportingRunUpdate(i+1, len(runIDs), runID))
			jobs <- ExportJob{RunID: runID, Summary: summary}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		manifest.Results = append(manifest.Results, res)

		if res.Success {
			manifest.SuccessfulExports++
			sendProgress(prog, exportCompletedUpdate(completed, len(runIDs), res.RunID, len(res.Files)))
		} else {
			manifest.FailedExports++
			sendProgress(prog, exportFailedUpdate(completed, len(runIDs), res.RunID, fmt.Errorf("%s", res.Error)))
		}
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := formatter.WriteExportManifest(manifest, manifestPath); err != nil {
		return manifest, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	manifest.ManifestPath = manifestPath
	return manifest, nil
}

// exportWorker writes the reports of jobs until the channel closes.
func exportWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan ExportJob, results chan<- formatter.RunExportResult, opts ExportOpts) {
	defer wg.Done()

	for job := range jobs {
		select {
		case <-ctx.Done():
			results <- formatter.RunExportResult{RunID: job.RunID, Error: ctx.Err().Error()}
			continue
		default:
		}

		path := filepath.Join(opts.OutputDir, job.RunID+formatter.Extension(opts.Format))
		res := formatter.RunExportResult{RunID: job.RunID, Records: job.Summary.Total}
		if err := formatter.WriteSummary(job.Summary, opts.Format, path); err != nil {
			res.Error = err.Error()
		} else {
			res.Success = true
			res.Files = []string{path}
		}
		results <- res
	}
}

// sendProgress uses select with default so progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
		// Sent successfully
	default:
		// Channel full or closed, skip this update
	}
}
