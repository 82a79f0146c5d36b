package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
	"github.com/desertthunder/witx/internal/tasks"
	"github.com/desertthunder/witx/internal/ui"
)

// useFileLogger redirects logs to path so they do not interfere with TUI rendering.
func (r *Runner) useFileLogger(path string) error {
	fileLogger, err := shared.NewFileLogger(path)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.SetLogLevel(fileLogger, r.logger.GetLevel())
	r.SetLogger(fileLogger)
	return nil
}

// runInteractive drives run behind the progress view.
func (r *Runner) runInteractive(ctx context.Context, mode string, run ui.RunFunc, observe func(tasks.ProgressUpdate)) (*models.RunSummary, error) {
	title := "Migrating work items"
	if mode == models.RunModeValidate {
		title = "Validating work items"
	}
	return ui.Run(ctx, title, run, observe)
}

// runPlain drives run while printing progress lines to the output.
func (r *Runner) runPlain(ctx context.Context, run ui.RunFunc, observe func(tasks.ProgressUpdate)) (*models.RunSummary, error) {
	progressCh := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for update := range progressCh {
			observe(update)
			switch update.Phase {
			case tasks.Summarize:
			case tasks.Identify:
				r.writePlain("🔍 %s\n", update.Message)
			default:
				r.writePlain("   [%s %d/%d] %s\n", update.Phase, update.Step, update.Total, update.Message)
			}
		}
	}()

	summary, err := run(ctx, progressCh)
	close(progressCh)
	<-done

	return summary, err
}
