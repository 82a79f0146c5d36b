package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/witx/internal/formatter"
	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/notification"
	"github.com/desertthunder/witx/internal/repositories"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/server"
	"github.com/desertthunder/witx/internal/shared"
	"github.com/desertthunder/witx/internal/tasks"
	"github.com/desertthunder/witx/internal/ui"
)

// Validate identifies the work items of the configured query and reports what a migration would do.
func (r *Runner) Validate(ctx context.Context, cmd *cli.Command) error {
	return r.execute(ctx, cmd, models.RunModeValidate)
}

// Migrate runs a full migration of the configured query.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	return r.execute(ctx, cmd, models.RunModeMigrate)
}

// execute records a run in the ledger, drives the engine and reports the outcome. The summary
// notification is attempted whatever the outcome, including failures before the engine starts.
func (r *Runner) execute(ctx context.Context, cmd *cli.Command, mode string) (err error) {
	if err := r.requireConfig(); err != nil {
		return err
	}
	cfg := r.config
	if err := cfg.Validate(); err != nil {
		return err
	}

	report, err := reportFormat(cmd.String("report"))
	if err != nil {
		return err
	}

	interactive := cmd.Bool("tui")
	if interactive {
		if err := r.useFileLogger(cmd.String("log-file")); err != nil {
			return err
		}
	}

	notifier, err := notification.New(cfg.Notification, r.logger)
	if err != nil {
		return err
	}

	var summary *models.RunSummary
	run := models.NewRun(0, mode, cfg.Migration.Query)
	defer func() {
		s := summary
		if s == nil {
			s = &models.RunSummary{RunID: run.ID(), Mode: mode, Query: run.Query()}
			if err != nil {
				s.Error = err.Error()
			}
		}
		if nerr := notifier.SendSummary(context.WithoutCancel(ctx), s); nerr != nil {
			r.logger.Error("failed to send summary notification", "error", nerr)
		}
	}()

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	runs := repositories.NewRunRepository(db)
	if err := runs.Create(run); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	logger := r.logger.With("run", run.Sequence())
	logger.Info("starting run", "mode", mode, "id", run.ID())

	registry := prometheus.NewRegistry()
	metrics, err := tasks.NewMetrics(registry)
	if err != nil {
		return err
	}

	executor := retry.NewExecutor(retry.PolicyFromConfig(cfg.Retry), logger, retry.WithObserver(metrics.ObserveAttempt))
	engine := tasks.NewMigrationEngine(tasks.EngineConfig{
		Config:   cfg,
		Source:   r.newService(cfg.Source, r.httpClient),
		Target:   r.newService(cfg.Target, r.httpClient),
		Executor: executor,
		Logger:   logger,
		Metrics:  metrics,
		Audit:    repositories.NewAuditRepository(db),
		RunID:    run.ID(),
	})

	tracker := server.NewTracker(run.ID(), mode, engine.Store())
	if addr := cmp.Or(cmd.String("status-addr"), cfg.Status.Addr); addr != "" {
		srv := server.NewStatusServer(addr, tracker, registry, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		logger.Info("status server listening", "addr", srv.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown failed", "error", err)
			}
		}()
	}

	runFn := ui.RunFunc(engine.Migrate)
	if mode == models.RunModeValidate {
		runFn = engine.Validate
	}

	var runErr error
	if interactive {
		summary, runErr = r.runInteractive(ctx, mode, runFn, tracker.Observe)
	} else {
		summary, runErr = r.runPlain(ctx, runFn, tracker.Observe)
	}

	if err := r.recordRun(runs, repositories.NewLedgerRepository(db), run, summary, runErr); err != nil {
		logger.Error("failed to persist run ledger", "error", err)
	}

	if summary != nil {
		if !interactive {
			if text, err := formatter.SummaryToText(summary); err == nil {
				r.writePlain("\n%s", text)
			}
		}
		if report != "" {
			path := cmp.Or(cmd.String("output"), fmt.Sprintf("witx-%s-%d%s", mode, run.Sequence(), formatter.Extension(report)))
			if err := formatter.WriteSummary(summary, report, path); err != nil {
				logger.Error("failed to write report", "error", err)
			} else {
				r.writePlain("Report written to %s\n", path)
			}
		}
	}

	return runErr
}

// recordRun stores the final counts and per-record ledger of run.
func (r *Runner) recordRun(runs *repositories.RunRepository, ledger *repositories.LedgerRepository, run *models.Run, summary *models.RunSummary, runErr error) error {
	var errs []error
	if summary != nil {
		run.SetCounts(summary.Total, summary.Created, summary.Updated, summary.Failed)
		errs = append(errs, ledger.SaveEntries(run.ID(), summary.Ledger))
	}
	run.Finish(runErr)
	errs = append(errs, runs.Update(run))
	return errors.Join(errs...)
}

// reportFormat maps the --report flag onto a formatter format. "md" is accepted for markdown.
func reportFormat(s string) (string, error) {
	switch s {
	case "":
		return "", nil
	case "md":
		return formatter.FormatMarkdown, nil
	case formatter.FormatJSON, formatter.FormatCSV, formatter.FormatMarkdown, formatter.FormatText:
		return s, nil
	default:
		return "", fmt.Errorf("%w: --report must be one of md, text, csv, json", shared.ErrInvalidFlag)
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "tui",
			Usage: "Show an interactive progress view",
		},
		&cli.StringFlag{
			Name:  "status-addr",
			Usage: "Serve /healthz, /status and /metrics on this address (overrides status.addr)",
		},
		&cli.StringFlag{
			Name:    "report",
			Aliases: []string{"r"},
			Usage:   "Write a summary report: md, text, csv or json",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Report file path (default: witx-<mode>-<run>.<ext>)",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Log destination while the interactive view is shown",
			Value: "witx.log",
		},
	}
}

func validateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "validate",
		Usage:  "Dry run: identify work items and report what a migration would do",
		Flags:  runFlags(),
		Action: r.Validate,
	}
}

func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Migrate the work items of the configured query",
		Flags:  runFlags(),
		Action: r.Migrate,
	}
}
