package tasks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/processors"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/services"
	"github.com/desertthunder/witx/internal/shared"
	"github.com/desertthunder/witx/internal/state"
)

// Engine defines the operations of one migration run.
type Engine interface {
	// Validate identifies every source work item of the query and reports what a migration would do.
	Validate(ctx context.Context, progress chan<- ProgressUpdate) (*models.RunSummary, error)

	// Migrate identifies the source work items, then writes core fields, enrichment and finalization.
	Migrate(ctx context.Context, progress chan<- ProgressUpdate) (*models.RunSummary, error)
}

// EngineConfig carries the collaborators of a [MigrationEngine].
type EngineConfig struct {
	Config   *shared.Config
	Source   services.WorkItemService
	Target   services.WorkItemService
	Store    *state.Store
	Executor *retry.Executor
	Logger   *log.Logger
	Metrics  *Metrics
	Audit    AuditSink
	RunID    string

	// Pipeline defaults to [processors.Default] over the other fields.
	Pipeline *processors.Pipeline
}

// MigrationEngine implements Engine against two work item services.
type MigrationEngine struct {
	cfg        *shared.Config
	source     services.WorkItemService
	target     services.WorkItemService
	store      *state.Store
	executor   *retry.Executor
	pipeline   *processors.Pipeline
	mapper     *processors.Mapper
	reconciler *Reconciler
	heartbeat  *Heartbeat
	logger     *log.Logger
	metrics    *Metrics
	runID      string
}

// NewMigrationEngine creates a new MigrationEngine from c.
func NewMigrationEngine(c EngineConfig) *MigrationEngine {
	logger := c.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	store := c.Store
	if store == nil {
		store = state.NewStore()
	}
	executor := c.Executor
	if executor == nil {
		executor = retry.NewExecutor(retry.PolicyFromConfig(c.Config.Retry), logger)
	}
	pipeline := c.Pipeline
	if pipeline == nil {
		pipeline = processors.Default(processors.Deps{
			Source:          c.Source,
			Target:          c.Target,
			Executor:        executor,
			Store:           store,
			Logger:          logger,
			Processors:      c.Config.Processors,
			LinkParallelism: c.Config.Migration.LinkParallelism,
		})
	}

	return &MigrationEngine{
		cfg:        c.Config,
		source:     c.Source,
		target:     c.Target,
		store:      store,
		executor:   executor,
		pipeline:   pipeline,
		mapper:     processors.NewMapper(c.Config.Processors, c.Source.Project(), c.Target.Project()),
		reconciler: NewReconciler(store, logger, c.Target.Account(), c.RunID, c.Audit, c.Metrics),
		heartbeat:  NewHeartbeat(store, logger, time.Duration(c.Config.Migration.HeartbeatSeconds)*time.Second),
		logger:     logger,
		metrics:    c.Metrics,
		runID:      c.RunID,
	}
}

// Store exposes the run's record state.
func (e *MigrationEngine) Store() *state.Store { return e.store }

// sendProgress sends a progress update through the channel without blocking.
func (e *MigrationEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	sendProgress(progress, update)
}

// Validate runs identification only.
func (e *MigrationEngine) Validate(ctx context.Context, progress chan<- ProgressUpdate) (*models.RunSummary, error) {
	started := time.Now()
	e.heartbeat.Start(ctx)
	defer e.heartbeat.Stop()

	err := e.identify(ctx, progress)
	return e.summarize(progress, models.RunModeValidate, started, err), err
}

// Migrate runs identification followed by the three write phases. Each phase starts only after
// every batch of the previous one has finished.
func (e *MigrationEngine) Migrate(ctx context.Context, progress chan<- ProgressUpdate) (*models.RunSummary, error) {
	started := time.Now()
	e.heartbeat.Start(ctx)
	defer e.heartbeat.Stop()

	err := e.migrate(ctx, progress)
	return e.summarize(progress, models.RunModeMigrate, started, err), err
}

func (e *MigrationEngine) migrate(ctx context.Context, progress chan<- ProgressUpdate) error {
	if err := e.identify(ctx, progress); err != nil {
		return err
	}
	if err := e.runPhase1(ctx, progress); err != nil {
		return fmt.Errorf("phase 1: %w", err)
	}
	if err := e.runPhase2(ctx, progress); err != nil {
		return fmt.Errorf("phase 2: %w", err)
	}
	if err := e.runPhase3(ctx, progress); err != nil {
		return fmt.Errorf("phase 3: %w", err)
	}
	return nil
}

func (e *MigrationEngine) summarize(progress chan<- ProgressUpdate, mode string, started time.Time, err error) *models.RunSummary {
	e.heartbeat.Beat()

	s := models.Summarize(e.store.Snapshot())
	s.RunID = e.runID
	s.Mode = mode
	s.Query = e.cfg.Migration.Query
	s.Duration = time.Since(started)
	if err != nil {
		s.Error = err.Error()
	}

	e.metrics.observeSummary(s)
	e.logger.Info("run finished",
		"mode", mode, "total", s.Total, "created", s.Created, "updated", s.Updated,
		"skipped", s.Skipped, "failed", s.Failed, "duration", s.Duration.Round(time.Millisecond))
	for _, reason := range s.Reasons() {
		e.logger.Warn("failed records", "reason", reason, "count", len(s.FailedByReason[reason]))
	}
	e.sendProgress(progress, summaryUpdate(s))
	return s
}

func (e *MigrationEngine) writeOptions() services.WriteOptions {
	return services.WriteOptions{
		BypassRules:           e.cfg.Migration.BypassRules,
		SuppressNotifications: e.cfg.Migration.SuppressNotifications,
	}
}

// readItems reads work items through the retry executor.
func (e *MigrationEngine) readItems(ctx context.Context, svc services.WorkItemService, name string, ids []int, opts services.GetOptions) ([]*models.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return retry.Do(ctx, e.executor, name, func(ctx context.Context) ([]*models.WorkItem, error) {
		return svc.GetWorkItems(ctx, ids, opts)
	}, nil)
}

func byID(items []*models.WorkItem) map[int]*models.WorkItem {
	out := make(map[int]*models.WorkItem, len(items))
	for _, it := range items {
		if it != nil {
			out[it.ID] = it
		}
	}
	return out
}

func sourceIDs(records []models.MigrationRecord) []int {
	ids := make([]int, len(records))
	for i, r := range records {
		ids[i] = r.SourceID
	}
	return ids
}

// failAll marks every record with reason, logging store errors.
func (e *MigrationEngine) failAll(ids []int, reason models.FailureReason) {
	for _, id := range ids {
		if err := e.store.Fail(id, reason); err != nil {
			e.logger.Error("failed to record failure", "source", id, "err", err)
		}
	}
}
