package processors

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/services"
	"github.com/desertthunder/witx/internal/shared"
	"github.com/desertthunder/witx/internal/state"
)

// Step names. These are the values written to the back-link marker.
const (
	StepClearAllRelations = "clear-all-relations"
	StepSourceHyperlink   = "source-hyperlink"
	StepAttachments       = "attachments"
	StepComments          = "comments"
	StepHistory           = "history"
	StepLinks             = "links"
	StepGitLinks          = "git-links"

	FinalizerPostMoveTag = "post-move-tag"
)

// untracked steps run on every enrichment pass and are never recorded on the marker.
var untracked = []string{StepClearAllRelations, StepSourceHyperlink}

// Item is one record handed to [Step.Process].
type Item struct {
	Record models.MigrationRecord
	Source *models.WorkItem
	Target *models.WorkItem

	// Tracked is the enabled step set the back-link marker should carry after this write.
	Tracked []string
}

// Step is one pluggable transformation of the pipeline.
//
// Process must be safe to re-run on a record whose earlier write failed partway.
type Step interface {
	Name() string
	Order() int
	Enabled(cfg shared.ProcessorsConfig) bool
	Preprocess(ctx context.Context, bc *models.BatchContext) error
	Process(ctx context.Context, bc *models.BatchContext, item Item) ([]models.PatchOperation, error)
}

// targetRewriter is implemented by steps whose operations change the target's relation layout,
// so later steps see the target as it will be after the write.
type targetRewriter interface {
	Rewrite(target *models.WorkItem, sourceURI string) *models.WorkItem
}

// Deps are the collaborators shared by every step.
type Deps struct {
	Source   services.WorkItemService
	Target   services.WorkItemService
	Executor *retry.Executor
	Store    *state.Store
	Logger   *log.Logger

	Processors      shared.ProcessorsConfig
	LinkParallelism int
}

func (d Deps) logger() *log.Logger {
	if d.Logger == nil {
		return log.New(io.Discard)
	}
	return d.Logger
}

// Pipeline is the ordered list of steps plus finalizers, built once per run.
type Pipeline struct {
	cfg        shared.ProcessorsConfig
	steps      []Step
	finalizers []Step
	logger     *log.Logger
}

// New orders steps and finalizers by their declared order; ties keep declaration order.
func New(cfg shared.ProcessorsConfig, logger *log.Logger, steps []Step, finalizers []Step) *Pipeline {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	steps, finalizers = slices.Clone(steps), slices.Clone(finalizers)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order() < steps[j].Order() })
	sort.SliceStable(finalizers, func(i, j int) bool { return finalizers[i].Order() < finalizers[j].Order() })
	return &Pipeline{cfg: cfg, steps: steps, finalizers: finalizers, logger: logger}
}

// Default builds the standard step list.
func Default(deps Deps) *Pipeline {
	links := NewLinksStep(deps)
	steps := []Step{
		&clearAllRelationsStep{},
		&sourceHyperlinkStep{},
		NewAttachmentsStep(deps),
		NewCommentsStep(deps),
		NewHistoryStep(deps),
		links,
		&gitLinksStep{},
	}
	finalizers := []Step{&postMoveTagStep{tag: deps.Processors.TargetPostMoveTag}}
	return New(deps.Processors, deps.logger(), steps, finalizers)
}

// Steps returns every registered step in run order.
func (p *Pipeline) Steps() []Step { return slices.Clone(p.steps) }

// Enabled returns the steps enabled by the configuration, in run order.
func (p *Pipeline) Enabled() []Step { return enabled(p.steps, p.cfg) }

// Finalizers returns the enabled phase 3 steps.
func (p *Pipeline) Finalizers() []Step { return enabled(p.finalizers, p.cfg) }

func enabled(steps []Step, cfg shared.ProcessorsConfig) []Step {
	var out []Step
	for _, s := range steps {
		if s.Enabled(cfg) {
			out = append(out, s)
		}
	}
	return out
}

// Tracked returns the sorted names of the enabled steps recorded on the back-link marker.
func (p *Pipeline) Tracked() []string {
	var names []string
	for _, s := range p.Enabled() {
		if !slices.Contains(untracked, s.Name()) {
			names = append(names, s.Name())
		}
	}
	slices.Sort(names)
	return names
}

// Preprocess runs every enabled step's batch preparation.
func (p *Pipeline) Preprocess(ctx context.Context, bc *models.BatchContext) error {
	for _, s := range p.Enabled() {
		if err := s.Preprocess(ctx, bc); err != nil {
			return fmt.Errorf("%s preprocess: %w", s.Name(), err)
		}
	}
	return nil
}

// Process concatenates the operations of every enabled step for one record.
//
// Records that already completed enrichment in this run produce nothing, whatever their
// identification-time requirement was.
func (p *Pipeline) Process(ctx context.Context, bc *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	if item.Record.Completed.Has(models.Phase2) {
		return nil, nil
	}
	item.Tracked = p.Tracked()
	return run(ctx, bc, item, p.Enabled(), p.logger)
}

// Finalize concatenates the operations of every enabled finalizer for one record.
func (p *Pipeline) Finalize(ctx context.Context, bc *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	return run(ctx, bc, item, p.Finalizers(), p.logger)
}

func run(ctx context.Context, bc *models.BatchContext, item Item, steps []Step, logger *log.Logger) ([]models.PatchOperation, error) {
	var ops []models.PatchOperation
	for _, s := range steps {
		stepOps, err := s.Process(ctx, bc, item)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		logger.Debug("step processed", "step", s.Name(), "source", item.Record.SourceID, "operations", len(stepOps))
		ops = append(ops, stepOps...)

		if rw, ok := s.(targetRewriter); ok {
			item.Target = rw.Rewrite(item.Target, item.Record.SourceURI)
		}
	}
	return ops, nil
}
