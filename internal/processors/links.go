package processors

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
	"github.com/desertthunder/witx/internal/shared"
	"github.com/desertthunder/witx/internal/state"
)

const artifactQueryChunk = 100

// LinksStep recreates work item links between migrated items.
//
// Preprocess resolves every linked source id of the batch to a target id, first from the state
// store and then through an artifact uri query for the back-links. Only unambiguous matches are
// kept. The resolved map is shared by all batches of the run.
type LinksStep struct {
	deps     Deps
	logger   *log.Logger
	targets  *cache.Cache
	relTypes *state.Set[string]
}

func NewLinksStep(deps Deps) *LinksStep {
	return &LinksStep{
		deps:     deps,
		logger:   shared.WithLogger(deps.logger(), "step", StepLinks),
		targets:  cache.New(cache.NoExpiration, 0),
		relTypes: &state.Set[string]{},
	}
}

func (*LinksStep) Name() string { return StepLinks }
func (*LinksStep) Order() int   { return 6 }

func (*LinksStep) Enabled(cfg shared.ProcessorsConfig) bool { return cfg.MoveLinks }

// RelationTypes returns every work item link type seen so far.
func (s *LinksStep) RelationTypes() []string { return s.relTypes.Values() }

// TargetFor returns the resolved target id of a linked source id.
func (s *LinksStep) TargetFor(sourceID int) (int, bool) {
	v, ok := s.targets.Get(strconv.Itoa(sourceID))
	if !ok {
		return 0, false
	}
	return v.(int), true
}

func (s *LinksStep) Preprocess(ctx context.Context, bc *models.BatchContext) error {
	var unresolved []int
	seen := map[int]bool{}

	for _, id := range bc.SourceIDs {
		src := bc.SourceItems[id]
		if src == nil {
			continue
		}
		for _, r := range src.Relations {
			if !r.IsWorkItemLink() {
				continue
			}
			s.relTypes.Add(r.Rel)

			linked, err := models.WorkItemIDFromURL(r.URL)
			if err != nil || seen[linked] {
				continue
			}
			seen[linked] = true

			if target, ok := s.resolveKnown(linked); ok {
				bc.LinkedTargets[linked] = target
				continue
			}
			unresolved = append(unresolved, linked)
		}
	}
	if len(unresolved) == 0 {
		return nil
	}

	found, err := s.queryTargets(ctx, unresolved)
	if err != nil {
		return err
	}
	for linked, target := range found {
		s.targets.Set(strconv.Itoa(linked), target, cache.NoExpiration)
		bc.LinkedTargets[linked] = target
	}
	return nil
}

func (s *LinksStep) resolveKnown(sourceID int) (int, bool) {
	if target, ok := s.TargetFor(sourceID); ok {
		return target, true
	}
	if s.deps.Store == nil {
		return 0, false
	}
	if rec, ok := s.deps.Store.Get(sourceID); ok && rec.HasTarget() {
		s.targets.Set(strconv.Itoa(sourceID), rec.TargetID, cache.NoExpiration)
		return rec.TargetID, true
	}
	return 0, false
}

// queryTargets looks up back-links in chunks with bounded parallelism.
func (s *LinksStep) queryTargets(ctx context.Context, sourceIDs []int) (map[int]int, error) {
	account := s.deps.Source.Account()
	chunks := slices.Collect(slices.Chunk(sourceIDs, artifactQueryChunk))
	results := make([]map[string][]int, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.deps.LinkParallelism))
	for i, chunk := range chunks {
		uris := make([]string, len(chunk))
		for j, id := range chunk {
			uris[j] = models.WorkItemURL(account, id)
		}
		g.Go(func() error {
			res, err := retry.Do(gctx, s.deps.Executor, "query artifact uris", func(ctx context.Context) (map[string][]int, error) {
				return s.deps.Target.QueryArtifactURIs(ctx, uris)
			}, nil)
			if err != nil {
				return fmt.Errorf("resolving linked items: %w", err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	found := map[int]int{}
	for i, chunk := range chunks {
		for _, id := range chunk {
			matches := lookupURI(results[i], models.WorkItemURL(account, id))
			switch len(matches) {
			case 1:
				found[id] = matches[0]
			case 0:
				s.logger.Debug("linked item not migrated", "source", id)
			default:
				s.logger.Warn("linked item has several targets, link skipped", "source", id, "targets", matches)
			}
		}
	}
	return found, nil
}

func (s *LinksStep) Process(_ context.Context, bc *models.BatchContext, item Item) ([]models.PatchOperation, error) {
	account := s.deps.Target.Account()

	if item.Source == nil {
		return nil, nil
	}

	var ops []models.PatchOperation
	for _, r := range item.Source.Relations {
		if !r.IsWorkItemLink() {
			continue
		}
		linked, err := models.WorkItemIDFromURL(r.URL)
		if err != nil {
			continue
		}
		target, ok := bc.LinkedTargets[linked]
		if !ok {
			target, ok = s.TargetFor(linked)
		}
		if !ok {
			continue
		}

		url := models.WorkItemURL(account, target)
		if item.Target.HasRelation(r.Rel, url) {
			continue
		}
		rel := models.Relation{Rel: r.Rel, URL: url}
		if c := r.Comment(); c != "" {
			rel.Attributes = map[string]any{"comment": c}
		}
		ops = append(ops, models.AddRelation(rel))
	}
	return ops, nil
}

func lookupURI(results map[string][]int, uri string) []int {
	if ids, ok := results[uri]; ok {
		return ids
	}
	for k, ids := range results {
		if strings.EqualFold(k, uri) {
			return ids
		}
	}
	return nil
}
