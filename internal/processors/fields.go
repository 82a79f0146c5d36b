package processors

import (
	"slices"
	"strings"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

// unsupportedFields are computed or read-only on the target. Matching is by substring so the
// level fields (System.AreaLevel1, ...) are covered.
var unsupportedFields = []string{
	"System.Id",
	"System.Rev",
	"System.Watermark",
	"System.AreaId",
	"System.IterationId",
	"System.NodeName",
	"System.AreaLevel",
	"System.IterationLevel",
	"System.AuthorizedAs",
	"System.AuthorizedDate",
	"System.RevisedDate",
	"System.ChangedDate",
	"System.ChangedBy",
	"System.PersonId",
	"System.CommentCount",
	"System.BoardColumn",
	"System.BoardLane",
	"System.ExternalLinkCount",
	"System.HyperLinkCount",
	"System.AttachedFileCount",
	"System.RelatedLinkCount",
	"System.RemoteLinkCount",
	"System.History",
}

// Mapper builds the core field operations of phase 1.
type Mapper struct {
	cfg           shared.ProcessorsConfig
	sourceProject string
	targetProject string
}

func NewMapper(cfg shared.ProcessorsConfig, sourceProject, targetProject string) *Mapper {
	return &Mapper{cfg: cfg, sourceProject: sourceProject, targetProject: targetProject}
}

// Fields returns one add operation per supported source field, sorted by target field name.
//
// field_map renames fields (an empty target drops the field), field_replacements overrides
// values, and the project prefix of area and iteration paths is rewritten to the target project
// unless a default path is configured.
func (m *Mapper) Fields(source *models.WorkItem) []models.PatchOperation {
	if source == nil {
		return nil
	}
	values := map[string]any{}
	mapped := map[string]bool{}
	for name, value := range source.Fields {
		if unsupported(name) {
			continue
		}
		target, ok := lookupFold(m.cfg.FieldMap, name)
		switch {
		case ok && target == "":
			continue
		case ok:
			mapped[target] = true
		case mapped[name]:
			// a renamed field already claimed this name
			continue
		default:
			target = name
		}
		values[target] = m.value(target, value)
	}
	for name, value := range m.cfg.FieldReplacements {
		if _, ok := values[name]; ok {
			values[name] = value
		}
	}

	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	slices.Sort(names)

	ops := make([]models.PatchOperation, 0, len(names))
	for _, n := range names {
		ops = append(ops, models.AddField(n, values[n]))
	}
	return ops
}

func (m *Mapper) value(field string, v any) any {
	switch {
	case strings.EqualFold(field, models.FieldTeamProject):
		return m.targetProject
	case strings.EqualFold(field, models.FieldAreaPath):
		return m.path(v, m.cfg.DefaultAreaPath)
	case strings.EqualFold(field, models.FieldIterationPath):
		return m.path(v, m.cfg.DefaultIterationPath)
	}
	return v
}

func (m *Mapper) path(v any, fallback string) any {
	if fallback != "" {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return m.targetProject
	}
	return ReplaceLeadingProject(s, m.sourceProject, m.targetProject)
}

// ReplaceLeadingProject swaps the first segment of a classification path.
func ReplaceLeadingProject(path, sourceProject, targetProject string) string {
	head, rest, found := strings.Cut(path, `\`)
	if !strings.EqualFold(head, sourceProject) {
		return path
	}
	if !found {
		return targetProject
	}
	return targetProject + `\` + rest
}

func unsupported(field string) bool {
	for _, u := range unsupportedFields {
		if strings.Contains(strings.ToLower(field), strings.ToLower(u)) {
			return true
		}
	}
	return false
}

func lookupFold(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// CoreOperations is the phase 1 document of a record: the mapped fields plus the back-link
// marker. The marker carries no steps until enrichment completes.
func (m *Mapper) CoreOperations(rec models.MigrationRecord, source *models.WorkItem) []models.PatchOperation {
	ops := m.Fields(source)
	if rec.Action == models.ActionCreate {
		ops = slices.DeleteFunc(ops, func(op models.PatchOperation) bool {
			return op.Path == "/fields/"+models.FieldWorkItemType
		})
	}

	rev := rec.SourceRev
	if source != nil {
		rev = source.Rev
	}
	link := models.NewBackLink(rec.SourceURI, models.Marker{Rev: rev})
	if idx, existing := models.FindBackLink(rec.TargetItem, rec.SourceURI); existing != nil {
		return append(ops, models.ReplaceRelation(idx, link))
	}
	return append(ops, models.AddRelation(link))
}
