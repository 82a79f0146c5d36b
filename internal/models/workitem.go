package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Well known field reference names.
const (
	FieldID            = "System.Id"
	FieldRev           = "System.Rev"
	FieldTitle         = "System.Title"
	FieldWorkItemType  = "System.WorkItemType"
	FieldAreaPath      = "System.AreaPath"
	FieldIterationPath = "System.IterationPath"
	FieldTeamProject   = "System.TeamProject"
	FieldTags          = "System.Tags"
	FieldHistory       = "System.History"
	FieldWatermark     = "System.Watermark"
	FieldState         = "System.State"
)

// Relation types.
const (
	RelHyperlink  = "Hyperlink"
	RelAttachment = "AttachedFile"
	RelArtifact   = "ArtifactLink"
)

// WorkItem is a work item as returned by the remote service.
type WorkItem struct {
	ID        int            `json:"id"`
	Rev       int            `json:"rev"`
	URL       string         `json:"url"`
	Fields    map[string]any `json:"fields"`
	Relations []Relation     `json:"relations,omitempty"`
}

// Field returns the raw value of a field.
func (w *WorkItem) Field(name string) (any, bool) {
	if w == nil || w.Fields == nil {
		return nil, false
	}
	v, ok := w.Fields[name]
	return v, ok
}

// StringField returns a field rendered as a string, or "" when absent.
func (w *WorkItem) StringField(name string) string {
	v, ok := w.Field(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// IntField returns a numeric field. JSON numbers decode as float64.
func (w *WorkItem) IntField(name string) (int, bool) {
	v, ok := w.Field(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

func (w *WorkItem) Type() string { return w.StringField(FieldWorkItemType) }

// RelationsOf returns the relations with the given rel type and their positions.
func (w *WorkItem) RelationsOf(rel string) ([]int, []Relation) {
	if w == nil {
		return nil, nil
	}
	var idx []int
	var out []Relation
	for i, r := range w.Relations {
		if strings.EqualFold(r.Rel, rel) {
			idx = append(idx, i)
			out = append(out, r)
		}
	}
	return idx, out
}

// FindAttachment returns the attachment relation with the given file name and size.
func (w *WorkItem) FindAttachment(name string, size int64) *Relation {
	_, rels := w.RelationsOf(RelAttachment)
	for i := range rels {
		if rels[i].Name() == name && rels[i].ResourceSize() == size {
			return &rels[i]
		}
	}
	return nil
}

// HasRelation reports whether a relation of type rel to url exists.
func (w *WorkItem) HasRelation(rel, url string) bool {
	_, rels := w.RelationsOf(rel)
	for _, r := range rels {
		if strings.EqualFold(r.URL, url) {
			return true
		}
	}
	return false
}

// Relation is a link from a work item to another work item, attachment, hyperlink or artifact.
type Relation struct {
	Rel        string         `json:"rel"`
	URL        string         `json:"url"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (r Relation) attribute(key string) any {
	for k, v := range r.Attributes {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func (r Relation) Comment() string {
	s, _ := r.attribute("comment").(string)
	return s
}

// Name is the file name of an attachment relation.
func (r Relation) Name() string {
	s, _ := r.attribute("name").(string)
	return s
}

// ResourceSize is the byte size of an attachment relation.
func (r Relation) ResourceSize() int64 {
	switch n := r.attribute("resourceSize").(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

// IsWorkItemLink reports whether the relation points at another work item.
func (r Relation) IsWorkItemLink() bool {
	return strings.Contains(strings.ToLower(r.URL), "/_apis/wit/workitems/") &&
		!strings.EqualFold(r.Rel, RelHyperlink) &&
		!strings.EqualFold(r.Rel, RelAttachment) &&
		!strings.EqualFold(r.Rel, RelArtifact)
}

// WorkItemIDFromURL extracts the trailing id of a work item API url.
func WorkItemIDFromURL(u string) (int, error) {
	u = strings.TrimRight(u, "/")
	i := strings.LastIndex(u, "/")
	if i < 0 {
		return 0, fmt.Errorf("no work item id in %q", u)
	}
	return strconv.Atoi(u[i+1:])
}

// WorkItemURL builds the collection scoped API url of a work item.
func WorkItemURL(account string, id int) string {
	return fmt.Sprintf("%s/_apis/wit/workItems/%d", strings.TrimRight(account, "/"), id)
}

// Patch operation verbs.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
	OpTest    = "test"
)

// PatchOperation is one JSON Patch instruction.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value"`
}

func AddField(name string, value any) PatchOperation {
	return PatchOperation{Op: OpAdd, Path: "/fields/" + name, Value: value}
}

func ReplaceField(name string, value any) PatchOperation {
	return PatchOperation{Op: OpReplace, Path: "/fields/" + name, Value: value}
}

func AddRelation(r Relation) PatchOperation {
	return PatchOperation{Op: OpAdd, Path: "/relations/-", Value: r}
}

func ReplaceRelation(index int, r Relation) PatchOperation {
	return PatchOperation{Op: OpReplace, Path: fmt.Sprintf("/relations/%d", index), Value: r}
}

func RemoveRelation(index int) PatchOperation {
	return PatchOperation{Op: OpRemove, Path: fmt.Sprintf("/relations/%d", index)}
}

// BatchRequest is one entry of a batch write call.
type BatchRequest struct {
	Method  string            `json:"method"`
	URI     string            `json:"uri"`
	Headers map[string]string `json:"headers"`
	Body    []PatchOperation  `json:"body,omitempty"`
}

// BatchResponse is one entry of a batch write reply. Body holds the raw JSON of the item or error.
type BatchResponse struct {
	Code    int               `json:"code"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

type IdentityRef struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName,omitempty"`
}

// Comment is a discussion comment on a work item.
type Comment struct {
	ID          int         `json:"id"`
	Text        string      `json:"text"`
	CreatedBy   IdentityRef `json:"createdBy"`
	CreatedDate time.Time   `json:"createdDate"`
}

// WorkItemUpdate is one revision delta from the updates endpoint.
type WorkItemUpdate struct {
	ID          int                    `json:"id"`
	Rev         int                    `json:"rev"`
	RevisedBy   IdentityRef            `json:"revisedBy"`
	RevisedDate time.Time              `json:"revisedDate"`
	Fields      map[string]FieldChange `json:"fields,omitempty"`
	Relations   *RelationChanges       `json:"relations,omitempty"`
}

type FieldChange struct {
	OldValue any `json:"oldValue,omitempty"`
	NewValue any `json:"newValue,omitempty"`
}

type RelationChanges struct {
	Added   []Relation `json:"added,omitempty"`
	Removed []Relation `json:"removed,omitempty"`
	Updated []Relation `json:"updated,omitempty"`
}

// AttachmentReference identifies an uploaded attachment on the target.
type AttachmentReference struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
