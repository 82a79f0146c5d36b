package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Marker is the revision and completed step set stored in the comment of the back-link
// hyperlink from a target item to its source item.
type Marker struct {
	Rev   int      `json:"rev"`
	Steps []string `json:"steps"`
}

// ParseMarker decodes a back-link comment.
func ParseMarker(comment string) (*Marker, error) {
	var m Marker
	if err := json.Unmarshal([]byte(comment), &m); err != nil {
		return nil, fmt.Errorf("invalid back-link marker %q: %w", comment, err)
	}
	return &m, nil
}

// Encode renders the marker with its steps sorted so equal markers encode identically.
func (m Marker) Encode() string {
	steps := slices.Clone(m.Steps)
	if steps == nil {
		steps = []string{}
	}
	slices.Sort(steps)
	data, _ := json.Marshal(Marker{Rev: m.Rev, Steps: slices.Compact(steps)})
	return string(data)
}

// Covers reports whether every step in enabled is already recorded on the marker.
func (m *Marker) Covers(enabled []string) bool {
	if m == nil {
		return len(enabled) == 0
	}
	for _, s := range enabled {
		if !slices.Contains(m.Steps, s) {
			return false
		}
	}
	return true
}

// FindBackLink returns the position and relation of the hyperlink pointing at sourceURI, or -1.
func FindBackLink(item *WorkItem, sourceURI string) (int, *Relation) {
	if item == nil {
		return -1, nil
	}
	for i := range item.Relations {
		r := item.Relations[i]
		if strings.EqualFold(r.Rel, RelHyperlink) && strings.EqualFold(r.URL, sourceURI) {
			return i, &r
		}
	}
	return -1, nil
}

// NewBackLink builds the hyperlink relation carrying the marker.
func NewBackLink(sourceURI string, m Marker) Relation {
	return Relation{
		Rel:        RelHyperlink,
		URL:        sourceURI,
		Attributes: map[string]any{"comment": m.Encode()},
	}
}
