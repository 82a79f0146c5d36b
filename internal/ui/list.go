package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/witx/internal/models"
)

var _ list.Item = recordItem{}

// recordItem wraps a failed [models.LedgerEntry] to implement [list.Item].
type recordItem struct {
	entry models.LedgerEntry
}

func (i recordItem) FilterValue() string { return fmt.Sprintf("%d %s", i.entry.SourceID, i.entry.Failure) }
func (i recordItem) Title() string       { return fmt.Sprintf("#%d (%s)", i.entry.SourceID, i.entry.Action) }
func (i recordItem) Description() string {
	desc := i.entry.Failure
	if i.entry.TargetID != 0 {
		desc = fmt.Sprintf("%s • target #%d", desc, i.entry.TargetID)
	}
	if i.entry.Completed != "None" && i.entry.Completed != "" {
		desc = fmt.Sprintf("%s • completed %s", desc, i.entry.Completed)
	}
	return desc
}

// failedItems returns the ledger entries that carry a failure reason.
func failedItems(s *models.RunSummary) []list.Item {
	if s == nil {
		return nil
	}
	var items []list.Item
	for _, e := range s.Ledger {
		if e.Failure != "" && e.Failure != "None" {
			items = append(items, recordItem{entry: e})
		}
	}
	return items
}
