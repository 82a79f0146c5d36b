package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/tasks"
)

func testSummary() *models.RunSummary {
	return &models.RunSummary{
		RunID:          "run-1",
		Mode:           models.RunModeMigrate,
		Total:          2,
		Created:        1,
		Failed:         1,
		FailedByReason: map[string][]int{"BadRequest": {2}},
		Ledger: []models.LedgerEntry{
			{SourceID: 1, TargetID: 11, Action: "Create", Failure: "None", Completed: "Phase1|Phase2|Phase3"},
			{SourceID: 2, Action: "Create", Failure: "BadRequest", Completed: "None"},
		},
	}
}

func noRun(context.Context, chan<- tasks.ProgressUpdate) (*models.RunSummary, error) {
	return nil, nil
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBar(t *testing.T) {
	tests := []struct {
		step, total int
		filled      int
	}{
		{0, 10, 0},
		{5, 10, 5},
		{10, 10, 10},
		{15, 10, 10},
		{3, 0, 0},
	}
	for _, tt := range tests {
		bar := Bar(tt.step, tt.total, 10)
		if got := strings.Count(bar, "█"); got != tt.filled {
			t.Errorf("Bar(%d, %d) filled %d cells, want %d", tt.step, tt.total, got, tt.filled)
		}
		if got := strings.Count(bar, "░"); got != 10-tt.filled {
			t.Errorf("Bar(%d, %d) left %d empty cells, want %d", tt.step, tt.total, got, 10-tt.filled)
		}
	}
	if Bar(1, 2, 0) != "" {
		t.Error("zero width bar should be empty")
	}
}

func TestFailedItems(t *testing.T) {
	items := failedItems(testSummary())
	if len(items) != 1 {
		t.Fatalf("expected 1 failed item, got %d", len(items))
	}
	item := items[0].(recordItem)
	if item.Title() != "#2 (Create)" || item.Description() != "BadRequest" {
		t.Errorf("unexpected item: %q / %q", item.Title(), item.Description())
	}
	if failedItems(nil) != nil {
		t.Error("nil summary should have no items")
	}
}

func TestModel(t *testing.T) {
	t.Run("ProgressUpdates", func(t *testing.T) {
		var observed []tasks.ProgressUpdate
		m := NewModel(context.Background(), "Migrating", noRun, func(u tasks.ProgressUpdate) {
			observed = append(observed, u)
		})

		m.Update(progressUpdateMsg(tasks.ProgressUpdate{Phase: tasks.Identify, Step: 1, Total: 1, Message: "identified 2"}))
		m.Update(progressUpdateMsg(tasks.ProgressUpdate{Phase: tasks.CoreFields, Step: 1, Total: 4, Message: "batch 1/4"}))

		if len(observed) != 2 {
			t.Errorf("expected observer to see 2 updates, got %d", len(observed))
		}
		if m.current != tasks.CoreFields {
			t.Errorf("expected current phase phase1, got %s", m.current)
		}

		view := m.View()
		for _, want := range []string{"Migrating", "Identify", "Core fields", "1/4", "batch 1/4"} {
			if !strings.Contains(view, want) {
				t.Errorf("progress view missing %q:\n%s", want, view)
			}
		}
	})

	t.Run("CompleteShowsResult", func(t *testing.T) {
		m := NewModel(context.Background(), "Migrating", noRun, nil)
		_, cmd := m.Update(runCompleteMsg(testSummary(), nil))
		if cmd != nil {
			t.Error("completion should not quit unless quitting")
		}
		if m.view != ResultView {
			t.Fatalf("expected result view, got %d", m.view)
		}

		view := m.View()
		for _, want := range []string{"1 failed records", "run-1", "BadRequest:", "failures"} {
			if !strings.Contains(view, want) {
				t.Errorf("result view missing %q:\n%s", want, view)
			}
		}

		m.Update(keyPress("f"))
		if m.view != FailuresView {
			t.Fatalf("expected failures view after f, got %d", m.view)
		}
		m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		if m.view != ResultView {
			t.Errorf("expected result view after esc, got %d", m.view)
		}
	})

	t.Run("CompleteWithError", func(t *testing.T) {
		m := NewModel(context.Background(), "Migrating", noRun, nil)
		m.Update(runCompleteMsg(nil, errors.New("phase 1: fatal migration error")))

		if !strings.Contains(m.View(), "Run failed: phase 1: fatal migration error") {
			t.Errorf("error missing from view:\n%s", m.View())
		}
		m.Update(keyPress("f"))
		if m.view != ResultView {
			t.Error("failures view needs failed records")
		}
	})

	t.Run("QuitWhileRunningCancels", func(t *testing.T) {
		m := NewModel(context.Background(), "Migrating", noRun, nil)

		_, cmd := m.Update(keyPress("q"))
		if cmd != nil {
			t.Error("quit during a run should wait for the engine")
		}
		if m.ctx.Err() == nil {
			t.Error("quit during a run should cancel the run context")
		}
		if !strings.Contains(m.View(), "Cancelling") {
			t.Errorf("expected cancelling notice:\n%s", m.View())
		}

		_, cmd = m.Update(runCompleteMsg(testSummary(), context.Canceled))
		if cmd == nil {
			t.Fatal("expected quit once the run returns")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
	})

	t.Run("StartDeliversResult", func(t *testing.T) {
		run := func(_ context.Context, progress chan<- tasks.ProgressUpdate) (*models.RunSummary, error) {
			progress <- tasks.ProgressUpdate{Phase: tasks.Identify, Message: "identifying"}
			return testSummary(), nil
		}
		m := NewModel(context.Background(), "Validating", run, nil)

		msg := m.start()()
		first, ok := msg.(Msg)
		if !ok || first.kind != MsgProgressUpdate {
			t.Fatalf("expected a progress message first, got %#v", msg)
		}
		m.Update(first)

		last, ok := m.waitForProgress()().(Msg)
		if !ok || last.kind != MsgRunComplete {
			t.Fatalf("expected run completion, got %#v", last)
		}
		m.Update(last)

		summary, err := m.Summary()
		if err != nil || summary == nil || summary.RunID != "run-1" {
			t.Errorf("unexpected result: %v, %v", summary, err)
		}
	})
}
