package formatter

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
	th "github.com/desertthunder/witx/internal/testing"
)

func fixtureSummary() *models.RunSummary {
	return &models.RunSummary{
		RunID:    "run-1",
		Mode:     models.RunModeMigrate,
		Query:    "SELECT [System.Id] FROM WorkItems",
		Total:    3,
		Created:  1,
		Updated:  1,
		Failed:   1,
		Duration: 1500 * time.Millisecond,
		FailedByReason: map[string][]int{
			"BadRequest": {3},
		},
		Ledger: []models.LedgerEntry{
			{SourceID: 1, TargetID: 101, Action: "Create", Failure: "None", Completed: "Phase1|Phase2|Phase3"},
			{SourceID: 2, TargetID: 102, Action: "Update", Failure: "None", Completed: "Phase1|Phase2|Phase3"},
			{SourceID: 3, Action: "Create", Failure: "BadRequest", Completed: "None"},
		},
	}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRenderGolden(t *testing.T) {
	for _, format := range []string{FormatCSV, FormatMarkdown, FormatText} {
		t.Run(format, func(t *testing.T) {
			data, err := Render(fixtureSummary(), format)
			if err != nil {
				t.Fatalf("Render(%s) failed: %v", format, err)
			}
			newGoldie(t).Assert(t, "summary_"+format, data)
		})
	}
}

func TestRender(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		data, err := Render(fixtureSummary(), FormatJSON)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}

		var got models.RunSummary
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if got.RunID != "run-1" || got.Failed != 1 || len(got.Ledger) != 3 {
			t.Errorf("unexpected summary: %+v", got)
		}
		if ids := got.FailedByReason["BadRequest"]; len(ids) != 1 || ids[0] != 3 {
			t.Errorf("expected BadRequest [3], got %v", ids)
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		_, err := Render(fixtureSummary(), "yaml")
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NilSummary", func(t *testing.T) {
		if _, err := Render(nil, FormatText); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("TextWithError", func(t *testing.T) {
		s := fixtureSummary()
		s.Error = "phase 1: fatal error"
		data, err := SummaryToText(s)
		if err != nil {
			t.Fatalf("SummaryToText failed: %v", err)
		}
		if !strings.HasSuffix(string(data), "Error: phase 1: fatal error\n") {
			t.Errorf("error line missing, got:\n%s", data)
		}
	})
}

func TestExtension(t *testing.T) {
	tests := map[string]string{
		FormatJSON:     ".json",
		FormatCSV:      ".csv",
		FormatMarkdown: ".md",
		FormatText:     ".txt",
		"":             ".json",
	}
	for format, want := range tests {
		if got := Extension(format); got != want {
			t.Errorf("Extension(%q) = %q, want %q", format, got, want)
		}
	}
}

func TestWriters(t *testing.T) {
	t.Run("WriteSummary", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run-1.csv")
		if err := WriteSummary(fixtureSummary(), FormatCSV, path); err != nil {
			t.Fatalf("WriteSummary failed: %v", err)
		}
		th.AssertFileExists(t, path)

		content := th.MustReadFile(t, path)
		if !strings.HasPrefix(content, "Source,Target,Action,Failure,Completed\n") {
			t.Errorf("CSV missing headers, got: %s", content)
		}
	})

	t.Run("WriteSummaryMissingDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "missing", "run-1.txt")
		if err := WriteSummary(fixtureSummary(), FormatText, path); err == nil {
			t.Error("expected error writing into a missing directory")
		}
	})

	t.Run("WriteExportManifest", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "export_manifest.json")
		m := &ExportManifest{
			Format:            FormatJSON,
			TotalRuns:         2,
			SuccessfulExports: 1,
			FailedExports:     1,
			OutputDirectory:   "out",
			Results: []RunExportResult{
				{RunID: "a", Records: 3, Success: true, Files: []string{"out/a.json"}},
				{RunID: "b", Error: "run not found"},
			},
			ManifestPath: path,
		}
		if err := WriteExportManifest(m, path); err != nil {
			t.Fatalf("WriteExportManifest failed: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read manifest: %v", err)
		}
		var got ExportManifest
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("manifest is not valid JSON: %v", err)
		}
		if got.TotalRuns != 2 || len(got.Results) != 2 || got.Results[1].Error != "run not found" {
			t.Errorf("unexpected manifest: %+v", got)
		}
		if got.ManifestPath != "" {
			t.Error("manifest path should not be serialized")
		}
	})
}
