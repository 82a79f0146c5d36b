// package formatter renders run summaries and ledgers to various formats (JSON, CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/shared"
)

// Supported report formats.
const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// Formats lists the accepted values of a --format flag.
var Formats = []string{FormatJSON, FormatCSV, FormatMarkdown, FormatText}

// Extension returns the file extension used for format, including the dot.
func Extension(format string) string {
	switch format {
	case FormatCSV:
		return ".csv"
	case FormatMarkdown:
		return ".md"
	case FormatText:
		return ".txt"
	default:
		return ".json"
	}
}

// Render converts a summary to the requested format.
func Render(s *models.RunSummary, format string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil summary", shared.ErrInvalidInput)
	}
	switch format {
	case FormatJSON:
		return SummaryToJSON(s)
	case FormatCSV:
		return LedgerToCSV(s)
	case FormatMarkdown:
		return SummaryToMarkdown(s)
	case FormatText:
		return SummaryToText(s)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidInput, format)
	}
}

// SummaryToJSON renders the whole summary, ledger included, as indented JSON.
func SummaryToJSON(s *models.RunSummary) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return append(data, '\n'), nil
}

// LedgerToCSV converts the ledger with columns: Source, Target, Action, Failure, Completed
func LedgerToCSV(s *models.RunSummary) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Source", "Target", "Action", "Failure", "Completed"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, e := range s.Ledger {
		target := ""
		if e.TargetID != 0 {
			target = strconv.Itoa(e.TargetID)
		}
		record := []string{strconv.Itoa(e.SourceID), target, e.Action, e.Failure, e.Completed}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// SummaryToMarkdown renders the counts, failures by reason and the ledger as a table.
func SummaryToMarkdown(s *models.RunSummary) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Run %s\n\n", s.RunID)
	fmt.Fprintf(&buf, "**Mode**: %s\n", s.Mode)
	if s.Query != "" {
		fmt.Fprintf(&buf, "**Query**: `%s`\n", s.Query)
	}
	fmt.Fprintf(&buf, "**Duration**: %s\n", formatDuration(s.Duration))
	if s.Error != "" {
		fmt.Fprintf(&buf, "**Error**: %s\n", s.Error)
	}

	buf.WriteString("\n## Counts\n\n")
	buf.WriteString("| Total | Created | Updated | Skipped | Failed |\n")
	buf.WriteString("|------:|--------:|--------:|--------:|-------:|\n")
	fmt.Fprintf(&buf, "| %d | %d | %d | %d | %d |\n", s.Total, s.Created, s.Updated, s.Skipped, s.Failed)

	if reasons := s.Reasons(); len(reasons) > 0 {
		buf.WriteString("\n## Failures\n\n")
		for _, reason := range reasons {
			ids := s.FailedByReason[reason]
			fmt.Fprintf(&buf, "- **%s** (%d): %s\n", reason, len(ids), joinIDs(ids))
		}
	}

	if len(s.Ledger) > 0 {
		buf.WriteString("\n## Ledger\n\n")
		buf.WriteString("| Source | Target | Action | Failure | Completed |\n")
		buf.WriteString("|-------:|-------:|--------|---------|-----------|\n")
		for _, e := range s.Ledger {
			target := "-"
			if e.TargetID != 0 {
				target = strconv.Itoa(e.TargetID)
			}
			fmt.Fprintf(&buf, "| %d | %s | %s | %s | %s |\n",
				e.SourceID, target, e.Action, cell(e.Failure), cell(e.Completed))
		}
	}

	return buf.Bytes(), nil
}

// SummaryToText renders the counts and failures by reason as plain text.
func SummaryToText(s *models.RunSummary) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Run: %s (%s)\n", s.RunID, s.Mode)
	if s.Query != "" {
		fmt.Fprintf(&buf, "Query: %s\n", s.Query)
	}
	fmt.Fprintf(&buf, "Duration: %s\n", formatDuration(s.Duration))
	fmt.Fprintf(&buf, "Total: %d\n", s.Total)
	fmt.Fprintf(&buf, "Created: %d\n", s.Created)
	fmt.Fprintf(&buf, "Updated: %d\n", s.Updated)
	fmt.Fprintf(&buf, "Skipped: %d\n", s.Skipped)
	fmt.Fprintf(&buf, "Failed: %d\n", s.Failed)

	for _, reason := range s.Reasons() {
		ids := s.FailedByReason[reason]
		fmt.Fprintf(&buf, "  %s: %d [%s]\n", reason, len(ids), joinIDs(ids))
	}
	if s.Error != "" {
		fmt.Fprintf(&buf, "Error: %s\n", s.Error)
	}

	return buf.Bytes(), nil
}

// WriteSummary renders s in format and writes it to path.
func WriteSummary(s *models.RunSummary, format, path string) error {
	data, err := Render(s, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s report: %w", format, err)
	}
	return nil
}

// RunExportResult is the outcome of exporting one run.
type RunExportResult struct {
	RunID   string   `json:"run_id"`
	Records int      `json:"records"`
	Success bool     `json:"success"`
	Files   []string `json:"files,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ExportManifest summarizes a multi-run ledger export.
type ExportManifest struct {
	Format            string            `json:"format"`
	TotalRuns         int               `json:"total_runs"`
	SuccessfulExports int               `json:"successful_exports"`
	FailedExports     int               `json:"failed_exports"`
	OutputDirectory   string            `json:"output_directory"`
	Results           []RunExportResult `json:"results"`
	ManifestPath      string            `json:"-"`
}

// WriteExportManifest writes the manifest as indented JSON to path.
func WriteExportManifest(m *ExportManifest, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// cell escapes the flag separator, which would otherwise split a table column.
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
