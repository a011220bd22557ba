// package formatter renders sync state for the CLI as tables, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/tasks"
)

// Format selects an output format.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	CSV  Format = "csv"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case Text, JSON, CSV:
		return f, nil
	case "":
		return Text, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or csv)", s)
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("#FF0000"))
)

// Timestamp renders a unix time, or "never" for zero.
func Timestamp(ts int64) string {
	if ts <= 0 {
		return "never"
	}
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04:05")
}

// SectionRow is one (section, kind) pair as seen remotely and locally.
type SectionRow struct {
	ID       int64       `json:"id"`
	Title    string      `json:"title"`
	Type     string      `json:"type"`
	Kind     models.Kind `json:"kind"`
	LastSync int64       `json:"last_sync"`
	Items    int         `json:"items"`
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// SectionsTable renders section rows as a table.
func SectionsTable(rows []SectionRow) string {
	t := newTable("ID", "Section", "Kind", "Items", "Last sync")
	for _, r := range rows {
		t.Row(strconv.FormatInt(r.ID, 10), r.Title, string(r.Kind), strconv.Itoa(r.Items), Timestamp(r.LastSync))
	}
	return t.Render()
}

func runStatus(run *models.SyncRun) string {
	switch {
	case run.FinishedAt == 0:
		return "running"
	case run.Canceled:
		return "canceled"
	case run.Successful:
		return "ok"
	default:
		return "failed"
	}
}

func runDuration(run *models.SyncRun) string {
	if run.FinishedAt == 0 {
		return "-"
	}
	return (time.Duration(run.FinishedAt-run.StartedAt) * time.Second).String()
}

// RunsTable renders sync runs as a table, failed runs highlighted.
func RunsTable(runs []*models.SyncRun) string {
	t := newTable("Started", "Mode", "Status", "Duration", "Written", "Deleted", "Message")
	failed := make(map[int]bool)
	for i, run := range runs {
		mode := "incremental"
		if run.Repair {
			mode = "repair"
		}
		status := runStatus(run)
		failed[i] = status == "failed"
		t.Row(Timestamp(run.StartedAt), mode, status, runDuration(run),
			strconv.Itoa(run.ItemsWritten), strconv.Itoa(run.ItemsDeleted), run.Message)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case failed[row]:
			return failedStyle
		default:
			return cellStyle
		}
	})
	return t.Render()
}

// RunsToCSV converts sync runs to CSV with a header row.
func RunsToCSV(runs []*models.SyncRun) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Started", "Finished", "Repair", "Successful", "Canceled", "Written", "Deleted", "Message"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, run := range runs {
		record := []string{
			run.ID,
			strconv.FormatInt(run.StartedAt, 10),
			strconv.FormatInt(run.FinishedAt, 10),
			strconv.FormatBool(run.Repair),
			strconv.FormatBool(run.Successful),
			strconv.FormatBool(run.Canceled),
			strconv.Itoa(run.ItemsWritten),
			strconv.Itoa(run.ItemsDeleted),
			run.Message,
		}
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

// SectionsToCSV converts section rows to CSV with a header row.
func SectionsToCSV(rows []SectionRow) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.Write([]string{"ID", "Title", "Type", "Kind", "Items", "LastSync"})
	for _, r := range rows {
		writer.Write([]string{
			strconv.FormatInt(r.ID, 10), r.Title, r.Type, string(r.Kind),
			strconv.Itoa(r.Items), strconv.FormatInt(r.LastSync, 10),
		})
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ToJSON marshals v with indentation.
func ToJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// Summary is a short plain-text report of a finished run.
func Summary(result *tasks.Result) string {
	if result == nil {
		return "no result"
	}

	var b strings.Builder
	switch {
	case result.Canceled:
		b.WriteString("Sync canceled\n")
	case result.Successful:
		b.WriteString("Sync complete\n")
	default:
		b.WriteString("Sync finished with errors\n")
	}
	fmt.Fprintf(&b, "  written: %d  updated: %d  skipped: %d  failed: %d  deleted: %d\n",
		result.Written, result.Updated, result.Skipped, result.Failed, result.Deleted)

	for _, s := range result.Sections {
		mark := "✓"
		if !s.Successful {
			mark = "✗"
		}
		fmt.Fprintf(&b, "  %s %s (%s): %d processed\n", mark, s.Name, s.Kind, s.Processed)
	}
	if result.Run != nil && result.Run.Message != "" && !result.Successful {
		fmt.Fprintf(&b, "  %s\n", result.Run.Message)
	}
	return b.String()
}
