package formatter

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/desertthunder/mlsync/internal/models"
	"github.com/desertthunder/mlsync/internal/tasks"
)

func sampleRuns() []*models.SyncRun {
	return []*models.SyncRun{
		{ID: "b", StartedAt: 1700000100, FinishedAt: 1700000160, Successful: true, ItemsWritten: 12},
		{ID: "a", StartedAt: 1700000000, FinishedAt: 1700000030, Repair: true, ItemsDeleted: 2, Message: "failed sections: Movies (movie)"},
		{ID: "c", StartedAt: 1700000200},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", Text, false},
		{"text", Text, false},
		{"JSON", JSON, false},
		{"csv", CSV, false},
		{"yaml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTables(t *testing.T) {
	t.Run("RunsTable", func(t *testing.T) {
		out := RunsTable(sampleRuns())
		for _, want := range []string{"Started", "ok", "failed", "running", "repair", "incremental", "1m0s"} {
			if !strings.Contains(out, want) {
				t.Errorf("runs table missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("SectionsTable", func(t *testing.T) {
		out := SectionsTable([]SectionRow{
			{ID: 1, Title: "Movies", Type: "movie", Kind: models.KindMovie, Items: 42, LastSync: 1700000000},
			{ID: 2, Title: "TV", Type: "show", Kind: models.KindEpisode},
		})
		for _, want := range []string{"Movies", "42", "episode", "never"} {
			if !strings.Contains(out, want) {
				t.Errorf("sections table missing %q:\n%s", want, out)
			}
		}
	})
}

func TestRunsToCSV(t *testing.T) {
	data, err := RunsToCSV(sampleRuns())
	if err != nil {
		t.Fatalf("RunsToCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header and 3 rows, got %d lines", len(lines))
	}
	if lines[0] != "ID,Started,Finished,Repair,Successful,Canceled,Written,Deleted,Message" {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[2], "a,1700000000,1700000030,true,false,false,0,2,") {
		t.Errorf("unexpected row: %s", lines[2])
	}
}

func TestSectionsToCSV(t *testing.T) {
	data, err := SectionsToCSV([]SectionRow{{ID: 3, Title: "Music, Live", Type: "artist", Kind: models.KindAlbum, Items: 9}})
	if err != nil {
		t.Fatalf("SectionsToCSV failed: %v", err)
	}
	if !strings.Contains(string(data), `3,"Music, Live",artist,album,9,0`) {
		t.Errorf("unexpected CSV:\n%s", data)
	}
}

func TestToJSON(t *testing.T) {
	data, err := ToJSON(sampleRuns()[0])
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["items_written"] != float64(12) {
		t.Errorf("expected items_written 12, got %v", decoded["items_written"])
	}
}

func TestSummary(t *testing.T) {
	tests := []struct {
		name   string
		result *tasks.Result
		want   []string
	}{
		{"nil", nil, []string{"no result"}},
		{
			"success",
			&tasks.Result{Successful: true, Written: 5, Sections: []tasks.SectionResult{{Name: "Movies", Kind: models.KindMovie, Processed: 5, Successful: true}}},
			[]string{"Sync complete", "written: 5", "✓ Movies (movie): 5 processed"},
		},
		{
			"failure",
			&tasks.Result{Run: &models.SyncRun{Message: "failed sections: TV (episode)"}, Sections: []tasks.SectionResult{{Name: "TV", Kind: models.KindEpisode}}},
			[]string{"finished with errors", "✗ TV (episode)", "failed sections: TV (episode)"},
		},
		{"canceled", &tasks.Result{Canceled: true}, []string{"Sync canceled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Summary(tt.result)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("summary missing %q:\n%s", want, out)
				}
			}
		})
	}
}
