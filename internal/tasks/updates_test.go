package tasks

import (
	"bytes"
	"strings"
	"testing"

	"github.com/desertthunder/mlsync/internal/shared"
)

func TestChannelProgress(t *testing.T) {
	p := NewChannelProgress(2)
	p.Create("Syncing library")
	p.Update(10, "Syncing Movies (movie)", "first")
	p.Update(20, "Syncing Movies (movie)", "dropped")

	first := <-p.Updates()
	if first.Phase != Started || first.Heading != "Syncing library" {
		t.Errorf("unexpected first update: %+v", first)
	}
	second := <-p.Updates()
	if second.Phase != Syncing || second.Percent != 10 || second.Message != "first" {
		t.Errorf("unexpected second update: %+v", second)
	}

	p.Close()
	p.Close()
	p.Update(30, "late", "ignored")

	var phases []Phase
	for u := range p.Updates() {
		phases = append(phases, u.Phase)
	}
	if len(phases) != 1 || phases[0] != Closed {
		t.Errorf("expected a single closing update, got %v", phases)
	}
}

func TestLogProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogProgress(shared.NewLogger(&buf), 50)

	p.Create("Syncing library")
	for pct := 0; pct <= 100; pct += 10 {
		p.Update(pct, "Syncing Movies (movie)", "item")
	}
	p.Close()
	p.Update(100, "Syncing TV (episode)", "after close")

	out := buf.String()
	if got := strings.Count(out, "Syncing Movies"); got != 3 {
		t.Errorf("expected 3 progress lines (0%%, 50%%, 100%%), got %d:\n%s", got, out)
	}
	if strings.Contains(out, "after close") {
		t.Error("updates after close must be ignored")
	}
}

func TestPhaseString(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{Started, "started"},
		{Syncing, "syncing"},
		{Closed, "closed"},
		{Phase(99), ""},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
