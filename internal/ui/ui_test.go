package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mlsync/internal/tasks"
)

func newTestModel(run RunFunc, updates <-chan tasks.ProgressUpdate) *Model {
	if run == nil {
		run = func(ctx context.Context) (*tasks.Result, error) { return &tasks.Result{Successful: true}, nil }
	}
	return NewModel(context.Background(), run, updates)
}

func TestWaitForProgress(t *testing.T) {
	t.Run("forwards updates", func(t *testing.T) {
		ch := make(chan tasks.ProgressUpdate, 1)
		ch <- tasks.ProgressUpdate{Phase: tasks.Syncing, Percent: 40, Heading: "Movies (movie)"}
		m := newTestModel(nil, ch)

		msg, ok := m.waitForProgress()().(Msg)
		if !ok || msg.Kind() != MsgProgressUpdate {
			t.Fatalf("expected progress update message, got %#v", msg)
		}
		if got := msg.data.(tasks.ProgressUpdate).Percent; got != 40 {
			t.Errorf("expected percent 40, got %d", got)
		}
	})

	t.Run("closed channel", func(t *testing.T) {
		ch := make(chan tasks.ProgressUpdate)
		close(ch)
		m := newTestModel(nil, ch)

		if msg := m.waitForProgress()().(Msg); msg.Kind() != MsgProgressClosed {
			t.Errorf("expected closed message, got kind %d", msg.Kind())
		}
	})

	t.Run("nil channel", func(t *testing.T) {
		m := newTestModel(nil, nil)
		if msg := m.waitForProgress()().(Msg); msg.Kind() != MsgProgressClosed {
			t.Errorf("expected closed message, got kind %d", msg.Kind())
		}
	})
}

func TestUpdate(t *testing.T) {
	t.Run("progress renders heading and detail", func(t *testing.T) {
		m := newTestModel(nil, nil)
		m.Update(progressUpdateMsg(tasks.ProgressUpdate{Phase: tasks.Started, Heading: "Syncing library"}))
		_, cmd := m.Update(progressUpdateMsg(tasks.ProgressUpdate{
			Phase: tasks.Syncing, Percent: 50, Heading: "TV (episode)", Message: "120/240",
		}))
		if cmd == nil {
			t.Error("expected a follow-up listener command")
		}

		view := m.View()
		for _, want := range []string{"Syncing library", "TV (episode)", "120/240", "50%"} {
			if !strings.Contains(view, want) {
				t.Errorf("view missing %q:\n%s", want, view)
			}
		}
	})

	t.Run("closed phase hides the bar", func(t *testing.T) {
		m := newTestModel(nil, nil)
		m.Update(progressUpdateMsg(tasks.ProgressUpdate{Phase: tasks.Syncing, Percent: 10, Heading: "Movies (movie)"}))
		m.Update(progressUpdateMsg(tasks.ProgressUpdate{Phase: tasks.Closed}))

		view := m.View()
		if strings.Contains(view, "Movies (movie)") {
			t.Errorf("expected heading to be hidden:\n%s", view)
		}
		if !strings.Contains(view, "Progress hidden") {
			t.Errorf("expected playback notice:\n%s", view)
		}
	})

	t.Run("quit cancels the run and waits", func(t *testing.T) {
		m := newTestModel(nil, nil)
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
		if cmd != nil {
			t.Error("quit should not exit before the run returns")
		}
		if m.ctx.Err() == nil {
			t.Error("expected run context to be canceled")
		}
		if !strings.Contains(m.View(), "Canceling") {
			t.Errorf("expected canceling notice:\n%s", m.View())
		}
	})

	t.Run("completion stores the outcome", func(t *testing.T) {
		m := newTestModel(nil, nil)
		want := errors.New("boom")
		_, cmd := m.Update(syncCompleteMsg(&tasks.Result{Canceled: true}, want))

		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Error("expected tea.QuitMsg")
		}
		if !errors.Is(m.Err(), want) {
			t.Errorf("expected error %v, got %v", want, m.Err())
		}
		if m.Result() == nil || !m.Result().Canceled {
			t.Errorf("unexpected result %+v", m.Result())
		}
		if !strings.Contains(m.View(), "failed: boom") {
			t.Errorf("expected error verdict, got %q", m.View())
		}
	})
}

func TestVerdict(t *testing.T) {
	tests := []struct {
		name   string
		result *tasks.Result
		want   string
	}{
		{"success", &tasks.Result{Successful: true}, "✓ Library sync finished"},
		{"canceled", &tasks.Result{Canceled: true}, "■ Library sync canceled"},
		{"failed", &tasks.Result{}, "finished with errors"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(nil, nil)
			m.Update(syncCompleteMsg(tt.result, nil))
			if !strings.Contains(m.View(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, m.View())
			}
		})
	}
}

func TestStartSync(t *testing.T) {
	var got context.Context
	m := newTestModel(func(ctx context.Context) (*tasks.Result, error) {
		got = ctx
		return &tasks.Result{Successful: true, Written: 3}, nil
	}, nil)

	msg := m.startSync()().(Msg)
	if msg.Kind() != MsgSyncComplete {
		t.Fatalf("expected sync complete, got kind %d", msg.Kind())
	}
	if got != m.ctx {
		t.Error("run should receive the model's cancelable context")
	}
	if outcome := msg.data.(syncOutcome); outcome.result.Written != 3 || outcome.err != nil {
		t.Errorf("unexpected outcome %+v", outcome)
	}
}
