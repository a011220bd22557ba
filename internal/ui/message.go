package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/mlsync/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgProgressUpdate MsgKind = iota
	MsgProgressClosed
	MsgSyncComplete
)

// Kind reports which constructor built the message.
func (m Msg) Kind() MsgKind { return m.kind }

type syncOutcome struct {
	result *tasks.Result
	err    error
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// progressClosedMsg is the constructor for [MsgProgressClosed]. It is sent once the update channel is drained and closed.
func progressClosedMsg() Msg {
	return Msg{kind: MsgProgressClosed}
}

// syncCompleteMsg is the constructor for [MsgSyncComplete]
func syncCompleteMsg(result *tasks.Result, err error) Msg {
	return Msg{kind: MsgSyncComplete, data: syncOutcome{result, err}}
}
