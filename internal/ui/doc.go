// Package ui renders a running library sync in the terminal using bubbletea's Elm architecture.
//
// [Model] starts the sync in a command and listens on the [tasks.ChannelProgress] update channel.
// Each update redraws the heading, detail line and a [progress] bar for the current section.
// When the run closes its progress early (playback started on the server) the bar is replaced
// by a one-line notice while the sync keeps going.
//
// Pressing q cancels the run's context. The model keeps waiting until the run returns so the
// canceled result is still recorded, then quits.
package ui
