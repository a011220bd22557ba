// Package models defines the domain types shared by the sync engine.
//
// The package contains three groups of types:
//
// 1. Library shape: what the remote media server exposes
//   - [Kind] : content kind (movie, show, season, episode, artist, album, song)
//   - [LibrarySection] : a remote library as listed by the server
//   - [Section] : one (library, kind) pair being synced in a run, with its watermark
//
// 2. Items: what flows through the pipeline
//   - [ItemStub] : lightweight listing entry with id, modification marker and user data
//   - [Document] : full metadata document backed by the raw JSON payload
//   - [FetchRequest] / [FetchResult] : fetch pool input and output
//   - [Checksum] : change-detection key derived from id and last-modified marker
//
// 3. Bookkeeping
//   - [SyncRun] : one persisted row per sync run
package models
