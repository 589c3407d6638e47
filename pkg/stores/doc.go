// Package stores persists run history. Every sync, clean, and map-sync
// invocation is recorded as a run with creation and update counters and
// a terminal status, plus an append-only event log per run. The only
// implementation is SQLite, kept in a local file next to the rest of
// the tool's state.
package stores
