// Package storage keeps a journal of task lifecycle events (starts, firings,
// failures, completions) so `tickd history` can show what ran and when.
//
// Backends:
//   - file:   append-only JSON Lines, compacted to the newest MaxEntries
//   - sqlite: a single table, pruned to the newest MaxEntries
//
// Tasks themselves are never persisted; a restart starts from the config.
package storage
