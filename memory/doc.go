// Package memory persists conversation history and keeps the prompt-visible
// slice of it bounded.
//
// The session's dialogue is an append-only log of turns. Older runs of turns
// are periodically folded into summaries so a long conversation still fits a
// model's context window, while the full raw log stays in the store.
//
// Architecture:
//   - Store: durable backend (SQLite for local use, any SQL store in production)
//   - Estimator: text-size heuristic used to fit views into a budget
//   - Summarizer: folds a run of turns into one summary
//   - Manager: orchestrates appends, views, and compression
//
// Compression is atomic and idempotent: the store commits the summary and the
// archival of its source turns in one transaction, and a concurrent repeat of
// the same fold is detected and dropped.
package memory
