// Package ingest turns batches of text units into vector-store points.
//
// Units larger than the soft limit push the whole batch through the
// Summarizer; the Orchestrator then embeds each unit and numbers the
// resulting points from a caller-supplied start ID.
package ingest
