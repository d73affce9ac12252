// Package history persists usage snapshots from each refresh cycle.
//
// Rows are append-only: a snapshot already stored for the same account and
// capture time is skipped by ON CONFLICT DO NOTHING. Every row carries the
// id of the refresh cycle that observed it.
package history
