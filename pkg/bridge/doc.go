// Package bridge mirrors legacy per-module notification rows into the
// unified notification store.
//
// Legacy modules keep writing their own notification tables; the
// bridge observes each insert and replicates it under the same ID so
// the two representations correlate 1:1. Replication is best effort
// and idempotent: duplicates are skipped, every other failure is
// logged and swallowed, and the original write is never failed.
package bridge
