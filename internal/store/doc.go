// Package store provides the SQLite-backed diagnostic journal.
//
// The journal is append-only history of what a client process did:
//   - Sessions: one row per bound identity, closed with a reset reason
//   - Exchanges: every request/response pair, successful or not
//   - Instructions: the fate of each instruction in a response
//   - Events: the events carried by each synchronize request
//
// The journal is never read back to restore a session.
//
// # Ordering
//
// Every row of a process is stamped with the process run token (a UUIDv7,
// so runs sort by start time) and a logical seq. All reads use
// ORDER BY seq ASC, never wall-clock time.
//
// # Identity
//
// Exchange ids are content-addressed: a domain-separated SHA-256 over the
// canonical JSON of (run token, seq, request). Writing the same exchange
// twice is a no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
