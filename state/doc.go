// Package state provides durable keyed storage for cross-request data: user
// sessions and a generic cache, persisted as a single JSON snapshot.
//
// A Manager owns the store exclusively; all reads and writes go through its
// accessors, which return copies so callers never alias internal maps.
// Persist writes the snapshot with a write-temporary-then-rename discipline,
// so a crash mid-write leaves the previous snapshot intact, and Load
// tolerates an absent or corrupt snapshot by starting empty.
//
// TokenIssuer mints signed session tokens so session identifiers can be
// handed to untrusted clients and verified on return.
package state
