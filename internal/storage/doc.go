// Package storage keeps the append-only audit log: one entry per job
// dispatch and per mutating operator action. Jobs themselves are never
// persisted.
package storage
