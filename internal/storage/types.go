package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config selects a backend. An empty Driver (or "none") disables storage.
//
//   - "file": JSON lines next to Path
//   - "sqlite": SQLite database at Path (modernc.org/sqlite, no cgo)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a dispatch or an operator action.
type AuditEntry struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Tenant string    `json:"tenant"`
	// Actor is the sender of a chat command, "http" or "scheduler".
	Actor  string `json:"actor"`
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	OK     int    `json:"ok"`
	Fail   int    `json:"fail"`
	Error  string `json:"error,omitempty"`
	TookMS int64  `json:"took_ms"`
	Meta   string `json:"meta,omitempty"`
}
