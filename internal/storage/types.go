package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CrashEntry records one machine crash. Keep it compact and schema-stable.
type CrashEntry struct {
	At        time.Time
	Cartridge string
	Error     string
	Screen    string // overlay contents, newline-joined
	UptimeMS  int64
}
