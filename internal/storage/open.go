package storage

import (
	"context"
	"errors"
	logx "pixos/pkg/logx"
	"strings"
)

// Store is the minimal persistence API used by the machine and jobs.
type Store interface {
	PutSave(ctx context.Context, slot, value string) error
	GetSave(ctx context.Context, slot string) (value string, ok bool, err error)
	DeleteSave(ctx context.Context, slot string) error

	AppendCrash(ctx context.Context, e CrashEntry) error
	// PruneCrashes removes all but the newest keep rows.
	PruneCrashes(ctx context.Context, keep int) (removed int64, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// normalizeSlot trims and bounds slot names so scripts can't grow the key
// space without limit.
func normalizeSlot(slot string) (string, error) {
	s := strings.TrimSpace(slot)
	if s == "" {
		return "", errors.New("save slot name is empty")
	}
	if len(s) > 128 {
		return "", errors.New("save slot name too long")
	}
	return s, nil
}
