package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Machine MachineConfig  `json:"machine"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Jobs    *JobsConfig    `json:"jobs,omitempty"`
	Devices DevicesConfig  `json:"devices"`
	Pprof   *PprofConfig   `json:"pprof,omitempty"`
}

// MachineConfig controls the fantasy computer itself.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick_hz: 20
//   - queue_cap: 256
//   - restart_on_change: false
type MachineConfig struct {
	// Cartridge is the path to the Lua program the machine boots.
	Cartridge string `json:"cartridge"`

	// TickHz is the scheduler tick rate.
	TickHz int `json:"tick_hz,omitempty"`

	// QueueCap bounds the pending event queue.
	QueueCap int `json:"queue_cap,omitempty"`

	// RestartOnChange reboots the machine when the cartridge file changes
	// (requires the cartwatch device).
	RestartOnChange bool `json:"restart_on_change,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Screen  LoggingScreen `json:"screen"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingScreen controls the in-memory screen sink rendered on the crash
// overlay.
type LoggingScreen struct {
	Enabled    bool   `json:"enabled"`
	Lines      int    `json:"lines,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the save-slot and crash-audit persistence layer.
// Nil means disabled.
//
// Example:
//
//	storage: { enabled: true, driver: sqlite, path: ./pixos.db }
type StorageConfig struct {
	Enabled     bool   `json:"enabled"`
	Driver      string `json:"driver"` // "sqlite" or "file"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// JobsConfig controls background housekeeping. Nil means disabled.
//
// Defaults (when fields are omitted/zero):
//   - prune_every: "10m"
//   - snapshot_every: "1m"
//   - history_size: 50
type JobsConfig struct {
	Enabled bool `json:"enabled"`

	// PruneEvery is how often old crash rows are removed from the store.
	PruneEvery string `json:"prune_every,omitempty"`

	// SnapshotEvery is how often machine stats are logged.
	SnapshotEvery string `json:"snapshot_every,omitempty"`

	// HistorySize is how many crash rows to retain when pruning.
	HistorySize int `json:"history_size,omitempty"`
}

type DevicesConfig struct {
	Terminal  TerminalConfig `json:"terminal"`
	Cartwatch DeviceConfig   `json:"cartwatch"`
}

// TerminalConfig controls the stdin device. Raw switches from line events to
// per-rune key events; it takes effect on host start.
type TerminalConfig struct {
	Enabled bool `json:"enabled"`
	Raw     bool `json:"raw,omitempty"`
}

type DeviceConfig struct {
	Enabled bool `json:"enabled"`
}

// PprofConfig controls the optional profiling HTTP server. Nil means disabled.
// Binding to a non-loopback address requires a token.
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token   string `json:"token,omitempty"`
}

// Validate checks cross-field constraints that the strict decoder cannot.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Machine.Cartridge) == "" {
		return fmt.Errorf("machine.cartridge: required")
	}
	if c.Machine.TickHz < 0 {
		return fmt.Errorf("machine.tick_hz: must be >= 0")
	}
	if c.Machine.QueueCap < 0 {
		return fmt.Errorf("machine.queue_cap: must be >= 0")
	}
	if s := c.Storage; s != nil && s.Enabled {
		switch strings.TrimSpace(s.Driver) {
		case "", "sqlite", "file":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path: required when storage is enabled")
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if p := c.Pprof; p != nil && p.Enabled {
		if strings.TrimSpace(p.Addr) != "" && !strings.Contains(p.Addr, ":") {
			return fmt.Errorf("pprof.addr: must be host:port, got %q", p.Addr)
		}
	}
	if j := c.Jobs; j != nil && j.Enabled {
		if _, err := ParseDurationField("jobs.prune_every", j.PruneEvery); err != nil {
			return err
		}
		if _, err := ParseDurationField("jobs.snapshot_every", j.SnapshotEvery); err != nil {
			return err
		}
		if j.HistorySize < 0 {
			return fmt.Errorf("jobs.history_size: must be >= 0")
		}
	}
	return nil
}

// EffectiveTickHz applies the machine tick-rate default.
func (c *Config) EffectiveTickHz() int {
	if c.Machine.TickHz > 0 {
		return c.Machine.TickHz
	}
	return 20
}
