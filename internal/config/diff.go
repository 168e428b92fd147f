package config

import (
	logx "pixos/pkg/logx"
	"reflect"
	"sort"
	"strings"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging the reload.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Machine != newCfg.Machine {
		changed = append(changed, "machine")
		attrs = append(attrs,
			logx.String("machine.cartridge", strings.TrimSpace(newCfg.Machine.Cartridge)),
			logx.Int("machine.tick_hz", newCfg.EffectiveTickHz()),
			logx.Int("machine.queue_cap", newCfg.Machine.QueueCap),
			logx.Bool("machine.restart_on_change", newCfg.Machine.RestartOnChange),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.screen_enabled", newCfg.Logging.Screen.Enabled),
		)
	}

	// Storage: nil means disabled.
	oldS := derefStorage(oldCfg.Storage)
	newS := derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.enabled", newS.Enabled),
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	oldJ := derefJobs(oldCfg.Jobs)
	newJ := derefJobs(newCfg.Jobs)
	if oldJ != newJ {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Bool("jobs.enabled", newJ.Enabled),
			logx.String("jobs.prune_every", strings.TrimSpace(newJ.PruneEvery)),
			logx.String("jobs.snapshot_every", strings.TrimSpace(newJ.SnapshotEvery)),
			logx.Int("jobs.history_size", newJ.HistorySize),
		)
	}

	oldP := derefPprof(oldCfg.Pprof)
	newP := derefPprof(newCfg.Pprof)
	if oldP != newP {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newP.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newP.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newP.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Devices, newCfg.Devices) {
		changed = append(changed, "devices")
		attrs = append(attrs,
			logx.Bool("devices.terminal", newCfg.Devices.Terminal.Enabled),
			logx.Bool("devices.cartwatch", newCfg.Devices.Cartwatch.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefJobs(j *JobsConfig) JobsConfig {
	if j == nil {
		return JobsConfig{}
	}
	return *j
}

func derefPprof(p *PprofConfig) PprofConfig {
	if p == nil {
		return PprofConfig{}
	}
	return *p
}
