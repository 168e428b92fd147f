package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	logx "pixos/pkg/logx"
	"strings"
	"sync"
	"time"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.crashes.jsonl        (append-only JSON Lines)
//   - <prefix>.saves.snapshot.json  (periodic snapshot)
//   - <prefix>.saves.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	crashPath string

	saveSnapshotPath string
	saveJournalFile  *os.File
	saves            map[string]string

	saveWrites int
}

type saveRecord struct {
	Slot  string `json:"slot"`
	Value string `json:"value"`
	Del   bool   `json:"del,omitempty"`
}

type crashRecord struct {
	At        string `json:"at"`
	Cartridge string `json:"cartridge"`
	Error     string `json:"err,omitempty"`
	Screen    string `json:"screen,omitempty"`
	UptimeMS  int64  `json:"uptime_ms"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	crashPath := prefix + ".crashes.jsonl"
	snapPath := prefix + ".saves.snapshot.json"
	journalPath := prefix + ".saves.journal.jsonl"

	// Load saves from snapshot + journal.
	saves := map[string]string{}
	_ = loadSaveSnapshot(snapPath, saves)
	_ = replaySaveJournal(journalPath, saves)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:              log,
		crashPath:        crashPath,
		saveSnapshotPath: snapPath,
		saveJournalFile:  jf,
		saves:            saves,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveJournalFile != nil {
		err := s.saveJournalFile.Close()
		s.saveJournalFile = nil
		return err
	}
	return nil
}

func (s *fileStore) PutSave(ctx context.Context, slot, value string) error {
	_ = ctx
	key, err := normalizeSlot(slot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveJournalFile == nil {
		return errors.New("save journal closed")
	}
	if s.saves == nil {
		s.saves = map[string]string{}
	}
	s.saves[key] = value
	return s.journalLocked(saveRecord{Slot: key, Value: value})
}

func (s *fileStore) GetSave(ctx context.Context, slot string) (string, bool, error) {
	_ = ctx
	key, err := normalizeSlot(slot)
	if err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.saves[key]
	return v, ok, nil
}

func (s *fileStore) DeleteSave(ctx context.Context, slot string) error {
	_ = ctx
	key, err := normalizeSlot(slot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveJournalFile == nil {
		return errors.New("save journal closed")
	}
	delete(s.saves, key)
	return s.journalLocked(saveRecord{Slot: key, Del: true})
}

func (s *fileStore) journalLocked(r saveRecord) error {
	enc := json.NewEncoder(s.saveJournalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.saveWrites++
	if s.saveWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("save compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) AppendCrash(ctx context.Context, e CrashEntry) error {
	_ = ctx
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.crashPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(crashRecord{
		At:        e.At.Format(time.RFC3339Nano),
		Cartridge: e.Cartridge,
		Error:     e.Error,
		Screen:    e.Screen,
		UptimeMS:  e.UptimeMS,
	})
}

func (s *fileStore) PruneCrashes(ctx context.Context, keep int) (int64, error) {
	_ = ctx
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.crashPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if t := strings.TrimSpace(sc.Text()); t != "" {
			lines = append(lines, t)
		}
	}
	scanErr := sc.Err()
	_ = f.Close()
	if scanErr != nil {
		return 0, scanErr
	}
	if len(lines) <= keep {
		return 0, nil
	}

	removed := int64(len(lines) - keep)
	kept := lines[len(lines)-keep:]

	tmp := s.crashPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	for _, l := range kept {
		if _, err := out.WriteString(l + "\n"); err != nil {
			_ = out.Close()
			return 0, err
		}
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, s.crashPath); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *fileStore) compactLocked() error {
	if s.saves == nil {
		return nil
	}
	tmp := s.saveSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.saves); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.saveSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.saveJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.saveJournalFile.Seek(0, 2)
	return err
}

func loadSaveSnapshot(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]string
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replaySaveJournal(path string, out map[string]string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r saveRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Slot == "" {
			continue
		}
		if r.Del {
			delete(out, r.Slot)
			continue
		}
		out[r.Slot] = r.Value
	}
	return s.Err()
}
