package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "pixos/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	var path string
	switch driver {
	case "sqlite":
		path = filepath.Join(t.TempDir(), "pixos.db")
	case "file":
		path = filepath.Join(t.TempDir(), "pixos_store")
	}
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = (%v, %v), want (nil, nil)", st, err)
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestSaveSlots(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"sqlite", "file"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			if _, ok, err := st.GetSave(ctx, "slot1"); err != nil || ok {
				t.Fatalf("empty get = (%v, %v)", ok, err)
			}
			if err := st.PutSave(ctx, "slot1", `{"hp":10}`); err != nil {
				t.Fatalf("PutSave: %v", err)
			}
			// Overwrite.
			if err := st.PutSave(ctx, "slot1", `{"hp":3}`); err != nil {
				t.Fatalf("PutSave overwrite: %v", err)
			}
			v, ok, err := st.GetSave(ctx, "slot1")
			if err != nil || !ok || v != `{"hp":3}` {
				t.Fatalf("GetSave = (%q, %v, %v)", v, ok, err)
			}

			if err := st.DeleteSave(ctx, "slot1"); err != nil {
				t.Fatalf("DeleteSave: %v", err)
			}
			if _, ok, _ := st.GetSave(ctx, "slot1"); ok {
				t.Fatal("slot survived delete")
			}

			if err := st.PutSave(ctx, "  ", "x"); err == nil {
				t.Fatal("blank slot name accepted")
			}
		})
	}
}

func TestCrashAuditAndPrune(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"sqlite", "file"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			st := openTestStore(t, driver)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				err := st.AppendCrash(ctx, CrashEntry{
					At:        time.Now(),
					Cartridge: "cart.lua",
					Error:     "boom",
					Screen:    "line1\nline2",
					UptimeMS:  int64(i * 1000),
				})
				if err != nil {
					t.Fatalf("AppendCrash %d: %v", i, err)
				}
			}

			removed, err := st.PruneCrashes(ctx, 2)
			if err != nil {
				t.Fatalf("PruneCrashes: %v", err)
			}
			if removed != 3 {
				t.Fatalf("removed = %d, want 3", removed)
			}
			// Pruning again is a no-op.
			if removed, _ := st.PruneCrashes(ctx, 2); removed != 0 {
				t.Fatalf("second prune removed %d rows", removed)
			}
		})
	}
}

func TestFileStoreReopenReplaysJournal(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pixos_store")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.PutSave(ctx, "a", "1"); err != nil {
		t.Fatalf("PutSave: %v", err)
	}
	if err := st.PutSave(ctx, "b", "2"); err != nil {
		t.Fatalf("PutSave: %v", err)
	}
	if err := st.DeleteSave(ctx, "a"); err != nil {
		t.Fatalf("DeleteSave: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	if _, ok, _ := st2.GetSave(ctx, "a"); ok {
		t.Fatal("deleted slot resurrected on reopen")
	}
	v, ok, err := st2.GetSave(ctx, "b")
	if err != nil || !ok || v != "2" {
		t.Fatalf("GetSave(b) = (%q, %v, %v)", v, ok, err)
	}
}
