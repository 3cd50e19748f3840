package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	logx "loopin/pkg/logx"
)

func openers(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		"memory": func() Store { return NewMemory() },
		"file": func() Store {
			s, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "kv")}, logx.Nop())
			if err != nil {
				t.Fatalf("open file: %v", err)
			}
			return s
		},
		"sqlite": func() Store {
			s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "kv.db")}, logx.Nop())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			return s
		},
		"badger": func() Store {
			s, err := newBadgerInMemory()
			if err != nil {
				t.Fatalf("open badger: %v", err)
			}
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range openers(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get missing = ok=%v err=%v", ok, err)
			}
			if _, err := MustGet(ctx, s, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("MustGet missing err = %v", err)
			}
			if err := s.Put(ctx, " ", []byte(`x`)); !errors.Is(err, ErrEmptyKey) {
				t.Fatalf("Put empty key err = %v", err)
			}
			if err := s.Put(ctx, "notifications", []byte(`[1]`)); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if err := s.Put(ctx, "notifications", []byte(`[1,2]`)); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			v, ok, err := s.Get(ctx, "notifications")
			if err != nil || !ok || string(v) != `[1,2]` {
				t.Fatalf("Get = %q ok=%v err=%v", v, ok, err)
			}
			if err := s.Delete(ctx, "notifications"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get(ctx, "notifications"); ok {
				t.Fatalf("key survived Delete")
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "kv")

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < compactEvery+5; i++ {
		if err := s.Put(ctx, "pref.sound_enabled", []byte("false")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	_ = s.Put(ctx, "pref.last_shown_id", []byte(`"u9"`))
	_ = s.Delete(ctx, "pref.sound_enabled")
	// Simulate a crash by not closing: drop the handle and reopen.
	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if v, ok, _ := s2.Get(ctx, "pref.last_shown_id"); !ok || string(v) != `"u9"` {
		t.Fatalf("last_shown_id = %q ok=%v", v, ok)
	}
	if _, ok, _ := s2.Get(ctx, "pref.sound_enabled"); ok {
		t.Fatalf("deleted key came back")
	}
}

func TestFileStoreIgnoresTornJournalLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	journal := filepath.Join(dir, "kv.journal.jsonl")
	body := `{"key":"a","value":"MQ=="}` + "\n" + `{"key":"b","val`
	if err := os.WriteFile(journal, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "kv")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if v, ok, _ := s.Get(context.Background(), "a"); !ok || string(v) != "1" {
		t.Fatalf("a = %q ok=%v", v, ok)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{}, logx.Nop()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("empty driver err = %v", err)
	}
	if _, err := Open(Config{Driver: "mongo"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
