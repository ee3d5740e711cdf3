package fingerprint

import (
	"path/filepath"
	"testing"
)

func TestMergeIsAdditive(t *testing.T) {
	t.Parallel()

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s.Merge("9.0.0", map[string]string{"a.bin": "1"})
	s.Merge("9.0.0", map[string]string{"b.bin": "2"})

	got := s.Lookup(map[string]string{"a.bin": "1", "b.bin": "2"})
	if len(got) == 0 || got[0].Version != "9.0.0" || got[0].Matched != 2 {
		t.Fatalf("expected 9.0.0 with 2 matched sentinels, got %+v", got)
	}
}

func TestMergeSameValueIsNoop(t *testing.T) {
	t.Parallel()

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s.Merge("9.0.0", map[string]string{"a.bin": "1"})
	s.Merge("9.0.0", map[string]string{"a.bin": "1"})

	got := s.Lookup(map[string]string{"a.bin": "1"})
	if len(got) == 0 || got[0].Matched != 1 {
		t.Fatalf("expected single matched sentinel, got %+v", got)
	}
}

func TestMergeConflictLastLayerWins(t *testing.T) {
	t.Parallel()

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	s.Merge("9.0.0", map[string]string{"a.bin": "1", "b.bin": "2"})
	s.Merge("9.0.0", map[string]string{"a.bin": "changed"})

	// The conflicting sentinel takes the later value, the other survives.
	if got := s.Lookup(map[string]string{"a.bin": "changed", "b.bin": "2"}); len(got) == 0 || got[0].Matched != 2 {
		t.Fatalf("expected both sentinels to match after override, got %+v", got)
	}
	if got := s.Lookup(map[string]string{"a.bin": "1"}); len(got) != 0 && got[0].Version == "9.0.0" {
		t.Fatalf("old value should no longer match")
	}
}

func TestLookupExcludesZeroOverlap(t *testing.T) {
	t.Parallel()

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s.Merge("9.0.0", map[string]string{"a.bin": "1"})

	// No overlapping sentinel: the record must not match vacuously.
	for _, c := range s.Lookup(map[string]string{"other.bin": "x"}) {
		if c.Version == "9.0.0" {
			t.Fatalf("record with zero overlap should be excluded")
		}
	}
}

func TestLearnFlushReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fingerprints.json")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Dirty() {
		t.Fatalf("fresh store should not be dirty")
	}

	s.Learn("9.1.0", map[string]string{"a.bin": "abc"})
	if !s.Dirty() {
		t.Fatalf("Learn should mark the store dirty")
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if s.Dirty() {
		t.Fatalf("Flush should clear the dirty flag")
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got := reloaded.Lookup(map[string]string{"a.bin": "abc"})
	if len(got) == 0 || got[0].Version != "9.1.0" {
		t.Fatalf("learned fingerprint should survive reload, got %+v", got)
	}
}

func TestFlushWithoutChangesIsNoop(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "missing", "fingerprints.json")
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("clean Flush should not write or fail: %v", err)
	}
}
