package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeInstall lays out a minimal install root with marker paths and the
// given sentinel file contents.
func writeInstall(t *testing.T, sentinels map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for _, marker := range markerPaths {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(marker)), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
	}
	for rel, content := range sentinels {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	return root
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestValidateRejectsWrongRoot(t *testing.T) {
	t.Parallel()

	err := Validate(t.TempDir())
	if !errors.Is(err, ErrInvalidRoot) {
		t.Fatalf("expected ErrInvalidRoot, got %v", err)
	}
}

func TestDetectDefinitive(t *testing.T) {
	t.Parallel()

	root := writeInstall(t, map[string]string{
		"Game/Bin/a.ini": "alpha",
		"Game/Bin/b.ini": "beta",
		"Data/c.pkg":     "gamma",
	})

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s.Merge("9.0.0", map[string]string{
		"Game/Bin/a.ini": md5hex("alpha"),
		"Game/Bin/b.ini": md5hex("beta"),
		"Data/c.pkg":     md5hex("gamma"),
	})
	s.Merge("9.1.0", map[string]string{
		"Game/Bin/a.ini": md5hex("alpha"),
		"Game/Bin/b.ini": md5hex("beta"),
		"Data/c.pkg":     md5hex("other"),
	})

	res, err := Detect(root, s)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Confidence != Definitive {
		t.Fatalf("confidence = %s, want definitive", res.Confidence)
	}
	if res.Version != "9.0.0" {
		t.Fatalf("version = %q, want 9.0.0", res.Version)
	}
}

func TestDetectProbableOnSharedSentinels(t *testing.T) {
	t.Parallel()

	// Local install only has the sentinels the two versions share, so
	// neither record can be preferred.
	root := writeInstall(t, map[string]string{
		"Game/Bin/a.ini": "alpha",
		"Game/Bin/b.ini": "beta",
	})

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	shared := map[string]string{
		"Game/Bin/a.ini": md5hex("alpha"),
		"Game/Bin/b.ini": md5hex("beta"),
	}
	s.Merge("9.0.0", shared)
	s.Merge("9.0.0", map[string]string{"Data/c.pkg": md5hex("v1")})
	s.Merge("9.1.0", shared)
	s.Merge("9.1.0", map[string]string{"Data/c.pkg": md5hex("v2")})

	res, err := Detect(root, s)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Confidence != Probable {
		t.Fatalf("confidence = %s, want probable", res.Confidence)
	}

	found := map[string]bool{}
	for _, c := range res.Matched {
		found[c.Version] = true
	}
	if !found["9.0.0"] || !found["9.1.0"] {
		t.Fatalf("both tied versions should be in Matched, got %+v", res.Matched)
	}
}

func TestDetectUnknownWhenNothingMatches(t *testing.T) {
	t.Parallel()

	root := writeInstall(t, map[string]string{"Game/Bin/a.ini": "local"})

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s.Merge("9.0.0", map[string]string{"Game/Bin/a.ini": md5hex("different")})

	res, err := Detect(root, s)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Confidence != Unknown || res.Version != "" {
		t.Fatalf("expected unknown detection, got version=%q confidence=%s", res.Version, res.Confidence)
	}
}

func TestDetectIgnoresMissingSentinels(t *testing.T) {
	t.Parallel()

	// Only one of the record's two sentinels exists on disk; the record
	// still matches on the overlap.
	root := writeInstall(t, map[string]string{"Game/Bin/a.ini": "alpha"})

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	s.Merge("9.0.0", map[string]string{
		"Game/Bin/a.ini":   md5hex("alpha"),
		"Game/Bin/gone.db": md5hex("whatever"),
	})

	res, err := Detect(root, s)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Version != "9.0.0" || res.Confidence != Definitive {
		t.Fatalf("expected definitive 9.0.0, got version=%q confidence=%s", res.Version, res.Confidence)
	}
}
