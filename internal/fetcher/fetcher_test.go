package fetcher

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dryas/packsync/internal/manifest"
)

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// rangeServer serves content, honoring byte-range requests when honor is
// true, and counts requests.
func rangeServer(t *testing.T, content []byte, honor bool) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		rng := r.Header.Get("Range")
		if rng != "" && honor {
			offset, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"), 10, 64)
			if err != nil || offset < 0 || offset > int64(len(content)) {
				t.Errorf("bad range header %q", rng)
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			w.WriteHeader(http.StatusPartialContent)
			w.Write(content[offset:])
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func descriptor(url string, content []byte) manifest.File {
	return manifest.File{
		URL:      url,
		Size:     int64(len(content)),
		MD5:      md5hex(content),
		Filename: "artifact.bin",
	}
}

func TestFetchFull(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("packsync"), 10000)
	srv, _ := rangeServer(t, content, true)
	dest := t.TempDir()

	var lastDone, lastTotal int64
	path, err := Fetch(context.Background(), descriptor(srv.URL, content), dest, func(done, total int64) {
		lastDone, lastTotal = done, total
	})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("downloaded content differs from served content")
	}
	if lastDone != int64(len(content)) || lastTotal != int64(len(content)) {
		t.Fatalf("final progress = %d/%d, want %d/%d", lastDone, lastTotal, len(content), len(content))
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Fatalf("in-progress file should be gone after rename")
	}
}

func TestFetchResumesFromPartialFile(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("0123456789"), 5000)
	const partial = 12345

	var sawRange atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng != fmt.Sprintf("bytes=%d-", partial) {
			t.Errorf("range header = %q, want bytes=%d-", rng, partial)
		}
		sawRange.Add(1)
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[partial:])
	}))
	t.Cleanup(srv.Close)

	dest := t.TempDir()
	partPath := filepath.Join(dest, "artifact.bin.part")
	if err := os.WriteFile(partPath, content[:partial], 0o644); err != nil {
		t.Fatalf("seeding partial file: %v", err)
	}

	path, err := Fetch(context.Background(), descriptor(srv.URL, content), dest, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if sawRange.Load() != 1 {
		t.Fatalf("expected exactly one ranged request, got %d", sawRange.Load())
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("resumed download is not byte-identical to an uninterrupted one")
	}
}

func TestFetchRestartsWhenRangeNotHonored(t *testing.T) {
	t.Parallel()

	content := []byte("the real artifact content, served in full")
	srv, _ := rangeServer(t, content, false)

	dest := t.TempDir()
	partPath := filepath.Join(dest, "artifact.bin.part")
	if err := os.WriteFile(partPath, []byte("stale bytes from another build"), 0o644); err != nil {
		t.Fatalf("seeding partial file: %v", err)
	}

	path, err := Fetch(context.Background(), descriptor(srv.URL, content), dest, nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading result: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("restart after ignored range should discard the stale partial file")
	}
}

func TestFetchIntegrityMismatchDeletesFile(t *testing.T) {
	t.Parallel()

	content := []byte("corrupted on the wire")
	srv, _ := rangeServer(t, content, true)
	dest := t.TempDir()

	f := descriptor(srv.URL, content)
	f.MD5 = md5hex([]byte("what the server should have sent"))

	_, err := Fetch(context.Background(), f, dest, nil)
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dest, "artifact.bin")); !os.IsNotExist(err) {
		t.Fatalf("corrupt artifact must not be renamed into place")
	}
	if _, err := os.Stat(filepath.Join(dest, "artifact.bin.part")); !os.IsNotExist(err) {
		t.Fatalf("corrupt partial file must be deleted")
	}
}

func TestFetchNotFoundFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := Fetch(context.Background(), manifest.File{URL: srv.URL, Size: 10, Filename: "artifact.bin"}, t.TempDir(), nil)

	var te *TransferError
	if !errors.As(err, &te) || te.Status != http.StatusNotFound {
		t.Fatalf("expected TransferError with 404, got %v", err)
	}
	if requests.Load() != 1 {
		t.Fatalf("non-transient failure should not be retried, got %d requests", requests.Load())
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	content := []byte("eventually served")
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
	t.Cleanup(srv.Close)

	path, err := Fetch(context.Background(), descriptor(srv.URL, content), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Fetch failed after transient error: %v", err)
	}
	if requests.Load() != 2 {
		t.Fatalf("expected one retry, got %d requests", requests.Load())
	}
	if got, _ := os.ReadFile(path); !bytes.Equal(got, content) {
		t.Fatalf("retried download has wrong content")
	}
}

func TestFetchCancellationKeepsPartialFile(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("x"), 4*chunkSize)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(content[:chunkSize])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(2 * time.Second)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	dest := t.TempDir()
	_, err := Fetch(ctx, descriptor(srv.URL, content), dest, nil)
	if err == nil {
		t.Fatalf("cancelled fetch should fail")
	}

	info, statErr := os.Stat(filepath.Join(dest, "artifact.bin.part"))
	if statErr != nil {
		t.Fatalf("partial file should be preserved for resume: %v", statErr)
	}
	if info.Size() == 0 {
		t.Fatalf("partial file should contain the bytes received before cancellation")
	}
}

func TestFetchSkipsAlreadyCompleteArtifact(t *testing.T) {
	t.Parallel()

	content := []byte("already on disk")
	srv, requests := rangeServer(t, content, true)

	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "artifact.bin"), content, 0o644); err != nil {
		t.Fatalf("seeding artifact: %v", err)
	}

	if _, err := Fetch(context.Background(), descriptor(srv.URL, content), dest, nil); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if requests.Load() != 0 {
		t.Fatalf("verified artifact should not be re-downloaded, got %d requests", requests.Load())
	}
}

func TestFetchAllContinuesOnError(t *testing.T) {
	t.Parallel()

	content := []byte("good artifact")
	good, _ := rangeServer(t, content, true)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(bad.Close)

	files := []manifest.File{
		{URL: bad.URL, Size: 10, Filename: "missing.bin"},
		{URL: good.URL, Size: int64(len(content)), MD5: md5hex(content), Filename: "good.bin"},
	}

	results := FetchAll(context.Background(), files, t.TempDir(), nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil {
		t.Fatalf("first artifact should have failed")
	}
	if results[1].Err != nil {
		t.Fatalf("second artifact should have succeeded despite the first failing: %v", results[1].Err)
	}
}
