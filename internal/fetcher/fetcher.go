package fetcher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dryas/packsync/internal/logging"
	"github.com/dryas/packsync/internal/manifest"
)

// ErrIntegrity reports that a fully transferred artifact failed checksum
// verification. The corrupt file has already been deleted so the next
// attempt starts clean instead of resuming corrupted bytes.
var ErrIntegrity = errors.New("checksum mismatch")

// TransferError reports a transport-level failure, including exhausted
// retries and cancellation. Status is the last HTTP status seen, 0 when
// the failure happened below HTTP.
type TransferError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransferError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transfer of %s failed: HTTP %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transfer of %s failed: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Progress receives byte counts as a transfer advances. total is the
// declared size, 0 when unknown.
type Progress func(done, total int64)

// Result pairs one artifact with its fetch outcome in a batch.
type Result struct {
	File manifest.File
	Path string
	Err  error
}

const (
	chunkSize   = 32 * 1024
	maxAttempts = 4
)

// errTransient marks failures worth retrying with backoff.
type errTransient struct {
	err error
}

func (e *errTransient) Error() string { return e.err.Error() }
func (e *errTransient) Unwrap() error { return e.err }

// Fetch downloads one artifact into destDir, resuming any partial file
// left by a previous run, and returns the final path. The in-progress
// file lives at <dest>.part until the content is complete and, when a
// checksum is declared, verified; only then is it renamed into place.
// Transient failures (transport errors, 429, 5xx) are retried with
// exponential backoff up to a bounded attempt count; other HTTP failures
// surface immediately. Cancellation between chunks keeps the partial
// file for a future resume.
func Fetch(ctx context.Context, f manifest.File, destDir string, onProgress Progress) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}

	destPath := filepath.Join(destDir, f.Filename)
	if done, err := alreadyComplete(destPath, f); err == nil && done {
		logging.Debugf("Verbose: artifact already complete file=%s\n", f.Filename)
		if onProgress != nil {
			onProgress(f.Size, f.Size)
		}
		return destPath, nil
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			logging.Debugf("Verbose: retrying download %s attempt=%d/%d\n", f.Filename, attempt+1, maxAttempts)
			select {
			case <-ctx.Done():
				return "", &TransferError{URL: f.URL, Err: ctx.Err()}
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
		}

		lastErr = fetchOnce(ctx, f, destPath, onProgress)
		if lastErr == nil {
			return destPath, nil
		}

		var transient *errTransient
		if !errors.As(lastErr, &transient) {
			return "", lastErr
		}
	}

	return "", &TransferError{URL: f.URL, Err: lastErr}
}

// FetchAll downloads a batch of artifacts sequentially, one file at a
// time, checking cancellation before each item. A failing item is
// recorded and the batch proceeds (continue-on-error); cancellation stops
// the whole batch.
func FetchAll(ctx context.Context, files []manifest.File, destDir string, onProgress func(i int, done, total int64)) []Result {
	results := make([]Result, 0, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{File: f, Err: &TransferError{URL: f.URL, Err: err}})
			continue
		}

		var sink Progress
		if onProgress != nil {
			idx := i
			sink = func(done, total int64) { onProgress(idx, done, total) }
		}
		path, err := Fetch(ctx, f, destDir, sink)
		if err != nil {
			logging.Warnf("download of %s failed: %v\n", f.Filename, err)
		}
		results = append(results, Result{File: f, Path: path, Err: err})
	}
	return results
}

func fetchOnce(ctx context.Context, f manifest.File, destPath string, onProgress Progress) error {
	partPath := destPath + ".part"

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", f.Filename, err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
		logging.Debugf("Verbose: resuming %s from offset=%d\n", f.Filename, offset)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &errTransient{err: &TransferError{URL: f.URL, Err: err}}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		// Server honored the range; append to the partial file.
	case resp.StatusCode == http.StatusOK:
		// Full body. If we asked for a range the server ignored it, so the
		// partial file is useless; restart from zero.
		if offset > 0 {
			logging.Debugf("Verbose: range not honored for %s, restarting\n", f.Filename)
		}
		offset = 0
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &errTransient{err: &TransferError{URL: f.URL, Status: resp.StatusCode}}
	default:
		return &TransferError{URL: f.URL, Status: resp.StatusCode}
	}

	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", partPath, err)
	}
	if err := out.Truncate(offset); err != nil {
		out.Close()
		return fmt.Errorf("truncating %s: %w", partPath, err)
	}
	if _, err := out.Seek(offset, io.SeekStart); err != nil {
		out.Close()
		return fmt.Errorf("seeking %s: %w", partPath, err)
	}

	written, err := copyChunks(ctx, out, resp.Body, offset, f.Size, onProgress)
	closeErr := out.Close()
	if err != nil {
		// Keep the partial file: cancellation and dropped connections both
		// resume from here next time.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &TransferError{URL: f.URL, Err: err}
		}
		return &errTransient{err: &TransferError{URL: f.URL, Err: err}}
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", partPath, closeErr)
	}

	if f.Size > 0 && written != f.Size {
		return &errTransient{err: &TransferError{
			URL: f.URL,
			Err: fmt.Errorf("short body: got %d of %d bytes", written, f.Size),
		}}
	}

	if f.MD5 != "" {
		sum, err := hashFile(partPath)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", f.Filename, err)
		}
		if sum != f.MD5 {
			os.Remove(partPath)
			return fmt.Errorf("verifying %s: %w (got %s, want %s)", f.Filename, ErrIntegrity, sum, f.MD5)
		}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return fmt.Errorf("finalizing %s: %w", f.Filename, err)
	}
	logging.Debugf("Verbose: download complete file=%s bytes=%d\n", f.Filename, written)
	return nil
}

// copyChunks streams body to out in fixed-size chunks, checking the
// cancellation token between every chunk. Returns the total file size
// written so far (resume offset included).
func copyChunks(ctx context.Context, out io.Writer, body io.Reader, offset, total int64, onProgress Progress) (int64, error) {
	buf := make([]byte, chunkSize)
	written := offset
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

// alreadyComplete reports whether a previous run fully fetched and
// verified the artifact at destPath.
func alreadyComplete(destPath string, f manifest.File) (bool, error) {
	info, err := os.Stat(destPath)
	if err != nil {
		return false, err
	}
	if f.Size > 0 && info.Size() != f.Size {
		return false, nil
	}
	if f.MD5 != "" {
		sum, err := hashFile(destPath)
		if err != nil {
			return false, err
		}
		return sum == f.MD5, nil
	}
	return f.Size > 0, nil
}

func hashFile(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()

	h := md5.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
