package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/gulp/internal/download"
	"github.com/ligustah/gulp/internal/objstore"
	"github.com/ligustah/gulp/internal/objstore/httpstore"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func patternData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// fileBucket creates a bucket directory for the file:// blob driver and
// returns its URL template.
func fileBucket(t *testing.T, bucket string, objects map[string][]byte) string {
	t.Helper()
	root := t.TempDir()
	for key, data := range objects {
		path := filepath.Join(root, bucket, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("write %s: %v", key, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, bucket), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return "file://" + filepath.ToSlash(root) + "/{bucket}"
}

func assertFile(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("%s: content mismatch, got %d bytes want %d", path, len(got), len(want))
	}
}

func TestRunNoArgs(t *testing.T) {
	var stderr bytes.Buffer
	if code := run(nil, &stderr); code != ExitInvalidArgs {
		t.Errorf("expected exit %d, got %d", ExitInvalidArgs, code)
	}
}

func TestRunHelp(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"--help"}, &stderr); code != ExitSuccess {
		t.Errorf("expected exit %d, got %d", ExitSuccess, code)
	}
	if !strings.Contains(stderr.String(), "get") {
		t.Errorf("help should list the get command:\n%s", stderr.String())
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"get", "--bogus", "bucket", "key"}, &stderr); code != ExitInvalidArgs {
		t.Errorf("expected exit %d, got %d", ExitInvalidArgs, code)
	}
}

func TestGetFromFileBucket(t *testing.T) {
	small := patternData(1000)
	large := patternData(3*1024*1024 + 17)
	bucketURL := fileBucket(t, "data", map[string][]byte{
		"small.bin":        small,
		"nested/large.bin": large,
	})
	out := t.TempDir()

	var stderr bytes.Buffer
	code := run([]string{
		"--no-color",
		"get",
		"--store", "blob",
		"--bucket-url", bucketURL,
		"--output-dir", out,
		"--chunk-size", "1MiB",
		"--multipart-threshold", "1MiB",
		"--workers", "4",
		"--log-level", "error",
		"data", "small.bin", "nested/large.bin",
	}, &stderr)
	if code != ExitSuccess {
		t.Fatalf("expected exit %d, got %d:\n%s", ExitSuccess, code, stderr.String())
	}

	assertFile(t, filepath.Join(out, "small.bin"), small)
	assertFile(t, filepath.Join(out, "nested", "large.bin"), large)
	if !strings.Contains(stderr.String(), "2/2 objects downloaded") {
		t.Errorf("missing summary line:\n%s", stderr.String())
	}
}

func TestGetSingleOutput(t *testing.T) {
	data := patternData(4096)
	bucketURL := fileBucket(t, "data", map[string][]byte{"obj": data})
	dest := filepath.Join(t.TempDir(), "renamed.bin")

	var stderr bytes.Buffer
	code := run([]string{
		"get", "--store", "blob", "--bucket-url", bucketURL,
		"-o", dest, "--expected-size", "4096", "--log-level", "error",
		"data", "obj",
	}, &stderr)
	if code != ExitSuccess {
		t.Fatalf("expected exit %d, got %d:\n%s", ExitSuccess, code, stderr.String())
	}
	assertFile(t, dest, data)
}

func TestGetLogFile(t *testing.T) {
	bucketURL := fileBucket(t, "data", map[string][]byte{"obj": patternData(2048)})
	dir := t.TempDir()
	logPath := filepath.Join(dir, "gulp.log")

	// workers log while the main goroutine prints status lines
	var stderr syncBuffer
	code := run([]string{
		"get", "--store", "blob", "--bucket-url", bucketURL,
		"-d", dir, "--log-level", "debug", "--log-file", logPath,
		"data", "obj",
	}, &stderr)
	if code != ExitSuccess {
		t.Fatalf("expected exit %d, got %d:\n%s", ExitSuccess, code, stderr.String())
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "submitting single download job") {
		t.Errorf("expected submitter entry in log file, got %q", data)
	}
}

func TestGetNotFound(t *testing.T) {
	bucketURL := fileBucket(t, "data", nil)
	out := t.TempDir()

	var stderr bytes.Buffer
	code := run([]string{
		"get", "--store", "blob", "--bucket-url", bucketURL,
		"-d", out, "--log-level", "error",
		"data", "missing.bin",
	}, &stderr)
	if code != ExitNotAccessible {
		t.Fatalf("expected exit %d, got %d:\n%s", ExitNotAccessible, code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(out, "missing.bin")); !os.IsNotExist(err) {
		t.Errorf("destination should not exist, stat err = %v", err)
	}
}

func TestGetFromHTTP(t *testing.T) {
	data := patternData(2*1024*1024 + 5)
	var ranged atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/blob.bin" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Range") != "" {
			ranged.Add(1)
		}
		http.ServeContent(w, r, "blob.bin", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	out := t.TempDir()
	var stderr bytes.Buffer
	code := run([]string{
		"get", "--store", "http",
		"-d", out, "--chunk-size", "1MiB", "--multipart-threshold", "1MiB",
		"-w", "1", "--log-level", "error",
		srv.URL + "/files", "blob.bin",
	}, &stderr)
	if code != ExitSuccess {
		t.Fatalf("expected exit %d, got %d:\n%s", ExitSuccess, code, stderr.String())
	}
	assertFile(t, filepath.Join(out, "blob.bin"), data)
	if n := ranged.Load(); n != 3 {
		t.Errorf("expected 3 range requests, got %d", n)
	}
}

func TestGetRangeNotSupported(t *testing.T) {
	data := patternData(2 * 1024 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := run([]string{
		"get", "--store", "http",
		"-d", t.TempDir(), "--chunk-size", "1MiB", "--multipart-threshold", "1MiB",
		"--log-level", "error",
		srv.URL, "blob.bin",
	}, &stderr)
	if code != ExitRangeNotSupported {
		t.Fatalf("expected exit %d, got %d:\n%s", ExitRangeNotSupported, code, stderr.String())
	}
}

func TestGetInvalidArgs(t *testing.T) {
	bucketURL := fileBucket(t, "data", nil)

	tests := []struct {
		name string
		args []string
	}{
		{"output with many keys", []string{"-o", "x", "data", "a", "b"}},
		{"expected size with many keys", []string{"--expected-size", "1", "data", "a", "b"}},
		{"escaping key", []string{"-d", t.TempDir(), "data", "../outside"}},
		{"bad chunk size", []string{"--chunk-size", "lots", "data", "a"}},
		{"bad log level", []string{"--log-level", "loud", "data", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"get", "--store", "blob", "--bucket-url", bucketURL}, tt.args...)
			var stderr bytes.Buffer
			if code := run(args, &stderr); code != ExitInvalidArgs {
				t.Errorf("expected exit %d, got %d:\n%s", ExitInvalidArgs, code, stderr.String())
			}
		})
	}
}

func TestGetUnsupportedBucketURL(t *testing.T) {
	var stderr bytes.Buffer
	code := run([]string{
		"get", "--store", "blob", "--bucket-url", "nope://{bucket}",
		"data", "a",
	}, &stderr)
	if code != ExitStorageError {
		t.Errorf("expected exit %d, got %d:\n%s", ExitStorageError, code, stderr.String())
	}
}

func TestGetConfigFile(t *testing.T) {
	data := patternData(1500)
	bucketURL := fileBucket(t, "data", map[string][]byte{"cfg.bin": data})

	cfgPath := filepath.Join(t.TempDir(), "gulp.yaml")
	cfgYAML := fmt.Sprintf("store: blob\nbucket_url: %q\nworkers: 2\nlog:\n  level: error\n", bucketURL)
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out := t.TempDir()
	var stderr bytes.Buffer
	code := run([]string{"--config", cfgPath, "get", "-d", out, "data", "cfg.bin"}, &stderr)
	if code != ExitSuccess {
		t.Fatalf("expected exit %d, got %d:\n%s", ExitSuccess, code, stderr.String())
	}
	assertFile(t, filepath.Join(out, "cfg.bin"), data)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", download.ErrCancelled, ExitInterrupted},
		{"context", context.Canceled, ExitInterrupted},
		{"not found", fmt.Errorf("head: %w", objstore.ErrNotFound), ExitNotAccessible},
		{"forbidden", httpstore.ErrForbidden, ExitNotAccessible},
		{"no ranges", objstore.ErrRangeNotSupported, ExitRangeNotSupported},
		{"unsupported arg", objstore.ErrUnsupportedArg, ExitInvalidArgs},
		{"retries", &download.RetriesExceededError{Attempts: 5, Err: errors.New("boom")}, ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
