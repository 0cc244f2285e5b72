package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTempName(t *testing.T) {
	var u OSUtil
	dest := filepath.Join("out", "file.bin")

	a := u.TempName(dest)
	b := u.TempName(dest)

	if !strings.HasPrefix(a, dest+".") {
		t.Errorf("expected %q to start with %q", a, dest+".")
	}
	if len(a) != len(dest)+9 {
		t.Errorf("expected an 8 character suffix, got %q", a)
	}
	if a == b {
		t.Errorf("expected distinct temp names, got %q twice", a)
	}
}

func TestAllocate(t *testing.T) {
	var u OSUtil
	path := filepath.Join(t.TempDir(), "alloc")

	if err := u.Allocate(path, 12345); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 12345 {
		t.Errorf("expected size 12345, got %d", info.Size())
	}

	// reallocating shrinks an existing file
	if err := u.Allocate(path, 10); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	info, _ = os.Stat(path)
	if info.Size() != 10 {
		t.Errorf("expected size 10, got %d", info.Size())
	}
}

func TestAllocateZero(t *testing.T) {
	var u OSUtil
	path := filepath.Join(t.TempDir(), "empty")

	if err := u.Allocate(path, 0); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty file, got %d bytes", info.Size())
	}
}

func TestAllocateFailure(t *testing.T) {
	var u OSUtil
	path := filepath.Join(t.TempDir(), "missing", "dir", "file")

	if err := u.Allocate(path, 10); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no file left behind, got %v", err)
	}
}

func TestAllocateNegativeRemovesFile(t *testing.T) {
	var u OSUtil
	path := filepath.Join(t.TempDir(), "neg")

	if err := u.Allocate(path, -1); err == nil {
		t.Fatal("expected error for negative size")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected partially created file to be removed, got %v", err)
	}
}

func TestWriteRenameRemove(t *testing.T) {
	var u OSUtil
	dir := t.TempDir()
	tmp := filepath.Join(dir, "f.tmp")
	dest := filepath.Join(dir, "f")

	if err := u.Allocate(tmp, 10); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	f, err := u.OpenForWrite(tmp)
	if err != nil {
		t.Fatalf("OpenForWrite: %v", err)
	}
	if _, err := f.WriteAt([]byte("world"), 5); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if _, err := f.WriteAt([]byte("hello"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	if err := u.Rename(tmp, dest); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "helloworld" {
		t.Errorf("expected 'helloworld', got %q", data)
	}

	if err := u.Remove(dest); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := u.Remove(dest); err != nil {
		t.Errorf("removing a missing file must succeed, got %v", err)
	}
}

func TestOpenForWriteMissing(t *testing.T) {
	var u OSUtil
	if _, err := u.OpenForWrite(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error opening a missing file")
	}
}
