package searchindex

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/go-cmp/cmp"

	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
)

func TestWriteFileThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "html", "searchindex.js")
	idx := smallIndex()
	if err := WriteFile(path, idx); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(idx, got); diff != "" {
		t.Errorf("index mismatch (-want +got):\n%s", diff)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchindex.js")
	idx := smallIndex()
	idx.Titles = nil
	if err := WriteFile(path, idx); !errors.Is(err, apperrors.ErrMalformedIndex) {
		t.Fatalf("WriteFile error = %v, want ErrMalformedIndex", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("invalid index should not be written")
	}
}

func TestWriteFileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchindex.js")
	held := flock.New(path + ".lock")
	if err := held.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer held.Unlock()

	old := LockTimeout
	LockTimeout = 150 * time.Millisecond
	defer func() { LockTimeout = old }()

	if err := WriteFile(path, smallIndex()); !errors.Is(err, apperrors.ErrIndexLocked) {
		t.Fatalf("WriteFile error = %v, want ErrIndexLocked", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.js"))
	if !IsNotExist(err) {
		t.Fatalf("Load error = %v, want not-exist", err)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searchindex.js")
	if err := os.WriteFile(path, []byte(`Search.setIndex({docnames:["a"],filenames:[],titles:[]})`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, apperrors.ErrMalformedIndex) {
		t.Fatalf("Load error = %v, want ErrMalformedIndex", err)
	}
}
