package searchindex

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	apperrors "github.com/darpa-sail-on/docsearch/pkg/errors"
	"github.com/darpa-sail-on/docsearch/pkg/resilience"
)

// Load reads, decodes and validates the index at path.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open search index %s: %w", path, err)
	}
	defer f.Close()

	idx, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("cannot decode search index %s: %w", path, err)
	}
	if err := Validate(idx); err != nil {
		return nil, fmt.Errorf("search index %s: %w", path, err)
	}
	return idx, nil
}

// LockTimeout bounds how long WriteFile waits for a concurrent writer.
var LockTimeout = 10 * time.Second

// WriteFile replaces the index at path as a whole. The new content is
// written to a temporary file in the same directory and renamed over the
// target while an advisory lock next to the target is held, so readers see
// either the old or the new build and never a partial one.
func WriteFile(path string, idx *Index) error {
	if err := Validate(idx); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}
	unlock, err := acquireLock(path+".lock", LockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	if err := Encode(w, idx); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing temp index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp index file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("setting index file mode: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing search index %s: %w", path, err)
	}
	return nil
}

// lockPollInterval is how often acquireLock retries a busy lock.
const lockPollInterval = 100 * time.Millisecond

func acquireLock(lockPath string, timeout time.Duration) (func(), error) {
	l := flock.New(lockPath)
	err := resilience.Retry(context.Background(), "index lock", resilience.RetryConfig{
		InitialDelay:   lockPollInterval,
		MaxDelay:       lockPollInterval,
		Multiplier:     1,
		JitterFraction: -1,
		MaxElapsed:     timeout,
		Quiet:          true,
	}, func() error {
		locked, err := l.TryLock()
		if err != nil {
			return resilience.Permanent(fmt.Errorf("cannot acquire index lock %s: %w", lockPath, err))
		}
		if !locked {
			return fmt.Errorf("%w (lock: %s)", apperrors.ErrIndexLocked, lockPath)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = l.Unlock() }, nil
}

// IsNotExist reports whether err came from a missing index file.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
