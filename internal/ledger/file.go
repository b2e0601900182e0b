package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend stores the record as a marker-delimited text file.
// Writes go to a temp file in the same directory and are renamed over the
// original, so readers never observe a partial record.
type FileBackend struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewFileBackend creates a backend for the file at path.
// The parent directory is created when missing.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileBackend{
		path:     path,
		lockPath: path + ".lock",
	}, nil
}

// Path returns the ledger file location
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(b.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat ledger: %w", err)
}

func (b *FileBackend) Load(ctx context.Context) (*Record, error) {
	var rec *Record
	err := b.withLock(ctx, func() error {
		var err error
		rec, err = b.read()
		return err
	})
	return rec, err
}

func (b *FileBackend) Init(ctx context.Context, rec *Record) error {
	return b.withLock(ctx, func() error {
		exists, err := b.Exists(ctx)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyExists
		}
		return b.write(rec)
	})
}

func (b *FileBackend) Update(ctx context.Context, fn func(rec *Record) (bool, error)) error {
	return b.withLock(ctx, func() error {
		rec, err := b.read()
		if err != nil {
			return err
		}
		changed, err := fn(rec)
		if err != nil || !changed {
			return err
		}
		return b.write(rec)
	})
}

func (b *FileBackend) Close() error {
	return nil
}

// withLock serializes fn within the process and across processes sharing the file
func (b *FileBackend) withLock(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	lock, err := os.OpenFile(b.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger lock: %w", err)
	}
	defer lock.Close()

	if err := lockFile(lock); err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
	defer unlockFile(lock)

	return fn()
}

func (b *FileBackend) read() (*Record, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return Decode(data)
}

func (b *FileBackend) write(rec *Record) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(Encode(rec)); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set ledger permissions: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}
