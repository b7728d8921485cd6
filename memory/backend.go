package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// memoryBackend keeps encoded records in process
type memoryBackend struct {
	mu      sync.Mutex
	records map[string][]byte
}

// NewMemoryBackend returns a backend that lives as long as the process
func NewMemoryBackend() Backend {
	return &memoryBackend{records: make(map[string][]byte)}
}

func (b *memoryBackend) Load(_ context.Context, id string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return decodeRecord(b.records[id])
}

func (b *memoryBackend) Update(_ context.Context, id string, fn func(*Record) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := decodeRecord(b.records[id])
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	b.records[id] = data
	return nil
}

func (b *memoryBackend) Close() error { return nil }

// fileBackend stores one <id>.json file per dataset
type fileBackend struct {
	mu  sync.Mutex
	dir string
}

// NewFileBackend returns a backend writing JSON files under dir
func NewFileBackend(dir string) (Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create memory directory: %w", err)
	}
	return &fileBackend{dir: dir}, nil
}

func (b *fileBackend) path(id string) string {
	return filepath.Join(b.dir, id+".json")
}

func (b *fileBackend) read(id string) (*Record, error) {
	data, err := os.ReadFile(b.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return decodeRecord(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read memory file: %w", err)
	}
	return decodeRecord(data)
}

func (b *fileBackend) Load(_ context.Context, id string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(id)
}

func (b *fileBackend) Update(_ context.Context, id string, fn func(*Record) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.read(id)
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	return writeAtomic(b.path(id), data)
}

func (b *fileBackend) Close() error { return nil }

// writeAtomic replaces path so readers never see a partial record
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	return nil
}
