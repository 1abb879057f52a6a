package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"smsrelay/internal/constants"
	"smsrelay/internal/security"
)

// Provider is the read/write contract of the external settings store. The
// content is an opaque JSON blob; an empty result means nothing is stored.
type Provider interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, raw []byte) error
}

// FileProvider keeps the settings blob in a single file with owner-only
// permissions. Writes replace the file atomically.
type FileProvider struct {
	path string
	mu   sync.Mutex
}

func NewFileProvider(path string) (*FileProvider, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid settings path: %w", err)
	}
	return &FileProvider{path: path}, nil
}

func (p *FileProvider) Path() string {
	return p.path
}

func (p *FileProvider) Read(_ context.Context) ([]byte, error) {
	raw, err := os.ReadFile(p.path) // #nosec G304 - path validated in NewFileProvider
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return raw, nil
}

func (p *FileProvider) Write(_ context.Context, raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, constants.DefaultDirectoryPerm); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Chmod(constants.DefaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set settings permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// MemoryProvider holds the settings blob in memory.
type MemoryProvider struct {
	mu  sync.RWMutex
	raw []byte
}

func NewMemoryProvider(raw []byte) *MemoryProvider {
	return &MemoryProvider{raw: append([]byte(nil), raw...)}
}

func (p *MemoryProvider) Read(_ context.Context) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]byte(nil), p.raw...), nil
}

func (p *MemoryProvider) Write(_ context.Context, raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raw = append([]byte(nil), raw...)
	return nil
}
