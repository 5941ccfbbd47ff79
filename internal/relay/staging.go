package relay

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage is the staging area receipts pass through between the Slack
// download and the Expensify upload. Stage returns the absolute path of the
// staged copy; Read and Discard take that path back.
type Storage interface {
	Stage(filename string, data []byte) (string, error)
	Read(path string) ([]byte, error)
	Discard(path string) error
}

// LocalStorage stages receipts in a local directory.
type LocalStorage struct {
	dir string
}

// NewLocalStorage resolves the staging directory to an absolute path and
// creates it if needed.
func NewLocalStorage(dir string) (*LocalStorage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving staging directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &LocalStorage{dir: abs}, nil
}

// Stage writes a receipt into the staging directory and returns its
// absolute path.
func (l *LocalStorage) Stage(filename string, data []byte) (string, error) {
	path := filepath.Join(l.dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("staging receipt: %w", err)
	}
	return path, nil
}

// Read returns the bytes of a staged receipt.
func (l *LocalStorage) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading staged receipt: %w", err)
	}
	return data, nil
}

// Discard removes a staged receipt once the submission is over.
func (l *LocalStorage) Discard(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("discarding staged receipt: %w", err)
	}
	return nil
}
