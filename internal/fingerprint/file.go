package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/stockfeed/internal/common"
)

// File persists the last-known fingerprint as a single line of text
type File struct {
	Path string
}

// NewFile returns a File at path
func NewFile(path string) *File {
	return &File{Path: path}
}

// Load returns the stored fingerprint. ok is false when no fingerprint has
// been stored yet (missing or empty file).
func (f *File) Load() (string, bool, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read fingerprint file %s: %w", f.Path, err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Save replaces the stored fingerprint atomically
func (f *File) Save(value string) error {
	if err := common.WriteFileAtomic(f.Path, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write fingerprint file %s: %w", f.Path, err)
	}
	return nil
}
