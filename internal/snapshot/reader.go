package snapshot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSnapshot means a directory holds no snapshot files
var ErrNoSnapshot = errors.New("no snapshot found")

// Table is a parsed snapshot
type Table struct {
	Path   string
	Header []string
	Rows   [][]string
	index  map[string]int
}

// Latest returns the snapshot in dir with the most recent modification time.
// Ties go to the lexicographically greatest name, so the result does not
// depend on directory listing order.
func Latest(dir, prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*.csv"))
	if err != nil {
		return "", fmt.Errorf("invalid snapshot pattern: %w", err)
	}

	var (
		best     string
		bestInfo os.FileInfo
	)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if bestInfo == nil ||
			info.ModTime().After(bestInfo.ModTime()) ||
			(info.ModTime().Equal(bestInfo.ModTime()) && filepath.Base(path) > filepath.Base(best)) {
			best, bestInfo = path, info
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w in %s", ErrNoSnapshot, dir)
	}
	return best, nil
}

// Read parses a snapshot. Rows shorter than the header are padded.
func Read(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("snapshot %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot header %s: %w", path, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	table := &Table{Path: path, Header: header, index: make(map[string]int, len(header))}
	for i, name := range header {
		if _, ok := table.index[name]; !ok {
			table.index[name] = i
		}
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
		}
		if len(row) < len(header) {
			row = append(row, make([]string, len(header)-len(row))...)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// Has reports whether the snapshot has a column
func (t *Table) Has(column string) bool {
	_, ok := t.index[column]
	return ok
}

// Missing returns the columns from required that the snapshot lacks
func (t *Table) Missing(required []string) []string {
	var missing []string
	for _, column := range required {
		if !t.Has(column) {
			missing = append(missing, column)
		}
	}
	return missing
}

// Value returns a cell by column name, or "" when the column is absent
func (t *Table) Value(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// Record returns row as a column name to value map
func (t *Table) Record(row []string) map[string]string {
	record := make(map[string]string, len(t.Header))
	for i, name := range t.Header {
		if i < len(row) {
			record[name] = row[i]
		}
	}
	return record
}
