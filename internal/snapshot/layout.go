// Package snapshot owns the on-disk snapshot tree: where snapshots for a
// database go, how they are written, and which one is current.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/stockfeed/internal/common"
)

// TimestampFormat is the suffix layout of snapshot file names
const TimestampFormat = "20060102_150405"

// Layout maps databases to snapshot directories
type Layout struct {
	BaseDir      string
	Prefix       string
	MarketStates []string // Checked in order against database names
	OtherDir     string
}

// NewLayout builds a Layout from the snapshot configuration
func NewLayout(config *common.SnapshotConfig) Layout {
	return Layout{
		BaseDir:      config.Dir,
		Prefix:       config.FilenamePrefix,
		MarketStates: config.MarketStates,
		OtherDir:     config.OtherDir,
	}
}

// Classify returns the first market state contained in database, or the
// catch-all directory name.
func (l Layout) Classify(database string) string {
	for _, state := range l.MarketStates {
		if strings.Contains(database, state) {
			return state
		}
	}
	return l.OtherDir
}

// Dir returns the directory holding snapshots for a classification
func (l Layout) Dir(class string) string {
	return filepath.Join(l.BaseDir, class)
}

// FileName returns the snapshot file name for a refresh started at t
func (l Layout) FileName(t time.Time) string {
	return fmt.Sprintf("%s_%s.csv", l.Prefix, t.Format(TimestampFormat))
}

// Latest returns the current snapshot for a classification
func (l Layout) Latest(class string) (string, error) {
	return Latest(l.Dir(class), l.Prefix)
}

// Current describes the snapshot served for one market state
type Current struct {
	Class   string
	Path    string
	ModTime time.Time
	Size    int64
	Err     error // ErrNoSnapshot when the directory holds none
}

// CurrentSnapshots returns the snapshot in use for every market state, in
// configured order
func (l Layout) CurrentSnapshots() []Current {
	current := make([]Current, 0, len(l.MarketStates))
	for _, state := range l.MarketStates {
		c := Current{Class: state}
		c.Path, c.Err = l.Latest(state)
		if c.Err == nil {
			info, err := os.Stat(c.Path)
			if err != nil {
				c.Err = err
			} else {
				c.ModTime = info.ModTime()
				c.Size = info.Size()
			}
		}
		current = append(current, c)
	}
	return current
}

// IsMarketState reports whether value is one of the configured market states
func (l Layout) IsMarketState(value string) bool {
	for _, state := range l.MarketStates {
		if state == value {
			return true
		}
	}
	return false
}
