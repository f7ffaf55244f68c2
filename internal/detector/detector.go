// Package detector decides whether the published prediction data changed
// since the last check.
package detector

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/clock"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/common"
	"github.com/ternarybob/stockfeed/internal/docstore"
	"github.com/ternarybob/stockfeed/internal/fingerprint"
	"github.com/ternarybob/stockfeed/internal/models"
)

// Config selects what the detector fingerprints
type Config struct {
	Databases        []string
	CollectionPrefix string
	Retry            common.RetryPolicy
	Clock            clock.Clock
}

// Detector compares the current content of every configured database with
// the last-known fingerprint
type Detector struct {
	open   docstore.Opener
	file   *fingerprint.File
	config Config
	logger arbor.ILogger
}

// New creates a Detector
func New(open docstore.Opener, file *fingerprint.File, config Config, logger arbor.ILogger) *Detector {
	return &Detector{
		open:   open,
		file:   file,
		config: config,
		logger: logger,
	}
}

// Detect reports SignalChanged when the fingerprint differs from the stored
// one (or none is stored), SignalUnchanged when it matches, and SignalError
// with a non-nil error otherwise. The fingerprint file is written only on
// SignalChanged.
func (d *Detector) Detect(ctx context.Context) (models.Signal, error) {
	var current string
	err := d.config.Retry.Do(ctx, d.config.Clock, func(attempt int) error {
		digest, err := d.fingerprint(ctx)
		if err != nil {
			return err
		}
		current = digest
		return nil
	}, func(err error, attempt int) {
		d.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", d.config.Retry.Attempts).Msg("Fingerprint attempt failed")
	})
	if err != nil {
		return models.SignalError, fmt.Errorf("failed to fingerprint document store: %w", err)
	}

	previous, ok, err := d.file.Load()
	if err != nil {
		return models.SignalError, err
	}

	if ok && previous == current {
		d.logger.Info().Str("fingerprint", current).Msg("No change detected")
		return models.SignalUnchanged, nil
	}

	if err := d.file.Save(current); err != nil {
		return models.SignalError, err
	}

	if !ok {
		d.logger.Info().Str("fingerprint", current).Msg("No stored fingerprint, treating as changed")
	} else {
		d.logger.Info().Str("previous", previous).Str("fingerprint", current).Msg("Change detected")
	}
	return models.SignalChanged, nil
}

// fingerprint connects, reads the current collection of every database and
// hashes the result. Databases without a matching collection are skipped.
func (d *Detector) fingerprint(ctx context.Context) (string, error) {
	store, err := d.open(ctx)
	if err != nil {
		return "", err
	}
	defer store.Close()

	var data []fingerprint.DatabaseData
	for _, database := range d.config.Databases {
		collection, err := docstore.CurrentCollection(ctx, store, database, d.config.CollectionPrefix)
		if errors.Is(err, docstore.ErrNoCollection) {
			d.logger.Warn().Str("database", database).Str("prefix", d.config.CollectionPrefix).Msg("No matching collection, skipping database")
			continue
		}
		if err != nil {
			return "", err
		}

		records, err := store.Records(ctx, database, collection)
		if err != nil {
			return "", err
		}

		d.logger.Debug().Str("database", database).Str("collection", collection).Int("records", len(records)).Msg("Collected records")
		data = append(data, fingerprint.DatabaseData{
			Database:   database,
			Collection: collection,
			Records:    records,
		})
	}

	return fingerprint.Compute(data)
}
