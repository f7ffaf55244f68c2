// Package refresher materializes the current collection of every configured
// database into a CSV snapshot.
package refresher

import (
	"context"
	"errors"
	"fmt"

	"github.com/juju/clock"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/stockfeed/internal/docstore"
	"github.com/ternarybob/stockfeed/internal/models"
	"github.com/ternarybob/stockfeed/internal/snapshot"
)

var (
	// ErrNoCollection means a database has no collection with the configured prefix
	ErrNoCollection = docstore.ErrNoCollection

	// ErrNoRecords means the current collection is empty
	ErrNoRecords = errors.New("collection has no records")
)

// Config selects the databases to refresh and where snapshots go
type Config struct {
	Databases        []string
	CollectionPrefix string
	Layout           snapshot.Layout
	Clock            clock.Clock
}

// Result is the outcome for one database
type Result struct {
	Database   string
	Collection string
	Class      string
	Path       string
	Records    int
	Err        error
}

// Summary is the outcome of a full refresh
type Summary struct {
	Results []Result
	Status  models.RefreshStatus
	Err     error // Store failure that aborted the batch
}

// Succeeded returns the number of databases that produced a snapshot
func (s Summary) Succeeded() int {
	count := 0
	for _, result := range s.Results {
		if result.Err == nil {
			count++
		}
	}
	return count
}

// OK reports whether the refresh counts as successful: at least one
// snapshot was written and the store never failed
func (s Summary) OK() bool {
	return s.Err == nil && s.Succeeded() > 0
}

// Refresher writes snapshots from a connected store
type Refresher struct {
	store  docstore.Store
	config Config
	logger arbor.ILogger
}

// New creates a Refresher over store, which must answer a ping
func New(ctx context.Context, store docstore.Store, config Config, logger arbor.ILogger) (*Refresher, error) {
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("document store is not usable: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	return &Refresher{
		store:  store,
		config: config,
		logger: logger,
	}, nil
}

// RefreshAll refreshes every configured database in order. A database that
// fails is recorded and skipped; a store failure stops the batch.
func (r *Refresher) RefreshAll(ctx context.Context) Summary {
	var summary Summary

	for _, database := range r.config.Databases {
		if err := ctx.Err(); err != nil {
			summary.Err = err
			break
		}

		result := r.Refresh(ctx, database)
		summary.Results = append(summary.Results, result)

		if result.Err == nil {
			r.logger.Info().
				Str("database", database).
				Str("collection", result.Collection).
				Str("path", result.Path).
				Int("records", result.Records).
				Msg("Snapshot written")
			continue
		}

		if errors.Is(result.Err, docstore.ErrUnreachable) {
			r.logger.Error().Err(result.Err).Str("database", database).Msg("Document store failed, aborting refresh")
			summary.Err = result.Err
			break
		}

		r.logger.Warn().Err(result.Err).Str("database", database).Msg("Database refresh failed, continuing")
	}

	switch {
	case summary.Err != nil || summary.Succeeded() == 0:
		summary.Status = models.RefreshFailure
	case summary.Succeeded() == len(r.config.Databases):
		summary.Status = models.RefreshSuccess
	default:
		summary.Status = models.RefreshPartial
	}

	r.logger.Info().
		Str("status", string(summary.Status)).
		Int("succeeded", summary.Succeeded()).
		Int("databases", len(r.config.Databases)).
		Msg("Refresh complete")

	return summary
}

// Refresh writes a snapshot for one database
func (r *Refresher) Refresh(ctx context.Context, database string) Result {
	result := Result{
		Database: database,
		Class:    r.config.Layout.Classify(database),
	}

	collection, err := docstore.CurrentCollection(ctx, r.store, database, r.config.CollectionPrefix)
	if err != nil {
		result.Err = err
		return result
	}
	result.Collection = collection

	records, err := r.store.Records(ctx, database, collection)
	if err != nil {
		result.Err = err
		return result
	}
	if len(records) == 0 {
		result.Err = fmt.Errorf("%w: %s.%s", ErrNoRecords, database, collection)
		return result
	}

	header, rows := snapshot.Flatten(records)
	name := r.config.Layout.FileName(r.config.Clock.Now())

	path, err := snapshot.Write(r.config.Layout.Dir(result.Class), name, header, rows)
	if err != nil {
		result.Err = err
		return result
	}

	result.Path = path
	result.Records = len(records)
	return result
}
