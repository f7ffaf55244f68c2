// Package docstore reads versioned collections from the MongoDB databases the
// prediction publishers write to.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/mgo/v3/bson"
)

var (
	// ErrUnreachable means the store itself failed (dial, ping or connection
	// loss). Callers treat it as fatal for the whole batch.
	ErrUnreachable = errors.New("document store unreachable")

	// ErrNoCollection means a database holds no collection with the configured prefix.
	ErrNoCollection = errors.New("no matching collection")
)

// Store is the read-only view of the document store used by the detector and
// the refresher. Records never include the _id field and keep stored field order.
type Store interface {
	Ping(ctx context.Context) error
	CollectionNames(ctx context.Context, database string) ([]string, error)
	Records(ctx context.Context, database, collection string) ([]bson.D, error)
	Close()
}

// Opener connects to a store. Each call returns a new, pinged connection.
type Opener func(ctx context.Context) (Store, error)

// LatestCollection returns the lexicographically greatest name carrying prefix.
func LatestCollection(names []string, prefix string) (string, bool) {
	var matching []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			matching = append(matching, name)
		}
	}
	if len(matching) == 0 {
		return "", false
	}
	sort.Strings(matching)
	return matching[len(matching)-1], true
}

// CurrentCollection resolves the current versioned collection of database.
// It returns an error wrapping ErrNoCollection when nothing matches.
func CurrentCollection(ctx context.Context, store Store, database, prefix string) (string, error) {
	names, err := store.CollectionNames(ctx, database)
	if err != nil {
		return "", fmt.Errorf("failed to list collections in %s: %w", database, err)
	}

	name, ok := LatestCollection(names, prefix)
	if !ok {
		return "", fmt.Errorf("%w: database %s has no collection with prefix %q", ErrNoCollection, database, prefix)
	}
	return name, nil
}
