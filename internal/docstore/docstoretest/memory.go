// Package docstoretest provides an in-memory docstore.Store for tests.
package docstoretest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/juju/mgo/v3/bson"
	"github.com/ternarybob/stockfeed/internal/docstore"
)

// MemoryStore holds databases as maps of collection name to records
type MemoryStore struct {
	mu          sync.Mutex
	databases   map[string]map[string][]bson.D
	unreachable bool
	readErr     map[string]error

	Opens  int
	Closes int
	Reads  int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		databases: make(map[string]map[string][]bson.D),
		readErr:   make(map[string]error),
	}
}

// Put replaces the records of database.collection, creating both as needed
func (m *MemoryStore) Put(database, collection string, records ...bson.D) {
	m.mu.Lock()
	defer m.mu.Unlock()

	colls, ok := m.databases[database]
	if !ok {
		colls = make(map[string][]bson.D)
		m.databases[database] = colls
	}
	colls[collection] = append([]bson.D(nil), records...)
}

// SetUnreachable makes every operation (and every open) fail with docstore.ErrUnreachable
func (m *MemoryStore) SetUnreachable(unreachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = unreachable
}

// FailReads makes Records fail with err for database
func (m *MemoryStore) FailReads(database string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr[database] = err
}

// Open implements docstore.Opener
func (m *MemoryStore) Open(ctx context.Context) (docstore.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Opens++
	if m.unreachable {
		return nil, fmt.Errorf("%w: connection refused", docstore.ErrUnreachable)
	}
	return m, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return fmt.Errorf("%w: connection refused", docstore.ErrUnreachable)
	}
	return nil
}

func (m *MemoryStore) CollectionNames(ctx context.Context, database string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unreachable {
		return nil, fmt.Errorf("%w: connection refused", docstore.ErrUnreachable)
	}

	// map order is random, which exercises callers that must not depend on listing order
	var names []string
	for name := range m.databases[database] {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemoryStore) Records(ctx context.Context, database, collection string) ([]bson.D, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Reads++
	if m.unreachable {
		return nil, fmt.Errorf("%w: connection refused", docstore.ErrUnreachable)
	}
	if err := m.readErr[database]; err != nil {
		return nil, err
	}

	records := m.databases[database][collection]
	out := make([]bson.D, len(records))
	copy(out, records)
	return out, nil
}

func (m *MemoryStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes++
}

// Databases returns the sorted database names held by the store
func (m *MemoryStore) Databases() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name := range m.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenCount returns Opens under the lock
func (m *MemoryStore) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Opens
}

// ReadCount returns Reads under the lock
func (m *MemoryStore) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Reads
}
