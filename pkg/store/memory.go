package store

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"coachsync-server/pkg/coach"
	"coachsync-server/pkg/errors"
)

// MemoryStore is an in-process session store. It is the default backend
// and the reference implementation for tests.
type MemoryStore struct {
	logger *logrus.Logger

	mu       sync.RWMutex
	items    map[string]*coach.Aggregate
	watchers map[string]map[int]WatchFunc
	nextID   int
}

// NewMemoryStore creates an in-memory session store.
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		logger:   logger,
		items:    make(map[string]*coach.Aggregate),
		watchers: make(map[string]map[int]WatchFunc),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sessionID string, agg *coach.Aggregate) error {
	m.mu.Lock()
	if _, exists := m.items[sessionID]; exists {
		m.mu.Unlock()
		return errors.Wrap(errors.ErrSessionAlreadyExists, "create session record", map[string]interface{}{
			"session_id": sessionID,
		})
	}
	m.items[sessionID] = agg.Clone()
	snapshot := agg.Clone()
	m.mu.Unlock()

	m.emit(sessionID, snapshot)
	return nil
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, agg *coach.Aggregate) error {
	m.mu.Lock()
	m.items[sessionID] = agg.Clone()
	snapshot := agg.Clone()
	m.mu.Unlock()

	m.emit(sessionID, snapshot)
	return nil
}

func (m *MemoryStore) Patch(ctx context.Context, sessionID string, patch coach.AggregatePatch) error {
	m.mu.Lock()
	current, ok := m.items[sessionID]
	if !ok {
		m.mu.Unlock()
		return errors.NewSessionNotFound(sessionID)
	}
	next := patch.ApplyTo(current)
	m.items[sessionID] = next
	snapshot := next.Clone()
	m.mu.Unlock()

	m.emit(sessionID, snapshot)
	return nil
}

func (m *MemoryStore) Read(ctx context.Context, sessionID string) (*coach.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.items[sessionID]
	if !ok {
		return nil, errors.NewSessionNotFound(sessionID)
	}
	return agg.Clone(), nil
}

func (m *MemoryStore) Watch(ctx context.Context, sessionID string, fn WatchFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watchers[sessionID] == nil {
		m.watchers[sessionID] = make(map[int]WatchFunc)
	}
	id := m.nextID
	m.nextID++
	m.watchers[sessionID][id] = fn

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if fns, ok := m.watchers[sessionID]; ok {
			delete(fns, id)
			if len(fns) == 0 {
				delete(m.watchers, sessionID)
			}
		}
	}
	return cancel, nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) emit(sessionID string, snapshot *coach.Aggregate) {
	m.mu.RLock()
	fns := make([]WatchFunc, 0, len(m.watchers[sessionID]))
	for _, fn := range m.watchers[sessionID] {
		fns = append(fns, fn)
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn(sessionID, snapshot)
	}
}
