package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ringSize is how many recent entries stay in RAM per agent.
const ringSize = 50

// Store fronts the persistent memory backend with one in-RAM ring of recent
// entries per agent, so agents can recall their latest context without a
// database round trip.
type Store struct {
	backend Backend
	logger  zerolog.Logger

	mu    sync.RWMutex
	rings map[string][]*Entry // newest last
}

// NewStore creates a memory store over the given backend.
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		rings:   make(map[string][]*Entry),
	}
}

// Record appends an entry to the agent's log. The ring is updated even when
// persistence fails, so recent context survives a flaky database; the error
// still surfaces for the caller to log.
func (s *Store) Record(ctx context.Context, agent, entryType, content string, metadata map[string]any) (*Entry, error) {
	if agent == "" {
		return nil, fmt.Errorf("memory entry requires an agent")
	}
	if entryType == "" {
		return nil, fmt.Errorf("memory entry requires a type")
	}

	e := &Entry{
		Agent:    agent,
		Type:     entryType,
		Content:  content,
		Metadata: metadata,
		Ts:       time.Now().UTC(),
	}
	s.push(e)

	if err := s.backend.InsertMemory(ctx, e); err != nil {
		return e, fmt.Errorf("failed to persist memory entry for %s: %w", agent, err)
	}
	return e, nil
}

func (s *Store) push(e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := append(s.rings[e.Agent], e)
	if len(ring) > ringSize {
		ring = ring[len(ring)-ringSize:]
	}
	s.rings[e.Agent] = ring
}

// Recent returns the agent's most recent in-RAM entries, newest first,
// optionally filtered by type. limit <= 0 returns the whole ring.
func (s *Store) Recent(agent, entryType string, limit int) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.rings[agent]
	out := make([]*Entry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		if entryType != "" && ring[i].Type != entryType {
			continue
		}
		out = append(out, ring[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Query reads the agent's log from the backend for history beyond the ring,
// filtered by type and time window.
func (s *Store) Query(ctx context.Context, agent, entryType string, since time.Time, limit int) ([]*Entry, error) {
	entries, err := s.backend.FindMemory(ctx, agent, entryType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory for %s: %w", agent, err)
	}
	return entries, nil
}

// RecordCollective appends an entry to the shared log.
func (s *Store) RecordCollective(ctx context.Context, entryType, content string, metadata map[string]any) (*CollectiveEntry, error) {
	if entryType == "" {
		return nil, fmt.Errorf("collective memory entry requires a type")
	}
	e := &CollectiveEntry{
		Type:     entryType,
		Content:  content,
		Metadata: metadata,
		Ts:       time.Now().UTC(),
	}
	if err := s.backend.InsertCollective(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to persist collective memory entry: %w", err)
	}
	return e, nil
}

// QueryCollective reads the shared log by type and time window.
func (s *Store) QueryCollective(ctx context.Context, entryType string, since time.Time, limit int) ([]*CollectiveEntry, error) {
	entries, err := s.backend.FindCollective(ctx, entryType, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query collective memory: %w", err)
	}
	return entries, nil
}
