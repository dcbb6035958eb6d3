package conversation

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrNotFound is returned when a conversation ID is not in the store.
var ErrNotFound = errors.New("conversation not found")

// IDPrefix is prepended to generated conversation IDs.
const IDPrefix = "conv_"

// Store keeps conversation history keyed by ID. Implementations must be
// safe for concurrent use; serializing requests for the same ID is the
// caller's job (see Locker).
type Store interface {
	// Get returns the turns for id, or ErrNotFound.
	Get(id string) ([]Turn, error)
	// Put replaces the turns for id, creating the conversation if needed.
	Put(id string, turns []Turn) error
	// Delete removes id, or returns ErrNotFound if it did not exist.
	Delete(id string) error
	// ListIDs returns every conversation ID in creation order.
	ListIDs() ([]string, error)
	// NewID returns an unused ID of the form conv_N.
	NewID() (string, error)
}

// MemoryStore is a volatile Store held in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]Turn
	order         []string
	next          int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string][]Turn),
		next:          1,
	}
}

// Get returns a copy of the turns for id.
func (s *MemoryStore) Get(id string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Clone(turns), nil
}

// Put stores a copy of turns under id.
func (s *MemoryStore) Put(id string, turns []Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		s.order = append(s.order, id)
	}
	stored := Clone(turns)
	if stored == nil {
		stored = []Turn{}
	}
	s.conversations[id] = stored
	return nil
}

// Delete removes id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.conversations, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListIDs returns IDs in creation order.
func (s *MemoryStore) ListIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.order...), nil
}

// NewID returns the next unused conv_N. The counter never goes
// backwards, so IDs are not reused after a delete.
func (s *MemoryStore) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id := IDPrefix + strconv.Itoa(s.next)
		s.next++
		if _, taken := s.conversations[id]; !taken {
			return id, nil
		}
	}
}

// Stats returns store statistics for status endpoints.
func (s *MemoryStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, turns := range s.conversations {
		total += len(turns)
	}
	return map[string]any{
		"conversations": len(s.conversations),
		"turns":         total,
	}
}

// sortIDs orders conv_N IDs numerically, falling back to lexical order
// for anything else.
func sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, aok := idNumber(ids[i])
		b, bok := idNumber(ids[j])
		if aok && bok {
			return a < b
		}
		return ids[i] < ids[j]
	})
}

func idNumber(id string) (int, bool) {
	if !strings.HasPrefix(id, IDPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, IDPrefix))
	return n, err == nil
}
