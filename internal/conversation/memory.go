package conversation

import (
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]Record)}
}

func (s *MemoryStore) Append(conversationID string, records ...Record) error {
	if !ValidID(conversationID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, conversationID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if rec.ConversationID == "" {
			rec.ConversationID = conversationID
		}
		s.logs[conversationID] = append(s.logs[conversationID], rec)
	}
	return nil
}

func (s *MemoryStore) Load(conversationID string) ([]Record, error) {
	if !ValidID(conversationID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, conversationID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.logs[conversationID]))
	copy(out, s.logs[conversationID])
	return out, nil
}

func (s *MemoryStore) Latest(conversationID string, match func(Record) bool) (Record, bool, error) {
	records, err := s.Load(conversationID)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := latest(records, match)
	return rec, ok, nil
}
