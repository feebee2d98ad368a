package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/soyeahso/parley/internal/domain"
)

// MemoryStore keeps conversations in process memory. It backs the
// store.backend=memory configuration, where nothing should outlive the run.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]domain.SessionRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]domain.SessionRecord)}
}

// Save stores a deep copy of the snapshot, dropping non-persistent messages
// so reloads behave like the SQLite backend.
func (s *MemoryStore) Save(rec domain.SessionRecord) error {
	cp := copyRecord(rec)

	kept := cp.Messages[:0]
	for _, msg := range cp.Messages {
		if msg.Persist {
			kept = append(kept, msg)
		}
	}
	cp.Messages = kept
	cp.Sequence = int64(len(kept))

	s.mu.Lock()
	s.recs[cp.ID] = cp
	s.mu.Unlock()
	return nil
}

// Load returns a copy of the stored conversation, or (nil, nil) when absent.
func (s *MemoryStore) Load(id string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	rec, ok := s.recs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	cp := copyRecord(rec)
	return &cp, nil
}

// List returns summaries of stored conversations, most recently active first.
func (s *MemoryStore) List() ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.SessionSummary
	for _, rec := range s.recs {
		out = append(out, domain.SessionSummary{
			ID:             rec.ID,
			Title:          rec.Title,
			MessageCount:   len(rec.Messages),
			LastActivityAt: rec.LastActivityAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

// Delete removes a conversation.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	delete(s.recs, id)
	s.mu.Unlock()
	return nil
}

// SearchMessages does a case-insensitive substring scan. Every term in the
// query must appear in the message for it to match.
func (s *MemoryStore) SearchMessages(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SearchResult
	for _, rec := range s.recs {
		for i, msg := range rec.Messages {
			if !containsAll(strings.ToLower(msg.Content), terms) {
				continue
			}
			out = append(out, SearchResult{
				ConversationID: rec.ID,
				Sequence:       int64(i + 1),
				Author:         msg.Source.Label(),
				Content:        msg.Content,
				Timestamp:      msg.Timestamp,
			})
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func containsAll(haystack string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

// copyRecord clones the record so callers cannot mutate stored state.
func copyRecord(rec domain.SessionRecord) domain.SessionRecord {
	cp := rec
	cp.ParticipantIDs = append([]string(nil), rec.ParticipantIDs...)
	cp.Messages = append([]domain.Message(nil), rec.Messages...)
	return cp
}
