// Package convo holds the shared conversation log: an append-only,
// sequence-numbered message list with synchronous broadcast to subscribers.
package convo

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/parley/internal/domain"
)

// Event is delivered to subscribers on every append.
type Event struct {
	Message  domain.Message
	Sequence int64
}

// Handler receives append events. Handlers run synchronously before Append
// returns, in subscription order. A handler may read the session but must
// never call Append itself; hand real work off to a channel.
type Handler func(Event)

type subscriber struct {
	name string
	fn   Handler
}

// Session is the conversation log. The sequence counter strictly equals the
// number of appends since creation; message i (zero-based) carries sequence
// i+1. Participant IDs grow over the session's lifetime and are never reused.
type Session struct {
	mu           sync.RWMutex
	id           string
	title        string
	participants []string
	messages     []domain.Message
	seq          int64
	createdAt    time.Time
	lastActivity time.Time
	subs         []subscriber

	// notifyMu serializes whole appends (mutation plus broadcast) so
	// subscribers observe events in sequence order even under concurrent
	// appends. Lock order: notifyMu before mu, never the reverse —
	// subscribers run outside mu and may read the session freely.
	notifyMu sync.Mutex
}

// New creates an empty session. An empty id gets a generated UUID.
func New(id, title string) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	return &Session{
		id:           id,
		title:        title,
		createdAt:    now,
		lastActivity: now,
	}
}

// Restore builds a session from a stored record. Call before any controllers
// subscribe. The sequence counter is derived from the message count rather
// than the record's Sequence field, so message i always carries sequence i+1
// even for a record with an inconsistent counter.
func Restore(rec domain.SessionRecord) *Session {
	s := New(rec.ID, rec.Title)
	s.participants = append(s.participants, rec.ParticipantIDs...)
	s.messages = append(s.messages, rec.Messages...)
	s.seq = int64(len(s.messages))
	if !rec.CreatedAt.IsZero() {
		s.createdAt = rec.CreatedAt
	}
	if !rec.LastActivityAt.IsZero() {
		s.lastActivity = rec.LastActivityAt
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Title returns the session title.
func (s *Session) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.title
}

// SetTitle updates the session title.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title = title
}

// Append records a message, assigns it the next sequence number, and
// synchronously delivers the event to all subscribers before returning.
// Append itself has no failure mode; persistence is a subscriber concern.
func (s *Session) Append(msg domain.Message) int64 {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.messages = append(s.messages, msg)
	s.lastActivity = time.Now()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	ev := Event{Message: msg, Sequence: seq}
	for _, sub := range subs {
		sub.fn(ev)
	}
	return seq
}

// Sequence returns the current sequence counter.
func (s *Session) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// MessagesAfter returns a copy of all messages with sequence greater than
// seq, in append order. Returns nil when seq is at or beyond the current
// sequence.
func (s *Session) MessagesAfter(seq int64) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seq >= s.seq {
		return nil
	}
	if seq < 0 {
		seq = 0
	}
	out := make([]domain.Message, s.seq-seq)
	copy(out, s.messages[seq:])
	return out
}

// Messages returns a copy of the full message history.
func (s *Session) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// AddParticipant records a participant id. Adding an existing id is a no-op;
// ids are never removed, so a departed participant's id cannot be reused.
func (s *Session) AddParticipant(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants {
		if p == id {
			return
		}
	}
	s.participants = append(s.participants, id)
}

// Participants returns the ordered participant id list.
func (s *Session) Participants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.participants))
	copy(out, s.participants)
	return out
}

// Subscribe registers a named handler for append events. The name identifies
// the handler for Unsubscribe.
func (s *Session) Subscribe(name string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscriber{name: name, fn: fn})
}

// Unsubscribe removes all handlers registered under the given name.
func (s *Session) Unsubscribe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.subs[:0]
	for _, sub := range s.subs {
		if sub.name != name {
			filtered = append(filtered, sub)
		}
	}
	s.subs = filtered
}

// SubscriberCount returns the number of registered handlers.
func (s *Session) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// LastActivity returns the time of the most recent append.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Snapshot returns a serializable copy of the session for persistence.
func (s *Session) Snapshot() domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := domain.SessionRecord{
		ID:             s.id,
		Title:          s.title,
		ParticipantIDs: make([]string, len(s.participants)),
		Messages:       make([]domain.Message, len(s.messages)),
		Sequence:       s.seq,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
	}
	copy(rec.ParticipantIDs, s.participants)
	copy(rec.Messages, s.messages)
	return rec
}
