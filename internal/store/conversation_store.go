package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/parley/internal/domain"
)

// Store is the persistence surface the rest of the program depends on.
// Implementations must tolerate repeated Save calls for the same snapshot.
type Store interface {
	// Save writes the snapshot. Messages already on disk are left alone;
	// only messages past the stored high-water mark are inserted.
	Save(rec domain.SessionRecord) error
	// Load returns the stored conversation, or (nil, nil) when absent.
	Load(id string) (*domain.SessionRecord, error)
	// List returns summaries of all stored conversations, most recent first.
	List() ([]domain.SessionSummary, error)
	// Delete removes a conversation and its messages.
	Delete(id string) error
	// SearchMessages runs a full-text query across all conversations.
	SearchMessages(query string, limit int) ([]SearchResult, error)
}

// SearchResult is one message hit from a transcript search.
type SearchResult struct {
	ConversationID string    `json:"conversationId"`
	Sequence       int64     `json:"sequence"`
	Author         string    `json:"author"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// SQLiteStore persists conversations in SQLite.
type SQLiteStore struct {
	db *DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a conversation store backed by the given database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save upserts the conversation row and inserts any messages not yet on
// disk. Messages are identified positionally: slot i holds sequence i+1, so
// everything at or below the stored MAX(sequence) is already persisted.
// Messages flagged Persist=false are skipped.
func (s *SQLiteStore) Save(rec domain.SessionRecord) error {
	ids, err := json.Marshal(rec.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("encoding participant ids: %w", err)
	}

	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO conversations (id, title, participant_ids, sequence, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title            = excluded.title,
			participant_ids  = excluded.participant_ids,
			sequence         = excluded.sequence,
			last_activity_at = excluded.last_activity_at`,
		rec.ID, rec.Title, string(ids), rec.Sequence,
		rec.CreatedAt.Format(time.DateTime), rec.LastActivityAt.Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("upserting conversation: %w", err)
	}

	var high sql.NullInt64
	err = tx.QueryRow(
		"SELECT MAX(sequence) FROM conversation_messages WHERE conversation_id = ?", rec.ID,
	).Scan(&high)
	if err != nil {
		return fmt.Errorf("reading high-water mark: %w", err)
	}

	for i, msg := range rec.Messages {
		seq := int64(i + 1)
		if seq <= high.Int64 || !msg.Persist {
			continue
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		_, err = tx.Exec(`
			INSERT INTO conversation_messages
				(id, conversation_id, sequence, source_kind, source_name, participant_id, source_color, content, thinking, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, rec.ID, seq, string(msg.Source.Kind), msg.Source.Name,
			msg.Source.ParticipantID, msg.Source.Color, msg.Content, msg.Thinking,
			ts.Format(time.DateTime),
		)
		if err != nil {
			return fmt.Errorf("inserting message %d: %w", seq, err)
		}
	}

	return tx.Commit()
}

// Load reads a stored conversation. Messages are re-packed densely: any
// sequence gaps left by skipped non-persistent messages close up, and the
// record's Sequence is set to the loaded message count so the positional
// invariant holds for the restored session.
func (s *SQLiteStore) Load(id string) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var ids, createdAt, lastActivity string
	err := s.db.sql.QueryRow(`
		SELECT id, title, participant_ids, created_at, last_activity_at
		FROM conversations WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Title, &ids, &createdAt, &lastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	if err := json.Unmarshal([]byte(ids), &rec.ParticipantIDs); err != nil {
		return nil, fmt.Errorf("decoding participant ids: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	rec.LastActivityAt, _ = time.Parse(time.DateTime, lastActivity)

	rows, err := s.db.sql.Query(`
		SELECT id, source_kind, source_name, participant_id, source_color, content, thinking, timestamp
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY sequence`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg domain.Message
		var kind, ts string
		if err := rows.Scan(
			&msg.ID, &kind, &msg.Source.Name, &msg.Source.ParticipantID,
			&msg.Source.Color, &msg.Content, &msg.Thinking, &ts,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Source.Kind = domain.SourceKind(kind)
		msg.Timestamp, _ = time.Parse(time.DateTime, ts)
		msg.Persist = true
		rec.Messages = append(rec.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}

	rec.Sequence = int64(len(rec.Messages))
	return &rec, nil
}

// List returns all stored conversations, most recently active first.
func (s *SQLiteStore) List() ([]domain.SessionSummary, error) {
	rows, err := s.db.sql.Query(`
		SELECT c.id, c.title, c.last_activity_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN conversation_messages m ON m.conversation_id = c.id
		GROUP BY c.id, c.title, c.last_activity_at
		ORDER BY c.last_activity_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var lastActivity string
		if err := rows.Scan(&sum.ID, &sum.Title, &lastActivity, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sum.LastActivityAt, _ = time.Parse(time.DateTime, lastActivity)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Delete removes a conversation; its messages go with it via cascade.
func (s *SQLiteStore) Delete(id string) error {
	if _, err := s.db.sql.Exec("DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	return nil
}

// SearchMessages runs an FTS5 query over message content across all stored
// conversations, best match first.
func (s *SQLiteStore) SearchMessages(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.sql.Query(`
		SELECT m.conversation_id, m.sequence, m.source_kind, m.source_name, m.participant_id, m.content, m.timestamp
		FROM message_fts
		JOIN conversation_messages m ON m.rowid = message_fts.rowid
		WHERE message_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var res SearchResult
		var src domain.Source
		var kind, ts string
		if err := rows.Scan(
			&res.ConversationID, &res.Sequence, &kind, &src.Name, &src.ParticipantID, &res.Content, &ts,
		); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		src.Kind = domain.SourceKind(kind)
		res.Author = src.Label()
		res.Timestamp, _ = time.Parse(time.DateTime, ts)
		out = append(out, res)
	}
	return out, rows.Err()
}
