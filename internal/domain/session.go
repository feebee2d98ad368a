package domain

import "time"

// SessionRecord is the serializable snapshot of a conversation that the
// persistence layer consumes. The live session owns the authoritative state;
// records are derived copies.
type SessionRecord struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	ParticipantIDs []string  `json:"participantIds"`
	Messages       []Message `json:"messages"`
	Sequence       int64     `json:"sequence"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// SessionSummary is a lightweight listing entry for stored conversations.
type SessionSummary struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	MessageCount   int       `json:"messageCount"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}
