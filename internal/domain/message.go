package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind classifies who authored a message.
type SourceKind string

const (
	SourceUser   SourceKind = "user"
	SourceAgent  SourceKind = "agent"
	SourceSystem SourceKind = "system"
)

// Source identifies the author of a message. Agent sources carry the
// participant identity; user and system sources carry only the kind.
type Source struct {
	Kind          SourceKind `json:"kind"`
	Name          string     `json:"name,omitempty"`
	ParticipantID string     `json:"participantId,omitempty"`
	Color         string     `json:"color,omitempty"` // display hint, e.g. "#d97757"
}

// UserSource returns the source for a human-authored message.
func UserSource() Source {
	return Source{Kind: SourceUser}
}

// SystemSource returns the source for coordinator-generated notices.
func SystemSource() Source {
	return Source{Kind: SourceSystem}
}

// AgentSource returns the source for a message authored by a participant.
func AgentSource(name, participantID, color string) Source {
	return Source{Kind: SourceAgent, Name: name, ParticipantID: participantID, Color: color}
}

// IsAgent reports whether the source is a participant.
func (s Source) IsAgent() bool { return s.Kind == SourceAgent }

// Label returns a human-readable author label for transcripts.
func (s Source) Label() string {
	switch s.Kind {
	case SourceUser:
		return "User"
	case SourceSystem:
		return "System"
	default:
		if s.Name != "" {
			return s.Name
		}
		return s.ParticipantID
	}
}

// Message is a single entry in the conversation. Messages are immutable once
// appended; Streaming and Thinking exist for callers that compose a message
// incrementally before handing it over.
type Message struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Content   string    `json:"content"`
	Streaming bool      `json:"streaming,omitempty"`
	Persist   bool      `json:"persist"`
	Thinking  string    `json:"thinking,omitempty"`
}

// NewMessage builds a complete, persistable message with a fresh ID.
func NewMessage(source Source, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    source,
		Content:   content,
		Persist:   true,
	}
}
