package domain

// ParticipantInfo describes one AI worker in the conversation.
type ParticipantInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// ParticipantStatus is a point-in-time snapshot of one controller's state,
// exposed for status commands and the gateway.
type ParticipantStatus struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Processing        bool   `json:"processing"`
	LastSeenSequence  int64  `json:"lastSeenSequence"`
	ConsecutivePasses int    `json:"consecutivePasses"`
	PendingAttempts   int    `json:"pendingAttempts,omitempty"`
	ActiveTurnID      string `json:"activeTurnId,omitempty"`
	LastError         string `json:"lastError,omitempty"`
}

// ConversationStatus aggregates the coordinator view for status reporting.
type ConversationStatus struct {
	SessionID    string              `json:"sessionId"`
	Title        string              `json:"title,omitempty"`
	Sequence     int64               `json:"sequence"`
	Stalled      bool                `json:"stalled"`
	Active       bool                `json:"active"`
	Participants []ParticipantStatus `json:"participants"`
}
