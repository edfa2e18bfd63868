package chat

import "time"

// Session captures a conversation opened on the remote agent.
// Metadata holds the remote platform's session object as returned.
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
