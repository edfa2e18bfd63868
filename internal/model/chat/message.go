package chat

// Request is the body accepted by the chat endpoint.
type Request struct {
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message" validate:"required"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the aggregated reply for one exchange.
type Response struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}
