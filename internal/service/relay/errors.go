package relay

import "errors"

// Kind classifies relay failures for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindSessionCreation
	KindStreaming
	KindUnknownSession
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindSessionCreation:
		return "session_creation_failed"
	case KindStreaming:
		return "streaming_failed"
	case KindUnknownSession:
		return "unknown_session"
	default:
		return "internal"
	}
}

// Error is a classified relay failure. Message is safe to show to clients;
// Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrNoPayload      = &Error{Kind: KindBadRequest, Message: "No JSON data provided"}
	ErrNoMessage      = &Error{Kind: KindBadRequest, Message: "No message provided"}
	ErrUnknownSession = &Error{Kind: KindUnknownSession, Message: "Session not found"}
)

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr.Kind
	}
	return KindInternal
}

func sessionCreationFailed(err error) error {
	return &Error{Kind: KindSessionCreation, Message: "Failed to create session", Err: err}
}

func streamingFailed(err error) error {
	return &Error{Kind: KindStreaming, Message: "Failed to get response from agent", Err: err}
}
