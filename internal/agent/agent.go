// Package agent defines the contract the relay consumes from a remote
// conversational agent.
package agent

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

// Agent is a session-addressed conversational endpoint.
//
// StreamQuery returns a reader that yields events in emission order and
// reports io.EOF once the exchange completes. Any other error from Recv is
// a stream failure. Callers must Close the reader.
type Agent interface {
	CreateSession(ctx context.Context, userID string) (chat.Session, error)
	StreamQuery(ctx context.Context, userID, sessionID, message string) (*schema.StreamReader[chat.Event], error)
}
