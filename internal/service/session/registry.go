package session

import (
	"context"
	"errors"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

// ErrSessionNotFound is returned by Get when no session is stored under the id.
var ErrSessionNotFound = errors.New("session not found")

// Registry remembers the sessions the relay created.
type Registry interface {
	Put(ctx context.Context, id string, session chat.Session) error
	Get(ctx context.Context, id string) (chat.Session, error)
}
