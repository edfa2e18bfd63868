// Package ark serves the agent contract from a local eino chat model. It is
// meant for development when no Agent Engine deployment is at hand.
package ark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

// ErrUnknownSession is returned when a query names a session this agent
// never created.
var ErrUnknownSession = errors.New("unknown session")

const defaultHistoryLimit = 10

// Config tunes the local agent.
type Config struct {
	Instruction  string
	HistoryLimit int
	ModelName    string
}

// Agent keeps per-session history and streams replies from a chat model.
type Agent struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	instruction  string
	historyLimit int
	modelName    string
	logger       zerolog.Logger

	mu        sync.Mutex
	histories map[string][]*schema.Message
}

// New compiles the prompt chain in front of chatModel.
func New(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger zerolog.Logger) (*Agent, error) {
	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	templates := make([]schema.MessagesTemplate, 0, 3)
	if cfg.Instruction != "" {
		templates = append(templates, schema.SystemMessage("{system}"))
	}
	templates = append(templates,
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(schema.FString, templates...))
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Agent{
		chain:        runnable,
		instruction:  cfg.Instruction,
		historyLimit: limit,
		modelName:    cfg.ModelName,
		logger:       logger,
		histories:    make(map[string][]*schema.Message),
	}, nil
}

// CreateSession provisions a local session for userID.
func (a *Agent) CreateSession(_ context.Context, userID string) (chat.Session, error) {
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]any{
			"backend": "ark",
			"model":   a.modelName,
		},
	}

	a.mu.Lock()
	a.histories[session.ID] = make([]*schema.Message, 0, a.historyLimit)
	a.mu.Unlock()

	return session, nil
}

// StreamQuery streams the model reply for message. The exchange is appended
// to the session history only when the stream completes.
func (a *Agent) StreamQuery(ctx context.Context, _ string, sessionID, message string) (*schema.StreamReader[chat.Event], error) {
	history, err := a.history(sessionID)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"system":  a.instruction,
		"history": history,
		"query":   message,
	}

	stream, err := a.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream model output: %w", err)
	}

	sr, sw := schema.Pipe[chat.Event](8)
	go func() {
		defer sw.Close()
		defer stream.Close()

		var reply strings.Builder
		for {
			chunk, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				sw.Send(chat.Event{}, recvErr)
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}

			reply.WriteString(chunk.Content)
			if closed := sw.Send(chat.TextEvent(chunk.Content), nil); closed {
				return
			}
		}

		a.appendTurn(sessionID, message, reply.String())
		a.logger.Debug().Str("session_id", sessionID).Int("length", reply.Len()).Msg("ark reply streamed")
	}()

	return sr, nil
}

func (a *Agent) history(sessionID string) ([]*schema.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	history, ok := a.histories[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return append([]*schema.Message(nil), history...), nil
}

func (a *Agent) appendTurn(sessionID, user, assistant string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	history := append(a.histories[sessionID],
		schema.UserMessage(user),
		schema.AssistantMessage(assistant, nil),
	)
	// Drop whole user/assistant turns so history never opens on a reply.
	if excess := len(history) - a.historyLimit; excess > 0 {
		if excess%2 == 1 {
			excess++
		}
		history = history[excess:]
	}
	a.histories[sessionID] = history
}
