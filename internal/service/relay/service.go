// Package relay forwards chat messages to a remote agent and aggregates the
// streamed reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/agent-relay/internal/agent"
	"github.com/zhouzirui/agent-relay/internal/model/chat"
	"github.com/zhouzirui/agent-relay/internal/service/session"
)

// ValidationPolicy decides how caller-supplied session ids are treated.
type ValidationPolicy string

const (
	// PolicyTrust forwards supplied ids as-is and lets the remote agent judge them.
	PolicyTrust ValidationPolicy = "trust"
	// PolicyRegistry only accepts ids present in the session registry.
	PolicyRegistry ValidationPolicy = "registry"
)

const defaultUserID = "web_user"

var validate = validator.New()

// Options tunes a Service.
type Options struct {
	DefaultUserID  string
	Validation     ValidationPolicy
	SessionTimeout time.Duration
	QueryTimeout   time.Duration
}

// Service relays chat requests to an agent.
type Service struct {
	agent          agent.Agent
	sessions       session.Registry
	defaultUserID  string
	validation     ValidationPolicy
	sessionTimeout time.Duration
	queryTimeout   time.Duration
	logger         zerolog.Logger
}

// NewService wires the relay to its agent and session registry.
func NewService(a agent.Agent, sessions session.Registry, opts Options, logger zerolog.Logger) *Service {
	userID := opts.DefaultUserID
	if userID == "" {
		userID = defaultUserID
	}
	policy := opts.Validation
	if policy == "" {
		policy = PolicyTrust
	}

	return &Service{
		agent:          a,
		sessions:       sessions,
		defaultUserID:  userID,
		validation:     policy,
		sessionTimeout: opts.SessionTimeout,
		queryTimeout:   opts.QueryTimeout,
		logger:         logger,
	}
}

// Chat sends req to the agent and returns the concatenated reply.
func (s *Service) Chat(ctx context.Context, req chat.Request) (chat.Response, error) {
	return s.ChatStream(ctx, req, nil)
}

// ChatStream behaves like Chat and additionally hands every fragment to emit
// as it arrives. An emit error aborts the exchange.
func (s *Service) ChatStream(ctx context.Context, req chat.Request, emit func(fragment string) error) (chat.Response, error) {
	if err := validate.Struct(req); err != nil {
		return chat.Response{}, ErrNoMessage
	}

	userID := req.UserID
	if userID == "" {
		userID = s.defaultUserID
	}

	sessionID, err := s.resolveSession(ctx, userID, req.SessionID)
	if err != nil {
		return chat.Response{}, err
	}

	reply, err := s.collect(ctx, userID, sessionID, req.Message, emit)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Str("user_id", userID).Msg("agent query failed")
		return chat.Response{}, err
	}

	return chat.Response{Response: reply, SessionID: sessionID}, nil
}

func (s *Service) resolveSession(ctx context.Context, userID, sessionID string) (string, error) {
	if sessionID != "" {
		if s.validation != PolicyRegistry {
			return sessionID, nil
		}
		if _, err := s.sessions.Get(ctx, sessionID); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return "", ErrUnknownSession
			}
			return "", fmt.Errorf("lookup session %s: %w", sessionID, err)
		}
		return sessionID, nil
	}

	createCtx, cancel := withTimeout(ctx, s.sessionTimeout)
	defer cancel()

	created, err := await(createCtx, func() (chat.Session, error) {
		return s.agent.CreateSession(createCtx, userID)
	}, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("error creating session")
		return "", sessionCreationFailed(err)
	}
	if created.ID == "" {
		return "", sessionCreationFailed(errors.New("agent returned an empty session id"))
	}

	if err := s.sessions.Put(ctx, created.ID, created); err != nil {
		s.logger.Error().Err(err).Str("session_id", created.ID).Msg("error storing session")
		return "", sessionCreationFailed(err)
	}

	s.logger.Info().Str("session_id", created.ID).Str("user_id", userID).Msg("session created")
	return created.ID, nil
}

func (s *Service) collect(ctx context.Context, userID, sessionID, message string, emit func(string) error) (string, error) {
	queryCtx, cancel := withTimeout(ctx, s.queryTimeout)
	defer cancel()

	stream, err := await(queryCtx, func() (*schema.StreamReader[chat.Event], error) {
		return s.agent.StreamQuery(queryCtx, userID, sessionID, message)
	}, func(late *schema.StreamReader[chat.Event]) {
		if late != nil {
			late.Close()
		}
	})
	if err != nil {
		return "", streamingFailed(err)
	}
	defer stream.Close()

	done := make(chan struct{})
	defer close(done)
	results := receive(stream, done)

	var reply strings.Builder
	for {
		var res received
		select {
		case <-queryCtx.Done():
			return "", streamingFailed(queryCtx.Err())
		case res = <-results:
		}
		if errors.Is(res.err, io.EOF) {
			break
		}
		if res.err != nil {
			return "", streamingFailed(res.err)
		}

		for _, fragment := range res.event.Fragments() {
			reply.WriteString(fragment)
			if emit == nil {
				continue
			}
			if err := emit(fragment); err != nil {
				return "", streamingFailed(fmt.Errorf("deliver fragment: %w", err))
			}
		}
	}

	if err := queryCtx.Err(); err != nil {
		return "", streamingFailed(err)
	}
	return reply.String(), nil
}

type received struct {
	event chat.Event
	err   error
}

// receive pumps stream into a channel until the stream ends or done is
// closed. A Recv blocked on a stalled writer outlives the exchange until
// that writer sends or closes.
func receive(stream *schema.StreamReader[chat.Event], done <-chan struct{}) <-chan received {
	results := make(chan received)
	go func() {
		for {
			event, err := stream.Recv()
			select {
			case results <- received{event: event, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return results
}

// await runs call and gives up with ctx's error once ctx is done. A result
// arriving after that is handed to discard when set.
func await[T any](ctx context.Context, call func() (T, error), discard func(T)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		value, err := call()
		ch <- outcome{value: value, err: err}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		if discard != nil {
			go func() {
				if out := <-ch; out.err == nil {
					discard(out.value)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
