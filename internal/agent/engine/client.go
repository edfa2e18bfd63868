// Package engine talks to a Vertex AI Agent Engine (reasoning engine)
// deployment over its REST surface.
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/zhouzirui/agent-relay/internal/config"
	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

const (
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	streamBufferSize   = 8
	maxErrorBody       = 512
)

// Client implements agent.Agent against a deployed Agent Engine.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

type clientOptions struct {
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option customises a Client.
type Option func(*clientOptions)

// WithHTTPClient replaces the authenticated Google transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}

// New builds a client for the engine named by cfg. Without WithHTTPClient it
// authenticates with application default credentials, or with the service
// account key in cfg.CredentialsFile when set.
func New(ctx context.Context, cfg config.AgentConfig, opts ...Option) (*Client, error) {
	o := clientOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	resource := cfg.ResourceName()
	if resource == "" {
		return nil, errors.New("agent engine resource id is not configured")
	}

	httpClient := o.httpClient
	if httpClient == nil {
		clientOpts := []option.ClientOption{option.WithScopes(cloudPlatformScope)}
		if cfg.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		var err error
		httpClient, _, err = htransport.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create google http client: %w", err)
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.APIEndpoint(), "/") + "/v1/" + resource,
		logger:     o.logger,
	}, nil
}

type queryRequest struct {
	ClassMethod string `json:"class_method"`
	Input       any    `json:"input"`
}

type createSessionInput struct {
	UserID string `json:"user_id"`
}

type streamQueryInput struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// CreateSession opens a session for userID on the remote engine.
func (c *Client) CreateSession(ctx context.Context, userID string) (chat.Session, error) {
	resp, err := c.post(ctx, ":query", queryRequest{
		ClassMethod: "create_session",
		Input:       createSessionInput{UserID: userID},
	})
	if err != nil {
		return chat.Session{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Output map[string]any `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return chat.Session{}, fmt.Errorf("decode create_session response: %w", err)
	}

	id, _ := payload.Output["id"].(string)
	if id == "" {
		return chat.Session{}, errors.New("create_session response carries no session id")
	}
	owner, _ := payload.Output["user_id"].(string)
	if owner == "" {
		owner = userID
	}

	c.logger.Debug().Str("session_id", id).Str("user_id", owner).Msg("agent engine session created")
	return chat.Session{
		ID:        id,
		UserID:    owner,
		CreatedAt: time.Now().UTC(),
		Metadata:  payload.Output,
	}, nil
}

// StreamQuery sends message within sessionID and streams the reply events.
func (c *Client) StreamQuery(ctx context.Context, userID, sessionID, message string) (*schema.StreamReader[chat.Event], error) {
	resp, err := c.post(ctx, ":streamQuery", queryRequest{
		ClassMethod: "stream_query",
		Input: streamQueryInput{
			UserID:    userID,
			SessionID: sessionID,
			Message:   message,
		},
	})
	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[chat.Event](streamBufferSize)
	go func() {
		defer sw.Close()
		defer resp.Body.Close()
		pumpEvents(bufio.NewReader(resp.Body), sw)
	}()
	return sr, nil
}

func pumpEvents(reader *bufio.Reader, sw *schema.StreamWriter[chat.Event]) {
	for {
		line, readErr := reader.ReadBytes('\n')
		if ev, ok, err := decodeStreamLine(line); err != nil {
			sw.Send(chat.Event{}, err)
			return
		} else if ok {
			if closed := sw.Send(ev, nil); closed {
				return
			}
		}

		if errors.Is(readErr, io.EOF) {
			return
		}
		if readErr != nil {
			sw.Send(chat.Event{}, fmt.Errorf("read agent stream: %w", readErr))
			return
		}
	}
}

// decodeStreamLine parses one line of the streamQuery body. Blank lines and
// keep-alives report ok=false.
func decodeStreamLine(line []byte) (chat.Event, bool, error) {
	line = bytes.TrimSpace(line)
	line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
	if len(line) == 0 || bytes.Equal(line, []byte("[DONE]")) {
		return chat.Event{}, false, nil
	}

	var failure struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(line, &failure); err == nil && len(failure.Error) > 0 && !bytes.Equal(failure.Error, []byte("null")) {
		return chat.Event{}, false, streamError(failure.Error)
	}

	ev, err := chat.DecodeEvent(line)
	if err != nil {
		return chat.Event{}, false, err
	}
	return ev, true, nil
}

// streamError renders an error value from the stream, which arrives either
// as a {code, message} object or as a bare string.
func streamError(raw json.RawMessage) error {
	var status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &status); err == nil && (status.Code != 0 || status.Message != "") {
		return fmt.Errorf("agent engine error %d: %s", status.Code, status.Message)
	}

	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		return fmt.Errorf("agent engine error: %s", message)
	}
	return fmt.Errorf("agent engine error: %s", raw)
}

func (c *Client) post(ctx context.Context, method string, body queryRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", body.ClassMethod, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", body.ClassMethod, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", body.ClassMethod, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s: agent engine returned %s: %s", body.ClassMethod, resp.Status, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}
