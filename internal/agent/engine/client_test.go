package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-relay/internal/config"
	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

const testResource = "projects/p1/locations/us-central1/reasoningEngines/42"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(context.Background(), config.AgentConfig{
		ResourceID: testResource,
		Endpoint:   srv.URL,
	}, WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client
}

func decodeQuery(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func collect(t *testing.T, sr *schema.StreamReader[chat.Event]) ([]string, error) {
	t.Helper()
	defer sr.Close()

	var fragments []string
	for {
		ev, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return fragments, nil
		}
		if err != nil {
			return fragments, err
		}
		fragments = append(fragments, ev.Fragments()...)
	}
}

func TestCreateSession(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/"+testResource+":query", r.URL.Path)

		body := decodeQuery(t, r)
		assert.Equal(t, "create_session", body["class_method"])
		assert.Equal(t, map[string]any{"user_id": "u1"}, body["input"])

		_, _ = io.WriteString(w, `{"output":{"id":"s1","user_id":"u1","app_name":"adk_short_bot","state":{},"events":[]}}`)
	})

	session, err := client.CreateSession(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, "adk_short_bot", session.Metadata["app_name"])
	assert.False(t, session.CreatedAt.IsZero())
}

func TestCreateSessionWithoutID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"output":{"user_id":"u1"}}`)
	})

	_, err := client.CreateSession(context.Background(), "u1")
	require.Error(t, err)
}

func TestCreateSessionHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"permission denied"}}`, http.StatusForbidden)
	})

	_, err := client.CreateSession(context.Background(), "u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "permission denied")
}

func TestStreamQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/"+testResource+":streamQuery", r.URL.Path)

		body := decodeQuery(t, r)
		assert.Equal(t, "stream_query", body["class_method"])
		assert.Equal(t, map[string]any{"user_id": "u1", "session_id": "s1", "message": "Hello"}, body["input"])

		_, _ = io.WriteString(w, `{"content":{"parts":[{"text":"Hi"}],"role":"model"},"author":"adk_short_bot"}`+"\n")
		_, _ = io.WriteString(w, "\n")
		_, _ = io.WriteString(w, `{"actions":{"state_delta":{}}}`+"\n")
		_, _ = io.WriteString(w, `data: {"content":{"parts":[{"text":" there"}]}}`)
	})

	sr, err := client.StreamQuery(context.Background(), "u1", "s1", "Hello")
	require.NoError(t, err)

	fragments, err := collect(t, sr)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", " there"}, fragments)
}

func TestStreamQueryErrorLine(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"content":{"parts":[{"text":"partial"}]}}`+"\n")
		_, _ = io.WriteString(w, `{"error":{"code":500,"message":"model overloaded"}}`+"\n")
	})

	sr, err := client.StreamQuery(context.Background(), "u1", "s1", "Hello")
	require.NoError(t, err)

	fragments, err := collect(t, sr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, []string{"partial"}, fragments)
}

func TestStreamQueryMalformedLine(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{not json}\n")
	})

	sr, err := client.StreamQuery(context.Background(), "u1", "s1", "Hello")
	require.NoError(t, err)

	_, err = collect(t, sr)
	require.Error(t, err)
}

func TestStreamQueryHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not found", http.StatusNotFound)
	})

	_, err := client.StreamQuery(context.Background(), "u1", "missing", "Hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNewRequiresResource(t *testing.T) {
	_, err := New(context.Background(), config.AgentConfig{}, WithHTTPClient(http.DefaultClient))
	require.Error(t, err)
}

func TestDecodeStreamLineSkipsKeepAlive(t *testing.T) {
	for _, line := range []string{"", "   \n", "data:", "data: [DONE]"} {
		_, ok, err := decodeStreamLine([]byte(line))
		require.NoError(t, err)
		assert.False(t, ok, "line %q", line)
	}
}

func TestStreamQuerySkipsNonObjectLines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `"ping"`+"\n")
		_, _ = io.WriteString(w, `{"content":{"parts":[{"text":"Hi"}]}}`+"\n")
		_, _ = io.WriteString(w, "123\n")
		_, _ = io.WriteString(w, `["x"]`+"\n")
		_, _ = io.WriteString(w, `{"content":{"parts":[{"text":"!"}]}}`+"\n")
	})

	sr, err := client.StreamQuery(context.Background(), "u1", "s1", "Hello")
	require.NoError(t, err)

	fragments, err := collect(t, sr)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hi", "!"}, fragments)
}

func TestDecodeStreamLineErrorShapes(t *testing.T) {
	cases := map[string]string{
		"status object": `{"error":{"code":429,"message":"quota exceeded"}}`,
		"bare string":   `{"error":"quota exceeded"}`,
		"data prefix":   `data: {"error":"quota exceeded"}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok, err := decodeStreamLine([]byte(line))
			require.Error(t, err)
			assert.False(t, ok)
			assert.Contains(t, err.Error(), "quota exceeded")
		})
	}

	_, ok, err := decodeStreamLine([]byte(`{"error":null,"content":{"parts":[{"text":"fine"}]}}`))
	require.NoError(t, err)
	assert.True(t, ok)
}
