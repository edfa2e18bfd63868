package ark

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/agent-relay/internal/model/chat"
)

type fakeChatModel struct {
	mu     sync.Mutex
	chunks []string
	fail   error
	inputs [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChatModel) Stream(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](len(f.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range f.chunks {
			sw.Send(schema.AssistantMessage(c, nil), nil)
		}
		if f.fail != nil {
			sw.Send(nil, f.fail)
		}
	}()
	return sr, nil
}

func drain(t *testing.T, sr *schema.StreamReader[chat.Event]) (string, error) {
	t.Helper()
	defer sr.Close()

	var out string
	for {
		ev, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		for _, f := range ev.Fragments() {
			out += f
		}
	}
}

func newTestAgent(t *testing.T, fake *fakeChatModel, cfg Config) *Agent {
	t.Helper()
	agent, err := New(context.Background(), fake, cfg, zerolog.Nop())
	require.NoError(t, err)
	return agent
}

func TestStreamQueryKeepsHistory(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"Hi", " there"}}
	agent := newTestAgent(t, fake, Config{Instruction: "shorten messages", ModelName: "doubao"})
	ctx := context.Background()

	session, err := agent.CreateSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, "ark", session.Metadata["backend"])

	sr, err := agent.StreamQuery(ctx, "u1", session.ID, "Hello")
	require.NoError(t, err)
	reply, err := drain(t, sr)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	sr, err = agent.StreamQuery(ctx, "u1", session.ID, "Again")
	require.NoError(t, err)
	_, err = drain(t, sr)
	require.NoError(t, err)

	require.Len(t, fake.inputs, 2)
	second := fake.inputs[1]
	require.Len(t, second, 4)
	assert.Equal(t, schema.System, second[0].Role)
	assert.Equal(t, "shorten messages", second[0].Content)
	assert.Equal(t, "Hello", second[1].Content)
	assert.Equal(t, "Hi there", second[2].Content)
	assert.Equal(t, "Again", second[3].Content)
}

func TestStreamQueryUnknownSession(t *testing.T) {
	agent := newTestAgent(t, &fakeChatModel{}, Config{})

	_, err := agent.StreamQuery(context.Background(), "u1", "missing", "Hello")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestStreamQueryFailureSkipsHistory(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"partial"}, fail: errors.New("model reset")}
	agent := newTestAgent(t, fake, Config{})
	ctx := context.Background()

	session, err := agent.CreateSession(ctx, "u1")
	require.NoError(t, err)

	sr, err := agent.StreamQuery(ctx, "u1", session.ID, "Hello")
	require.NoError(t, err)
	_, err = drain(t, sr)
	require.ErrorContains(t, err, "model reset")

	history, err := agent.history(session.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHistoryIsBounded(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"ok"}}
	agent := newTestAgent(t, fake, Config{HistoryLimit: 4})
	ctx := context.Background()

	session, err := agent.CreateSession(ctx, "u1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		sr, err := agent.StreamQuery(ctx, "u1", session.ID, "msg")
		require.NoError(t, err)
		_, err = drain(t, sr)
		require.NoError(t, err)
	}

	history, err := agent.history(session.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestHistoryOddLimitKeepsWholeTurns(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"ok"}}
	agent := newTestAgent(t, fake, Config{HistoryLimit: 3})
	ctx := context.Background()

	session, err := agent.CreateSession(ctx, "u1")
	require.NoError(t, err)

	for _, msg := range []string{"first", "second", "third"} {
		sr, err := agent.StreamQuery(ctx, "u1", session.ID, msg)
		require.NoError(t, err)
		_, err = drain(t, sr)
		require.NoError(t, err)
	}

	history, err := agent.history(session.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, schema.User, history[0].Role)
	assert.Equal(t, "third", history[0].Content)
	assert.Equal(t, schema.Assistant, history[1].Role)
}

func TestStreamQueryWithoutInstruction(t *testing.T) {
	fake := &fakeChatModel{chunks: []string{"ok"}}
	agent := newTestAgent(t, fake, Config{})
	ctx := context.Background()

	session, err := agent.CreateSession(ctx, "u1")
	require.NoError(t, err)
	sr, err := agent.StreamQuery(ctx, "u1", session.ID, "{not a placeholder}")
	require.NoError(t, err)
	_, err = drain(t, sr)
	require.NoError(t, err)

	require.Len(t, fake.inputs, 1)
	require.Len(t, fake.inputs[0], 1)
	assert.Equal(t, schema.User, fake.inputs[0][0].Role)
	assert.Equal(t, "{not a placeholder}", fake.inputs[0][0].Content)
}
