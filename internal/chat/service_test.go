package chat

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-assistant/internal/agent"
	"github.com/xenking/kart-assistant/internal/conversation"
)

// --- Mock implementations ---

// echoRunner answers with the user text and detects overlapping turns.
type echoRunner struct {
	running  atomic.Int32
	overlaps atomic.Int32
	err      error
}

func (r *echoRunner) Run(_ context.Context, conv *conversation.Conversation, text string) (*agent.Turn, error) {
	if r.running.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	defer r.running.Add(-1)
	time.Sleep(time.Millisecond)

	conv.Append(conversation.UserMessage(text))
	if r.err != nil {
		conv.Append(conversation.AssistantMessage("", conversation.ToolCall{ID: "c", Name: "checkout"}))
		return nil, r.err
	}
	conv.Append(conversation.AssistantMessage("echo: " + text))
	return &agent.Turn{Reply: "echo: " + text, Executed: 1}, nil
}

type failingStore struct {
	conversation.Store
}

func (failingStore) Save(context.Context, *conversation.Conversation) error {
	return errors.New("store down")
}

// --- Tests ---

func TestSend_Validation(t *testing.T) {
	s := NewService(&echoRunner{}, conversation.NewMemoryStore())
	ctx := context.Background()

	_, err := s.Send(ctx, SendRequest{UserID: 1, Text: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = s.Send(ctx, SendRequest{UserID: 0, Text: "hi"})
	require.ErrorIs(t, err, ErrInvalidUser)

	_, err = s.Send(ctx, SendRequest{ConversationID: "missing", UserID: 1, Text: "hi"})
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestSend_ContinuesConversation(t *testing.T) {
	store := conversation.NewMemoryStore()
	s := NewService(&echoRunner{}, store)
	ctx := context.Background()

	first, err := s.Send(ctx, SendRequest{UserID: 5, Text: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ConversationID)
	assert.Equal(t, "echo: hello", first.Text)
	assert.Equal(t, 1, first.Executed)

	second, err := s.Send(ctx, SendRequest{ConversationID: first.ConversationID, UserID: 5, Text: "again"})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	conv, err := s.History(ctx, first.ConversationID, 5)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
	assert.Equal(t, 1, store.Len())
}

func TestSend_OtherUserCannotUseConversation(t *testing.T) {
	s := NewService(&echoRunner{}, conversation.NewMemoryStore())
	ctx := context.Background()

	reply, err := s.Send(ctx, SendRequest{UserID: 1, Text: "my cart"})
	require.NoError(t, err)

	_, err = s.Send(ctx, SendRequest{ConversationID: reply.ConversationID, UserID: 2, Text: "checkout"})
	require.ErrorIs(t, err, conversation.ErrNotFound)

	_, err = s.History(ctx, reply.ConversationID, 2)
	require.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestSend_SavesFailedTurn(t *testing.T) {
	store := conversation.NewMemoryStore()
	runner := &echoRunner{}
	s := NewService(runner, store)
	ctx := context.Background()

	reply, err := s.Send(ctx, SendRequest{UserID: 1, Text: "start"})
	require.NoError(t, err)

	runner.err = agent.ErrOrchestrationExhausted
	_, err = s.Send(ctx, SendRequest{ConversationID: reply.ConversationID, UserID: 1, Text: "loop"})
	require.ErrorIs(t, err, agent.ErrOrchestrationExhausted)
	var turnErr *TurnError
	require.ErrorAs(t, err, &turnErr)

	conv, err := s.History(ctx, reply.ConversationID, 1)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 4)
	assert.True(t, conv.Messages[3].RequestsTools())
}

func TestSend_SaveFailure(t *testing.T) {
	s := NewService(&echoRunner{}, failingStore{conversation.NewMemoryStore()})

	_, err := s.Send(context.Background(), SendRequest{UserID: 1, Text: "hi"})
	require.ErrorContains(t, err, "store down")
	var turnErr *TurnError
	assert.False(t, errors.As(err, &turnErr))
}

func TestSend_SerializesTurnsPerConversation(t *testing.T) {
	runner := &echoRunner{}
	s := NewService(runner, conversation.NewMemoryStore())
	ctx := context.Background()

	reply, err := s.Send(ctx, SendRequest{UserID: 1, Text: "start"})
	require.NoError(t, err)

	const turns = 16
	var g errgroup.Group
	for i := 0; i < turns; i++ {
		g.Go(func() error {
			_, err := s.Send(ctx, SendRequest{ConversationID: reply.ConversationID, UserID: 1, Text: "ping"})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Zero(t, runner.overlaps.Load())
	conv, err := s.History(ctx, reply.ConversationID, 1)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2*(turns+1), "no turn is lost")
	assert.Zero(t, s.locks.size())
}

func TestKeyedMutex_IndependentKeys(t *testing.T) {
	k := keyedMutex{locks: make(map[string]*refLock)}

	unlockA := k.Lock("a")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		unlock := k.Lock("b")
		unlock()
	}()
	wg.Wait()

	assert.Equal(t, 1, k.size())
	unlockA()
	assert.Zero(t, k.size())
}
