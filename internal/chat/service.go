// Package chat manages conversations and runs assistant turns on them.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-assistant/internal/agent"
	"github.com/xenking/kart-assistant/internal/conversation"
)

var (
	ErrEmptyMessage = errors.New("message must not be empty")
	ErrInvalidUser  = errors.New("user id must be positive")
)

// TurnError is returned by Send when the turn itself failed, as opposed to
// loading or saving the conversation.
type TurnError struct {
	Err error
}

func (e *TurnError) Error() string {
	return "run turn: " + e.Err.Error()
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// Runner runs one turn on a conversation.
type Runner interface {
	Run(ctx context.Context, conv *conversation.Conversation, text string) (*agent.Turn, error)
}

var _ Runner = (*agent.Agent)(nil)

// SendRequest is a user message. An empty ConversationID starts a new
// conversation.
type SendRequest struct {
	ConversationID string
	UserID         int64
	Text           string
}

// Reply is the assistant answer to a SendRequest.
type Reply struct {
	ConversationID string
	Text           string
	UI             []conversation.UIEvent
	Executed       int
}

// Service runs turns. Turns of one conversation never overlap.
type Service struct {
	runner Runner
	store  conversation.Store
	locks  keyedMutex
}

// NewService creates a chat Service.
func NewService(runner Runner, store conversation.Store) *Service {
	return &Service{
		runner: runner,
		store:  store,
		locks:  keyedMutex{locks: make(map[string]*refLock)},
	}
}

// Send runs a turn for req. The history is saved whatever the outcome, so
// operations executed before a failure remain visible in later turns.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if req.UserID <= 0 {
		return nil, ErrInvalidUser
	}

	var conv *conversation.Conversation
	if req.ConversationID == "" {
		conv = conversation.New(req.UserID)
	} else {
		unlock := s.locks.Lock(req.ConversationID)
		defer unlock()

		loaded, err := s.load(ctx, req.ConversationID, req.UserID)
		if err != nil {
			return nil, err
		}
		conv = loaded
	}

	ctx = zctx.With(ctx,
		zap.String("conversation_id", conv.ID),
		zap.Int64("user_id", conv.UserID),
	)
	lg := zctx.From(ctx)

	turn, runErr := s.runner.Run(ctx, conv, text)
	if err := s.store.Save(ctx, conv); err != nil {
		return nil, errors.Wrap(err, "save conversation")
	}
	if runErr != nil {
		lg.Warn("Turn failed", zap.Error(runErr))
		return nil, &TurnError{Err: runErr}
	}

	lg.Info("Turn completed",
		zap.Int("executed", turn.Executed),
		zap.Int("ui_events", len(turn.UI)),
	)
	return &Reply{
		ConversationID: conv.ID,
		Text:           turn.Reply,
		UI:             turn.UI,
		Executed:       turn.Executed,
	}, nil
}

// History returns the conversation if it belongs to userID.
func (s *Service) History(ctx context.Context, id string, userID int64) (*conversation.Conversation, error) {
	return s.load(ctx, id, userID)
}

func (s *Service) load(ctx context.Context, id string, userID int64) (*conversation.Conversation, error) {
	conv, err := s.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return nil, conversation.ErrNotFound
		}
		return nil, errors.Wrap(err, "load conversation")
	}
	// Conversations of other users are indistinguishable from missing ones.
	if conv.UserID != userID {
		return nil, conversation.ErrNotFound
	}
	return conv, nil
}

type refLock struct {
	sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		k.mu.Lock()
		defer k.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
