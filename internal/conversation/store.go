package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation is the history of one chat thread of a user.
type Conversation struct {
	ID        string
	UserID    int64
	Messages  []Message
	UI        []UIEvent
	UpdatedAt time.Time
}

// New starts an empty conversation for the user.
func New(userID int64) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		UpdatedAt: time.Now().UTC(),
	}
}

// Append adds messages to the history.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
}

// ApplyUI merges events into the conversation UI state.
func (c *Conversation) ApplyUI(events ...UIEvent) {
	c.UI = MergeUI(c.UI, events...)
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.clone()
	}
	out.UI = MergeUI(nil, c.UI...)
	return &out
}

// Store persists conversations.
type Store interface {
	Load(ctx context.Context, id string) (*Conversation, error)
	Save(ctx context.Context, c *Conversation) error
}

// MemoryStore keeps conversations in process memory. Conversations are
// copied on the way in and out so callers never share state.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Conversation
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Conversation)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, c *Conversation) error {
	stored := c.Clone()
	stored.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[c.ID] = stored
	return nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
