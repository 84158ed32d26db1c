// Package conversation persists per-conversation message history and the
// active agent. Transfers are permanent: once the active agent is updated the
// next submission in the conversation starts there, not at the entry agent.
package conversation

import (
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/core"
)

// Conversation is the durable cross-task context of one dialogue.
type Conversation struct {
	mu sync.RWMutex

	id            string
	activeAgentID string
	messages      []core.Message
	createdAt     time.Time
	updatedAt     time.Time
}

// New creates an empty conversation with the given active agent.
func New(id, activeAgentID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		id:            id,
		activeAgentID: activeAgentID,
		createdAt:     now,
		updatedAt:     now,
	}
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string { return c.id }

// ActiveAgentID returns the agent that currently owns the conversation.
func (c *Conversation) ActiveAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeAgentID
}

// SetActiveAgent records a permanent handoff.
func (c *Conversation) SetActiveAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeAgentID = agentID
	c.updatedAt = time.Now().UTC()
}

// Append adds messages to the history in order.
func (c *Conversation) Append(msgs ...core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
	c.updatedAt = time.Now().UTC()
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []core.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Message(nil), c.messages...)
}

// UpdatedAt returns the last mutation time.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updatedAt
}

// Store abstracts conversation persistence.
type Store interface {
	// GetOrCreate returns the conversation with id, creating it with
	// entryAgentID as the active agent when absent.
	GetOrCreate(id, entryAgentID string) *Conversation
	// Get returns the conversation if it exists.
	Get(id string) (*Conversation, bool)
	// Delete removes a conversation.
	Delete(id string)
}

// InMemoryStore keeps conversations in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: map[string]*Conversation{}}
}

// GetOrCreate implements Store.
func (s *InMemoryStore) GetOrCreate(id, entryAgentID string) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return c
	}
	c := New(id, entryAgentID)
	s.conversations[id] = c
	return c
}

// Get implements Store.
func (s *InMemoryStore) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Delete implements Store.
func (s *InMemoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
}
