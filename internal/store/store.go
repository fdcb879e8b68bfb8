// Package store provides storage backends for conversation state and
// contact flags.
//
// Three implementations share the Store interface: an in-memory store
// for tests and ephemeral runs, an SQLite store for single-node
// deployments, and a Postgres store for shared deployments.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cmmodulados/verabot/internal/models"
)

// Store is the persistence boundary of the conversation engine. A
// contact has at most one active conversation at a time; operations that
// need one return models.ErrNoActiveConversation when it is absent.
type Store interface {
	// FindActiveConversation returns the contact's active conversation,
	// or (nil, nil) when there is none.
	FindActiveConversation(contactID int64) (*models.Conversation, error)

	// CreateConversation creates an active conversation for the contact.
	// Returns models.ErrConversationExists if one is already active.
	CreateConversation(conv models.Conversation) (*models.Conversation, error)

	// UpdateConversationStep atomically records a step transition: the
	// new current step, the step-scoped data, and the last inbound
	// message.
	UpdateConversationStep(contactID int64, step models.StepID, data *models.StepData, lastMessage string) error

	// FinalizeConversation deactivates the contact's active conversation
	// and marks it transferred to a human.
	FinalizeConversation(contactID int64) error

	// ListConversations returns all conversations, newest first.
	ListConversations() ([]models.Conversation, error)

	// GetContactFlags returns the contact's service flags, or (nil, nil)
	// when the contact has never been seen.
	GetContactFlags(contactID int64) (*models.ContactFlags, error)

	// SaveContactFlags inserts or updates the contact's service flags.
	SaveContactFlags(flags models.ContactFlags) error

	// Close releases the backend's resources.
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DSNType identifies which backend a connection string selects.
type DSNType string

const (
	DSNTypePostgres DSNType = "postgres"
	DSNTypeSQLite   DSNType = "sqlite"
)

// DetectDSNType infers the backend from the DSN shape: postgres:// URLs
// and key=value connection strings select Postgres, anything else is
// treated as an SQLite file path.
func DetectDSNType(dsn string) DSNType {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// InMemoryStore keeps all state in process memory. Used by tests and as
// the fallback backend when no DSN is configured.
type InMemoryStore struct {
	mu            sync.Mutex
	nextID        int64
	conversations []models.Conversation
	activeByID    map[int64]int // contact id -> index into conversations
	flags         map[int64]models.ContactFlags
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID:     1,
		activeByID: make(map[int64]int),
		flags:      make(map[int64]models.ContactFlags),
	}
}

// FindActiveConversation returns a copy of the contact's active
// conversation, or nil when there is none.
func (s *InMemoryStore) FindActiveConversation(contactID int64) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.activeByID[contactID]
	if !ok {
		return nil, nil
	}
	conv := s.conversations[idx]
	return &conv, nil
}

// CreateConversation registers a new active conversation for the contact.
func (s *InMemoryStore) CreateConversation(conv models.Conversation) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.activeByID[conv.ContactID]; ok {
		return nil, models.ErrConversationExists
	}

	now := time.Now()
	conv.ID = s.nextID
	conv.IsActive = true
	conv.CreatedAt = now
	conv.UpdatedAt = now
	s.nextID++

	s.conversations = append(s.conversations, conv)
	s.activeByID[conv.ContactID] = len(s.conversations) - 1

	out := conv
	return &out, nil
}

// UpdateConversationStep records a step transition on the active
// conversation.
func (s *InMemoryStore) UpdateConversationStep(contactID int64, step models.StepID, data *models.StepData, lastMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.activeByID[contactID]
	if !ok {
		return models.ErrNoActiveConversation
	}
	conv := &s.conversations[idx]
	conv.CurrentStep = step
	if data != nil {
		conv.StepData = *data
	}
	conv.LastMessage = lastMessage
	conv.UpdatedAt = time.Now()
	return nil
}

// FinalizeConversation deactivates the active conversation and marks it
// transferred.
func (s *InMemoryStore) FinalizeConversation(contactID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.activeByID[contactID]
	if !ok {
		return models.ErrNoActiveConversation
	}
	conv := &s.conversations[idx]
	conv.IsActive = false
	conv.TransferredToHuman = true
	conv.UpdatedAt = time.Now()
	delete(s.activeByID, contactID)
	return nil
}

// ListConversations returns all conversations, newest first.
func (s *InMemoryStore) ListConversations() ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Conversation, len(s.conversations))
	copy(out, s.conversations)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// GetContactFlags returns the contact's flags, or nil when unseen.
func (s *InMemoryStore) GetContactFlags(contactID int64) (*models.ContactFlags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, ok := s.flags[contactID]
	if !ok {
		return nil, nil
	}
	return &flags, nil
}

// SaveContactFlags inserts or updates the contact's flags.
func (s *InMemoryStore) SaveContactFlags(flags models.ContactFlags) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags.UpdatedAt = time.Now()
	s.flags[flags.ContactID] = flags
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
