package appdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"regulatory-rag-core/internal/domain"
)

// Interface is the subset of DB used by retrieval, extracted so its
// pipeline can be tested against an in-memory fake instead of a live
// Postgres instance.
type Interface interface {
	CreateConversation(ctx context.Context, userID string) (string, error)
	AppendMessage(ctx context.Context, conversationID string, msg domain.Message) (string, error)
	PersistTurn(ctx context.Context, conversationID, userID string, userMsg, assistantMsg domain.Message) (string, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error)
}

var _ Interface = (*DB)(nil)
var _ Interface = (*Fake)(nil)

// Fake is an in-memory Interface implementation for unit tests.
type Fake struct {
	mu            sync.Mutex
	conversations map[string]*domain.Conversation
}

func NewFake() *Fake {
	return &Fake{conversations: make(map[string]*domain.Conversation)}
}

func (f *Fake) CreateConversation(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.conversations[id] = &domain.Conversation{ID: id, UserID: userID, CreatedAt: time.Now().UTC()}
	return id, nil
}

func (f *Fake) AppendMessage(_ context.Context, conversationID string, msg domain.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok {
		conv = &domain.Conversation{ID: conversationID, CreatedAt: time.Now().UTC()}
		f.conversations[conversationID] = conv
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	conv.Messages = append(conv.Messages, msg)
	return msg.ID, nil
}

// PersistTurn mirrors DB.PersistTurn's atomicity contract: both messages are
// appended under lock in one call, so a concurrent reader never observes the
// user message without its assistant reply.
func (f *Fake) PersistTurn(_ context.Context, conversationID, userID string, userMsg, assistantMsg domain.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.conversations[conversationID]
	if !ok {
		id := conversationID
		if id == "" {
			id = uuid.NewString()
		}
		conv = &domain.Conversation{ID: id, UserID: userID, CreatedAt: time.Now().UTC()}
		f.conversations[id] = conv
	}

	for _, msg := range []domain.Message{userMsg, assistantMsg} {
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv.ID, nil
}

func (f *Fake) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[id]
	if !ok {
		return nil, nil
	}
	cp := *conv
	cp.Messages = append([]domain.Message(nil), conv.Messages...)
	return &cp, nil
}

// ListConversations returns conversations for userID (all conversations if
// userID is empty), most recently created first, capped at limit.
func (f *Fake) ListConversations(_ context.Context, userID string, limit int) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var convs []domain.Conversation
	for _, c := range f.conversations {
		if userID != "" && c.UserID != userID {
			continue
		}
		convs = append(convs, *c)
	}
	sort.Slice(convs, func(i, j int) bool { return convs[i].CreatedAt.After(convs[j].CreatedAt) })
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}
