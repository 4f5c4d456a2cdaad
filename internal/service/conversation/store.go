// Package conversation owns the client-side conversation list and drives
// streamed replies into it.
package conversation

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/studydesk/internal/config"
	"github.com/zhouzirui/studydesk/internal/model/chat"
	"github.com/zhouzirui/studydesk/pkg/idgen"
)

// DefaultTitle is used when a conversation is created or renamed without a title.
const DefaultTitle = "新会话"

// Store holds every known conversation. All mutations go through its
// methods and happen under one mutex; readers receive deep copies.
type Store struct {
	mu            sync.Mutex
	backend       Backend
	ids           idgen.Generator
	now           func() time.Time
	logger        *log.Logger
	defaultTitle  string
	defaultModel  string
	conversations []*chat.Conversation
	current       string
	active        map[string]*Exchange // keyed by assistant message id
}

// Option customises a Store.
type Option func(*Store)

// WithIDGenerator sets the generator for local message ids.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger; the default discards output.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithDefaultTitle overrides DefaultTitle.
func WithDefaultTitle(title string) Option {
	return func(s *Store) { s.defaultTitle = title }
}

// WithDefaultModel sets the model recorded on new conversations.
func WithDefaultModel(model string) Option {
	return func(s *Store) { s.defaultModel = model }
}

// ConfigOptions maps the title and model defaults of a client config to
// store options. Empty values keep the store defaults.
func ConfigOptions(cfg config.ClientConfig) []Option {
	var opts []Option
	if title := strings.TrimSpace(cfg.DefaultTitle); title != "" {
		opts = append(opts, WithDefaultTitle(title))
	}
	if model := strings.TrimSpace(cfg.Model); model != "" {
		opts = append(opts, WithDefaultModel(model))
	}
	return opts
}

// NewStore creates an empty store talking to backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:      backend,
		ids:          idgen.UUID{},
		now:          time.Now,
		logger:       log.New(io.Discard, "", 0),
		defaultTitle: DefaultTitle,
		active:       make(map[string]*Exchange),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateConversation registers a conversation remotely and then puts it at
// the front of the local list and selects it. Nothing is added locally when
// the remote call fails.
func (s *Store) CreateConversation(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = s.defaultTitle
	}

	resp, err := s.backend.CreateConversation(ctx, chat.CreateConversationRequest{Name: title, Model: s.defaultModel})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateConversation, err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("%w: server returned empty session id", ErrCreateConversation)
	}

	conv := &chat.Conversation{
		ID:       resp.SessionID,
		Title:    title,
		Messages: []chat.Message{},
		LastTime: s.now(),
		Model:    s.defaultModel,
	}
	if resp.Name != "" {
		conv.Title = resp.Name
	}
	if resp.Model != "" {
		conv.Model = resp.Model
	}

	s.mu.Lock()
	s.conversations = append([]*chat.Conversation{conv}, s.conversations...)
	s.current = conv.ID
	s.mu.Unlock()

	s.logger.Printf("[chat] created conversation %s", conv.ID)
	return conv.ID, nil
}

// LoadConversations replaces the local list with the server's. Conversations
// with a reply still streaming keep their local state.
func (s *Store) LoadConversations(ctx context.Context) error {
	remote, err := s.backend.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadConversations, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	busy := make(map[string]*chat.Conversation)
	for _, ex := range s.active {
		if conv := s.findLocked(ex.ConversationID); conv != nil {
			busy[conv.ID] = conv
		}
	}

	loaded := make([]*chat.Conversation, 0, len(remote))
	seen := make(map[string]bool, len(remote))
	for _, item := range remote {
		if item.SessionID == "" || seen[item.SessionID] {
			continue
		}
		seen[item.SessionID] = true
		if conv, ok := busy[item.SessionID]; ok {
			loaded = append(loaded, conv)
			continue
		}
		loaded = append(loaded, fromResponse(item, s.defaultTitle))
	}
	for id, conv := range busy {
		if !seen[id] {
			loaded = append([]*chat.Conversation{conv}, loaded...)
		}
	}

	s.conversations = loaded
	if s.findLocked(s.current) == nil {
		s.current = ""
		if len(loaded) > 0 {
			s.current = loaded[0].ID
		}
	}
	return nil
}

func fromResponse(item chat.ConversationResponse, defaultTitle string) *chat.Conversation {
	conv := &chat.Conversation{
		ID:       item.SessionID,
		Title:    item.Name,
		Messages: make([]chat.Message, 0, len(item.Messages)),
		LastTime: item.UpdatedAt,
		Model:    item.Model,
	}
	if conv.Title == "" {
		conv.Title = defaultTitle
	}
	for _, msg := range item.Messages {
		conv.Messages = append(conv.Messages, chat.Message{
			ID:              msg.ID,
			Role:            msg.Role,
			ParentMessageID: msg.ParentMessageID,
			Content:         msg.Content,
			Timestamp:       msg.CreatedAt,
			Status:          chat.StatusSuccess,
		})
	}
	return conv
}

// DeleteConversation removes the conversation locally, then remotely. A
// failed remote call is reported but the conversation is not restored.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	for i, conv := range s.conversations {
		if conv.ID == id {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	s.abortConversationLocked(id)
	if s.current == id {
		s.current = ""
		if len(s.conversations) > 0 {
			s.current = s.conversations[0].ID
		}
	}
	s.mu.Unlock()

	if err := s.backend.DeleteConversation(ctx, id); err != nil {
		s.logger.Printf("[chat] remote delete of %s failed: %v", id, err)
		return fmt.Errorf("%w: %w", ErrDeleteConversation, err)
	}
	return nil
}

// ClearConversation empties the local message list, then clears the remote
// context. A failed remote call is reported but messages are not restored.
func (s *Store) ClearConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	if conv := s.findLocked(id); conv != nil {
		conv.Messages = []chat.Message{}
	}
	s.abortConversationLocked(id)
	s.mu.Unlock()

	if err := s.backend.ClearContext(ctx, id); err != nil {
		s.logger.Printf("[chat] remote clear of %s failed: %v", id, err)
		return fmt.Errorf("%w: %w", ErrClearConversation, err)
	}
	return nil
}

// RenameConversation updates the title optimistically and restores the
// previous title if the remote call fails.
func (s *Store) RenameConversation(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = s.defaultTitle
	}

	s.mu.Lock()
	conv := s.findLocked(id)
	if conv == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	previous := conv.Title
	conv.Title = title
	s.mu.Unlock()

	if _, err := s.backend.RenameConversation(ctx, id, title); err != nil {
		s.mu.Lock()
		// 仅当标题仍是本次写入的值时回滚，避免覆盖之后的修改
		if conv := s.findLocked(id); conv != nil && conv.Title == title {
			conv.Title = previous
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrRenameConversation, err)
	}
	return nil
}

// Conversations returns a snapshot of every conversation in display order.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.Clone())
	}
	return out
}

// Conversation returns a snapshot of one conversation.
func (s *Store) Conversation(id string) (chat.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return chat.Conversation{}, false
	}
	return conv.Clone(), true
}

// Select makes id the current conversation.
func (s *Store) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(id) == nil {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	s.current = id
	return nil
}

// CurrentID returns the selected conversation id, or "" when none is selected.
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Store) findLocked(id string) *chat.Conversation {
	if id == "" {
		return nil
	}
	for _, conv := range s.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// messageLocked returns a pointer into the conversation's message slice. The
// pointer is only valid while the lock is held.
func (s *Store) messageLocked(conversationID, messageID string) *chat.Message {
	conv := s.findLocked(conversationID)
	if conv == nil {
		return nil
	}
	if idx := conv.IndexOf(messageID); idx >= 0 {
		return &conv.Messages[idx]
	}
	return nil
}

// truncateLocked drops messages from idx onward and aborts replies that
// were streaming into them.
func (s *Store) truncateLocked(conv *chat.Conversation, idx int) {
	for _, msg := range conv.Messages[idx:] {
		if ex, ok := s.active[msg.ID]; ok {
			ex.Abort()
		}
	}
	conv.Messages = conv.Messages[:idx:idx]
}

func (s *Store) abortConversationLocked(id string) {
	for _, ex := range s.active {
		if ex.ConversationID == id {
			ex.Abort()
		}
	}
}
