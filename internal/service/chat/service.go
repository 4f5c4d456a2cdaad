package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/studydesk/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrMessageRequired = errors.New("message is required")
	ErrNoPendingTurn   = errors.New("no pending message for session")
)

// DefaultName 未指定名称时的会话名。
const DefaultName = "新会话"

// PendingTurn is a user message registered by the stream init call and
// waiting for its push channel to be opened.
type PendingTurn struct {
	SessionID string
	User      chat.StoredMessage
	Quote     string
	History   []chat.StoredMessage
}

// Service encapsulates conversation state management.
type Service struct {
	store Store
	now   func() time.Time

	mu sync.Mutex
	// pending 按会话保存尚未打开推送通道的轮次，按提交顺序排列
	pending map[string][]PendingTurn
}

// NewService wraps store with pending-turn bookkeeping.
func NewService(store Store) *Service {
	return &Service{
		store:   store,
		now:     func() time.Time { return time.Now().UTC() },
		pending: make(map[string][]PendingTurn),
	}
}

// CreateConversation provisions a session. The id is generated when the
// request does not carry one.
func (s *Service) CreateConversation(ctx context.Context, req chat.CreateConversationRequest) (chat.ConversationResponse, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultName
	}

	now := s.now()
	session := chat.Session{
		ID:        id,
		Name:      name,
		Model:     req.Model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return chat.ConversationResponse{}, err
	}
	return chat.ToResponse(session, nil), nil
}

// ListConversations returns every session with its transcript.
func (s *Service) ListConversations(ctx context.Context) ([]chat.ConversationResponse, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]chat.ConversationResponse, 0, len(sessions))
	for _, session := range sessions {
		messages, err := s.store.LoadTranscript(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("load transcript %s: %w", session.ID, err)
		}
		out = append(out, chat.ToResponse(session, messages))
	}
	return out, nil
}

// GetConversation retrieves one session with its transcript.
func (s *Service) GetConversation(ctx context.Context, sessionID string) (chat.ConversationResponse, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.ConversationResponse{}, err
	}
	messages, err := s.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return chat.ConversationResponse{}, err
	}
	return chat.ToResponse(session, messages), nil
}

// RenameConversation changes the session name.
func (s *Service) RenameConversation(ctx context.Context, sessionID, name string) (chat.ConversationResponse, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.ConversationResponse{}, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	session.Name = name
	session.UpdatedAt = s.now()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return chat.ConversationResponse{}, err
	}
	return s.GetConversation(ctx, sessionID)
}

// DeleteConversation removes a session, its transcript and any pending turn.
func (s *Service) DeleteConversation(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.dropPending(sessionID)
	return nil
}

// ClearContext drops the transcript but keeps the session.
func (s *Service) ClearContext(ctx context.Context, sessionID string) error {
	if err := s.store.TruncateTranscript(ctx, sessionID, 0); err != nil {
		return err
	}
	s.dropPending(sessionID)
	return nil
}

// SubmitTurn stores the user message and queues it as a pending turn of the
// session. Several turns of one session may be pending at once; a turn with
// the same message id as a queued one replaces it. A message
// id already in the transcript is a retry: the transcript is cut back to just
// before it. The returned turn carries the transcript that preceded the message.
func (s *Service) SubmitTurn(ctx context.Context, sessionID string, req chat.StreamRequest) (PendingTurn, error) {
	if strings.TrimSpace(req.Message) == "" {
		return PendingTurn{}, ErrMessageRequired
	}

	history, err := s.store.LoadTranscript(ctx, sessionID)
	if err != nil {
		return PendingTurn{}, err
	}

	id := req.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	for i, msg := range history {
		if msg.ID == id {
			if err := s.store.TruncateTranscript(ctx, sessionID, i); err != nil {
				return PendingTurn{}, err
			}
			history = history[:i]
			break
		}
	}
	user := chat.StoredMessage{
		ID:              id,
		SessionID:       sessionID,
		Role:            chat.RoleUser,
		Content:         req.Message,
		ParentMessageID: req.ParentMessageID,
		CreatedAt:       s.now(),
	}
	if err := s.store.AppendMessage(ctx, user); err != nil {
		return PendingTurn{}, err
	}
	s.touch(ctx, sessionID)

	turn := PendingTurn{SessionID: sessionID, User: user, Quote: req.Quote, History: history}
	s.mu.Lock()
	queue := s.pending[sessionID]
	if idx := pendingIndex(queue, id); idx >= 0 {
		queue = append(queue[:idx], queue[idx+1:]...)
	}
	s.pending[sessionID] = append(queue, turn)
	s.mu.Unlock()
	return turn, nil
}

// TakeTurn removes and returns the pending turn of the user message
// messageID. An empty messageID takes the oldest pending turn of the session.
func (s *Service) TakeTurn(sessionID, messageID string) (PendingTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[sessionID]
	idx := 0
	if messageID != "" {
		idx = pendingIndex(queue, messageID)
	}
	if idx < 0 || idx >= len(queue) {
		if messageID != "" {
			return PendingTurn{}, fmt.Errorf("%w: message %s", ErrNoPendingTurn, messageID)
		}
		return PendingTurn{}, ErrNoPendingTurn
	}

	turn := queue[idx]
	queue = append(queue[:idx:idx], queue[idx+1:]...)
	if len(queue) == 0 {
		delete(s.pending, sessionID)
	} else {
		s.pending[sessionID] = queue
	}
	return turn, nil
}

func pendingIndex(queue []PendingTurn, messageID string) int {
	for i, turn := range queue {
		if turn.User.ID == messageID {
			return i
		}
	}
	return -1
}

// SaveReply persists the assistant reply to a turn.
func (s *Service) SaveReply(ctx context.Context, turn PendingTurn, content string) (chat.StoredMessage, error) {
	reply := chat.StoredMessage{
		ID:              uuid.NewString(),
		SessionID:       turn.SessionID,
		Role:            chat.RoleAssistant,
		Content:         content,
		ParentMessageID: turn.User.ID,
		CreatedAt:       s.now(),
	}
	if err := s.store.AppendMessage(ctx, reply); err != nil {
		return chat.StoredMessage{}, err
	}
	s.touch(ctx, turn.SessionID)
	return reply, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.StoredMessage, error) {
	return s.store.LoadTranscript(ctx, sessionID)
}

func (s *Service) touch(ctx context.Context, sessionID string) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return
	}
	session.UpdatedAt = s.now()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		log.Printf("[chat] touch session=%s failed: %v", sessionID, err)
	}
}

func (s *Service) dropPending(sessionID string) {
	s.mu.Lock()
	delete(s.pending, sessionID)
	s.mu.Unlock()
}
