package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/zhouzirui/studydesk/internal/client/stream"
	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// SendOptions tunes a single send.
type SendOptions struct {
	// MessageID fixes the id of the user message instead of generating one.
	MessageID string
	// Retry re-sends the existing user message MessageID in place: no new
	// user message is appended, replies after it are dropped and the content
	// argument is ignored.
	Retry bool
	// Quote is the message being replied to.
	Quote *chat.Message
	// OnEvent is called after each applied transition with a snapshot of the
	// assistant message. It runs on the exchange goroutine.
	OnEvent func(ev stream.Event, assistant chat.Message)
}

// Exchange is one in-flight send. Wait returns nil on success,
// ErrCancelled after Abort, a *StreamError when the reply failed, or the
// transport error when the stream could not be initiated.
type Exchange struct {
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string

	cancel  context.CancelFunc
	aborted atomic.Bool
	done    chan struct{}
	err     error
}

// Abort cancels the push channel. It is safe to call more than once and
// after completion.
func (e *Exchange) Abort() {
	e.aborted.Store(true)
	e.cancel()
}

// Done is closed once the exchange has finished.
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange finishes and returns its result.
func (e *Exchange) Wait() error {
	<-e.done
	return e.err
}

// Err returns the result, or nil while the exchange is still running.
func (e *Exchange) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// SendMessage appends the user message (unless opts.Retry) and an assistant
// placeholder to the conversation, then streams the reply into the
// placeholder on a new goroutine. Both appends happen before SendMessage
// returns, so concurrent sends keep call order. Cancelling ctx aborts the
// exchange.
func (s *Store) SendMessage(ctx context.Context, conversationID, content string, opts SendOptions) (*Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(conversationID)
	if conv == nil {
		return nil, ErrNoConversationSelected
	}
	return s.beginLocked(ctx, conv, content, opts)
}

// RetryMessage drops messageID and everything after it, then sends the
// same content again keeping the original message id and quote. Retrying
// an assistant reply re-sends the user message it answered.
func (s *Store) RetryMessage(ctx context.Context, messageID string, opts SendOptions) (*Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conv *chat.Conversation
	idx := -1
	for _, c := range s.conversations {
		if i := c.IndexOf(messageID); i >= 0 {
			conv, idx = c, i
			break
		}
	}
	if conv == nil {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}

	if conv.Messages[idx].Role == chat.RoleAssistant {
		idx = answeredIndex(conv, idx)
		if idx < 0 {
			return nil, fmt.Errorf("%w: no user message answered by %s", ErrMessageNotFound, messageID)
		}
	}

	original := conv.Messages[idx].Clone()
	s.truncateLocked(conv, idx)

	opts.Retry = false
	opts.MessageID = original.ID
	opts.Quote = original.Quote
	return s.beginLocked(ctx, conv, original.Content, opts)
}

// answeredIndex finds the user message an assistant reply at idx answers.
func answeredIndex(conv *chat.Conversation, idx int) int {
	if parent := conv.Messages[idx].ParentMessageID; parent != "" {
		if i := conv.IndexOf(parent); i >= 0 && i < idx && conv.Messages[i].Role == chat.RoleUser {
			return i
		}
	}
	for i := idx - 1; i >= 0; i-- {
		if conv.Messages[i].Role == chat.RoleUser {
			return i
		}
	}
	return -1
}

func (s *Store) beginLocked(ctx context.Context, conv *chat.Conversation, content string, opts SendOptions) (*Exchange, error) {
	now := s.now()

	var user chat.Message
	if opts.Retry {
		idx := conv.IndexOf(opts.MessageID)
		if opts.MessageID == "" || idx < 0 || conv.Messages[idx].Role != chat.RoleUser {
			return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, opts.MessageID)
		}
		s.truncateLocked(conv, idx+1)
		target := &conv.Messages[idx]
		target.Status = chat.StatusSending
		target.Error = ""
		user = target.Clone()
	} else {
		if strings.TrimSpace(content) == "" {
			return nil, ErrEmptyMessage
		}
		id := opts.MessageID
		if id == "" {
			id = s.ids.NewID()
		} else if conv.IndexOf(id) >= 0 {
			return nil, fmt.Errorf("message %s already exists in conversation %s", id, conv.ID)
		}
		user = chat.Message{
			ID:        id,
			Role:      chat.RoleUser,
			Content:   content,
			Timestamp: now,
			Status:    chat.StatusSending,
		}
		if opts.Quote != nil {
			quote := opts.Quote.Clone()
			user.Quote = &quote
		}
		conv.Messages = append(conv.Messages, user)
	}

	assistant := chat.Message{
		ID:              s.ids.NewID(),
		Role:            chat.RoleAssistant,
		ParentMessageID: user.ID,
		Timestamp:       now,
		Status:          chat.StatusSending,
	}
	conv.Messages = append(conv.Messages, assistant)

	exCtx, cancel := context.WithCancel(ctx)
	ex := &Exchange{
		ConversationID:     conv.ID,
		UserMessageID:      user.ID,
		AssistantMessageID: assistant.ID,
		cancel:             cancel,
		done:               make(chan struct{}),
	}
	s.active[assistant.ID] = ex

	req := chat.StreamRequest{Message: user.Content, MessageID: user.ID}
	if user.Quote != nil {
		req.Quote = user.Quote.Content
	}
	m := machine{conversationID: conv.ID, userID: user.ID, assistantID: assistant.ID}

	go s.run(exCtx, ex, m, req, opts.OnEvent)
	return ex, nil
}

// run owns the push channel of one exchange from open to close.
func (s *Store) run(ctx context.Context, ex *Exchange, m machine, req chat.StreamRequest, onEvent func(stream.Event, chat.Message)) {
	defer close(ex.done)
	defer s.finish(ex)

	src, err := s.backend.OpenStream(ctx, m.conversationID, req)
	if err != nil {
		if s.cancelled(ctx, ex) {
			ex.err = ErrCancelled
			return
		}
		s.logger.Printf("[chat] initiate stream for %s failed: %v", m.conversationID, err)
		snapshot := s.fail(m, err.Error())
		if onEvent != nil {
			onEvent(stream.Failed{Reason: err.Error(), Err: err}, snapshot)
		}
		ex.err = err
		return
	}
	defer src.Close()

	dec := stream.NewDecoder(src)
	for {
		ev, err := dec.Next()
		if err != nil {
			// Next only errors after a terminal event, which returns below.
			ex.err = &StreamError{Reason: err.Error(), Err: err}
			return
		}

		// 中止后读到的帧一律丢弃：消息停留在中止前最后一次观察到的状态
		if s.cancelled(ctx, ex) {
			_ = src.Close()
			ex.err = ErrCancelled
			return
		}

		snapshot, result := s.apply(m, ev)
		if onEvent != nil {
			onEvent(ev, snapshot)
		}
		if ev.Terminal() {
			if result != nil {
				s.logger.Printf("[chat] stream for %s failed: %v", m.conversationID, result)
			}
			ex.err = result
			return
		}
	}
}

func (s *Store) cancelled(ctx context.Context, ex *Exchange) bool {
	return ex.aborted.Load() || ctx.Err() != nil
}

func (s *Store) finish(ex *Exchange) {
	ex.cancel()
	s.mu.Lock()
	delete(s.active, ex.AssistantMessageID)
	s.mu.Unlock()
}
