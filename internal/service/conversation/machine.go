package conversation

import (
	"github.com/zhouzirui/studydesk/internal/client/stream"
	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// machine drives one user/assistant message pair through
// sending -> success | error. Messages are looked up by id on every
// transition because the list may be truncated or cleared mid-stream;
// transitions for removed messages are dropped.
type machine struct {
	conversationID string
	userID         string
	assistantID    string
}

// apply performs the transition for ev and returns a snapshot of the
// assistant message plus the send result for terminal events.
func (s *Store) apply(m machine, ev stream.Event) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.messageLocked(m.conversationID, m.userID)
	assistant := s.messageLocked(m.conversationID, m.assistantID)

	var result error
	switch ev := ev.(type) {
	case stream.Started:
		if user != nil && user.Status == chat.StatusSending {
			user.Status = chat.StatusSuccess
		}
	case stream.Chunk:
		if assistant != nil && assistant.Status == chat.StatusSending {
			assistant.Content += ev.Text
		}
	case stream.Ended:
		if user != nil && user.Status == chat.StatusSending {
			user.Status = chat.StatusSuccess
		}
		if assistant != nil && assistant.Status == chat.StatusSending {
			if assistant.Content == "" {
				assistant.Content = ev.Text
			}
			assistant.Status = chat.StatusSuccess
		}
		if conv := s.findLocked(m.conversationID); conv != nil {
			conv.LastTime = s.now()
		}
	case stream.Failed:
		partial := ""
		if assistant != nil {
			partial = assistant.Content
		}
		s.failLocked(user, assistant, ev.Reason)
		result = &StreamError{Reason: ev.Reason, Partial: partial, Err: ev.Err}
	}

	if assistant == nil {
		return chat.Message{}, result
	}
	return assistant.Clone(), result
}

// fail moves both messages to error when the stream could not be opened.
func (s *Store) fail(m machine, reason string) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	user := s.messageLocked(m.conversationID, m.userID)
	assistant := s.messageLocked(m.conversationID, m.assistantID)
	s.failLocked(user, assistant, reason)

	if assistant == nil {
		return chat.Message{}
	}
	return assistant.Clone()
}

func (s *Store) failLocked(user, assistant *chat.Message, reason string) {
	// 用户消息未被服务端确认时同样标记为失败
	if user != nil && user.Status == chat.StatusSending {
		user.Status = chat.StatusError
		user.Error = reason
	}
	if assistant != nil && assistant.Status == chat.StatusSending {
		assistant.Status = chat.StatusError
		assistant.Error = reason
	}
}
