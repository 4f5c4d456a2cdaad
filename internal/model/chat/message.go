package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks the delivery lifecycle of a message.
type Status string

const (
	StatusSending Status = "sending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Terminal 表示状态不会再发生变化。
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Message is a single turn inside a conversation.
//
// Content of an assistant message grows while Status is StatusSending and is
// frozen once the status becomes terminal. Quote is a back-reference to the
// message being replied to; it is not owned by this message.
type Message struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	Status          Status    `json:"status,omitempty"`
	Error           string    `json:"error,omitempty"`
	Quote           *Message  `json:"quote,omitempty"`
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	if m.Quote != nil {
		quote := m.Quote.Clone()
		m.Quote = &quote
	}
	return m
}
