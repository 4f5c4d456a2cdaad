package chat

import "time"

// Conversation is the client-side view of a server-tracked dialogue.
// ID is the session id issued by the backend.
type Conversation struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Messages []Message `json:"messages"`
	LastTime time.Time `json:"lastTime"`
	Model    string    `json:"model,omitempty"`
}

// Clone 深拷贝会话，调用方可以自由修改返回值。
func (c Conversation) Clone() Conversation {
	messages := make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		messages[i] = msg.Clone()
	}
	c.Messages = messages
	return c
}

// IndexOf returns the position of the message with the given id, or -1.
func (c Conversation) IndexOf(messageID string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// Session is the backend record of a conversation.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoredMessage persists individual turns on the backend.
type StoredMessage struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"sessionId"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	ParentMessageID string    `json:"parentMessageId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
