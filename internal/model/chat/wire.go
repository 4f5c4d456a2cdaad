package chat

import (
	"encoding/json"
	"time"
)

// ConversationResponse is the JSON shape of a conversation on the wire.
type ConversationResponse struct {
	SessionID string            `json:"session_id"`
	Name      string            `json:"name"`
	Model     string            `json:"model,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []MessageResponse `json:"messages"`
}

// MessageResponse is the JSON shape of a stored message on the wire.
type MessageResponse struct {
	ID              string    `json:"id"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateConversationRequest 创建会话请求体。SessionID 为空时由服务端生成。
type CreateConversationRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
}

// RenameConversationRequest 重命名会话请求体。
type RenameConversationRequest struct {
	Name string `json:"name"`
}

// StreamRequest registers a user message before the push channel is opened.
type StreamRequest struct {
	Message         string `json:"message"`
	MessageID       string `json:"message_id,omitempty"`
	ParentMessageID string `json:"parent_message_id,omitempty"`
	Quote           string `json:"quote,omitempty"`
}

// FrameType classifies a push channel frame.
type FrameType string

const (
	FrameStart FrameType = "start"
	FrameChunk FrameType = "chunk"
	FrameEnd   FrameType = "end"
	FrameError FrameType = "error"
)

// Frame is one JSON event on the push channel: {"type": ..., "data": {...}}.
type Frame struct {
	Type FrameType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ChunkData carries one incremental fragment.
type ChunkData struct {
	Content   string `json:"content"`
	FullText  string `json:"full_text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// EndData carries the final reply text.
type EndData struct {
	FullText  string `json:"full_text"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorData describes a server-side failure.
type ErrorData struct {
	Message string `json:"message"`
}

// NewFrame encodes payload as the data of a frame of the given type.
func NewFrame(frameType FrameType, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Type: frameType, Data: json.RawMessage(`{}`)}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: frameType, Data: data}, nil
}

// ToResponse converts a backend session and its transcript to the wire shape.
func ToResponse(session Session, messages []StoredMessage) ConversationResponse {
	out := ConversationResponse{
		SessionID: session.ID,
		Name:      session.Name,
		Model:     session.Model,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		Messages:  make([]MessageResponse, 0, len(messages)),
	}
	for _, msg := range messages {
		out.Messages = append(out.Messages, MessageResponse{
			ID:              msg.ID,
			Role:            msg.Role,
			Content:         msg.Content,
			ParentMessageID: msg.ParentMessageID,
			CreatedAt:       msg.CreatedAt,
		})
	}
	return out
}
