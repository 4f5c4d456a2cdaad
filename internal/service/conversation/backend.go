package conversation

import (
	"context"

	"github.com/zhouzirui/studydesk/internal/client/stream"
	"github.com/zhouzirui/studydesk/internal/client/transport"
	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// Stream is an open push channel owned by one exchange.
type Stream interface {
	stream.Source
	Close() error
}

// Backend is the remote side the store talks to.
type Backend interface {
	CreateConversation(ctx context.Context, req chat.CreateConversationRequest) (chat.ConversationResponse, error)
	ListConversations(ctx context.Context) ([]chat.ConversationResponse, error)
	DeleteConversation(ctx context.Context, sessionID string) error
	ClearContext(ctx context.Context, sessionID string) error
	RenameConversation(ctx context.Context, sessionID, name string) (chat.ConversationResponse, error)
	OpenStream(ctx context.Context, sessionID string, req chat.StreamRequest) (Stream, error)
}

// ClientBackend adapts a transport.Client to Backend.
type ClientBackend struct {
	*transport.Client
}

// NewClientBackend wraps c.
func NewClientBackend(c *transport.Client) ClientBackend {
	return ClientBackend{Client: c}
}

// OpenStream implements Backend.
func (b ClientBackend) OpenStream(ctx context.Context, sessionID string, req chat.StreamRequest) (Stream, error) {
	handle, err := b.Client.InitiateStream(ctx, sessionID, req)
	if err != nil {
		return nil, err
	}
	return handle, nil
}
