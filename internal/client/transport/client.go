// Package transport talks to the chat backend: conversation REST calls and
// streaming reply channels.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/studydesk/internal/config"
	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// PushChannel selects how reply frames are delivered.
type PushChannel string

const (
	ChannelSSE       PushChannel = "sse"
	ChannelWebSocket PushChannel = "websocket"
)

// ParsePushChannel maps a config value to a PushChannel.
func ParsePushChannel(raw string) (PushChannel, error) {
	switch PushChannel(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ChannelSSE:
		return ChannelSSE, nil
	case ChannelWebSocket, "ws":
		return ChannelWebSocket, nil
	default:
		return "", fmt.Errorf("unsupported push channel %q", raw)
	}
}

// Client is a backend API client. A zero timeout disables the per-request
// deadline; stream channels never carry one.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	dialer         *websocket.Dialer
	channel        PushChannel
	requestTimeout time.Duration
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithPushChannel selects the push channel used by InitiateStream.
func WithPushChannel(ch PushChannel) Option {
	return func(c *Client) { c.channel = ch }
}

// WithRequestTimeout bounds each non-streaming request.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// NewClient creates a client for the API rooted at baseURL, e.g.
// "http://localhost:8080/api/v1".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		dialer:     websocket.DefaultDialer,
		channel:    ChannelSSE,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig builds a client from a loaded client config. Extra
// options are applied after the config values.
func NewClientFromConfig(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	channel, err := ParsePushChannel(cfg.PushChannel)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithPushChannel(channel),
		WithRequestTimeout(cfg.RequestTimeout.Duration),
	}
	return NewClient(cfg.BaseURL, append(base, opts...)...), nil
}

// Channel returns the configured push channel.
func (c *Client) Channel() PushChannel {
	return c.channel
}

// CreateConversation 在服务端注册新会话。
func (c *Client) CreateConversation(ctx context.Context, req chat.CreateConversationRequest) (chat.ConversationResponse, error) {
	var out chat.ConversationResponse
	err := c.doJSON(ctx, http.MethodPost, "/context/conversations", req, &out)
	return out, err
}

// ListConversations 获取全部会话及其消息。
func (c *Client) ListConversations(ctx context.Context) ([]chat.ConversationResponse, error) {
	var out []chat.ConversationResponse
	err := c.doJSON(ctx, http.MethodGet, "/context/conversations", nil, &out)
	return out, err
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, sessionID string) (chat.ConversationResponse, error) {
	var out chat.ConversationResponse
	err := c.doJSON(ctx, http.MethodGet, conversationPath(sessionID), nil, &out)
	return out, err
}

// DeleteConversation removes a conversation on the server.
func (c *Client) DeleteConversation(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, conversationPath(sessionID), nil, nil)
}

// ClearContext drops every message of a conversation on the server.
func (c *Client) ClearContext(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, conversationPath(sessionID)+"/context", nil, nil)
}

// RenameConversation updates the conversation title on the server.
func (c *Client) RenameConversation(ctx context.Context, sessionID, name string) (chat.ConversationResponse, error) {
	var out chat.ConversationResponse
	err := c.doJSON(ctx, http.MethodPatch, conversationPath(sessionID), chat.RenameConversationRequest{Name: name}, &out)
	return out, err
}

func conversationPath(sessionID string) string {
	return "/context/conversations/" + url.PathEscape(sessionID)
}

func chatPath(sessionID, leaf string) string {
	return "/chat/" + url.PathEscape(sessionID) + "/" + leaf
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(method, path, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func newStatusError(method, path string, resp *http.Response) *StatusError {
	statusErr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		statusErr.Message = payload.Error
		if statusErr.Message == "" {
			statusErr.Message = payload.Detail
		}
	}
	if statusErr.Message == "" {
		statusErr.Message = strings.TrimSpace(string(raw))
	}
	return statusErr
}
