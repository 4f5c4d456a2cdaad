package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// frameReader is an open push channel.
type frameReader interface {
	ReadFrame() ([]byte, error)
	Close() error
}

// StreamHandle is the push channel of one message exchange. The caller owns
// it and must Close it on every exit path; Close is idempotent and may be
// called from another goroutine to cancel a blocked ReadFrame.
type StreamHandle struct {
	SessionID string
	Channel   PushChannel

	reader  frameReader
	openErr error
	cancel  context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// ReadFrame returns the next raw JSON frame or io.EOF when the channel ends.
// A channel that failed to open reports the failure on the first read.
func (h *StreamHandle) ReadFrame() ([]byte, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	return h.reader.ReadFrame()
}

// Close releases the channel.
func (h *StreamHandle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		if h.reader != nil {
			h.closeErr = h.reader.Close()
		}
	})
	return h.closeErr
}

// InitiateStream registers the user message with a POST and then opens the
// push channel for the reply. If the POST fails a *NetworkError is returned
// and nothing is opened. Failures while opening or reading the channel are
// reported through ReadFrame.
func (c *Client) InitiateStream(ctx context.Context, sessionID string, req chat.StreamRequest) (*StreamHandle, error) {
	if err := c.doJSON(ctx, http.MethodPost, chatPath(sessionID, "stream"), req, nil); err != nil {
		return nil, &NetworkError{Op: "initiate stream", SessionID: sessionID, Err: err}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	handle := &StreamHandle{SessionID: sessionID, Channel: c.channel, cancel: cancel}

	var err error
	switch c.channel {
	case ChannelWebSocket:
		handle.reader, err = c.openWebSocket(streamCtx, sessionID, req.MessageID)
	default:
		handle.reader, err = c.openEventStream(streamCtx, sessionID, req.MessageID)
	}
	if err != nil {
		handle.openErr = fmt.Errorf("open %s channel: %w", c.channel, err)
	}
	return handle, nil
}

func (c *Client) openEventStream(ctx context.Context, sessionID, messageID string) (frameReader, error) {
	path := chatPath(sessionID, "stream")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+turnQuery(messageID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newStatusError(http.MethodGet, path, resp)
	}

	return &sseFrames{body: resp.Body, reader: NewSSEReader(resp.Body)}, nil
}

type sseFrames struct {
	body   io.ReadCloser
	reader *SSEReader
}

func (s *sseFrames) ReadFrame() ([]byte, error) {
	for {
		_, data, err := s.reader.ReadEvent()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (s *sseFrames) Close() error {
	return s.body.Close()
}

func (c *Client) openWebSocket(ctx context.Context, sessionID, messageID string) (frameReader, error) {
	wsURL, err := websocketURL(c.baseURL + chatPath(sessionID, "ws") + turnQuery(messageID))
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, newStatusError(http.MethodGet, chatPath(sessionID, "ws"), resp)
		}
		return nil, err
	}

	// 取消上下文时关闭连接，解除阻塞中的读取
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return &wsFrames{conn: conn, stop: stop}, nil
}

// turnQuery names the user message whose reply the channel carries.
func turnQuery(messageID string) string {
	if messageID == "" {
		return ""
	}
	return "?" + url.Values{"message_id": {messageID}}.Encode()
}

func websocketURL(raw string) (string, error) {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://"), nil
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://"), nil
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw, nil
	default:
		return "", fmt.Errorf("unsupported base url %q", raw)
	}
}

type wsFrames struct {
	conn *websocket.Conn
	stop func() bool
}

func (w *wsFrames) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}
		return data, nil
	}
}

func (w *wsFrames) Close() error {
	w.stop()
	_ = w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.Close()
}
