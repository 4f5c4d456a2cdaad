package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/studydesk/internal/config"
	"github.com/zhouzirui/studydesk/internal/model/chat"
	aiService "github.com/zhouzirui/studydesk/internal/service/ai"
	chatService "github.com/zhouzirui/studydesk/internal/service/chat"
	"github.com/zhouzirui/studydesk/pkg/utils"
)

// Handler manages the two-step streaming exchange: a POST registers the
// user message, then the push channel (SSE or WebSocket) carries the reply.
type Handler struct {
	aiService *aiService.Service
	chatSvc   *chatService.Service
	pacing    config.StreamConfig
	upgrader  websocket.Upgrader
}

// New creates a new stream handler. aiSvc may be nil, in which case every
// stream ends with an error frame.
func New(aiSvc *aiService.Service, chatSvc *chatService.Service, pacing config.StreamConfig) *Handler {
	return &Handler{
		aiService: aiSvc,
		chatSvc:   chatSvc,
		pacing:    pacing,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat/{sessionID}", func(r chi.Router) {
		r.Post("/stream", h.handleInit)
		r.Get("/stream", h.handleEventStream)
		r.Get("/ws", h.handleWebSocket)
	})
}

// frameWriter delivers frames over one push channel.
type frameWriter interface {
	WriteFrame(frame chat.Frame) error
}

// handleInit 保存用户消息并登记待回复的轮次
func (h *Handler) handleInit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload chat.StreamRequest
	if err := utils.DecodeJSON(w, r, &payload, false); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := h.chatSvc.SubmitTurn(r.Context(), sessionID, payload); err != nil {
		switch {
		case errors.Is(err, chatService.ErrMessageRequired):
			utils.RespondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, chatService.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, err.Error())
		default:
			log.Printf("[stream] init failed for session=%s: %v", sessionID, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to initialize stream")
		}
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) WriteFrame(frame chat.Frame) error {
	return utils.SendSSEChunk(s.w, s.flusher, frame)
}

func (h *Handler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sessionID := chi.URLParam(r, "sessionID")
	log.Printf("[sse] opening stream for session=%s", sessionID)
	h.streamReply(r.Context(), sessionID, r.URL.Query().Get("message_id"), sseWriter{w: w, flusher: flusher})
}

type wsWriter struct {
	conn *websocket.Conn
}

func (s wsWriter) WriteFrame(frame chat.Frame) error {
	return s.conn.WriteJSON(frame)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// 客户端关闭连接时取消生成
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sessionID := chi.URLParam(r, "sessionID")
	log.Printf("[ws] opening stream for session=%s", sessionID)
	h.streamReply(ctx, sessionID, r.URL.Query().Get("message_id"), wsWriter{conn: conn})

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, closeMsg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		log.Printf("[ws] close handshake for session=%s failed: %v", sessionID, err)
	}
}

// streamReply emits start, chunk*, end or a single error frame, then stores
// the assistant reply. messageID selects the pending turn; empty takes the
// oldest one.
func (h *Handler) streamReply(ctx context.Context, sessionID, messageID string, out frameWriter) {
	turn, err := h.chatSvc.TakeTurn(sessionID, messageID)
	if err != nil {
		h.sendError(out, sessionID, err)
		return
	}

	if h.aiService == nil {
		h.sendError(out, sessionID, errors.New("ai streaming unavailable"))
		return
	}

	if err := h.send(out, chat.FrameStart, nil); err != nil {
		log.Printf("[stream] client gone before start, session=%s: %v", sessionID, err)
		return
	}

	full, err := h.dispatchAIResponse(ctx, turn, out)
	if err != nil {
		if ctx.Err() != nil {
			log.Printf("[stream] client cancelled session=%s", sessionID)
			return
		}
		h.sendError(out, sessionID, fmt.Errorf("AI generation failed: %w", err))
		return
	}

	if err := h.send(out, chat.FrameEnd, chat.EndData{FullText: full, SessionID: sessionID}); err != nil {
		log.Printf("[stream] failed to send end frame for session=%s: %v", sessionID, err)
	}

	if full == "" {
		return
	}
	// 回复已发送给客户端，保存失败只记录日志
	if _, err := h.chatSvc.SaveReply(context.WithoutCancel(ctx), turn, full); err != nil {
		log.Printf("[stream] failed to save assistant message for session=%s: %v", sessionID, err)
		return
	}
	log.Printf("[stream] completed response for session=%s, length=%d", sessionID, len(full))
}

func (h *Handler) dispatchAIResponse(ctx context.Context, turn chatService.PendingTurn, out frameWriter) (string, error) {
	limiter := h.newLimiter()
	var full strings.Builder

	emit := func(content string) error {
		if content == "" {
			return nil
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		full.WriteString(content)
		return h.send(out, chat.FrameChunk, chat.ChunkData{
			Content:   content,
			FullText:  full.String(),
			SessionID: turn.SessionID,
		})
	}

	if !h.aiService.StreamingEnabled() {
		response, err := h.aiService.GenerateReply(ctx, turn.SessionID, turn.History, turn.User.Content, turn.Quote)
		if err != nil {
			return "", err
		}
		if err := emit(response.Content); err != nil {
			return "", err
		}
		return full.String(), nil
	}

	stream, err := h.aiService.StreamReply(ctx, turn.History, turn.User.Content, turn.Quote)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}
		if err := emit(chunk.Content); err != nil {
			return "", err
		}
	}

	return full.String(), nil
}

// newLimiter paces chunk frames; nil when pacing is disabled.
func (h *Handler) newLimiter() *rate.Limiter {
	if h.pacing.ChunkRate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(h.pacing.ChunkRate), max(h.pacing.ChunkBurst, 1))
}

func (h *Handler) send(out frameWriter, frameType chat.FrameType, payload any) error {
	frame, err := chat.NewFrame(frameType, payload)
	if err != nil {
		return err
	}
	return out.WriteFrame(frame)
}

func (h *Handler) sendError(out frameWriter, sessionID string, cause error) {
	log.Printf("[stream] session=%s: %v", sessionID, cause)
	if err := h.send(out, chat.FrameError, chat.ErrorData{Message: cause.Error()}); err != nil {
		log.Printf("[stream] failed to send error frame for session=%s: %v", sessionID, err)
	}
}
