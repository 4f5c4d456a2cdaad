package conversation

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/studydesk/internal/model/chat"
	chatService "github.com/zhouzirui/studydesk/internal/service/chat"
	"github.com/zhouzirui/studydesk/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/context/conversations", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{sessionID}", h.handleGet)
		r.Patch("/{sessionID}", h.handleRename)
		r.Delete("/{sessionID}", h.handleDelete)
		r.Delete("/{sessionID}/context", h.handleClear)
	})
}

// handleCreate 创建会话，请求体可以为空
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload chat.CreateConversationRequest
	if err := utils.DecodeJSON(w, r, &payload, true); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.CreateConversation(r.Context(), payload)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	log.Printf("[chat] created conversation %s", conv.SessionID)
	utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	convs, err := h.chatSvc.ListConversations(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, convs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.GetConversation(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

// handleRename 修改会话名称
func (h *Handler) handleRename(w http.ResponseWriter, r *http.Request) {
	var payload chat.RenameConversationRequest
	if err := utils.DecodeJSON(w, r, &payload, false); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.RenameConversation(r.Context(), chi.URLParam(r, "sessionID"), payload.Name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.chatSvc.DeleteConversation(r.Context(), sessionID); err != nil {
		respondServiceError(w, err)
		return
	}

	log.Printf("[chat] deleted conversation %s", sessionID)
	utils.RespondMessage(w, http.StatusOK, "conversation deleted")
}

// handleClear 清空会话上下文，保留会话本身
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.ClearContext(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondMessage(w, http.StatusOK, "context cleared")
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrSessionExists):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chatService.ErrMessageRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[chat] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
