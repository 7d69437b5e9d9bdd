package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/model"
)

const formAvatar = "avatar"

type ChatService interface {
	CreateDirectChat(ctx context.Context, userID, peerID string) (*model.ChatDetails, error)
	CreateGroupChat(ctx context.Context, ownerID, name string, memberIDs []string) (*model.ChatDetails, error)
	ListChats(ctx context.Context, userID string) ([]model.Chat, error)
	GetChat(ctx context.Context, chatID, userID string) (*model.ChatDetails, error)
	DeleteChat(ctx context.Context, chatID, userID string) error
	RenameChat(ctx context.Context, chatID, userID, name string) (*model.Chat, error)
	UpdateChatAvatar(ctx context.Context, chatID, userID, fileName, contentType string, data []byte) (*model.Chat, error)
	KickMember(ctx context.Context, chatID, ownerID, memberID string) error
	AddMembers(ctx context.Context, chatID, ownerID string, memberIDs []string) (*model.ChatDetails, error)
	LeaveGroup(ctx context.Context, chatID, userID string) error
}

type ChatHandler struct {
	chats          ChatService
	maxUploadBytes int64
}

func NewChatHandler(chats ChatService, maxUploadBytes int64) *ChatHandler {
	return &ChatHandler{chats: chats, maxUploadBytes: maxUploadBytes}
}

// Routes is mounted under /v1/chats. Per-chat routes of other handlers hang
// off the returned sub-router through chatRoutes.
func (h *ChatHandler) Routes(chatRoutes ...func(chi.Router)) chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListChats)
	r.Post("/direct", h.CreateDirectChat)
	r.Post("/group", h.CreateGroupChat)

	r.Route("/{chatId}", func(r chi.Router) {
		r.Get("/", h.GetChat)
		r.Delete("/", h.DeleteChat)
		r.Patch("/", h.RenameChat)
		r.Put("/avatar", h.UpdateChatAvatar)
		r.Post("/members", h.AddMembers)
		r.Delete("/members/{userId}", h.KickMember)
		r.Post("/leave", h.LeaveGroup)

		for _, mount := range chatRoutes {
			mount(r)
		}
	})

	return r
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	chats, err := h.chats.ListChats(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *ChatHandler) CreateDirectChat(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	var req struct {
		PeerID string `json:"peerId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.CreateDirectChat(r.Context(), uid, req.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) CreateGroupChat(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.CreateGroupChat(r.Context(), uid, req.Name, req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, chat)
}

func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	chat, err := h.chats.GetChat(r.Context(), chi.URLParam(r, "chatId"), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	if err := h.chats.DeleteChat(r.Context(), chi.URLParam(r, "chatId"), uid); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) RenameChat(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.RenameChat(r.Context(), chi.URLParam(r, "chatId"), uid, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) UpdateChatAvatar(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	fh, data, err := readUpload(w, r, formAvatar, h.maxUploadBytes)
	if err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.UpdateChatAvatar(r.Context(), chi.URLParam(r, "chatId"), uid, fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	var req struct {
		MemberIDs []string `json:"memberIds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	chat, err := h.chats.AddMembers(r.Context(), chi.URLParam(r, "chatId"), uid, req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

func (h *ChatHandler) KickMember(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	if err := h.chats.KickMember(r.Context(), chi.URLParam(r, "chatId"), uid, chi.URLParam(r, "userId")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) LeaveGroup(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	if err := h.chats.LeaveGroup(r.Context(), chi.URLParam(r, "chatId"), uid); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
