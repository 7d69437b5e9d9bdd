package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/service"
)

// multipart field names for message uploads
const (
	formContent = "content"
	formFiles   = "files"
)

type MessageService interface {
	SendMessage(ctx context.Context, params service.SendMessageParams) (*model.Message, error)
	GetChatMessages(ctx context.Context, chatID, userID string, limit, offset int) ([]model.Message, error)
	FindMessages(ctx context.Context, chatID, userID, query string) ([]model.Message, error)
	SendTypingStatus(ctx context.Context, chatID, userID, userName string, isTyping bool) (*model.TypingEvent, error)
	MarkRead(ctx context.Context, chatID, userID string) (int64, error)
}

type MessageHandler struct {
	messages       MessageService
	maxUploadBytes int64
}

func NewMessageHandler(messages MessageService, maxUploadBytes int64) *MessageHandler {
	return &MessageHandler{messages: messages, maxUploadBytes: maxUploadBytes}
}

// Routes is mounted under /v1/chats/{chatId}.
func (h *MessageHandler) Routes(r chi.Router) {
	r.Get("/messages", h.GetChatMessages)
	r.Post("/messages", h.SendMessage)
	r.Get("/messages/search", h.FindMessages)
	r.Post("/messages/read", h.MarkRead)
	r.Post("/typing", h.SendTypingStatus)
}

// POST /v1/chats/{chatId}/messages
// Accepts either a JSON body {"content": "..."} or multipart/form-data with a
// "content" field and any number of "files".
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	params := service.SendMessageParams{
		ChatID: chi.URLParam(r, "chatId"),
		UserID: uid,
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			writeError(w, uploadError(err))
			return
		}
		defer r.MultipartForm.RemoveAll()

		params.Content = r.FormValue(formContent)
		for _, fh := range r.MultipartForm.File[formFiles] {
			params.Attachments = append(params.Attachments, attachmentFromHeader(fh))
		}
	} else {
		var req struct {
			Content string `json:"content"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		params.Content = req.Content
	}

	msg, err := h.messages.SendMessage(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// GET /v1/chats/{chatId}/messages?limit=&offset=
func (h *MessageHandler) GetChatMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	page := ParsePagination(r)
	msgs, err := h.messages.GetChatMessages(r.Context(), chi.URLParam(r, "chatId"), uid, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// GET /v1/chats/{chatId}/messages/search?q=
func (h *MessageHandler) FindMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	msgs, err := h.messages.FindMessages(r.Context(), chi.URLParam(r, "chatId"), uid, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// POST /v1/chats/{chatId}/typing
func (h *MessageHandler) SendTypingStatus(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	var req struct {
		UserName string `json:"userName"`
		IsTyping bool   `json:"isTyping"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	event, err := h.messages.SendTypingStatus(r.Context(), chi.URLParam(r, "chatId"), uid, req.UserName, req.IsTyping)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// POST /v1/chats/{chatId}/messages/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	n, err := h.messages.MarkRead(r.Context(), chi.URLParam(r, "chatId"), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func attachmentFromHeader(fh *multipart.FileHeader) service.Attachment {
	return service.Attachment{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// readUpload reads a single-file form field, bounded by limit.
func readUpload(w http.ResponseWriter, r *http.Request, field string, limit int64) (*multipart.FileHeader, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, nil, uploadError(err)
	}

	file, fh, err := r.FormFile(field)
	if err != nil {
		return nil, nil, apperrors.MissingRequired(field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, uploadError(err)
	}
	return fh, data, nil
}

func uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.PayloadTooLarge()
	}
	return apperrors.ValidationError("Invalid multipart body")
}
