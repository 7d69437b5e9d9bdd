package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/model"
)

type ProfileService interface {
	Me(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID, name string) (*model.User, error)
	UploadAvatar(ctx context.Context, userID, fileName, contentType string, data []byte) (*model.User, error)
	SearchUsers(ctx context.Context, userID, query string) ([]model.Profile, error)
}

type UserHandler struct {
	users          ProfileService
	maxUploadBytes int64
}

func NewUserHandler(users ProfileService, maxUploadBytes int64) *UserHandler {
	return &UserHandler{users: users, maxUploadBytes: maxUploadBytes}
}

func (h *UserHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/me", h.Me)
	r.Patch("/me", h.UpdateProfile)
	r.Put("/me/avatar", h.UploadAvatar)
	r.Get("/search", h.SearchUsers)

	return r
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	user, err := h.users.Me(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
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

	user, err := h.users.UpdateProfile(r.Context(), uid, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
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

	user, err := h.users.UploadAvatar(r.Context(), uid, fh.Filename, fh.Header.Get("Content-Type"), data)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// GET /v1/users/search?q=
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}

	users, err := h.users.SearchUsers(r.Context(), uid, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
