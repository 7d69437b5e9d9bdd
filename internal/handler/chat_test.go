package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/model"
)

func chatRouter(svc ChatService, userID string) chi.Router {
	r := chi.NewRouter()
	r.Use(asUser(userID))
	r.Mount("/v1/chats", NewChatHandler(svc, 1<<20).Routes())
	return r
}

func TestChatHandler(t *testing.T) {
	t.Run("create group", func(t *testing.T) {
		svc := new(mockChatService)
		name := "team"
		svc.On("CreateGroupChat", mock.Anything, "u1", "team", []string{"u2", "u3"}).
			Return(&model.ChatDetails{Chat: model.Chat{ID: "c1", Type: model.ChatTypeGroup, Name: &name}}, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/chats/group", strings.NewReader(`{"name":"team","memberIds":["u2","u3"]}`))
		rec := httptest.NewRecorder()
		chatRouter(svc, "u1").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Contains(t, rec.Body.String(), `"name":"team"`)
	})

	t.Run("create direct", func(t *testing.T) {
		svc := new(mockChatService)
		svc.On("CreateDirectChat", mock.Anything, "u1", "u2").
			Return(&model.ChatDetails{Chat: model.Chat{ID: "c2", Type: model.ChatTypeDirect}}, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/chats/direct", strings.NewReader(`{"peerId":"u2"}`))
		rec := httptest.NewRecorder()
		chatRouter(svc, "u1").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("list", func(t *testing.T) {
		svc := new(mockChatService)
		svc.On("ListChats", mock.Anything, "u1").Return([]model.Chat{{ID: "c1"}}, nil)

		req := httptest.NewRequest(http.MethodGet, "/v1/chats", nil)
		rec := httptest.NewRecorder()
		chatRouter(svc, "u1").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"chats":[`)
	})

	t.Run("kick by non owner", func(t *testing.T) {
		svc := new(mockChatService)
		svc.On("KickMember", mock.Anything, "c1", "u2", "u3").Return(apperrors.NotOwner())

		req := httptest.NewRequest(http.MethodDelete, "/v1/chats/c1/members/u3", nil)
		rec := httptest.NewRecorder()
		chatRouter(svc, "u2").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		svc := new(mockChatService)
		svc.On("DeleteChat", mock.Anything, "c1", "u1").Return(nil)

		req := httptest.NewRequest(http.MethodDelete, "/v1/chats/c1", nil)
		rec := httptest.NewRecorder()
		chatRouter(svc, "u1").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("unknown chat", func(t *testing.T) {
		svc := new(mockChatService)
		svc.On("GetChat", mock.Anything, "nope", "u1").Return(nil, apperrors.NotFound("Chat"))

		req := httptest.NewRequest(http.MethodGet, "/v1/chats/nope", nil)
		rec := httptest.NewRecorder()
		chatRouter(svc, "u1").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("avatar upload", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("avatar", "logo.png")
		require.NoError(t, err)
		_, err = part.Write([]byte("png-bytes"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		svc := new(mockChatService)
		svc.On("UpdateChatAvatar", mock.Anything, "c1", "u1", "logo.png", "application/octet-stream", []byte("png-bytes")).
			Return(&model.Chat{ID: "c1"}, nil)

		req := httptest.NewRequest(http.MethodPut, "/v1/chats/c1/avatar", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		chatRouter(svc, "u1").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("avatar too large", func(t *testing.T) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("avatar", "big.png")
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte("x"), 2<<20))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		svc := new(mockChatService)
		req := httptest.NewRequest(http.MethodPut, "/v1/chats/c1/avatar", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		chatRouter(svc, "u1").ServeHTTP(rec, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}
