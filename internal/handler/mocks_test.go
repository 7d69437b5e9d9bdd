package handler

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/chatline/chat-server/internal/auth"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/service"
	"github.com/chatline/chat-server/internal/session"
)

type mockMessageService struct {
	mock.Mock
}

func (m *mockMessageService) SendMessage(ctx context.Context, params service.SendMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageService) GetChatMessages(ctx context.Context, chatID, userID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, chatID, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageService) FindMessages(ctx context.Context, chatID, userID, query string) ([]model.Message, error) {
	args := m.Called(ctx, chatID, userID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageService) SendTypingStatus(ctx context.Context, chatID, userID, userName string, isTyping bool) (*model.TypingEvent, error) {
	args := m.Called(ctx, chatID, userID, userName, isTyping)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TypingEvent), args.Error(1)
}

func (m *mockMessageService) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Get(0).(int64), args.Error(1)
}

type mockChatService struct {
	mock.Mock
}

func (m *mockChatService) CreateDirectChat(ctx context.Context, userID, peerID string) (*model.ChatDetails, error) {
	args := m.Called(ctx, userID, peerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatDetails), args.Error(1)
}

func (m *mockChatService) CreateGroupChat(ctx context.Context, ownerID, name string, memberIDs []string) (*model.ChatDetails, error) {
	args := m.Called(ctx, ownerID, name, memberIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatDetails), args.Error(1)
}

func (m *mockChatService) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Chat), args.Error(1)
}

func (m *mockChatService) GetChat(ctx context.Context, chatID, userID string) (*model.ChatDetails, error) {
	args := m.Called(ctx, chatID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatDetails), args.Error(1)
}

func (m *mockChatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

func (m *mockChatService) RenameChat(ctx context.Context, chatID, userID, name string) (*model.Chat, error) {
	args := m.Called(ctx, chatID, userID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chat), args.Error(1)
}

func (m *mockChatService) UpdateChatAvatar(ctx context.Context, chatID, userID, fileName, contentType string, data []byte) (*model.Chat, error) {
	args := m.Called(ctx, chatID, userID, fileName, contentType, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chat), args.Error(1)
}

func (m *mockChatService) KickMember(ctx context.Context, chatID, ownerID, memberID string) error {
	return m.Called(ctx, chatID, ownerID, memberID).Error(0)
}

func (m *mockChatService) AddMembers(ctx context.Context, chatID, ownerID string, memberIDs []string) (*model.ChatDetails, error) {
	args := m.Called(ctx, chatID, ownerID, memberIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatDetails), args.Error(1)
}

func (m *mockChatService) LeaveGroup(ctx context.Context, chatID, userID string) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

type mockAccountService struct {
	mock.Mock
}

func (m *mockAccountService) SignUp(ctx context.Context, params service.SignUpParams) (*model.User, *session.Session, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.User), args.Get(1).(*session.Session), args.Error(2)
}

func (m *mockAccountService) SignIn(ctx context.Context, email, password string) (*model.User, *session.Session, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*model.User), args.Get(1).(*session.Session), args.Error(2)
}

func (m *mockAccountService) SignOut(ctx context.Context, userID, refreshToken string) error {
	return m.Called(ctx, userID, refreshToken).Error(0)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

type mockProfileService struct {
	mock.Mock
}

func (m *mockProfileService) Me(ctx context.Context, userID string) (*model.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockProfileService) UpdateProfile(ctx context.Context, userID, name string) (*model.User, error) {
	args := m.Called(ctx, userID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockProfileService) UploadAvatar(ctx context.Context, userID, fileName, contentType string, data []byte) (*model.User, error) {
	args := m.Called(ctx, userID, fileName, contentType, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockProfileService) SearchUsers(ctx context.Context, userID, query string) ([]model.Profile, error) {
	args := m.Called(ctx, userID, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Profile), args.Error(1)
}

type staticMembers map[string][]string

func (m staticMembers) IsParticipant(_ context.Context, chatID, userID string) (bool, error) {
	for _, id := range m[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// asUser installs the identity the auth guard would have resolved.
func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithRequestContext(r.Context(), &auth.RequestContext{UserID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
