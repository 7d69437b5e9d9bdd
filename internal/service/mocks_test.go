package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/session"
)

type mockMembership struct {
	mock.Mock
}

func (m *mockMembership) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) Create(ctx context.Context, params model.CreateMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(model.CreateMessageParams) *model.Message); ok {
		return fn(params), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageRepo) FindByChat(ctx context.Context, chatID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, chatID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageRepo) Search(ctx context.Context, chatID, query string, limit int) ([]model.Message, error) {
	args := m.Called(ctx, chatID, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageRepo) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	args := m.Called(ctx, chatID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMessageRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockFileRepo struct {
	mock.Mock
}

func (m *mockFileRepo) Create(ctx context.Context, params model.CreateFileParams) (*model.AttachedFile, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(model.CreateFileParams) *model.AttachedFile); ok {
		return fn(params), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.AttachedFile), args.Error(1)
}

func (m *mockFileRepo) FindByMessageIDs(ctx context.Context, messageIDs []string) ([]model.AttachedFile, error) {
	args := m.Called(ctx, messageIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AttachedFile), args.Error(1)
}

type mockChatRepo struct {
	mock.Mock
}

func (m *mockChatRepo) Create(ctx context.Context, params model.CreateChatParams) (*model.Chat, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chat), args.Error(1)
}

func (m *mockChatRepo) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chat), args.Error(1)
}

func (m *mockChatRepo) FindDirectBetween(ctx context.Context, userA, userB string) (*model.Chat, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chat), args.Error(1)
}

func (m *mockChatRepo) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Chat), args.Error(1)
}

func (m *mockChatRepo) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	args := m.Called(ctx, chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockChatRepo) FindMember(ctx context.Context, chatID, userID string) (*model.ChatMember, error) {
	args := m.Called(ctx, chatID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ChatMember), args.Error(1)
}

func (m *mockChatRepo) ListMembers(ctx context.Context, chatID string) ([]model.Profile, error) {
	args := m.Called(ctx, chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Profile), args.Error(1)
}

func (m *mockChatRepo) SetMemberDeleted(ctx context.Context, chatID, userID string, deleted bool) error {
	return m.Called(ctx, chatID, userID, deleted).Error(0)
}

func (m *mockChatRepo) AddMembers(ctx context.Context, chatID string, userIDs []string) error {
	return m.Called(ctx, chatID, userIDs).Error(0)
}

func (m *mockChatRepo) RemoveMember(ctx context.Context, chatID, userID string) error {
	return m.Called(ctx, chatID, userID).Error(0)
}

func (m *mockChatRepo) Rename(ctx context.Context, id, name string) (*model.Chat, error) {
	args := m.Called(ctx, id, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chat), args.Error(1)
}

func (m *mockChatRepo) UpdateAvatar(ctx context.Context, id, avatarURL string) (*model.Chat, error) {
	args := m.Called(ctx, id, avatarURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chat), args.Error(1)
}

func (m *mockChatRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockChatRepo) DeleteAbandonedDirect(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Create(ctx context.Context, params model.CreateUserParams) (*model.User, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) UpdateName(ctx context.Context, id, name string) (*model.User, error) {
	args := m.Called(ctx, id, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) UpdateAvatar(ctx context.Context, id, avatarURL string) (*model.User, error) {
	args := m.Called(ctx, id, avatarURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *mockUserRepo) Search(ctx context.Context, query, excludeID string, limit int) ([]model.Profile, error) {
	args := m.Called(ctx, query, excludeID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Profile), args.Error(1)
}

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) Issue(ctx context.Context, userID string) (*session.Session, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *mockSessions) Revoke(ctx context.Context, refreshToken string) error {
	return m.Called(ctx, refreshToken).Error(0)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), time.Now().Add(window)
}

func (m *mockLimiter) Reset(ctx context.Context, key string) {
	m.Called(ctx, key)
}

// recordingPublisher captures every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	name    string
	payload any
}

func (p *recordingPublisher) Publish(event string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{name: event, payload: payload})
}

func (p *recordingPublisher) Events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

// fakeBlobStore records uploads. A hook lets a test control completion order.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	hook    func(path string, data []byte) error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (s *fakeBlobStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if s.hook != nil {
		if err := s.hook(path, data); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return nil
}

func (s *fakeBlobStore) PublicURL(path string) string {
	return "http://files.test/" + path
}

func (s *fakeBlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
