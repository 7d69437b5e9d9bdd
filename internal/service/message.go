package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/metrics"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/repository"
	"github.com/chatline/chat-server/internal/storage"
	"github.com/chatline/chat-server/internal/util"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 100
	maxSearchResults       = 100
	defaultContentType     = "application/octet-stream"
)

// Attachment is one uploaded file of a SendMessage call. Open is called once
// from the goroutine that processes the file.
type Attachment struct {
	FileName    string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

type SendMessageParams struct {
	ChatID      string
	UserID      string
	Content     string
	Attachments []Attachment
}

type MessageService struct {
	members  MembershipChecker
	messages repository.MessageRepository
	files    repository.FileRepository
	blobs    storage.BlobStore
	bus      Publisher
	now      func() time.Time
}

func NewMessageService(
	members MembershipChecker,
	messages repository.MessageRepository,
	files repository.FileRepository,
	blobs storage.BlobStore,
	bus Publisher,
) *MessageService {
	return &MessageService{
		members:  members,
		messages: messages,
		files:    files,
		blobs:    blobs,
		bus:      bus,
		now:      time.Now,
	}
}

func (s *MessageService) requireMember(ctx context.Context, chatID, userID string) error {
	ok, err := s.members.IsParticipant(ctx, chatID, userID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Str("userId", userID).Msg("membership check failed")
		return apperrors.Database(err)
	}
	if !ok {
		log.Warn().Str("chatId", chatID).Str("userId", userID).Msg("non-member attempted chat operation")
		return apperrors.NotMember()
	}
	return nil
}

// SendMessage stores a message with its attachments and broadcasts it on
// messageSent. Nothing is persisted or published for a non-member, and a
// message whose attachments fail is removed again.
func (s *MessageService) SendMessage(ctx context.Context, params SendMessageParams) (*model.Message, error) {
	if !util.ValidMessageContent(params.Content, len(params.Attachments) > 0) {
		return nil, apperrors.ValidationError(
			fmt.Sprintf("Message must be non-empty and at most %d characters", util.MaxMessageLength))
	}

	if err := s.requireMember(ctx, params.ChatID, params.UserID); err != nil {
		return nil, err
	}

	msg, err := s.messages.Create(ctx, model.CreateMessageParams{
		ID:      util.NewID(),
		ChatID:  params.ChatID,
		UserID:  params.UserID,
		Content: params.Content,
	})
	if err != nil {
		log.Error().Err(err).Str("chatId", params.ChatID).Msg("failed to persist message")
		return nil, apperrors.Database(err)
	}

	files, err := s.storeAttachments(ctx, msg, params.Attachments)
	if err != nil {
		log.Error().
			Err(err).
			Str("chatId", msg.ChatID).
			Str("messageId", msg.ID).
			Int("attachments", len(params.Attachments)).
			Msg("failed to process attachments")
		s.discardMessage(ctx, msg)
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Storage(err)
	}
	msg.AttachedFiles = files

	s.bus.Publish(model.EventMessageSent, *msg)
	metrics.MessagesSentTotal.Inc()

	log.Info().
		Str("messageId", msg.ID).
		Str("chatId", msg.ChatID).
		Str("userId", msg.UserID).
		Int("attachments", len(files)).
		Msg("message sent")

	return msg, nil
}

// discardMessage removes a message whose attachments failed so it never
// shows up in history without having been broadcast.
func (s *MessageService) discardMessage(ctx context.Context, msg *model.Message) {
	if err := s.messages.Delete(context.WithoutCancel(ctx), msg.ID); err != nil {
		log.Error().Err(err).Str("messageId", msg.ID).Msg("failed to discard message after attachment failure")
	}
}

// storeAttachments processes every attachment concurrently. The returned
// slice follows the order of atts regardless of completion order.
func (s *MessageService) storeAttachments(ctx context.Context, msg *model.Message, atts []Attachment) ([]model.AttachedFile, error) {
	files := make([]model.AttachedFile, len(atts))
	if len(atts) == 0 {
		return files, nil
	}

	// IDs are minted up front so stored rows sort in input order.
	ids := make([]string, len(atts))
	for i := range atts {
		ids[i] = util.NewID()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, att := range atts {
		g.Go(func() error {
			file, err := s.storeAttachment(gctx, msg, ids[i], att)
			if err != nil {
				return err
			}
			files[i] = *file
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *MessageService) storeAttachment(ctx context.Context, msg *model.Message, id string, att Attachment) (*model.AttachedFile, error) {
	rc, err := att.Open()
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", att.FileName, err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", att.FileName, err)
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	objectPath := fmt.Sprintf("chats/%s/%s", msg.ChatID, uniqueObjectName(s.now(), att.FileName))
	if err := s.blobs.Upload(ctx, objectPath, data, contentType); err != nil {
		return nil, apperrors.Storage(fmt.Errorf("upload %q: %w", att.FileName, err))
	}

	file, err := s.files.Create(ctx, model.CreateFileParams{
		ID:          id,
		MessageID:   msg.ID,
		FileName:    att.FileName,
		FileURL:     s.blobs.PublicURL(objectPath),
		ContentType: contentType,
		Size:        int64(len(data)),
	})
	if err != nil {
		return nil, apperrors.Database(fmt.Errorf("record %q: %w", att.FileName, err))
	}
	return file, nil
}

// GetChatMessages returns one page of a chat's history, newest first.
func (s *MessageService) GetChatMessages(ctx context.Context, chatID, userID string, limit, offset int) ([]model.Message, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}

	limit, offset = normalizePage(limit, offset)
	msgs, err := s.messages.FindByChat(ctx, chatID, limit, offset)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to load chat messages")
		return nil, apperrors.Database(err)
	}
	return s.withFiles(ctx, msgs)
}

// FindMessages is a case-insensitive substring search over one chat.
func (s *MessageService) FindMessages(ctx context.Context, chatID, userID, query string) ([]model.Message, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if query == "" {
		return []model.Message{}, nil
	}

	msgs, err := s.messages.Search(ctx, chatID, query, maxSearchResults)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to search messages")
		return nil, apperrors.Database(err)
	}
	return s.withFiles(ctx, msgs)
}

func (s *MessageService) withFiles(ctx context.Context, msgs []model.Message) ([]model.Message, error) {
	if msgs == nil {
		return []model.Message{}, nil
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]string, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
		msgs[i].AttachedFiles = []model.AttachedFile{}
	}

	files, err := s.files.FindByMessageIDs(ctx, ids)
	if err != nil {
		log.Error().Err(err).Msg("failed to load message attachments")
		return nil, apperrors.Database(err)
	}

	byMessage := make(map[string][]model.AttachedFile, len(msgs))
	for _, f := range files {
		byMessage[f.MessageID] = append(byMessage[f.MessageID], f)
	}
	for i := range msgs {
		if fs, ok := byMessage[msgs[i].ID]; ok {
			msgs[i].AttachedFiles = fs
		}
	}
	return msgs, nil
}

// SendTypingStatus broadcasts on userTyping and echoes the payload. Nothing
// is stored.
func (s *MessageService) SendTypingStatus(ctx context.Context, chatID, userID, userName string, isTyping bool) (*model.TypingEvent, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}

	event := model.TypingEvent{
		ChatID:   chatID,
		UserID:   userID,
		UserName: userName,
		IsTyping: isTyping,
	}
	s.bus.Publish(model.EventUserTyping, event)

	return &event, nil
}

// MarkRead flags every message the user received in the chat as read.
func (s *MessageService) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return 0, err
	}

	n, err := s.messages.MarkRead(ctx, chatID, userID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to mark messages read")
		return 0, apperrors.Database(err)
	}

	log.Debug().Str("chatId", chatID).Str("userId", userID).Int64("count", n).Msg("messages marked read")
	return n, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultMessagePageSize
	}
	if limit > MaxMessagePageSize {
		limit = MaxMessagePageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
