package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/audit"
	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/repository"
	"github.com/chatline/chat-server/internal/storage"
	"github.com/chatline/chat-server/internal/util"
)

const (
	maxChatNameLength = 100
	maxGroupMembers   = 200
)

type ChatService struct {
	chats repository.ChatRepository
	users repository.UserRepository
	blobs storage.BlobStore
	now   func() time.Time
}

func NewChatService(chats repository.ChatRepository, users repository.UserRepository, blobs storage.BlobStore) *ChatService {
	return &ChatService{
		chats: chats,
		users: users,
		blobs: blobs,
		now:   time.Now,
	}
}

// IsParticipant reports whether userID is a current, non-deleted member.
func (s *ChatService) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	ok, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return ok, nil
}

// CreateDirectChat returns the direct chat between the two users, creating
// it if needed. A chat the caller had deleted is restored for them.
func (s *ChatService) CreateDirectChat(ctx context.Context, userID, peerID string) (*model.ChatDetails, error) {
	if peerID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if peerID == userID {
		return nil, apperrors.ValidationError("Cannot start a chat with yourself")
	}

	peer, err := s.users.FindByID(ctx, peerID)
	if err != nil {
		log.Error().Err(err).Str("peerId", peerID).Msg("failed to load peer")
		return nil, apperrors.Database(err)
	}
	if peer == nil {
		return nil, apperrors.NotFound("User")
	}

	existing, err := s.chats.FindDirectBetween(ctx, userID, peerID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Str("peerId", peerID).Msg("failed to look up direct chat")
		return nil, apperrors.Database(err)
	}

	if existing != nil {
		return s.restoreDirect(ctx, existing, userID)
	}

	chat, err := s.chats.Create(ctx, model.CreateChatParams{
		ID:        util.NewID(),
		Type:      model.ChatTypeDirect,
		MemberIDs: []string{userID, peerID},
	})
	if repository.IsUniqueViolation(err) {
		// A concurrent request created the pair's chat first.
		existing, err = s.chats.FindDirectBetween(ctx, userID, peerID)
		if err == nil && existing != nil {
			return s.restoreDirect(ctx, existing, userID)
		}
		if err == nil {
			err = fmt.Errorf("direct chat for %s missing after unique violation", model.DirectKey(userID, peerID))
		}
	}
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Str("peerId", peerID).Msg("failed to create direct chat")
		return nil, apperrors.Database(err)
	}

	log.Info().Str("chatId", chat.ID).Str("userId", userID).Str("peerId", peerID).Msg("direct chat created")
	return s.details(ctx, chat)
}

func (s *ChatService) restoreDirect(ctx context.Context, chat *model.Chat, userID string) (*model.ChatDetails, error) {
	if err := s.chats.SetMemberDeleted(ctx, chat.ID, userID, false); err != nil {
		log.Error().Err(err).Str("chatId", chat.ID).Msg("failed to restore membership")
		return nil, apperrors.Database(err)
	}
	return s.details(ctx, chat)
}

func (s *ChatService) CreateGroupChat(ctx context.Context, ownerID, name string, memberIDs []string) (*model.ChatDetails, error) {
	name, err := validChatName(name)
	if err != nil {
		return nil, err
	}

	members := dedupe(append([]string{ownerID}, memberIDs...))
	if len(members) > maxGroupMembers {
		return nil, apperrors.ValidationError(fmt.Sprintf("A group can have at most %d members", maxGroupMembers))
	}
	if err := s.requireUsers(ctx, members[1:]); err != nil {
		return nil, err
	}

	chat, err := s.chats.Create(ctx, model.CreateChatParams{
		ID:        util.NewID(),
		Type:      model.ChatTypeGroup,
		Name:      &name,
		OwnerID:   &ownerID,
		MemberIDs: members,
	})
	if err != nil {
		log.Error().Err(err).Str("ownerId", ownerID).Msg("failed to create group chat")
		return nil, apperrors.Database(err)
	}

	log.Info().Str("chatId", chat.ID).Str("ownerId", ownerID).Int("members", len(members)).Msg("group chat created")
	return s.details(ctx, chat)
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]model.Chat, error) {
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("userId", userID).Msg("failed to list chats")
		return nil, apperrors.Database(err)
	}
	return chats, nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID, userID string) (*model.ChatDetails, error) {
	chat, err := s.findChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return nil, err
	}
	return s.details(ctx, chat)
}

// DeleteChat soft-deletes a direct chat for the caller only. A group chat is
// removed for everyone and only its owner may do so.
func (s *ChatService) DeleteChat(ctx context.Context, chatID, userID string) error {
	chat, err := s.findChat(ctx, chatID)
	if err != nil {
		return err
	}

	if chat.IsGroup() {
		if !chat.IsOwner(userID) {
			s.denied(ctx, chatID, userID, "delete_group")
			return apperrors.NotOwner()
		}
		if err := s.chats.Delete(ctx, chatID); err != nil {
			log.Error().Err(err).Str("chatId", chatID).Msg("failed to delete group chat")
			return apperrors.Database(err)
		}
	} else {
		if err := s.requireMember(ctx, chatID, userID); err != nil {
			return err
		}
		if err := s.chats.SetMemberDeleted(ctx, chatID, userID, true); err != nil {
			log.Error().Err(err).Str("chatId", chatID).Msg("failed to soft delete direct chat")
			return apperrors.Database(err)
		}
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventChatDelete,
		UserID:  userID,
		ChatID:  chatID,
		Details: map[string]interface{}{"type": string(chat.Type)},
	})
	return nil
}

func (s *ChatService) RenameChat(ctx context.Context, chatID, userID, name string) (*model.Chat, error) {
	name, err := validChatName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedGroup(ctx, chatID, userID); err != nil {
		return nil, err
	}

	chat, err := s.chats.Rename(ctx, chatID, name)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to rename chat")
		return nil, apperrors.Database(err)
	}
	if chat == nil {
		return nil, apperrors.NotFound("Chat")
	}
	return chat, nil
}

func (s *ChatService) UpdateChatAvatar(ctx context.Context, chatID, userID, fileName, contentType string, data []byte) (*model.Chat, error) {
	if len(data) == 0 {
		return nil, apperrors.MissingRequired("avatar")
	}
	if _, err := s.ownedGroup(ctx, chatID, userID); err != nil {
		return nil, err
	}

	objectPath := fmt.Sprintf("chat-avatars/%s/%s", chatID, uniqueObjectName(s.now(), fileName))
	if err := s.blobs.Upload(ctx, objectPath, data, contentType); err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to upload chat avatar")
		return nil, apperrors.Storage(err)
	}

	chat, err := s.chats.UpdateAvatar(ctx, chatID, s.blobs.PublicURL(objectPath))
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to update chat avatar")
		return nil, apperrors.Database(err)
	}
	if chat == nil {
		return nil, apperrors.NotFound("Chat")
	}
	return chat, nil
}

// KickMember removes a member from a group. The owner cannot be removed;
// what should happen to an ownerless group is not defined.
func (s *ChatService) KickMember(ctx context.Context, chatID, ownerID, memberID string) error {
	chat, err := s.ownedGroup(ctx, chatID, ownerID)
	if err != nil {
		return err
	}
	if chat.IsOwner(memberID) {
		return apperrors.Forbidden("The chat owner cannot be removed")
	}

	ok, err := s.chats.IsParticipant(ctx, chatID, memberID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("membership check failed")
		return apperrors.Database(err)
	}
	if !ok {
		return apperrors.NotFound("Member")
	}

	if err := s.chats.RemoveMember(ctx, chatID, memberID); err != nil {
		log.Error().Err(err).Str("chatId", chatID).Str("memberId", memberID).Msg("failed to remove member")
		return apperrors.Database(err)
	}

	audit.Log(ctx, audit.Event{
		Type:    audit.EventMemberKick,
		UserID:  ownerID,
		ChatID:  chatID,
		Details: map[string]interface{}{"member_id": memberID},
	})
	return nil
}

func (s *ChatService) AddMembers(ctx context.Context, chatID, ownerID string, memberIDs []string) (*model.ChatDetails, error) {
	chat, err := s.ownedGroup(ctx, chatID, ownerID)
	if err != nil {
		return nil, err
	}

	memberIDs = dedupe(memberIDs)
	if len(memberIDs) == 0 {
		return nil, apperrors.MissingRequired("memberIds")
	}
	if err := s.requireUsers(ctx, memberIDs); err != nil {
		return nil, err
	}

	if err := s.chats.AddMembers(ctx, chatID, memberIDs); err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to add members")
		return nil, apperrors.Database(err)
	}
	return s.details(ctx, chat)
}

// LeaveGroup removes a non-owner member from a group.
func (s *ChatService) LeaveGroup(ctx context.Context, chatID, userID string) error {
	chat, err := s.findChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsGroup() {
		return apperrors.ValidationError("Only group chats can be left; delete a direct chat instead")
	}
	if chat.IsOwner(userID) {
		return apperrors.Forbidden("The chat owner cannot leave the group")
	}
	if err := s.requireMember(ctx, chatID, userID); err != nil {
		return err
	}

	if err := s.chats.RemoveMember(ctx, chatID, userID); err != nil {
		log.Error().Err(err).Str("chatId", chatID).Str("userId", userID).Msg("failed to leave group")
		return apperrors.Database(err)
	}
	return nil
}

func (s *ChatService) findChat(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("failed to load chat")
		return nil, apperrors.Database(err)
	}
	if chat == nil {
		return nil, apperrors.NotFound("Chat")
	}
	return chat, nil
}

func (s *ChatService) requireMember(ctx context.Context, chatID, userID string) error {
	ok, err := s.chats.IsParticipant(ctx, chatID, userID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("membership check failed")
		return apperrors.Database(err)
	}
	if !ok {
		s.denied(ctx, chatID, userID, "not_member")
		return apperrors.NotMember()
	}
	return nil
}

func (s *ChatService) ownedGroup(ctx context.Context, chatID, userID string) (*model.Chat, error) {
	chat, err := s.findChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsGroup() {
		return nil, apperrors.ValidationError("This action is only available for group chats")
	}
	if !chat.IsOwner(userID) {
		s.denied(ctx, chatID, userID, "not_owner")
		return nil, apperrors.NotOwner()
	}
	return chat, nil
}

func (s *ChatService) requireUsers(ctx context.Context, ids []string) error {
	for _, id := range ids {
		user, err := s.users.FindByID(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("userId", id).Msg("failed to load user")
			return apperrors.Database(err)
		}
		if user == nil {
			return apperrors.NotFound("User").WithDetails(map[string]string{"userId": id})
		}
	}
	return nil
}

func (s *ChatService) details(ctx context.Context, chat *model.Chat) (*model.ChatDetails, error) {
	members, err := s.chats.ListMembers(ctx, chat.ID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chat.ID).Msg("failed to list members")
		return nil, apperrors.Database(err)
	}
	return &model.ChatDetails{Chat: *chat, Members: members}, nil
}

func (s *ChatService) denied(ctx context.Context, chatID, userID, reason string) {
	audit.Log(ctx, audit.Event{
		Type:    audit.EventAccessDenied,
		UserID:  userID,
		ChatID:  chatID,
		Details: map[string]interface{}{"reason": reason},
	})
}

func validChatName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.MissingRequired("name")
	}
	if utf8.RuneCountInString(name) > maxChatNameLength {
		return "", apperrors.InvalidInput("name", fmt.Sprintf("must be at most %d characters", maxChatNameLength))
	}
	return name, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
