package handler

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/eventbus"
	"github.com/chatline/chat-server/internal/model"
	"github.com/chatline/chat-server/internal/sse"
)

type MembershipChecker interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// EventsHandler streams messageSent and userTyping events of one chat over
// server-sent events.
type EventsHandler struct {
	bus       *eventbus.Bus
	members   MembershipChecker
	heartbeat time.Duration
}

func NewEventsHandler(bus *eventbus.Bus, members MembershipChecker) *EventsHandler {
	return &EventsHandler{
		bus:       bus,
		members:   members,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/chats/{chatId}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		writeError(w, apperrors.Unauthorized())
		return
	}
	chatID := chi.URLParam(r, "chatId")

	member, err := h.members.IsParticipant(r.Context(), chatID, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	if !member {
		writeError(w, apperrors.NotMember())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events := make(chan sse.Event)

	// Subscriptions are registered before the stream opens so nothing
	// published after "connected" is missed.
	messages := h.bus.Subscribe(ctx, model.EventMessageSent)
	typing := h.bus.Subscribe(ctx, model.EventUserTyping)
	defer messages.Close()
	defer typing.Close()

	go pipe(ctx, events, model.EventMessageSent, eventbus.Filter(messages.All(), func(m model.Message) bool {
		return m.ChatID == chatID
	}))
	go pipe(ctx, events, model.EventUserTyping, eventbus.Filter(typing.All(), func(e model.TypingEvent) bool {
		return e.ChatID == chatID
	}))

	stream, err := sse.NewStream(w)
	if err != nil {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	log.Info().Str("chatId", chatID).Str("userId", uid).Msg("sse connection established")

	if err := stream.SendJSON("connected", map[string]string{"chatId": chatID}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("chatId", chatID).Str("userId", uid).Msg("sse connection closed by client")
			return

		case event := <-events:
			if err := stream.Send(event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if err := stream.Ping(); err != nil {
				log.Debug().Str("chatId", chatID).Msg("heartbeat failed, closing connection")
				return
			}
		}
	}
}

func pipe[T any](ctx context.Context, out chan<- sse.Event, eventType string, seq iter.Seq[T]) {
	for payload := range seq {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event", eventType).Msg("failed to encode event")
			continue
		}
		select {
		case out <- sse.Event{Type: eventType, Data: data}:
		case <-ctx.Done():
			return
		}
	}
}
