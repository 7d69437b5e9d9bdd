package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chatline/chat-server/internal/auth"
	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/eventbus"
	"github.com/chatline/chat-server/internal/model"
)

type connection struct {
	srv     *Server
	conn    *websocket.Conn
	send    chan []byte
	params  *ConnectionParams
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	identity *auth.RequestContext
	subs     map[string]context.CancelFunc

	closeOnce sync.Once
}

func (c *connection) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	initTimer := time.AfterFunc(c.srv.initTimeout, func() {
		if c.currentIdentity() == nil {
			c.closeWith(CloseInitTimeout, "Connection initialisation timeout")
		}
	})
	defer initTimer.Stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.closeWith(websocket.ClosePolicyViolation, "Rate limit exceeded")
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.closeWith(CloseBadRequest, "Invalid message received")
			return
		}

		if !c.handle(msg) {
			return
		}
	}
}

// handle returns false once the connection has been closed.
func (c *connection) handle(msg Message) bool {
	switch msg.Type {
	case MsgConnectionInit:
		return c.handleInit(msg)
	case MsgPing:
		c.enqueue(encode(Message{Type: MsgPong}))
	case MsgPong:
	case MsgSubscribe:
		if c.currentIdentity() == nil {
			c.closeWith(CloseUnauthorized, "Unauthorized")
			return false
		}
		return c.handleSubscribe(msg)
	case MsgComplete:
		c.stopSubscription(msg.ID)
	default:
		c.closeWith(CloseBadRequest, fmt.Sprintf("Invalid message type %q", msg.Type))
		return false
	}
	return true
}

func (c *connection) handleInit(msg Message) bool {
	if c.currentIdentity() != nil {
		c.closeWith(CloseTooManyInitCalls, "Too many initialisation requests")
		return false
	}

	var payload *InitPayload
	if len(msg.Payload) > 0 && string(msg.Payload) != "null" {
		payload = &InitPayload{}
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			c.closeWith(CloseBadRequest, "Invalid connection_init payload")
			return false
		}
	}
	c.params.Init(payload)

	rc, err := c.srv.guard.Check(c.ctx, c.params)
	if err != nil {
		c.closeWith(CloseUnauthorized, "Unauthorized")
		return false
	}

	c.mu.Lock()
	c.identity = rc
	c.mu.Unlock()

	log.Debug().Str("userId", rc.UserID).Bool("refreshed", rc.Refreshed).Msg("websocket connection acknowledged")
	c.enqueue(encode(Message{Type: MsgConnectionAck}))
	return true
}

func (c *connection) handleSubscribe(msg Message) bool {
	if msg.ID == "" {
		c.closeWith(CloseBadRequest, "Subscription id is required")
		return false
	}

	c.mu.Lock()
	_, exists := c.subs[msg.ID]
	c.mu.Unlock()
	if exists {
		c.closeWith(CloseDuplicateID, fmt.Sprintf("Subscriber for %s already exists", msg.ID))
		return false
	}

	// Every operation re-runs the guard against the connection's current
	// params; an expired token is refreshed here.
	rc, err := c.srv.guard.Check(c.ctx, c.params)
	if err != nil {
		c.enqueue(errorMessage(msg.ID, errorItem(err)))
		return true
	}
	c.mu.Lock()
	c.identity = rc
	c.mu.Unlock()

	var payload SubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.enqueue(errorMessage(msg.ID, ErrorItem{Message: "Invalid subscribe payload", Code: string(apperrors.ErrCodeInvalidInput)}))
		return true
	}
	chatID := payload.Variables.ChatID
	if chatID == "" {
		c.enqueue(errorMessage(msg.ID, errorItem(apperrors.MissingRequired("chatId"))))
		return true
	}
	if payload.Event != model.EventMessageSent && payload.Event != model.EventUserTyping {
		c.enqueue(errorMessage(msg.ID, errorItem(apperrors.InvalidInput("event", "unknown subscription"))))
		return true
	}

	ok, err := c.srv.members.IsParticipant(c.ctx, chatID, rc.UserID)
	if err != nil {
		log.Error().Err(err).Str("chatId", chatID).Msg("websocket membership check failed")
		c.enqueue(errorMessage(msg.ID, errorItem(apperrors.Internal("Something went wrong"))))
		return true
	}
	if !ok {
		c.enqueue(errorMessage(msg.ID, errorItem(apperrors.NotMember())))
		return true
	}

	c.startSubscription(msg.ID, payload.Event, chatID)
	return true
}

func (c *connection) startSubscription(id, event, chatID string) {
	subCtx, cancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.subs[id] = cancel
	c.mu.Unlock()

	sub := c.srv.bus.Subscribe(subCtx, event)

	switch event {
	case model.EventMessageSent:
		go forward(c, id, event, eventbus.Filter(sub.All(), func(m model.Message) bool {
			return m.ChatID == chatID
		}))
	case model.EventUserTyping:
		go forward(c, id, event, eventbus.Filter(sub.All(), func(e model.TypingEvent) bool {
			return e.ChatID == chatID
		}))
	}

	log.Debug().Str("id", id).Str("event", event).Str("chatId", chatID).Msg("websocket subscription started")
}

func forward[T any](c *connection, id, event string, seq iter.Seq[T]) {
	for payload := range seq {
		data, err := nextMessage(id, event, payload)
		if err != nil {
			log.Error().Err(err).Str("event", event).Msg("failed to encode subscription payload")
			continue
		}
		if !c.enqueue(data) {
			return
		}
	}
}

func (c *connection) stopSubscription(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *connection) currentIdentity() *auth.RequestContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// enqueue hands data to the writer. It blocks while the send buffer is full
// and gives up once the connection is gone.
func (c *connection) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *connection) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		log.Debug().Int("code", code).Str("reason", reason).Msg("closing websocket")
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.cancel()
		_ = c.conn.Close()
	})
}

func (c *connection) shutdown() {
	c.cancel()
	c.mu.Lock()
	for id, cancel := range c.subs {
		cancel()
		delete(c.subs, id)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}

func errorItem(err error) ErrorItem {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return ErrorItem{Message: appErr.Message, Code: string(appErr.Code)}
	}
	return ErrorItem{Message: "Something went wrong", Code: string(apperrors.ErrCodeInternal)}
}
