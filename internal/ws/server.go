package ws

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chatline/chat-server/internal/eventbus"
	"github.com/chatline/chat-server/internal/metrics"
	"github.com/chatline/chat-server/internal/middleware"
)

const (
	defaultInitTimeout = 10 * time.Second
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = 30 * time.Second
	maxMessageSize     = 64 << 10
	sendBuffer         = 256

	inboundRate  = rate.Limit(10)
	inboundBurst = 20
)

type MembershipChecker interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

type Server struct {
	guard       *ConnectionGuard
	bus         *eventbus.Bus
	members     MembershipChecker
	upgrader    websocket.Upgrader
	initTimeout time.Duration
}

// NewServer builds the websocket endpoint. An empty origin list accepts any
// origin.
func NewServer(guard *ConnectionGuard, bus *eventbus.Bus, members MembershipChecker, allowedOrigins []string) *Server {
	return &Server{
		guard:   guard,
		bus:     bus,
		members: members,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Subprotocol},
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, origin)
			},
		},
		initTimeout: defaultInitTimeout,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	// The connection outlives the handshake request, so it gets its own
	// context; cancelling it ends every subscription on the connection.
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		srv:     s,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		params:  NewConnectionParams(middleware.RefreshTokenFromRequest(r)),
		limiter: rate.NewLimiter(inboundRate, inboundBurst),
		subs:    make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}

	metrics.WsConnections.Inc()
	defer metrics.WsConnections.Dec()

	go c.writePump()
	c.readPump()
}
