package ws

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chatline/chat-server/internal/auth"
	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/session"
)

const TransportWS = "ws"

// ConnectionGuard is the persistent-connection adapter over the shared auth
// strategy. The bearer token comes from the connection_init payload and a
// refreshed pair is written back into ConnectionParams.
type ConnectionGuard struct {
	strategy auth.Authenticator
}

func NewConnectionGuard(strategy auth.Authenticator) *ConnectionGuard {
	return &ConnectionGuard{strategy: strategy}
}

func (g *ConnectionGuard) Check(ctx context.Context, params *ConnectionParams) (*auth.RequestContext, error) {
	if !params.HasPayload() {
		log.Warn().Msg("ws guard: connection_init carried no payload")
		return nil, apperrors.Unauthorized()
	}

	accessToken, ok := parseBearer(params.Authorization())
	if !ok {
		log.Warn().Msg("ws guard: malformed bearer in connection payload")
		return nil, apperrors.Unauthorized()
	}

	creds := auth.Credentials{
		AccessToken:  accessToken,
		RefreshToken: params.RefreshToken(),
		Transport:    TransportWS,
	}
	return g.strategy.Authenticate(ctx, creds, auth.TokenSinkFunc(func(sess *session.Session) {
		params.SetTokens(sess.AccessToken, sess.RefreshToken)
	}))
}

func parseBearer(value string) (string, bool) {
	if !strings.HasPrefix(value, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(value, "Bearer "))
	return token, token != ""
}
