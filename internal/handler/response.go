package handler

import (
	"encoding/json"
	"net/http"

	"github.com/chatline/chat-server/internal/auth"
	apperrors "github.com/chatline/chat-server/internal/errors"
	"github.com/chatline/chat-server/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

// userID returns the identity installed by the auth guard. Handlers are only
// mounted behind the guard, so a missing identity is a wiring bug.
func userID(r *http.Request) (string, bool) {
	rc := auth.FromContext(r.Context())
	if rc == nil {
		return "", false
	}
	return rc.UserID, true
}
