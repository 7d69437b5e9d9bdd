// Package service holds the business rules of the chat server. Every
// exported method returns *errors.AppError values for conditions a client
// can act on and logs before returning them.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/chatline/chat-server/internal/util"
)

// Publisher is the write side of the event bus.
type Publisher interface {
	Publish(event string, payload any)
}

// MembershipChecker answers the single question every gated operation asks.
type MembershipChecker interface {
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
}

// uniqueObjectName builds "<unix-millis>-<ulid><ext>", preserving only a
// safe lower-cased extension of the original name.
func uniqueObjectName(now time.Time, originalName string) string {
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), util.NewIDAt(now), util.SafeExtension(originalName))
}
