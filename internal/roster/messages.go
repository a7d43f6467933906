package roster

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/dispatch"
	"github.com/example/shuttle-roster/internal/events"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/observability"
)

// PostMessage appends text to the service's chat log and pushes it to
// connected members.
func (e *Engine) PostMessage(ctx context.Context, p identity.Principal, serviceID, text string) (models.Message, error) {
	if err := e.requireMember(ctx, p, serviceID, "post_message"); err != nil {
		return models.Message{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, fmt.Errorf("message text is empty: %w", apperrors.ErrInvalidArgument)
	}
	if n := utf8.RuneCountInString(text); n > e.maxMessageLen {
		return models.Message{}, fmt.Errorf("message is %d characters, limit %d: %w", n, e.maxMessageLen, apperrors.ErrInvalidArgument)
	}
	sender, err := e.store.GetUser(ctx, p.ID)
	if err != nil {
		return models.Message{}, err
	}

	m := e.messages.Append(serviceID, sender.ID, sender.Name, text)
	observability.MessagesPosted.Inc()
	e.publish(ctx, events.MessagePosted, serviceID, m)
	e.notifier.Broadcast(serviceID, dispatch.FrameMessage, m)
	return m, nil
}

// ListMessages returns the service's chat log, oldest first.
func (e *Engine) ListMessages(ctx context.Context, p identity.Principal, serviceID string) ([]models.Message, error) {
	if err := e.requireMember(ctx, p, serviceID, "list_messages"); err != nil {
		return nil, err
	}
	return e.messages.List(serviceID), nil
}
