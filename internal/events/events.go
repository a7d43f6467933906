package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	LocationReported   Type = "location.reported"
	MessagePosted      Type = "message.posted"
	AttendanceReported Type = "attendance.reported"
	DriverChanged      Type = "assignment.driver_changed"
	MemberAssigned     Type = "assignment.member_assigned"
	MemberRemoved      Type = "assignment.member_removed"
	UserUpdated        Type = "user.updated"
	UserDeleted        Type = "user.deleted"
	ServiceUpdated     Type = "service.updated"
	ServiceDeleted     Type = "service.deleted"
)

// Event is the envelope published for every roster mutation. Key is the
// partition/routing key: a driver id for locations, a service id otherwise.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

func New(t Type, key string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: uuid.NewString(), Type: t, Key: key, OccurredAt: time.Now().UTC(), Payload: b}, nil
}

// Publisher delivers events to downstream systems. Delivery is best effort:
// the engine logs failures and carries on.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
