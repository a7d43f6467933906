package roster

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/shuttle-roster/internal/assignment"
	"github.com/example/shuttle-roster/internal/attendance"
	"github.com/example/shuttle-roster/internal/events"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/location"
	"github.com/example/shuttle-roster/internal/messages"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/observability"
	"github.com/example/shuttle-roster/internal/storage"
)

// Credentials is the identity context: it verifies bearer tokens and issues
// new ones on login.
type Credentials interface {
	Authenticate(credential string) (identity.Principal, error)
	Issue(userID string, role models.Role) (string, error)
}

// Notifier pushes live updates to connected members of a service. Drop and
// DropService end streams whose subscriber no longer passes IsMember.
type Notifier interface {
	Broadcast(serviceID, frameType string, data any)
	Drop(serviceID, userID string) int
	DropService(serviceID string) int
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(string, string, any) {}
func (nopNotifier) Drop(string, string) int      { return 0 }
func (nopNotifier) DropService(string) int       { return 0 }

const defaultMaxMessageLength = 1000

type Options struct {
	Store       storage.EntityStore
	Credentials Credentials
	Locations   location.Cache
	Messages    *messages.Log
	Events      events.Publisher
	Notifier    Notifier
	Logger      *slog.Logger

	// MaxMessageLength bounds a chat message in runes; 0 means the default.
	MaxMessageLength int
}

// Engine is the roster façade. Every exported operation takes the
// authenticated caller and checks membership or role before it touches any
// component.
type Engine struct {
	store     storage.EntityStore
	creds     Credentials
	assign    *assignment.Manager
	attend    *attendance.Tracker
	locations location.Cache
	messages  *messages.Log
	events    events.Publisher
	notifier  Notifier
	logger    *slog.Logger

	maxMessageLen int
	now           func() time.Time
}

func New(o Options) *Engine {
	e := &Engine{
		store:         o.Store,
		creds:         o.Credentials,
		assign:        assignment.NewManager(o.Store),
		attend:        attendance.NewTracker(o.Store),
		locations:     o.Locations,
		messages:      o.Messages,
		events:        o.Events,
		notifier:      o.Notifier,
		logger:        o.Logger,
		maxMessageLen: o.MaxMessageLength,
		now:           time.Now,
	}
	if e.locations == nil {
		e.locations = location.NewShardedCache(0)
	}
	if e.messages == nil {
		e.messages = messages.NewLog(0)
	}
	if e.events == nil {
		e.events = events.NopPublisher{}
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxMessageLen <= 0 {
		e.maxMessageLen = defaultMaxMessageLength
	}
	return e
}

// SetClock replaces the time source of the engine and its components.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.assign.Now = now
	e.attend.Now = now
}

// Authenticate resolves a bearer credential. Failures wrap
// apperrors.ErrUnauthenticated.
func (e *Engine) Authenticate(ctx context.Context, credential string) (identity.Principal, error) {
	return e.creds.Authenticate(credential)
}

// Ping checks the durable store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// publish emits a domain event without letting a delivery failure reach the
// caller. It detaches from the request context so a client disconnect does
// not drop the event of a committed mutation.
func (e *Engine) publish(ctx context.Context, t events.Type, key string, payload any) {
	ev, err := events.New(t, key, payload)
	if err == nil {
		err = e.events.Publish(context.WithoutCancel(ctx), ev)
	}
	if err != nil {
		observability.EventPublishErrs.WithLabelValues(string(t)).Inc()
		e.logger.Warn("event publish failed", "type", t, "key", key, "error", err)
	}
}
