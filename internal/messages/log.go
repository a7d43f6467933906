package messages

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/example/shuttle-roster/internal/models"
)

const shardCount = 32

// serviceLog is the ordered history of one service.
type serviceLog struct {
	mu   sync.Mutex
	msgs []models.Message
}

type shard struct {
	mu   sync.RWMutex
	logs map[string]*serviceLog
}

// Log holds an append-only message sequence per service in process memory.
// Appends to one service are serialized by that service's lock; the shard
// lock is only held to find or create a service's log.
type Log struct {
	shards [shardCount]*shard
	limit  int
	now    func() time.Time
}

// NewLog returns an empty log. limit > 0 keeps at most limit messages per
// service, dropping the oldest first.
func NewLog(limit int) *Log {
	l := &Log{limit: limit, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{logs: make(map[string]*serviceLog)}
	}
	return l
}

func (l *Log) shardFor(serviceID string) *shard {
	return l.shards[xxhash.Sum64String(serviceID)%shardCount]
}

func (l *Log) lookup(serviceID string, create bool) *serviceLog {
	s := l.shardFor(serviceID)
	s.mu.RLock()
	sl, ok := s.logs[serviceID]
	s.mu.RUnlock()
	if ok || !create {
		return sl
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.logs[serviceID]; !ok {
		sl = &serviceLog{}
		s.logs[serviceID] = sl
	}
	return sl
}

// Append stamps the message with an id and the current time and adds it to
// the end of its service's log.
func (l *Log) Append(serviceID, senderID, senderName, text string) models.Message {
	sl := l.lookup(serviceID, true)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	m := models.Message{
		ID:         uuid.NewString(),
		ServiceID:  serviceID,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		Timestamp:  l.now(),
	}
	sl.msgs = append(sl.msgs, m)
	if l.limit > 0 && len(sl.msgs) > l.limit {
		drop := len(sl.msgs) - l.limit
		kept := make([]models.Message, l.limit)
		copy(kept, sl.msgs[drop:])
		sl.msgs = kept
	}
	return m
}

// List returns a copy of the service's log, oldest first.
func (l *Log) List(serviceID string) []models.Message {
	sl := l.lookup(serviceID, false)
	if sl == nil {
		return []models.Message{}
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	out := make([]models.Message, len(sl.msgs))
	copy(out, sl.msgs)
	return out
}

// Drop forgets the whole log of a service.
func (l *Log) Drop(serviceID string) {
	s := l.shardFor(serviceID)
	s.mu.Lock()
	delete(s.logs, serviceID)
	s.mu.Unlock()
}
