package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Activity types
const (
	ActivityBaselineSet = "route.baseline_set"
	ActivityBanked      = "banking.banked"
	ActivityApplied     = "banking.applied"
	ActivityPoolCreated = "pool.created"
)

// SubjectAll matches every activity subject on the bus.
const SubjectAll = subjectRoot + ">"

const (
	feedKey      = "mariscope:activity"
	feedCapacity = 100
	subjectRoot  = "mariscope."
	subBuffer    = 16
)

// Activity is one entry of the operator activity feed.
type Activity struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	ShipID    string          `json:"shipId,omitempty"`
	Year      int             `json:"year,omitempty"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	// Origin identifies the instance that recorded the activity.
	Origin string `json:"origin,omitempty"`
}

// Publisher forwards activities to an external bus.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Service records activities in a capped feed and fans them out to
// subscribers and an optional Publisher. Without Redis the feed is kept in
// process.
type Service struct {
	redis     *redis.Client
	publisher Publisher
	logger    *zap.Logger
	origin    string

	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan Activity
	recent      []Activity
	now         func() time.Time
}

// NewService creates a notification service. client and publisher may be nil.
func NewService(client *redis.Client, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		redis:       client,
		publisher:   publisher,
		logger:      logger,
		origin:      uuid.NewString(),
		subscribers: make(map[uuid.UUID]chan Activity),
		now:         time.Now,
	}
}

// Notify records an activity. Data is marshalled into the activity payload.
func (s *Service) Notify(ctx context.Context, activityType, shipID string, year int, message string, data interface{}) error {
	var payload json.RawMessage
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	activity := Activity{
		ID:        uuid.New(),
		Type:      activityType,
		ShipID:    shipID,
		Year:      year,
		Message:   message,
		Data:      payload,
		CreatedAt: s.now().UTC(),
		Origin:    s.origin,
	}

	if err := s.store(ctx, activity); err != nil {
		return err
	}

	s.broadcast(activity)

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, subjectRoot+activityType, activity); err != nil {
			s.logger.Warn("failed to publish activity",
				zap.String("type", activityType),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) store(ctx context.Context, activity Activity) error {
	if s.redis == nil {
		s.mu.Lock()
		s.recent = append([]Activity{activity}, s.recent...)
		if len(s.recent) > feedCapacity {
			s.recent = s.recent[:feedCapacity]
		}
		s.mu.Unlock()
		return nil
	}

	encoded, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, feedKey, encoded)
	pipe.LTrim(ctx, feedKey, 0, feedCapacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store activity: %w", err)
	}
	return nil
}

// broadcast never blocks; slow subscribers miss activities.
func (s *Service) broadcast(activity Activity) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- activity:
		default:
			s.logger.Debug("dropping activity for slow subscriber", zap.String("subscriber", id.String()))
		}
	}
}

// Subscribe returns a channel of new activities and a function that
// unsubscribes and closes it.
func (s *Service) Subscribe() (<-chan Activity, func()) {
	id := uuid.New()
	ch := make(chan Activity, subBuffer)

	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Recent returns up to limit activities, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 || limit > feedCapacity {
		limit = feedCapacity
	}

	if s.redis == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		n := limit
		if n > len(s.recent) {
			n = len(s.recent)
		}
		return append([]Activity(nil), s.recent[:n]...), nil
	}

	items, err := s.redis.LRange(ctx, feedKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get activities: %w", err)
	}

	activities := make([]Activity, 0, len(items))
	for _, item := range items {
		var a Activity
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			s.logger.Warn("skipping malformed activity", zap.Error(err))
			continue
		}
		activities = append(activities, a)
	}
	return activities, nil
}

// Relay fans out an activity another instance published on the bus.
// Activities this instance recorded itself are ignored; they were already
// delivered by Notify.
func (s *Service) Relay(data []byte) {
	var a Activity
	if err := json.Unmarshal(data, &a); err != nil {
		s.logger.Warn("dropping malformed relayed activity", zap.Error(err))
		return
	}
	if a.Origin == s.origin {
		return
	}
	s.broadcast(a)
}
