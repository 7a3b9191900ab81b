package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aura-classroom/backend/internal/models"
)

const (
	redisEventsPrefix = "classroom:events:"
	redisSeqKey       = "classroom:events:seq"
)

// RedisStore keeps each session's log in a Redis list. A global INCR counter provides the
// insertion sequence used to break timestamp ties.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a redis-backed event log.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, event models.SessionEvent) (models.SessionEvent, error) {
	event, err := prepare(event, s.now)
	if err != nil {
		return models.SessionEvent{}, err
	}
	seq, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return models.SessionEvent{}, fmt.Errorf("incr event seq: %w", err)
	}
	event.Seq = seq
	raw, err := json.Marshal(event)
	if err != nil {
		return models.SessionEvent{}, fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.RPush(ctx, redisEventsPrefix+event.SessionID, raw).Err(); err != nil {
		return models.SessionEvent{}, fmt.Errorf("rpush event: %w", err)
	}
	return event, nil
}

// Query implements Store.
func (s *RedisStore) Query(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	raws, err := s.client.LRange(ctx, redisEventsPrefix+sessionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange events: %w", err)
	}
	out := make([]models.SessionEvent, 0, len(raws))
	for _, raw := range raws {
		var ev models.SessionEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	sortEvents(out)
	return out, nil
}
