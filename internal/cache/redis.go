// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jason-s-yu/arena/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list room events are pushed to.
const DefaultQueueName = "arena_room_events"

// ConnectRedis opens a client for addr/db and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// RoomEventPublisher pushes room lifecycle records onto a Redis list for the historian.
type RoomEventPublisher struct {
	rdb   redis.Cmdable
	queue string
}

func NewRoomEventPublisher(rdb redis.Cmdable, queue string) *RoomEventPublisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &RoomEventPublisher{rdb: rdb, queue: queue}
}

// RecordRoomEvent serializes the event to JSON and RPUSHes it.
func (p *RoomEventPublisher) RecordRoomEvent(ctx context.Context, ev models.RoomEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal RoomEvent: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// RoomEventQueue pops room events pushed by RoomEventPublisher.
type RoomEventQueue struct {
	rdb   redis.Cmdable
	queue string
}

func NewRoomEventQueue(rdb redis.Cmdable, queue string) *RoomEventQueue {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &RoomEventQueue{rdb: rdb, queue: queue}
}

// ErrMalformedEvent wraps payloads on the list that are not RoomEvent JSON.
var ErrMalformedEvent = errors.New("malformed room event")

// Pop blocks up to timeout for the next event. ok is false when nothing arrived.
func (q *RoomEventQueue) Pop(ctx context.Context, timeout time.Duration) (ev models.RoomEvent, ok bool, err error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.queue).Result()
	if errors.Is(err, redis.Nil) {
		return ev, false, nil
	}
	if err != nil {
		return ev, false, err
	}
	// res[0] is the list name and res[1] the payload.
	if len(res) < 2 {
		return ev, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &ev); err != nil {
		return ev, false, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, true, nil
}
