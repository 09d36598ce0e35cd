// Package live fans the freshest position of each transport out to
// dashboards: a Redis cache with pub/sub plus a WebSocket hub.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkarlsen/shipwatch/internal/domain"
)

// RedisCache keeps the latest sample per transport with a short TTL and
// publishes every update on a per-transport channel. Stale entries age out
// on their own when a vessel stops reporting.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func stateKey(id domain.TransportID) string {
	return fmt.Sprintf("transport:%s:state", id)
}

func channel(id domain.TransportID) string {
	return fmt.Sprintf("transport:%s:position", id)
}

// Update writes the state hash, refreshes the geo index and publishes the
// sample, all in one pipeline round trip.
func (c *RedisCache) Update(ctx context.Context, id domain.TransportID, s domain.PositionSample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	state := map[string]interface{}{
		"transport_id": string(id),
		"lat":          s.Lat,
		"lon":          s.Lon,
		"speed":        s.Speed,
		"course":       s.Course,
		"heading":      s.Heading,
		"navstat":      s.NavStat,
		"destination":  s.Destination,
		"src":          s.Source,
		"timestamp":    s.Timestamp.Unix(),
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, stateKey(id), state)
	pipe.Expire(ctx, stateKey(id), c.ttl)
	pipe.GeoAdd(ctx, "fleet:geo", &redis.GeoLocation{
		Name:      string(id),
		Longitude: s.Lon,
		Latitude:  s.Lat,
	})
	pipe.Publish(ctx, channel(id), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// SubscribeAll feeds every published position into the hub until ctx is
// cancelled. The pattern subscription covers transports that enter the
// catalog after startup. Run it in its own goroutine per hub.
func (c *RedisCache) SubscribeAll(ctx context.Context, hub *Hub) {
	sub := c.client.PSubscribe(ctx, "transport:*:position")
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			id, ok := transportFromChannel(msg.Channel)
			if !ok {
				continue
			}
			hub.Broadcast(id, Message{Type: "position", Data: json.RawMessage(msg.Payload)})
		}
	}
}

// transportFromChannel recovers the transport id from a position channel
// name, the inverse of channel.
func transportFromChannel(ch string) (domain.TransportID, bool) {
	rest, ok := strings.CutPrefix(ch, "transport:")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, ":position")
	if !ok || id == "" {
		return "", false
	}
	return domain.TransportID(id), true
}
