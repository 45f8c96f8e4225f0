// Package ledger records which stages of which runs have already had their
// side effect performed, so a redelivered stage message can skip a second
// email send.
//
// The ledger narrows the duplicate window of at-least-once delivery; it
// does not close it. A crash between the side effect and Record still
// repeats the side effect on redelivery.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "autochain:stage:"

	// DefaultTTL bounds how long a completed stage is remembered.
	DefaultTTL = 7 * 24 * time.Hour
)

// Redis is a stage ledger stored in Redis.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a ledger on client. ttl <= 0 selects DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Dial connects to a Redis server at addr and verifies it responds.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func key(runID string, stage int) string {
	return keyPrefix + runID + ":" + strconv.Itoa(stage)
}

// Seen reports whether stage of runID was recorded as done.
func (l *Redis) Seen(ctx context.Context, runID string, stage int) (bool, error) {
	_, err := l.client.Get(ctx, key(runID, stage)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	return true, nil
}

// Record marks stage of runID as done.
func (l *Redis) Record(ctx context.Context, runID string, stage int) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	if err := l.client.Set(ctx, key(runID, stage), stamp, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Nop never reports a stage as seen.
type Nop struct{}

// Seen always returns false.
func (Nop) Seen(context.Context, string, int) (bool, error) { return false, nil }

// Record does nothing.
func (Nop) Record(context.Context, string, int) error { return nil }
