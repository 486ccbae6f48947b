package session

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"churnpilot/internal/logger"
	"churnpilot/pkg"
)

type sessionRecord struct {
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// RedisRegistry keeps session tokens in Redis with a native idle TTL, so
// eviction works across process restarts and replicas.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisRegistry(ctx context.Context, redisURL string, ttl time.Duration) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func (r *RedisRegistry) Resolve(ctx context.Context, token string) (string, error) {
	now := time.Now().UTC()

	if token != "" {
		// GETEX both checks liveness and refreshes the idle timer.
		raw, err := r.client.GetEx(ctx, sessionKey(token), r.ttl).Result()
		if err == nil {
			var record sessionRecord
			if err := sonic.UnmarshalString(raw, &record); err == nil {
				record.LastSeen = now
				if data, err := sonic.MarshalString(record); err == nil {
					r.client.Set(ctx, sessionKey(token), data, r.ttl)
				}
				return token, nil
			}
		} else if err != redis.Nil {
			return "", fmt.Errorf("failed to look up session: %w", err)
		}
	}

	token = NewToken()
	data, err := sonic.MarshalString(sessionRecord{CreatedAt: now, LastSeen: now})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(token), data, r.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	logger.Debug().Str("session_id", token).Msg("session created")
	return token, nil
}

func activityKey(token string) string {
	return fmt.Sprintf("session:%s:activity", token)
}

func (r *RedisRegistry) RecordActivity(ctx context.Context, token string, events []pkg.ToolEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Skip sessions that no longer exist so activity keys cannot outlive
	// their session.
	exists, err := r.client.Exists(ctx, sessionKey(token)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return nil
	}

	values := make([]any, 0, len(events))
	for _, event := range events {
		data, err := sonic.MarshalString(event)
		if err != nil {
			return fmt.Errorf("failed to marshal tool event: %w", err)
		}
		values = append(values, data)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, activityKey(token), values...)
	pipe.LTrim(ctx, activityKey(token), -activityWindow, -1)
	pipe.Expire(ctx, activityKey(token), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Activity(ctx context.Context, token string) ([]pkg.ToolEvent, error) {
	raw, err := r.client.LRange(ctx, activityKey(token), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity: %w", err)
	}

	events := make([]pkg.ToolEvent, 0, len(raw))
	for _, item := range raw {
		var event pkg.ToolEvent
		if err := sonic.UnmarshalString(item, &event); err != nil {
			return nil, fmt.Errorf("failed to decode tool event: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, sessionKey(token), activityKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
