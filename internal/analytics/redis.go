// Package analytics keeps per-job fire counters in Redis, bucketed by time
// window and expired after a retention period.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/cronstore/internal/domain"
)

type RedisSink struct {
	client redis.Cmdable
}

func NewRedisSink(client redis.Cmdable) *RedisSink {
	return &RedisSink{client: client}
}

// Write counts one firing in the bucket holding its scheduled fire time.
func (s *RedisSink) Write(ctx context.Context, bundle domain.FireBundle, config domain.AnalyticsConfig) error {
	if !config.Enabled {
		return nil
	}

	at := bundle.FireTime
	if bundle.ScheduledFireTime != nil {
		at = *bundle.ScheduledFireTime
	}
	key := buildKey(bundle.Job.Key, config.Type, at, config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, config.Retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Count returns the fires recorded for job in the bucket containing at.
// A missing bucket counts as zero.
func (s *RedisSink) Count(ctx context.Context, job domain.JobKey, config domain.AnalyticsConfig, at time.Time) (int64, error) {
	n, err := s.client.Get(ctx, buildKey(job, config.Type, at, config.Window)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func buildKey(job domain.JobKey, typ domain.AnalyticsType, t time.Time, window time.Duration) string {
	bucket := truncateToBucket(t, window)
	return fmt.Sprintf("cronstore:j:%s:%s:%s", job, typ, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
