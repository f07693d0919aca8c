package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	recentPlaysKey        = "recent:%d"   // List: track IDs, most recent play first
	recentPlaysVersionKey = "recent:%d:v" // String: bumped by every write to the list
	recentPlaysTTL        = 24 * time.Hour
)

// errStaleFill aborts a fill whose database read raced a write.
var errStaleFill = errors.New("recent plays changed during fill")

// RecentPlayCache keeps each user's latest play events in a Redis list so the
// recently-played view skips the history table on the hot path. Every write
// bumps a version; a fill only lands if the version it read before querying
// the database is still current.
type RecentPlayCache struct {
	client *redis.Client
	window int64
}

// NewRecentPlayCache creates a cache retaining the last window events per user.
func NewRecentPlayCache(client *redis.Client, window int) *RecentPlayCache {
	return &RecentPlayCache{client: client, window: int64(window)}
}

func (c *RecentPlayCache) key(userID int64) string {
	return fmt.Sprintf(recentPlaysKey, userID)
}

func (c *RecentPlayCache) versionKey(userID int64) string {
	return fmt.Sprintf(recentPlaysVersionKey, userID)
}

// Version returns the current write version of userID's list. Read it before
// loading the database rows passed to Fill.
func (c *RecentPlayCache) Version(ctx context.Context, userID int64) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("Redis client not initialized")
	}
	v, err := c.client.Get(ctx, c.versionKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read recent plays version: %w", err)
	}
	return v, nil
}

// Push prepends a play to an already cached list. A cold key stays cold; the
// next read fills it from the database.
func (c *RecentPlayCache) Push(ctx context.Context, userID int64, trackID string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key := c.key(userID)
	pipe := c.client.TxPipeline()
	c.bump(ctx, pipe, userID)
	pipe.LPushX(ctx, key, trackID)
	pipe.LTrim(ctx, key, 0, c.window-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the cached track IDs. ok is false on a miss.
func (c *RecentPlayCache) Get(ctx context.Context, userID int64) (ids []string, ok bool, err error) {
	if c.client == nil {
		return nil, false, fmt.Errorf("Redis client not initialized")
	}

	ids, err = c.client.LRange(ctx, c.key(userID), 0, c.window-1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read recent plays: %w", err)
	}
	if len(ids) == 0 {
		return nil, false, nil
	}
	return ids, true, nil
}

// Fill replaces the cached list with ids, most recent first, unless a write
// happened since version was read. A skipped fill is not an error; the next
// read loads the database again.
func (c *RecentPlayCache) Fill(ctx context.Context, userID int64, ids []string, version string) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	key, vkey := c.key(userID), c.versionKey(userID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vkey).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != version {
			return errStaleFill
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(ids) > 0 {
				values := make([]interface{}, len(ids))
				for i, id := range ids {
					values[i] = id
				}
				pipe.RPush(ctx, key, values...)
				pipe.Expire(ctx, key, recentPlaysTTL)
			}
			return nil
		})
		return err
	}, vkey)
	if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate drops the cached list of userID.
func (c *RecentPlayCache) Invalidate(ctx context.Context, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	pipe := c.client.TxPipeline()
	c.bump(ctx, pipe, userID)
	pipe.Del(ctx, c.key(userID))
	_, err := pipe.Exec(ctx)
	return err
}

// bump outlives the list so a fill never sees a recycled version.
func (c *RecentPlayCache) bump(ctx context.Context, pipe redis.Pipeliner, userID int64) {
	vkey := c.versionKey(userID)
	pipe.Incr(ctx, vkey)
	pipe.Expire(ctx, vkey, 2*recentPlaysTTL)
}
