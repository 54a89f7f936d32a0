package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/signals"
)

const detailKeyPrefix = "detail:"

// DetailKey is the Redis key of a cached retrieve response.
func DetailKey(resource string, id int64) string {
	return detailKeyPrefix + resource + ":" + strconv.FormatInt(id, 10)
}

// detailGenTTL bounds how long an invalidation generation is remembered. It
// must outlive any single retrieve.
const detailGenTTL = time.Hour

func detailGenKey(resource string, id int64) string {
	return DetailKey(resource, id) + ":gen"
}

// setDetailScript stores a body only while the generation still matches the
// one read before the row was loaded.
var setDetailScript = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// GetDetail returns a cached retrieve body or ErrCacheMiss. On a miss gen is
// the invalidation generation SetDetail must be given.
func (c *Cache) GetDetail(ctx context.Context, resource string, id int64) (body []byte, gen int64, err error) {
	vals, err := c.client.MGet(ctx, DetailKey(resource, id), detailGenKey(resource, id)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis mget failed: %w", err)
	}
	if s, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("invalid detail generation %q: %w", s, err)
		}
	}
	s, ok := vals[0].(string)
	if !ok {
		return nil, gen, ErrCacheMiss
	}
	return []byte(s), gen, nil
}

// SetDetail caches a retrieve body unless the resource was invalidated since
// gen was read. A skipped write is not an error.
func (c *Cache) SetDetail(ctx context.Context, resource string, id, gen int64, body []byte, ttl time.Duration) error {
	keys := []string{DetailKey(resource, id), detailGenKey(resource, id)}
	err := setDetailScript.Run(ctx, c.client, keys, strconv.FormatInt(gen, 10), body, ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis set detail failed: %w", err)
	}
	return nil
}

// DeleteDetail removes cached bodies for the given ids and advances their
// generations so in-flight retrieves do not write stale bodies back.
func (c *Cache) DeleteDetail(ctx context.Context, resource string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, DetailKey(resource, id))
			pipe.Incr(ctx, detailGenKey(resource, id))
			pipe.Expire(ctx, detailGenKey(resource, id), detailGenTTL)
		}
		return nil
	})
	return err
}

// DetailInvalidator is the subset of Cache used by the invalidation receiver.
type DetailInvalidator interface {
	DeleteDetail(ctx context.Context, resource string, ids ...int64) error
}

// InvalidationReceiver drops cached detail responses touched by an event.
// Comment changes also drop the parent blog, whose body embeds comments, and
// a deleted blog drops the comments removed with it.
func InvalidationReceiver(c DetailInvalidator) signals.Receiver {
	return func(ctx context.Context, ev signals.Event) error {
		if err := c.DeleteDetail(ctx, ev.Sender, ev.ID); err != nil {
			return err
		}

		switch inst := ev.Instance.(type) {
		case *model.Comment:
			blogs := []int64{inst.BlogID}
			if prev, ok := ev.Previous.(*model.Comment); ok && prev.BlogID != inst.BlogID {
				blogs = append(blogs, prev.BlogID)
			}
			return c.DeleteDetail(ctx, model.ResourceBlog, blogs...)

		case *model.Blog:
			if ev.Signal != signals.PostDelete || len(inst.Comments) == 0 {
				return nil
			}
			ids := make([]int64, len(inst.Comments))
			for i, cm := range inst.Comments {
				ids[i] = cm.ID
			}
			return c.DeleteDetail(ctx, model.ResourceComment, ids...)
		}
		return nil
	}
}
