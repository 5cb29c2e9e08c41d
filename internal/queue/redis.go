package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// claimScript moves up to ARGV[2] due members from the ready set to the
// processing set and bumps each job's attempt counter. Running it as one
// script guarantees a member is handed to exactly one caller.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local claimed = {}
for _, id in ipairs(ids) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('ZADD', KEYS[2], ARGV[1], id)
    redis.call('HINCRBY', ARGV[3] .. id, 'attempt', 1)
    redis.call('HSET', ARGV[3] .. id, 'claimed_at', ARGV[1])
    table.insert(claimed, id)
  end
end
return claimed
`)

// releaseScript moves a member out of the processing set into KEYS[2] with
// score ARGV[2]. It returns 0 when the member was not being processed.
var releaseScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[3], 'last_error', ARGV[3], ARGV[4], ARGV[2])
return 1
`)

// requeueScript moves processing members claimed at or before ARGV[1] back
// to the ready set, runnable at ARGV[2].
var requeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], ARGV[2], id)
end
return #ids
`)

// RedisQueue is a Queue backed by Redis. Each job is a hash; the ready,
// processing and dead sets hold job ids.
type RedisQueue struct {
	client goredis.UniversalClient
	name   string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue creates a queue named name on client. The caller owns the
// client lifecycle.
func NewRedisQueue(client goredis.UniversalClient, name string) *RedisQueue {
	if name == "" {
		name = "send-message"
	}
	return &RedisQueue{client: client, name: name}
}

// Name returns the queue name.
func (q *RedisQueue) Name() string { return q.name }

// Enqueue stores the job hash and adds it to the ready set. The existence
// check and the writes run in one optimistic transaction on the job key.
func (q *RedisQueue) Enqueue(ctx context.Context, j *Job) error {
	key := jobKey(j.ID)
	err := q.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateJob
		}
		fields, err := jobToMap(j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.ZAdd(ctx, readyKey(q.name), goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, ErrDuplicateJob) {
		return err
	}
	if errors.Is(err, goredis.TxFailedErr) {
		return ErrDuplicateJob
	}
	if err != nil {
		return fmt.Errorf("queue/redis: enqueue %s: %w", j.ID, err)
	}
	return nil
}

// Dequeue claims up to limit due jobs.
func (q *RedisQueue) Dequeue(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC().UnixMilli()
	ids, err := claimScript.Run(ctx, q.client,
		[]string{readyKey(q.name), processingKey(q.name)},
		now, limit, jobKeyPrefix,
	).StringSlice()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("queue/redis: dequeue: %w", err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// Hash vanished under us; drop the dangling member.
			q.client.ZRem(ctx, processingKey(q.name), id)
			continue
		}
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Ack removes the job hash and every set membership.
func (q *RedisQueue) Ack(ctx context.Context, j *Job) error {
	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, processingKey(q.name), j.ID)
		pipe.ZRem(ctx, readyKey(q.name), j.ID)
		pipe.Del(ctx, jobKey(j.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue/redis: ack %s: %w", j.ID, err)
	}
	return nil
}

// Retry moves a claimed job back to the ready set at runAt.
func (q *RedisQueue) Retry(ctx context.Context, j *Job, runAt time.Time, reason string) error {
	if err := q.release(ctx, j, readyKey(q.name), "run_at", runAt, reason); err != nil {
		return err
	}
	j.RunAt = runAt
	j.LastError = reason
	return nil
}

// DeadLetter moves a claimed job to the dead set.
func (q *RedisQueue) DeadLetter(ctx context.Context, j *Job, reason string) error {
	now := time.Now().UTC()
	if err := q.release(ctx, j, deadKey(q.name), "dead_at", now, reason); err != nil {
		return err
	}
	j.DeadAt = now
	j.LastError = reason
	return nil
}

func (q *RedisQueue) release(ctx context.Context, j *Job, dest, field string, at time.Time, reason string) error {
	ok, err := releaseScript.Run(ctx, q.client,
		[]string{processingKey(q.name), dest, jobKey(j.ID)},
		j.ID, at.UnixMilli(), reason, field,
	).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: release %s: %w", j.ID, err)
	}
	if ok == 0 {
		return ErrClaimLost
	}
	return nil
}

// Exists reports whether the job hash is present.
func (q *RedisQueue) Exists(ctx context.Context, id string) (bool, error) {
	n, err := q.client.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("queue/redis: exists %s: %w", id, err)
	}
	return n > 0, nil
}

// ListDead returns dead-lettered jobs, most recent first.
func (q *RedisQueue) ListDead(ctx context.Context, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := q.client.ZRevRange(ctx, deadKey(q.name), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: list dead: %w", err)
	}
	out := make([]*Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// RequeueStale returns long-claimed jobs to the ready set.
func (q *RedisQueue) RequeueStale(ctx context.Context, visibility time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-visibility).UnixMilli()
	n, err := requeueScript.Run(ctx, q.client,
		[]string{processingKey(q.name), readyKey(q.name)},
		cutoff, now.UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: requeue stale: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) get(ctx context.Context, id string) (*Job, error) {
	vals, err := q.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: get job %s: %w", id, err)
	}
	if len(vals) == 0 {
		return nil, ErrJobNotFound
	}
	return mapToJob(vals)
}

// ── helpers ──

func jobToMap(j *Job) (map[string]any, error) {
	payload, err := j.MarshalPayload()
	if err != nil {
		return nil, err
	}
	opts, err := json.Marshal(j.Options())
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":         j.ID,
		"payload":    string(payload),
		"options":    string(opts),
		"attempt":    strconv.Itoa(j.Attempt),
		"run_at":     strconv.FormatInt(j.RunAt.UnixMilli(), 10),
		"created_at": strconv.FormatInt(j.CreatedAt.UnixMilli(), 10),
		"last_error": j.LastError,
	}, nil
}

func mapToJob(m map[string]string) (*Job, error) {
	var p Payload
	if err := json.Unmarshal([]byte(m["payload"]), &p); err != nil {
		return nil, fmt.Errorf("queue/redis: parse payload: %w", err)
	}
	var o Options
	if err := json.Unmarshal([]byte(m["options"]), &o); err != nil {
		return nil, fmt.Errorf("queue/redis: parse options: %w", err)
	}
	attempt, _ := strconv.Atoi(m["attempt"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &Job{
		ID:          m["id"],
		DeliveryID:  p.DeliveryID,
		Attempt:     attempt,
		MaxAttempts: o.Attempts,
		Backoff:     o.Backoff,
		RunAt:       msTime(m["run_at"]),
		LastError:   m["last_error"],
		CreatedAt:   msTime(m["created_at"]),
		ClaimedAt:   msTime(m["claimed_at"]),
		DeadAt:      msTime(m["dead_at"]),
	}, nil
}

func msTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
