package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailengine/internal/domain"
)

// =============================================================================
// BULK QUEUE — Redis-backed delayed job queue
// =============================================================================
// Layout under <prefix>:bulk:
//   jobs      hash   id -> job JSON
//   priority  hash   id -> priority (lower first)
//   delayed   zset   id -> due time (unix ms)
//   active    zset   id -> lease deadline (unix ms)
//   dead      list   job JSON, newest first
//   completed string counter
//   done:<id> string idempotency marker, set by the processor
// A job lives in exactly one of delayed or active until it is acked or
// dead-lettered.

// claimScanLimit bounds how many due jobs Claim inspects for priority.
const claimScanLimit = 100

const claimLuaScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, tonumber(ARGV[3]))
if #ids == 0 then
    return false
end
local best = ids[1]
local bestPri = tonumber(redis.call("HGET", KEYS[3], best) or "0")
for i = 2, #ids do
    local p = tonumber(redis.call("HGET", KEYS[3], ids[i]) or "0")
    if p < bestPri then
        best = ids[i]
        bestPri = p
    end
end
redis.call("ZREM", KEYS[1], best)
local body = redis.call("HGET", KEYS[4], best)
if not body then
    redis.call("HDEL", KEYS[3], best)
    return {best, ""}
end
redis.call("ZADD", KEYS[2], ARGV[2], best)
return {best, body}
`

// ErrQueueEmpty is returned by Claim when no job is due.
var ErrQueueEmpty = errors.New("no job due")

// BulkQueue stores bulk jobs in Redis.
type BulkQueue struct {
	redis       redis.UniversalClient
	prefix      string
	claimScript *redis.Script
}

// NewBulkQueue creates a queue with keys under prefix.
func NewBulkQueue(client redis.UniversalClient, prefix string) *BulkQueue {
	if prefix == "" {
		prefix = "mailengine"
	}
	return &BulkQueue{
		redis:       client,
		prefix:      prefix + ":bulk",
		claimScript: redis.NewScript(claimLuaScript),
	}
}

// Key returns the full Redis key for a queue structure or per-job suffix.
func (q *BulkQueue) Key(name string) string { return q.prefix + ":" + name }

// Enqueue stores job and schedules it at now+Options.Delay.
func (q *BulkQueue) Enqueue(ctx context.Context, job *domain.BulkTestJob, now time.Time) error {
	if job.ID == "" {
		return errors.New("job has no id")
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	due := now.Add(time.Duration(job.Options.Delay) * time.Millisecond)
	return q.schedule(ctx, job, due, false)
}

// EnqueueAll enqueues jobs in one pipeline.
func (q *BulkQueue) EnqueueAll(ctx context.Context, jobs []domain.BulkTestJob, now time.Time) error {
	pipe := q.redis.TxPipeline()
	for i := range jobs {
		job := &jobs[i]
		if job.ID == "" {
			return fmt.Errorf("job %d has no id", i)
		}
		if job.EnqueuedAt.IsZero() {
			job.EnqueuedAt = now
		}
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job %s: %w", job.ID, err)
		}
		due := now.Add(time.Duration(job.Options.Delay) * time.Millisecond)
		pipe.HSet(ctx, q.Key("jobs"), job.ID, data)
		pipe.HSet(ctx, q.Key("priority"), job.ID, job.Options.Priority)
		pipe.ZAdd(ctx, q.Key("delayed"), redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %d jobs: %w", len(jobs), err)
	}
	return nil
}

// Requeue writes job back and schedules it at due, releasing its lease.
func (q *BulkQueue) Requeue(ctx context.Context, job *domain.BulkTestJob, due time.Time) error {
	return q.schedule(ctx, job, due, true)
}

func (q *BulkQueue) schedule(ctx context.Context, job *domain.BulkTestJob, due time.Time, fromActive bool) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.redis.TxPipeline()
	if fromActive {
		pipe.ZRem(ctx, q.Key("active"), job.ID)
	}
	pipe.HSet(ctx, q.Key("jobs"), job.ID, data)
	pipe.HSet(ctx, q.Key("priority"), job.ID, job.Options.Priority)
	pipe.ZAdd(ctx, q.Key("delayed"), redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	return nil
}

// Claim moves the highest-priority due job to the active set with a lease
// ending at now+lease. It returns ErrQueueEmpty when nothing is due.
func (q *BulkQueue) Claim(ctx context.Context, now time.Time, lease time.Duration) (*domain.BulkTestJob, error) {
	for {
		res, err := q.claimScript.Run(ctx, q.redis,
			[]string{q.Key("delayed"), q.Key("active"), q.Key("priority"), q.Key("jobs")},
			now.UnixMilli(),
			now.Add(lease).UnixMilli(),
			claimScanLimit,
		).Slice()
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		if err != nil {
			return nil, fmt.Errorf("claim: %w", err)
		}
		if len(res) < 2 {
			return nil, fmt.Errorf("claim: unexpected reply %v", res)
		}
		body, _ := res[1].(string)
		if body == "" {
			// orphaned id without a body; already dropped by the script
			continue
		}
		var job domain.BulkTestJob
		if err := json.Unmarshal([]byte(body), &job); err != nil {
			return nil, fmt.Errorf("decode job %v: %w", res[0], err)
		}
		return &job, nil
	}
}

// Ack removes a completed job.
func (q *BulkQueue) Ack(ctx context.Context, job *domain.BulkTestJob) error {
	pipe := q.redis.TxPipeline()
	pipe.ZRem(ctx, q.Key("active"), job.ID)
	pipe.HDel(ctx, q.Key("jobs"), job.ID)
	pipe.HDel(ctx, q.Key("priority"), job.ID)
	pipe.Incr(ctx, q.Key("completed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack job %s: %w", job.ID, err)
	}
	return nil
}

// Fail moves job to the dead-letter list.
func (q *BulkQueue) Fail(ctx context.Context, job *domain.BulkTestJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	pipe := q.redis.TxPipeline()
	pipe.ZRem(ctx, q.Key("active"), job.ID)
	pipe.ZRem(ctx, q.Key("delayed"), job.ID)
	pipe.HDel(ctx, q.Key("jobs"), job.ID)
	pipe.HDel(ctx, q.Key("priority"), job.ID)
	pipe.LPush(ctx, q.Key("dead"), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	}
	return nil
}

// ExpiredLeases returns ids of active jobs whose lease ended before now.
func (q *BulkQueue) ExpiredLeases(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return q.redis.ZRangeByScore(ctx, q.Key("active"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
}

// TakeExpired removes id from the active set if its lease is still the
// expired one, and returns the job. A nil job means another worker got it.
func (q *BulkQueue) TakeExpired(ctx context.Context, id string) (*domain.BulkTestJob, error) {
	removed, err := q.redis.ZRem(ctx, q.Key("active"), id).Result()
	if err != nil {
		return nil, fmt.Errorf("take %s: %w", id, err)
	}
	if removed == 0 {
		return nil, nil
	}
	body, err := q.redis.HGet(ctx, q.Key("jobs"), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	var job domain.BulkTestJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// DeadLetters returns up to limit dead-lettered jobs, newest first.
func (q *BulkQueue) DeadLetters(ctx context.Context, limit int64) ([]domain.BulkTestJob, error) {
	items, err := q.redis.LRange(ctx, q.Key("dead"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.BulkTestJob, 0, len(items))
	for _, item := range items {
		var job domain.BulkTestJob
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// Stats counts jobs in each state.
func (q *BulkQueue) Stats(ctx context.Context) (domain.QueueStats, error) {
	pipe := q.redis.Pipeline()
	delayed := pipe.ZCard(ctx, q.Key("delayed"))
	active := pipe.ZCard(ctx, q.Key("active"))
	dead := pipe.LLen(ctx, q.Key("dead"))
	completed := pipe.Get(ctx, q.Key("completed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	done, _ := completed.Int64()
	return domain.QueueStats{
		Delayed:    delayed.Val(),
		Active:     active.Val(),
		DeadLetter: dead.Val(),
		Completed:  done,
	}, nil
}
