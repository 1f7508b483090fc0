package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"memtex-backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps jobs in a hash per id plus wait/active lists, a delayed
// sorted set for backoff, and a failed set for jobs that ran out of attempts.
// A running job holds a lock key that its consumer keeps alive; active jobs
// whose lock expired are moved back to the wait list.
type RedisQueue struct {
	rdb             *redis.Client
	log             *logger.Logger
	prefix          string
	token           string
	concurrency     int
	pollInterval    time.Duration
	lockTTL         time.Duration
	stalledInterval time.Duration
	now             func() time.Time
}

type RedisConfig struct {
	Addr        string
	Password    string
	Name        string
	Concurrency int
}

// enqueueScript registers and pushes a job in one step. A job that is
// waiting, active or delayed is left alone; a completed or failed one is
// reset and queued again.
var enqueueScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'waiting' or state == 'active' or state == 'delayed' then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[3], ARGV[2])
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'state', 'waiting')
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

// claimScript moves the next job to the active list and locks it, so an
// active job is never seen without its lock.
var claimScript = redis.NewScript(`
local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
if not id then
	return false
end
redis.call('SET', ARGV[1] .. id, ARGV[2], 'PX', ARGV[3])
return id
`)

// requeueScript returns a stalled job to the front of the wait list unless
// its lock came back or another consumer already moved it.
var requeueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[3]) == 1 then
	return 0
end
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[4], 'state', 'waiting')
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

func NewRedisQueue(log *logger.Logger, cfg RedisConfig) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return newRedisQueue(log, rdb, cfg.Name, cfg.Concurrency), nil
}

func newRedisQueue(log *logger.Logger, rdb *redis.Client, name string, concurrency int) *RedisQueue {
	if concurrency <= 0 {
		concurrency = 3
	}
	if name == "" {
		name = "memory-queue"
	}
	return &RedisQueue{
		rdb:             rdb,
		log:             log.With("service", "RedisQueue", "queue", name),
		prefix:          "memtex:" + name + ":",
		token:           uuid.NewString(),
		concurrency:     concurrency,
		pollInterval:    500 * time.Millisecond,
		lockTTL:         30 * time.Second,
		stalledInterval: 30 * time.Second,
		now:             time.Now,
	}
}

func (q *RedisQueue) jobKey(id string) string  { return q.prefix + "job:" + id }
func (q *RedisQueue) lockKey(id string) string { return q.lockPrefix() + id }
func (q *RedisQueue) lockPrefix() string       { return q.prefix + "lock:" }
func (q *RedisQueue) waitKey() string          { return q.prefix + "wait" }
func (q *RedisQueue) activeKey() string        { return q.prefix + "active" }
func (q *RedisQueue) delayedKey() string       { return q.prefix + "delayed" }
func (q *RedisQueue) failedKey() string        { return q.prefix + "failed" }

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (bool, error) {
	job = normalize(job)
	raw, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.ID), q.waitKey(), q.failedKey()},
		string(raw), job.ID,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	if added == 0 {
		q.log.Debug("duplicate job ignored", "job_id", job.ID)
		return false, nil
	}
	return true, nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler Handler) error {
	q.log.Info("consuming jobs", "concurrency", q.concurrency)
	if _, err := q.requeueStalled(ctx); err != nil && ctx.Err() == nil {
		q.log.Warn("failed to check stalled jobs", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.watchStalled(ctx)
	}()
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			q.loop(ctx, slot, handler)
		}(i)
	}
	wg.Wait()
	return nil
}

func (q *RedisQueue) loop(ctx context.Context, slot int, handler Handler) {
	for ctx.Err() == nil {
		if err := q.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
			q.log.Warn("failed to promote delayed jobs", "slot", slot, "error", err)
		}

		id, err := claimScript.Run(ctx, q.rdb,
			[]string{q.waitKey(), q.activeKey()},
			q.lockPrefix(), q.token, q.lockTTL.Milliseconds(),
		).Text()
		if errors.Is(err, redis.Nil) {
			q.idle(ctx)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.Warn("failed to claim job", "slot", slot, "error", err)
			q.idle(ctx)
			continue
		}
		q.process(ctx, id, handler)
	}
}

func (q *RedisQueue) idle(ctx context.Context) {
	t := time.NewTimer(q.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (q *RedisQueue) watchStalled(ctx context.Context) {
	ticker := time.NewTicker(q.stalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.requeueStalled(ctx); err != nil && ctx.Err() == nil {
				q.log.Warn("failed to check stalled jobs", "error", err)
			}
		}
	}
}

// requeueStalled moves active jobs whose lock has expired back to the wait
// list. It reports how many jobs were moved.
func (q *RedisQueue) requeueStalled(ctx context.Context) (int, error) {
	ids, err := q.rdb.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, id := range ids {
		n, err := requeueScript.Run(ctx, q.rdb,
			[]string{q.activeKey(), q.waitKey(), q.lockKey(id), q.jobKey(id)},
			id,
		).Int()
		if err != nil {
			return moved, err
		}
		if n == 1 {
			moved++
			q.log.Warn("stalled job requeued", "job_id", id)
		}
	}
	return moved, nil
}

// keepLock extends the job's lock until stop is closed.
func (q *RedisQueue) keepLock(ctx context.Context, id string, stop <-chan struct{}) {
	ticker := time.NewTicker(q.lockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.rdb.PExpire(ctx, q.lockKey(id), q.lockTTL).Err(); err != nil && ctx.Err() == nil {
				q.log.Warn("failed to extend job lock", "job_id", id, "error", err)
			}
		}
	}
}

// promoteDelayed moves jobs whose backoff has elapsed back onto the wait list.
// Only the consumer that wins the ZREM pushes the id.
func (q *RedisQueue) promoteDelayed(ctx context.Context) error {
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range due {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), id).Result()
		if err != nil {
			return err
		}
		if removed == 1 {
			if err := q.rdb.LPush(ctx, q.waitKey(), id).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (q *RedisQueue) process(ctx context.Context, id string, handler Handler) {
	raw, err := q.rdb.HGet(ctx, q.jobKey(id), "data").Result()
	if err != nil {
		q.log.Error("job data missing, dropping", "job_id", id, "error", err)
		q.rdb.LRem(ctx, q.activeKey(), 1, id)
		q.rdb.Del(ctx, q.lockKey(id))
		return
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.log.Error("job data corrupt, dropping", "job_id", id, "error", err)
		q.rdb.LRem(ctx, q.activeKey(), 1, id)
		q.rdb.Del(ctx, q.lockKey(id))
		return
	}
	attempt, err := q.rdb.HIncrBy(ctx, q.jobKey(id), "attempts", 1).Result()
	if err != nil {
		q.log.Warn("failed to count attempt", "job_id", id, "error", err)
		attempt = int64(job.Attempt + 1)
	}
	job.Attempt = int(attempt)
	q.rdb.HSet(ctx, q.jobKey(id), "state", "active")

	stop := make(chan struct{})
	go q.keepLock(ctx, id, stop)
	herr := handler(ctx, job)
	close(stop)

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, id)
	pipe.Del(ctx, q.lockKey(id))
	switch {
	case herr == nil:
		if job.Opts.RemoveOnComplete {
			pipe.Del(ctx, q.jobKey(id))
		} else {
			pipe.HSet(ctx, q.jobKey(id), "state", "completed")
		}
	case job.Attempt < job.Opts.Attempts:
		delay := BackoffFor(job.Opts, job.Attempt)
		pipe.HSet(ctx, q.jobKey(id), "state", "delayed", "last_error", herr.Error())
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(q.now().Add(delay).UnixMilli()),
			Member: id,
		})
		q.log.Warn("job failed, retrying", "job_id", id, "attempt", job.Attempt, "delay", delay, "error", herr)
	default:
		if job.Opts.RemoveOnFail {
			pipe.Del(ctx, q.jobKey(id))
		} else {
			pipe.HSet(ctx, q.jobKey(id), "state", "failed", "last_error", herr.Error())
			pipe.SAdd(ctx, q.failedKey(), id)
		}
		q.log.Error("job failed permanently", "job_id", id, "attempts", job.Attempt, "error", herr)
	}
	// Bookkeeping must land even when the consumer is shutting down.
	if _, err := pipe.Exec(context.WithoutCancel(ctx)); err != nil {
		q.log.Error("failed to record job outcome", "job_id", id, "error", err)
	}
}

// Failed lists ids of jobs kept after exhausting their attempts.
func (q *RedisQueue) Failed(ctx context.Context) ([]string, error) {
	return q.rdb.SMembers(ctx, q.failedKey()).Result()
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
