// Package queue is the redis-backed hand-off between the API and the worker
// for asynchronous jobs (export builds, thumbnail generation). Redis only
// carries job references; all state of record lives in Postgres.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job kinds the worker understands.
const (
	KindExport    = "export"
	KindThumbnail = "thumbnail"
)

// Job references a Postgres row the worker should process.
type Job struct {
	Kind string
	ID   string
}

func (j Job) member() string {
	return j.Kind + "|" + j.ID
}

func parseMember(m string) (Job, error) {
	kind, id, ok := strings.Cut(m, "|")
	if !ok || kind == "" || id == "" {
		return Job{}, fmt.Errorf("malformed queue member %q", m)
	}
	return Job{Kind: kind, ID: id}, nil
}

// JobQueue coordinates the ready list, the in-flight lease set, and the DLQ.
type JobQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	dlqKey        string
	attemptsKey   string
	visibilityTTL time.Duration
}

// New builds a queue on the given client with a visibility timeout for leases.
func New(client *redis.Client, visibility time.Duration) *JobQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &JobQueue{
		client:        client,
		readyKey:      "jobs:ready",
		inflightKey:   "jobs:inflight",
		dlqKey:        "jobs:dlq",
		attemptsKey:   "jobs:attempts",
		visibilityTTL: visibility,
	}
}

// Enqueue appends a job to the ready list.
func (q *JobQueue) Enqueue(ctx context.Context, job Job) error {
	if job.Kind == "" || job.ID == "" {
		return errors.New("job kind and id are required")
	}
	return q.client.RPush(ctx, q.readyKey, job.member()).Err()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

// DequeueWithLease pops the next ready job and places it in-flight with a
// visibility deadline. Returns a zero Job when the queue is empty.
func (q *JobQueue) DequeueWithLease(ctx context.Context) (Job, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, nil
	}
	if err != nil {
		return Job{}, err
	}
	member, ok := res.(string)
	if !ok {
		return Job{}, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return parseMember(member)
}

// Ack removes a finished job from in-flight tracking and clears its attempts.
func (q *JobQueue) Ack(ctx context.Context, job Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, job.member())
	pipe.HDel(ctx, q.attemptsKey, job.member())
	_, err := pipe.Exec(ctx)
	return err
}

// Retry re-queues a failed job and returns its attempt count so the worker
// can decide whether to dead-letter instead.
func (q *JobQueue) Retry(ctx context.Context, job Job) (int, error) {
	attempts, err := q.client.HIncrBy(ctx, q.attemptsKey, job.member(), 1).Result()
	if err != nil {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, job.member())
	pipe.RPush(ctx, q.readyKey, job.member())
	if _, err := pipe.Exec(ctx); err != nil {
		return int(attempts), err
	}
	return int(attempts), nil
}

// Attempts reports how many times a job has been retried so far.
func (q *JobQueue) Attempts(ctx context.Context, job Job) (int, error) {
	v, err := q.client.HGet(ctx, q.attemptsKey, job.member()).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse attempts for %s: %w", job.member(), err)
	}
	return n, nil
}

// RequeueExpired reclaims leases whose visibility deadline passed.
func (q *JobQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]Job, error) {
	members, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, m := range members {
		pipe.ZRem(ctx, q.inflightKey, m)
		pipe.RPush(ctx, q.readyKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	jobs := make([]Job, 0, len(members))
	for _, m := range members {
		job, err := parseMember(m)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// DLQPush parks a job for operator inspection, dropping it from in-flight.
func (q *JobQueue) DLQPush(ctx context.Context, job Job) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, job.member())
	pipe.HDel(ctx, q.attemptsKey, job.member())
	pipe.RPush(ctx, q.dlqKey, job.member())
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPeek reads up to count dead-lettered jobs without removing them.
func (q *JobQueue) DLQPeek(ctx context.Context, count int64) ([]Job, error) {
	members, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(members))
	for _, m := range members {
		job, err := parseMember(m)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ReadyDepth returns the current ready list length.
func (q *JobQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}
