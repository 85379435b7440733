package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/billowhq/billow/pkg/errorsx"
	"github.com/billowhq/billow/pkg/logging"
	"github.com/billowhq/billow/pkg/metrics"
	"github.com/billowhq/billow/pkg/resilience"
)

// Task carries only the record id; the worker re-reads current state,
// so redelivering the task itself is safe. Attempt counts deliveries,
// starting at 1.
type Task struct {
	RecordID string `json:"record_id"`
	Attempt  int    `json:"attempt"`
}

type Handler func(ctx context.Context, task Task) error

type Config struct {
	Stream      string
	Group       string
	Consumer    string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Block       time.Duration
}

// Queue is a durable per-message task queue: a Redis stream consumed by
// a consumer group, plus a sorted set holding delayed retries.
type Queue struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
}

func New(rdb *redis.Client, cfg Config) *Queue {
	if cfg.Stream == "" {
		cfg.Stream = "billow:tasks"
	}
	if cfg.Group == "" {
		cfg.Group = "workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	return &Queue{
		rdb:    rdb,
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "queue"),
	}
}

func (q *Queue) retryKey() string { return q.cfg.Stream + ":retry" }

// EnsureGroup creates the consumer group, tolerating an existing one.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{
			"record_id": task.RecordID,
			"attempt":   task.Attempt,
		},
	}).Err()
}

// Consume blocks until ctx is done, delivering tasks to handler one at
// a time per consumer. Handler errors are classified by reason code:
// terminal reasons are discarded, transient ones are redelivered with
// backoff until the attempt cap.
func (q *Queue) Consume(ctx context.Context, handler Handler) {
	q.logger.Info("queue_consume_start", "stream", q.cfg.Stream, "group", q.cfg.Group, "consumer", q.cfg.Consumer)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		q.moveDueRetries(ctx)

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    10,
			Block:    q.cfg.Block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("queue_read_error", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handle(ctx, msg, handler)
			}
		}
	}
}

func (q *Queue) handle(ctx context.Context, msg redis.XMessage, handler Handler) {
	defer q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, msg.ID)

	task := taskFromValues(msg.Values)
	if task.RecordID == "" {
		q.logger.Warn("queue_malformed_entry", "entry_id", msg.ID)
		return
	}

	err := handler(ctx, task)
	if err == nil {
		metrics.TasksProcessed.WithLabelValues("ok").Inc()
		return
	}

	reason := errorsx.Reason(err)
	if !reason.Retryable() {
		metrics.TasksProcessed.WithLabelValues("discarded").Inc()
		q.logger.Info("queue_task_discarded", "record_id", task.RecordID, "reason_code", string(reason), "error", err)
		return
	}
	if task.Attempt >= q.cfg.MaxAttempts {
		metrics.TasksProcessed.WithLabelValues("exhausted").Inc()
		q.logger.Error("queue_task_exhausted", "record_id", task.RecordID, "attempts", task.Attempt, "error", err)
		return
	}
	metrics.TasksProcessed.WithLabelValues("retry").Inc()
	delay := resilience.TaskBackoff(task.Attempt, q.cfg.BackoffBase, q.cfg.BackoffMax)
	if scheduleErr := q.scheduleRetry(ctx, task, delay); scheduleErr != nil {
		q.logger.Error("queue_retry_schedule_error", "record_id", task.RecordID, "error", scheduleErr)
		return
	}
	q.logger.Warn("queue_task_retry_scheduled",
		"record_id", task.RecordID,
		"attempt", task.Attempt,
		"delay_ms", delay.Milliseconds(),
		"reason_code", string(reason),
	)
}

func (q *Queue) scheduleRetry(ctx context.Context, task Task, delay time.Duration) error {
	task.Attempt++
	payload, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.rdb.ZAdd(ctx, q.retryKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: string(payload),
	}).Err()
}

// moveDueRetries promotes delayed retries whose due time has passed
// back onto the stream.
func (q *Queue) moveDueRetries(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.rdb.ZRangeByScore(ctx, q.retryKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil || len(members) == 0 {
		return
	}
	for _, member := range members {
		var task Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			q.rdb.ZRem(ctx, q.retryKey(), member)
			continue
		}
		if err := q.Enqueue(ctx, task); err != nil {
			q.logger.Error("queue_retry_requeue_error", "record_id", task.RecordID, "error", err)
			continue
		}
		q.rdb.ZRem(ctx, q.retryKey(), member)
	}
}

func taskFromValues(values map[string]any) Task {
	task := Task{Attempt: 1}
	if v, ok := values["record_id"].(string); ok {
		task.RecordID = v
	}
	switch v := values["attempt"].(type) {
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			task.Attempt = n
		}
	case int64:
		if v > 0 {
			task.Attempt = int(v)
		}
	}
	return task
}
