package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	redisc "github.com/slidecraft/server/internal/pkg/redis"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrNotCancellable  = errors.New("task already finished")
	errConcurrentWrite = errors.New("task was modified concurrently")
)

// Task is a unit of background work stored in Redis.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Status    TaskStatus      `json:"status"`
	Progress  json.RawMessage `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	DedupKey  string          `json:"dedup_key,omitempty"`
	GroupKey  string          `json:"group_key,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DecodePayload unmarshals the task payload into v.
func (t *Task) DecodePayload(v interface{}) error {
	return json.Unmarshal(t.Payload, v)
}

// DefaultTTL is how long task records live after their last update.
const DefaultTTL = 7 * 24 * time.Hour

// sorted set: score=created_at, member=task_id
var keyIndex = redisc.Key("tasks", "index")

func taskKey(id string) string { return redisc.Key("task", id) }

// dedupKey names the hash mapping dedup_key -> task_id for one task type.
func dedupKey(taskType string) string { return redisc.Key("tasks", "dedup", taskType) }

// groupIndex is the per-group sorted set, same layout as keyIndex.
func groupIndex(group string) string { return redisc.Key("tasks", "group", group) }

// ListFilter narrows List results. Empty fields match everything.
type ListFilter struct {
	Page   int
	Size   int
	Type   string
	Status TaskStatus
	Group  string
}

// Service manages the Redis-backed task queue.
type Service struct {
	rc  *redisc.Client
	ttl time.Duration
}

func NewService(rc *redisc.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{rc: rc, ttl: ttl}
}

// Enqueue creates a new task. When dedupKey matches a task that has not
// finished yet, that task is returned with created=false. The dedup slot is
// claimed under WATCH so concurrent callers agree on a single task.
func (s *Service) Enqueue(ctx context.Context, taskType string, payload interface{}, dedup, group string) (*Task, bool, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, false, err
	}

	now := time.Now()
	task := &Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   payloadBytes,
		Status:    TaskPending,
		DedupKey:  dedup,
		GroupKey:  group,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, false, err
	}

	score := float64(task.CreatedAt.UnixMilli())
	write := func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, taskKey(task.ID), data, s.ttl)
		pipe.ZAdd(ctx, keyIndex, redis.Z{Score: score, Member: task.ID})
		if group != "" {
			pipe.ZAdd(ctx, groupIndex(group), redis.Z{Score: score, Member: task.ID})
		}
		if dedup != "" {
			pipe.HSet(ctx, dedupKey(taskType), dedup, task.ID)
			pipe.Expire(ctx, dedupKey(taskType), s.ttl)
		}
		return nil
	}

	rdb := s.rc.Raw()
	if dedup == "" {
		if _, err := rdb.TxPipelined(ctx, write); err != nil {
			return nil, false, err
		}
		return task, true, nil
	}

	var running *Task
	txf := func(tx *redis.Tx) error {
		running = nil
		existing, err := tx.HGet(ctx, dedupKey(taskType), dedup).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if existing != "" {
			t, err := s.GetByID(ctx, existing)
			if err != nil {
				return err
			}
			if t != nil && !t.Status.Terminal() {
				running = t
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, write)
		return err
	}

	for attempt := 0; attempt < 10; attempt++ {
		err := rdb.Watch(ctx, txf, dedupKey(taskType))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if running != nil {
			return running, false, nil
		}
		return task, true, nil
	}
	return nil, false, errConcurrentWrite
}

// GetByID retrieves a task by its ID. A missing task yields (nil, nil).
func (s *Service) GetByID(ctx context.Context, id string) (*Task, error) {
	data, err := s.rc.Raw().Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Update applies fn to the stored task under an optimistic lock.
func (s *Service) Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error) {
	var out *Task
	key := taskKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if err := fn(&task); err != nil {
			return err
		}
		task.UpdatedAt = time.Now()
		encoded, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			if task.Status.Terminal() && task.DedupKey != "" {
				pipe.HDel(ctx, dedupKey(task.Type), task.DedupKey)
			}
			return nil
		})
		out = &task
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.rc.Raw().Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, errConcurrentWrite
}

// UpdateStatus sets a task's status and optional result/error.
func (s *Service) UpdateStatus(ctx context.Context, id string, status TaskStatus, result interface{}, errMsg string) error {
	var encoded json.RawMessage
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return err
		}
		encoded = b
	}
	_, err := s.Update(ctx, id, func(t *Task) error {
		t.Status = status
		t.Error = errMsg
		if encoded != nil {
			t.Result = encoded
		}
		return nil
	})
	return err
}

// SetProgress replaces the progress snapshot without touching status.
func (s *Service) SetProgress(ctx context.Context, id string, progress interface{}) error {
	b, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	_, err = s.Update(ctx, id, func(t *Task) error {
		t.Progress = b
		return nil
	})
	return err
}

// List returns tasks matching the filter, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Task, int64, error) {
	index := keyIndex
	if f.Group != "" {
		index = groupIndex(f.Group)
	}
	ids, err := s.rc.Raw().ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, 0, err
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := s.GetByID(ctx, id)
		if err != nil || task == nil {
			continue
		}
		if f.Type != "" && task.Type != f.Type {
			continue
		}
		if f.Status != "" && task.Status != f.Status {
			continue
		}
		tasks = append(tasks, task)
	}

	total := int64(len(tasks))
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Size < 1 {
		return tasks, total, nil
	}
	start := (f.Page - 1) * f.Size
	if start >= len(tasks) {
		return []*Task{}, total, nil
	}
	end := start + f.Size
	if end > len(tasks) {
		end = len(tasks)
	}
	return tasks[start:end], total, nil
}

// Cancel marks a pending or running task as cancelled. The worker
// executing a running task observes the new status and stops.
func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	return s.Update(ctx, id, func(t *Task) error {
		if t.Status.Terminal() {
			return ErrNotCancellable
		}
		t.Status = TaskCancelled
		t.Error = "cancelled by user"
		return nil
	})
}

// DeleteByID removes a single task by ID.
func (s *Service) DeleteByID(ctx context.Context, id string) error {
	task, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	pipe := s.rc.Raw().TxPipeline()
	s.queueDelete(ctx, pipe, task)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteFinished removes completed, failed and cancelled tasks created
// before the cutoff. A zero cutoff removes all of them.
func (s *Service) DeleteFinished(ctx context.Context, before time.Time) (int, error) {
	rdb := s.rc.Raw()
	ids, err := rdb.ZRange(ctx, keyIndex, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	pipe := rdb.TxPipeline()
	removed := 0
	for _, id := range ids {
		task, err := s.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if task == nil {
			// record expired, drop the dangling index entry
			pipe.ZRem(ctx, keyIndex, id)
			continue
		}
		if !task.Status.Terminal() {
			continue
		}
		if !before.IsZero() && !task.CreatedAt.Before(before) {
			continue
		}
		s.queueDelete(ctx, pipe, task)
		removed++
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	return removed, nil
}

func (s *Service) queueDelete(ctx context.Context, pipe redis.Pipeliner, task *Task) {
	pipe.Del(ctx, taskKey(task.ID))
	pipe.ZRem(ctx, keyIndex, task.ID)
	if task.GroupKey != "" {
		pipe.ZRem(ctx, groupIndex(task.GroupKey), task.ID)
	}
	if task.DedupKey != "" && !task.Status.Terminal() {
		pipe.HDel(ctx, dedupKey(task.Type), task.DedupKey)
	}
}
