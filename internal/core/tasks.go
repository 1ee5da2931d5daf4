package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/certfleet/internal/model"
)

// Task statuses.
const (
	TaskRunning             = "running"
	TaskCompleted           = "completed"
	TaskCompletedWithErrors = "completed_with_errors"
	TaskFailed              = "failed"
	TaskCancelled           = "cancelled"
)

const taskRetention = 24 * time.Hour

// Task is a snapshot of one long-running job.
type Task struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Progress  int        `json:"progress"` // 0..100
	Total     int        `json:"total"`
	Done      int        `json:"done"`
	Results   []string   `json:"results,omitempty"`
	Errors    []string   `json:"errors,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

type taskState struct {
	Task
	cancel context.CancelFunc
}

// TaskProgress is called by the worker after each unit of work.
type TaskProgress func(result string, errMsg string)

// TaskFunc is the body of a task. It must honour ctx for cooperative
// cancellation and report each finished unit through the callback.
type TaskFunc func(ctx context.Context, report TaskProgress) error

// TaskManager is an in-memory index of long-running jobs: manual checks,
// batch renewals, discovery runs. Tasks do not survive a restart.
type TaskManager struct {
	mu     sync.RWMutex
	tasks  map[string]*taskState
	logger zerolog.Logger
	now    func() time.Time
}

func NewTaskManager(logger zerolog.Logger) *TaskManager {
	return &TaskManager{
		tasks:  map[string]*taskState{},
		logger: logger.With().Str("component", "task-manager").Logger(),
		now:    time.Now,
	}
}

// Start registers a task and runs fn in a background worker. It returns
// the task id immediately.
func (t *TaskManager) Start(taskType string, total int, fn TaskFunc) string {
	ctx, cancel := context.WithCancel(context.Background())
	state := &taskState{
		Task: Task{
			ID:        model.NewID(),
			Type:      taskType,
			Status:    TaskRunning,
			Total:     total,
			StartTime: t.now(),
		},
		cancel: cancel,
	}

	t.mu.Lock()
	t.tasks[state.ID] = state
	t.mu.Unlock()

	go t.run(ctx, state, fn)
	return state.ID
}

func (t *TaskManager) run(ctx context.Context, state *taskState, fn TaskFunc) {
	report := func(result, errMsg string) {
		t.mu.Lock()
		defer t.mu.Unlock()
		state.Done++
		if result != "" {
			state.Results = append(state.Results, result)
		}
		if errMsg != "" {
			state.Errors = append(state.Errors, errMsg)
		}
		if state.Total > 0 {
			state.Progress = state.Done * 100 / state.Total
			if state.Progress > 100 {
				state.Progress = 100
			}
		}
	}

	err := fn(ctx, report)

	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.now()
	state.EndTime = &end
	switch {
	case ctx.Err() != nil:
		state.Status = TaskCancelled
	case err != nil:
		state.Status = TaskFailed
		state.Errors = append(state.Errors, err.Error())
	case len(state.Errors) > 0:
		state.Status = TaskCompletedWithErrors
		state.Progress = 100
	default:
		state.Status = TaskCompleted
		state.Progress = 100
	}
	t.logger.Info().
		Str("task_id", state.ID).
		Str("type", state.Type).
		Str("status", state.Status).
		Int("errors", len(state.Errors)).
		Msg("task finished")
}

// Get returns a copy of the task, or false when it is unknown or evicted.
func (t *TaskManager) Get(id string) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	snapshot := state.Task
	snapshot.Results = append([]string(nil), state.Results...)
	snapshot.Errors = append([]string(nil), state.Errors...)
	return snapshot, true
}

// Cancel requests cooperative cancellation of a running task.
func (t *TaskManager) Cancel(id string) bool {
	t.mu.RLock()
	state, ok := t.tasks[id]
	running := ok && state.Status == TaskRunning
	t.mu.RUnlock()
	if !running {
		return false
	}
	state.cancel()
	return true
}

// Evict drops finished tasks older than the retention window.
func (t *TaskManager) Evict() int {
	cutoff := t.now().Add(-taskRetention)
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, state := range t.tasks {
		if state.Status != TaskRunning && state.EndTime != nil && state.EndTime.Before(cutoff) {
			delete(t.tasks, id)
			evicted++
		}
	}
	return evicted
}

// RunLoop runs the hourly eviction sweep until the context is cancelled.
func (t *TaskManager) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Evict(); n > 0 {
				t.logger.Debug().Int("evicted", n).Msg("stale tasks evicted")
			}
		}
	}
}
