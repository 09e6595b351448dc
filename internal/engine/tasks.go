package engine

import (
	"context"
	"time"

	"github.com/agentx/agentx/internal/a2a"
)

// SubmitTask validates and stores a task in the submitted state. The task
// map is bounded by the configured concurrency limit; submissions over the
// limit fail fast.
func (e *Engine) SubmitTask(ctx context.Context, task *a2a.Task) error {
	if task.ID == "" {
		return a2a.ValidationError("task id cannot be empty")
	}
	if task.Kind == "" {
		return a2a.ValidationError("task kind cannot be empty")
	}

	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if len(e.tasks) >= e.config.MaxConcurrentTasks {
		return a2a.InternalError("Maximum concurrent tasks reached")
	}
	if task.Status.State == "" {
		task.Status = a2a.TaskStatus{State: a2a.TaskSubmitted, Timestamp: time.Now().UTC()}
	}
	e.tasks[task.ID] = task

	e.statsMu.Lock()
	e.stats.TotalTasks++
	e.statsMu.Unlock()
	e.metrics.AddActiveTasks(ctx, 1)

	e.logger.InfoContext(ctx, "Task submitted", "task_id", task.ID, "kind", task.Kind)
	return nil
}

// GetTask returns the task for the given id.
func (e *Engine) GetTask(taskID string) (*a2a.Task, error) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	task, ok := e.tasks[taskID]
	if !ok {
		return nil, a2a.TaskNotFound(taskID)
	}
	return task, nil
}

// CancelTask moves a task to canceled and fires its cooperative
// cancellation signal. Canceling an already-canceled task is a no-op.
func (e *Engine) CancelTask(ctx context.Context, taskID string) (*a2a.Task, error) {
	e.tasksMu.Lock()
	task, ok := e.tasks[taskID]
	if !ok {
		e.tasksMu.Unlock()
		return nil, a2a.TaskNotFound(taskID)
	}
	if task.Status.State == a2a.TaskCanceled {
		e.tasksMu.Unlock()
		return task, nil
	}
	if err := task.Transition(a2a.TaskCanceled, time.Now().UTC()); err != nil {
		e.tasksMu.Unlock()
		return nil, err
	}
	cancel := e.cancels[taskID]
	delete(e.cancels, taskID)
	e.tasksMu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.logger.InfoContext(ctx, "Task canceled", "task_id", taskID)
	return task, nil
}

// UpdateTaskState moves a task through its state machine, updating
// completion counters on terminal transitions.
func (e *Engine) UpdateTaskState(ctx context.Context, taskID string, state a2a.TaskState) error {
	e.tasksMu.Lock()
	task, ok := e.tasks[taskID]
	if !ok {
		e.tasksMu.Unlock()
		return a2a.TaskNotFound(taskID)
	}
	prev := task.Status.State
	if err := task.Transition(state, time.Now().UTC()); err != nil {
		e.tasksMu.Unlock()
		return err
	}
	e.tasksMu.Unlock()

	if prev != state {
		e.statsMu.Lock()
		switch state {
		case a2a.TaskCompleted:
			e.stats.CompletedTasks++
		case a2a.TaskFailed:
			e.stats.FailedTasks++
		}
		e.statsMu.Unlock()
	}
	return nil
}

// TaskContext derives a per-task cancellation context. Handlers observe the
// returned context at suspension points; CancelTask fires it.
func (e *Engine) TaskContext(ctx context.Context, taskID string) (context.Context, context.CancelFunc) {
	taskCtx, cancel := context.WithCancel(ctx)
	e.tasksMu.Lock()
	e.cancels[taskID] = cancel
	e.tasksMu.Unlock()
	release := func() {
		e.tasksMu.Lock()
		delete(e.cancels, taskID)
		e.tasksMu.Unlock()
		cancel()
	}
	return taskCtx, release
}

// AppendTaskReply appends a bridge reply to the task history, preserving
// dispatch order within the task.
func (e *Engine) AppendTaskReply(taskID string, msg *a2a.Message) {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	if task, ok := e.tasks[taskID]; ok {
		task.AppendHistory(msg)
	}
}
