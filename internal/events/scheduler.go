package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskBookingConfirmation is the asynq task type carrying a confirmed booking event.
const TaskBookingConfirmation = "booking:confirmation"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskScheduler turns emitted events into asynq tasks for the worker.
type TaskScheduler struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Schedule enqueues a confirmation task for booking events. Other topics are ignored.
// The event id doubles as the task id so a replayed emit never enqueues twice.
func (s TaskScheduler) Schedule(ctx context.Context, ev Event) error {
	if s.Client == nil || ev.Topic != TopicBookingConfirmed {
		return nil
	}
	task, err := NewConfirmationTask(ev)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID.String())}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	if s.Timeout > 0 {
		opts = append(opts, asynq.Timeout(s.Timeout))
	}
	if _, err := s.Client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskBookingConfirmation, err)
	}
	return nil
}

// NewConfirmationTask wraps ev into a booking confirmation task.
func NewConfirmationTask(ev Event) (*asynq.Task, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return asynq.NewTask(TaskBookingConfirmation, body), nil
}

// DecodeTask extracts the event carried by a confirmation task.
func DecodeTask(task *asynq.Task) (Event, error) {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", task.Type(), err)
	}
	return ev, nil
}
