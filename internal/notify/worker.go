package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/slot-reservations/internal/events"
	"github.com/noah-isme/slot-reservations/internal/inventory"
	"github.com/noah-isme/slot-reservations/internal/lock"
	"github.com/noah-isme/slot-reservations/internal/obs"
)

// Locker runs fn under an exclusive lock on key. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

var _ Locker = lock.Locker{}

// ConfirmationWorker processes booking confirmation tasks: one email and,
// when configured, one webhook per confirmed booking.
type ConfirmationWorker struct {
	Email   EmailNotifier
	Webhook *Webhook
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Register binds the worker to mux.
func (w *ConfirmationWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(events.TaskBookingConfirmation, w.ProcessTask)
}

// ProcessTask implements asynq.HandlerFunc. Malformed payloads are not retried.
func (w *ConfirmationWorker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ev, err := events.DecodeTask(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	var b inventory.Booking
	if err := json.Unmarshal(ev.Payload, &b); err != nil || b.RefID == "" {
		return fmt.Errorf("%w: booking payload for event %s", asynq.SkipRetry, ev.ID)
	}
	if w.Locker == nil {
		return w.handle(ctx, ev, b)
	}
	ttl := w.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return w.Locker.WithLock(ctx, "lock:booking:"+b.RefID, ttl, func(ctx context.Context) error {
		return w.handle(ctx, ev, b)
	})
}

func (w *ConfirmationWorker) handle(ctx context.Context, ev events.Event, b inventory.Booking) error {
	log := w.Logger.With().Str("ref_id", b.RefID).Str("event_id", ev.ID.String()).Logger()
	var joined error

	if err := w.Email.Confirm(ctx, b); err != nil {
		obs.CountNotification("email", "failed")
		log.Warn().Err(err).Msg("confirmation_email_failed")
		joined = errors.Join(joined, err)
	} else {
		obs.CountNotification("email", "sent")
	}

	if w.Webhook.Enabled() {
		status, err := w.Webhook.Deliver(ctx, ev)
		if err != nil {
			obs.CountNotification("webhook", "failed")
			log.Warn().Err(err).Int("status", status).Msg("confirmation_webhook_failed")
			joined = errors.Join(joined, err)
		} else {
			obs.CountNotification("webhook", "delivered")
		}
	}
	if joined == nil {
		log.Info().Msg("confirmation_processed")
	}
	return joined
}
