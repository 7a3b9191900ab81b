package recordings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/aura-classroom/backend/internal/models"
)

var (
	// ErrWatchCancelled is returned by Watch when its context is cancelled.
	ErrWatchCancelled = fmt.Errorf("watch cancelled: %w", context.Canceled)
	// ErrWatchExhausted is returned when the poll budget runs out before a terminal status.
	ErrWatchExhausted = errors.New("watch exhausted before recording finished")
)

// Getter reads a recording. *Manager and *apiclient.Client implement it.
type Getter interface {
	Get(ctx context.Context, id string) (models.Recording, error)
}

// PollPolicy controls Watch cadence. BackOff is reset at the start of each watch;
// a nil BackOff polls every second. MaxPolls <= 0 means no limit.
type PollPolicy struct {
	BackOff  backoff.BackOff
	MaxPolls int
}

// Watch polls id until it reaches a terminal status. onUpdate is called with the first
// snapshot and on every status change, never after ctx is done.
func Watch(ctx context.Context, g Getter, id string, policy PollPolicy, onUpdate func(models.Recording)) (models.Recording, error) {
	b := policy.BackOff
	if b == nil {
		b = backoff.NewConstantBackOff(time.Second)
	}
	b.Reset()

	var last models.Recording
	for poll := 1; ; poll++ {
		if err := ctx.Err(); err != nil {
			return last, watchErr(id, err)
		}
		rec, err := g.Get(ctx, id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return last, watchErr(id, ctxErr)
		}
		if err != nil {
			return last, err
		}
		if onUpdate != nil && (poll == 1 || rec.Status != last.Status) {
			onUpdate(rec)
		}
		last = rec
		if rec.Status.IsTerminal() {
			return rec, nil
		}
		if policy.MaxPolls > 0 && poll >= policy.MaxPolls {
			return rec, ErrWatchExhausted
		}
		d := b.NextBackOff()
		if d == backoff.Stop {
			return rec, ErrWatchExhausted
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, watchErr(id, ctx.Err())
		case <-timer.C:
		}
	}
}

func watchErr(id string, err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrWatchCancelled
	}
	return fmt.Errorf("watch %s: %w", id, err)
}
