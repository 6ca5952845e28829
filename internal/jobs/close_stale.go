// Package jobs holds the background tasks run by cmd/worker.
package jobs

import (
	"context"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"classroll/internal/attendance"
)

// TypeCloseStale closes events whose calendar day has passed.
const TypeCloseStale = "event:close-stale"

// NewCloseStaleTask builds the periodic sweep task.
func NewCloseStaleTask() *asynq.Task {
	return asynq.NewTask(TypeCloseStale, nil)
}

// CloseStaleHandler runs the same auto-close rule requests apply, so events
// are closed even on days nobody visits.
type CloseStaleHandler struct {
	Events *attendance.Lifecycle
	Now    func() time.Time
}

// ProcessTask implements asynq.Handler.
func (h CloseStaleHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	closed, err := h.Events.CloseStale(ctx, now())
	if err != nil {
		log.Printf("close-stale sweep failed after closing %d event(s): %v", len(closed), err)
		return err
	}
	if len(closed) > 0 {
		log.Printf("close-stale sweep closed %d event(s)", len(closed))
	}
	return nil
}

// NewMux routes worker tasks to their handlers.
func NewMux(events *attendance.Lifecycle) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeCloseStale, CloseStaleHandler{Events: events})
	return mux
}
