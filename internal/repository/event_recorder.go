package repository

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/opsdeck/quotagate/internal/models"
)

// EventRecorder buffers request events on a channel and batch-inserts them
// in the background, so recording never blocks an admission check.
type EventRecorder struct {
	repo    *RequestEventRepository
	events  chan models.RequestEvent
	done    chan struct{}
	stopped chan struct{}
}

func NewEventRecorder(repo *RequestEventRepository, bufferSize int) *EventRecorder {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	r := &EventRecorder{
		repo:    repo,
		events:  make(chan models.RequestEvent, bufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go r.run()
	return r
}

func (r *EventRecorder) run() {
	defer close(r.stopped)

	batch := make([]models.RequestEvent, 0, 100)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.repo.CreateBatch(ctx, batch); err != nil {
			log.Printf("Failed to insert request events: %v", err)
		}
		cancel()
		batch = make([]models.RequestEvent, 0, 100)
	}

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			// Drain whatever is queued, then flush once.
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record queues an event. Drops the event when the buffer is full rather
// than stalling the caller.
func (r *EventRecorder) Record(event models.RequestEvent) {
	select {
	case r.events <- event:
	default:
		log.Println("Request event buffer full, dropping event")
	}
}

// CountSince reads through to the repository. Recently queued events may
// not be counted until the next flush; the window semantics tolerate that.
func (r *EventRecorder) CountSince(ctx context.Context, orgID uuid.UUID, identifier string, since time.Time) (int64, error) {
	return r.repo.CountSince(ctx, orgID, identifier, since)
}

func (r *EventRecorder) Stop() {
	close(r.done)
	<-r.stopped
}
