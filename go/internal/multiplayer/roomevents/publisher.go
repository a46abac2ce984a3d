package roomevents

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Publisher ships room events somewhere durable
type Publisher interface {
	Publish(ctx context.Context, event RoomEvent) error
}

// NoOpPublisher discards events. Used when no NATS server is configured.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(ctx context.Context, event RoomEvent) error { return nil }

// AsyncPublisher queues events for a background publisher so connection
// handling never waits on the broker. When the queue is full events are
// dropped.
type AsyncPublisher struct {
	publisher Publisher
	queue     chan RoomEvent
	dropped   atomic.Uint64
}

// NewAsyncPublisher wraps publisher with a queue of the given size
func NewAsyncPublisher(publisher Publisher, size int) *AsyncPublisher {
	if size <= 0 {
		size = 1
	}
	return &AsyncPublisher{
		publisher: publisher,
		queue:     make(chan RoomEvent, size),
	}
}

// Enqueue hands an event to the background loop without blocking
func (p *AsyncPublisher) Enqueue(event RoomEvent) bool {
	select {
	case p.queue <- event:
		return true
	default:
		p.dropped.Add(1)
		log.Warn().
			Str("event_type", string(event.Type)).
			Str("room_code", event.RoomCode).
			Msg("room event queue full, dropping event")
		return false
	}
}

// Dropped returns how many events were discarded because the queue was full
func (p *AsyncPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Run publishes queued events until ctx is cancelled
func (p *AsyncPublisher) Run(ctx context.Context) {
	log.Info().Msg("room event publisher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(p.queue)).Msg("room event publisher shutting down")
			return
		case event := <-p.queue:
			if err := p.publisher.Publish(ctx, event); err != nil {
				log.Error().
					Err(err).
					Str("event_id", event.ID.String()).
					Str("event_type", string(event.Type)).
					Msg("failed to publish room event")
			}
		}
	}
}
