// Package trace fans out live progress events from the agent loop to the
// CLI. Publishing is non-blocking so a slow or absent subscriber can never
// stall a round.
package trace

import (
	"log"
	"sync"
	"time"
)

// Stage identifies which part of the loop emitted an event.
type Stage string

const (
	StageNormalize  Stage = "normalize"
	StagePlan       Stage = "plan"
	StageDispatch   Stage = "dispatch"
	StageWorkerDone Stage = "worker_done"
	StageJoin       Stage = "join"
	StageSynthesize Stage = "synthesize"
	StageTurnDone   Stage = "turn_done"
)

// Event is one progress update.
type Event struct {
	Timestamp time.Time
	Stage     Stage
	Round     int
	SubGoalID int
	Worker    string
	Detail    string
}

const subscriberBufSize = 64

// Publisher fans events out to all subscribers.
type Publisher struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// New creates a Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish delivers e to every subscriber. Non-blocking: if a subscriber's
// channel is full, the event is dropped with a warning.
func (p *Publisher) Publish(e Event) {
	if p == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	p.mu.RLock()
	subs := p.subscribers
	p.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			log.Printf("[trace] WARNING: subscriber channel full, dropping event stage=%s", e.Stage)
		}
	}
}

// Subscribe returns a receive-only channel delivering all published events.
// Each call creates a new independent subscriber channel.
func (p *Publisher) Subscribe() <-chan Event {
	ch := make(chan Event, subscriberBufSize)
	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	p.mu.Unlock()
	return ch
}
