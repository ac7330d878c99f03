package orchestrator

import (
	"sync"
	"time"

	"github.com/wendelmax/polis/pkg/types"
)

// EventType names one kind of orchestrator lifecycle event (§4.5).
type EventType string

const (
	EventScaleUp           EventType = "scale_up"
	EventScaleDown         EventType = "scale_down"
	EventScalingBlocked    EventType = "scaling_blocked"
	EventPolicyUpdated     EventType = "policy_updated"
	EventDeploymentUpdated EventType = "deployment_updated"
)

// Event is one item published onto the broker (§4.5).
type Event struct {
	Type         EventType
	DeploymentID types.DeploymentId
	Timestamp    time.Time
	Message      string
	FromReplicas int
	ToReplicas   int
}

// Subscriber is a channel that receives published events.
type Subscriber chan *Event

// Broker fans out Events to every current subscriber over an unbounded
// queue: Publish never blocks on a slow or absent reader (§4.5 — "the
// channel exists so monitoring glue can consume asynchronously", with no
// guarantee anyone is listening). The dispatch loop delivers each queued
// event to the subscribers registered at that moment: an event
// dispatched while there are no subscribers is discarded, and a
// subscriber whose 32-slot buffer is full misses that event.
type Broker struct {
	mu          sync.Mutex
	subscribers map[Subscriber]bool

	queueMu sync.Mutex
	queue   []*Event
	notify  chan struct{}

	stopCh chan struct{}
	once   sync.Once
}

// NewBroker constructs a Broker. Call Start before the first Publish.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		notify:      make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's dispatch loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts dispatch. Subsequent Publish calls are silently dropped.
func (b *Broker) Stop() {
	b.once.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new receiver.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 32)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a receiver.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish appends event to the unbounded backlog. Never blocks.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.queueMu.Lock()
	b.queue = append(b.queue, event)
	b.queueMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Broker) run() {
	for {
		select {
		case <-b.notify:
			for {
				b.queueMu.Lock()
				if len(b.queue) == 0 {
					b.queueMu.Unlock()
					break
				}
				event := b.queue[0]
				b.queue = b.queue[1:]
				b.queueMu.Unlock()
				b.broadcast(event)
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full; drop rather than stall the broker.
		}
	}
}
