package manager

import (
	"sync"

	"github.com/seantiz/dataform-runner/internal/model"
)

// subscriberBufferSize is the channel buffer for each event subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 32

// EventBroker fans lifecycle events out to per-execution subscribers.
// It is safe for concurrent use.
//
// Finished executions are kept as closed markers so that late subscribers
// receive a closed channel instead of blocking forever.
type EventBroker struct {
	mu     sync.Mutex
	topics map[string]*eventTopic
}

type eventTopic struct {
	subs   map[int]chan model.Event
	nextID int
	closed bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		topics: make(map[string]*eventTopic),
	}
}

// Subscribe returns a channel that receives events for the given execution
// and an unsubscribe function. If the execution has already finished, the
// returned channel is immediately closed.
func (b *EventBroker) Subscribe(executionID string) (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		t = &eventTopic{subs: make(map[int]chan model.Event)}
		b.topics[executionID] = t
	}

	ch := make(chan model.Event, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of its execution. Events are
// dropped for subscribers whose buffers are full.
func (b *EventBroker) Publish(e model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[e.ExecutionID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close signals that no more events will be published for the execution.
func (b *EventBroker) Close(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[executionID]
	if !ok {
		b.topics[executionID] = &eventTopic{subs: make(map[int]chan model.Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// reset drops a closed marker so a reused execution id can be streamed again.
func (b *EventBroker) reset(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[executionID]; ok && t.closed {
		delete(b.topics, executionID)
	}
}
