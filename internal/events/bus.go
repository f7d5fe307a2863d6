package events

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// Observer receives events synchronously on the emitting goroutine. It must
// not block for long: the dispatcher emits between store updates.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

type entry struct {
	id  int
	obs Observer
}

// Bus is an explicit observer list. The zero value is not usable; a nil
// *Bus drops every event.
type Bus struct {
	mu        sync.RWMutex
	observers []entry
	nextID    int
	now       func() time.Time
	log       *logger.Component
}

func NewBus() *Bus {
	return &Bus{now: time.Now, log: logger.For("events")}
}

// Subscribe registers o and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.observers = append(b.observers, entry{id: id, obs: o})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, e := range b.observers {
				if e.id == id {
					b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Channel returns a buffered channel fed with every event. When the buffer
// is full events are dropped rather than stalling emitters. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Channel(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	var mu sync.Mutex
	closed := false
	unsub := b.Subscribe(ObserverFunc(func(_ context.Context, e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	}))
	return ch, func() {
		unsub()
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
}

// Emit stamps e and delivers it to every observer in registration order.
// A panicking observer is logged and skipped.
func (b *Bus) Emit(ctx context.Context, e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = b.now()
	}
	b.mu.RLock()
	snapshot := make([]Observer, len(b.observers))
	for i, en := range b.observers {
		snapshot[i] = en.obs
	}
	b.mu.RUnlock()

	for _, o := range snapshot {
		b.deliver(ctx, o, e)
	}
}

func (b *Bus) deliver(ctx context.Context, o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("observer panicked", "kind", string(e.Kind), "job_id", e.JobID, "panic", r)
		}
	}()
	o.Observe(ctx, e)
}
