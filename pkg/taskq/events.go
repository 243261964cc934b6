package taskq

import (
	"sync"

	"github.com/warpdl/proxydl/pkg/logger"
)

// EventKind tells state changes apart from progress updates.
type EventKind int

const (
	EventState EventKind = iota
	EventProgress
)

func (k EventKind) String() string {
	if k == EventProgress {
		return "progress"
	}
	return "state"
}

// Progress is the transfer counters of a task at the time of an event.
type Progress struct {
	Transferred  int64   `json:"transferred"`
	Total        int64   `json:"total"`
	ResumeOffset int64   `json:"resumeOffset"`
	Speed        float64 `json:"speed"`
}

// Event is a task lifecycle or progress notification.
type Event struct {
	TaskID   string    `json:"gid"`
	Kind     EventKind `json:"-"`
	State    State     `json:"state"`
	Progress Progress  `json:"progress"`
	Reason   string    `json:"reason,omitempty"`
}

// Observer receives events. Calls come from a single goroutine, in the
// order events were produced; an observer must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// bus queues events without ever blocking the producer and hands them to
// the observers from one dispatcher goroutine.
type bus struct {
	mu        sync.Mutex
	queue     []Event
	observers []Observer
	closed    bool
	notify    chan struct{}
	done      chan struct{}
	log       logger.Logger
}

func newBus(l logger.Logger, observers []Observer) *bus {
	b := &bus{
		observers: append([]Observer(nil), observers...),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		log:       l,
	}
	go b.run()
	return b
}

func (b *bus) subscribe(o Observer) {
	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, e)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *bus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		batch, observers, closed := b.queue, b.observers, b.closed
		b.queue = nil
		b.mu.Unlock()

		for _, e := range batch {
			for _, o := range observers {
				b.deliver(o, e)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.notify
	}
}

func (b *bus) deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("taskq: observer panic on %s event for %s: %v", e.Kind, e.TaskID, r)
		}
	}()
	o.OnEvent(e)
}

// close stops accepting events and waits until the queued ones are delivered.
func (b *bus) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
	<-b.done
}
