package events

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer receives delivery outcomes, typically a metrics collector.
type Observer interface {
	Delivered(kind string)
	Failed(kind string)
	Dropped(kind string)
}

type nopObserver struct{}

func (nopObserver) Delivered(string) {}
func (nopObserver) Failed(string)    {}
func (nopObserver) Dropped(string)   {}

// Options configures a Dispatcher. Zero values pick sensible defaults.
type Options struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per delivery
	Observer  Observer
}

// Dispatcher delivers events on a fixed pool of worker goroutines, each reading its own
// bounded queue. Events about the same match (or, for user-addressed events, the same user)
// always land on the same worker, so a chat purge can never overtake the intro emitted after
// it. Emit never blocks: when a queue is full the event is dropped and logged.
type Dispatcher struct {
	sinks   Sinks
	log     zerolog.Logger
	timeout time.Duration
	obs     Observer

	queues []chan Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts the workers. Call Close to drain and stop them.
func NewDispatcher(sinks Sinks, log zerolog.Logger, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	// QueueSize is the total; each worker gets an equal share of it.
	perWorker := (opts.QueueSize + opts.Workers - 1) / opts.Workers

	d := &Dispatcher{
		sinks:   sinks,
		log:     log.With().Str("component", "dispatcher").Logger(),
		timeout: opts.Timeout,
		obs:     opts.Observer,
		queues:  make([]chan Event, opts.Workers),
	}
	for i := range d.queues {
		d.queues[i] = make(chan Event, perWorker)
		d.wg.Add(1)
		go d.work(d.queues[i])
	}
	return d
}

// Emit queues events in order. Events emitted after Close are dropped.
func (d *Dispatcher) Emit(evts ...Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, e := range evts {
		if d.closed {
			d.drop(e, "dispatcher closed")
			continue
		}
		select {
		case d.shard(e) <- e:
		default:
			d.drop(e, "queue full")
		}
	}
}

// Close stops accepting events and waits until everything already queued is delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

// shard picks the worker queue for e from its partition key.
func (d *Dispatcher) shard(e Event) chan Event {
	key := e.partition()
	return d.queues[binary.BigEndian.Uint64(key[8:])%uint64(len(d.queues))]
}

func (d *Dispatcher) work(queue <-chan Event) {
	defer d.wg.Done()
	for e := range queue {
		d.deliver(e)
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return e.deliver(ctx, d.sinks)
	}()

	if err != nil {
		d.obs.Failed(e.Kind())
		d.log.Warn().Err(err).Str("event", e.Kind()).Msg("side effect delivery failed")
		return
	}
	d.obs.Delivered(e.Kind())
}

func (d *Dispatcher) drop(e Event, reason string) {
	d.obs.Dropped(e.Kind())
	d.log.Warn().Str("event", e.Kind()).Str("reason", reason).Msg("side effect dropped")
}
