package events

import (
	"context"
	"sync"
	"time"

	"condor-aog/core/utils"
)

// Dispatcher decouples producers from sinks with a bounded queue. Emit
// never blocks: when the queue is full the event is dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	logger  *utils.Logger
	wg      sync.WaitGroup
	stopped chan struct{}
	once    sync.Once

	mu      sync.Mutex
	dropped int64
}

func NewDispatcher(queueSize int, logger *utils.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &Dispatcher{
		sinks:   sinks,
		queue:   make(chan Event, queueSize),
		logger:  logger,
		stopped: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		d.mu.Lock()
		d.dropped++
		n := d.dropped
		d.mu.Unlock()
		d.logger.Warnf("event queue full, dropped %s (total dropped %d)", ev.Kind, n)
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stopped:
			// drain what is already queued before exiting
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			d.logger.Warnf("sink delivery failed for %s: %v", ev.Kind, err)
		}
	}
}

func (d *Dispatcher) Stop() {
	d.once.Do(func() {
		close(d.stopped)
	})
	d.wg.Wait()
}
