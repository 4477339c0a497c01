package authpipe

import (
	"context"
	"sync"
	"sync/atomic"
)

// eventDispatcher delivers events inline, or from one goroutine when buffered so
// subscribers never run on the request path.
type eventDispatcher struct {
	cfg       EventsConfig
	sink      EventSink
	ch        chan AuthEvent
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newEventDispatcher(cfg EventsConfig, sink EventSink) *eventDispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &eventDispatcher{cfg: cfg, sink: sink}
	if cfg.BufferSize <= 0 {
		return d
	}

	d.ch = make(chan AuthEvent, cfg.BufferSize)
	d.done = make(chan struct{})
	d.wg.Add(1)
	go d.run()

	return d
}

func (d *eventDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

func (d *eventDispatcher) Emit(ctx context.Context, event AuthEvent) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.ch == nil {
		d.sink.Emit(ctx, event)
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close flushes buffered events and stops the worker.
func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		if d.done != nil {
			close(d.done)
			d.wg.Wait()
		}
	})
}

func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
