package audit

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls buffering. A disabled config yields a nil Dispatcher, on
// which every method is a no-op.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// TabID is stamped on events that do not name a tab, so one sink can be
	// shared by every tab of a process.
	TabID  string
	Logger *slog.Logger
}

// sensitiveKeys never leave the tab, whatever the caller put in Metadata.
var sensitiveKeys = []string{"password", "token", "secret", "cookie"}

// Dispatcher relays a tab's events to a Sink from one goroutine. Events are
// stamped and scrubbed before they are queued; a sink that panics loses that
// event only.
type Dispatcher struct {
	cfg  Config
	sink Sink
	log  *slog.Logger

	queue chan Event
	stop  chan struct{}
	exit  chan struct{}

	dropped atomic.Uint64
	failed  atomic.Uint64

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Dispatcher{
		cfg:   cfg,
		sink:  sink,
		log:   logger,
		queue: make(chan Event, cfg.BufferSize),
		stop:  make(chan struct{}),
		exit:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.exit)

	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
			continue
		case <-d.stop:
		}

		// flush what was queued before Close
		for {
			select {
			case ev := <-d.queue:
				d.deliver(ctx, ev)
			default:
				return
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.log.Error("audit sink panicked", "event_type", ev.EventType, "panic", r)
		}
	}()
	d.sink.Emit(ctx, ev)
}

// Emit queues event for the sink. With DropIfFull a full buffer drops the
// event and counts it; otherwise Emit blocks until there is room, ctx ends,
// or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.isClosed() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	event = d.prepare(event)

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// prepare fills the timestamp and tab and copies Metadata without
// credential-like keys, so later caller edits cannot reach the sink.
func (d *Dispatcher) prepare(ev Event) Event {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.TabID == "" {
		ev.TabID = d.cfg.TabID
	}
	if len(ev.Metadata) == 0 {
		return ev
	}
	meta := make(map[string]string, len(ev.Metadata))
	for k, v := range ev.Metadata {
		if isSensitive(k) {
			continue
		}
		meta[k] = v
	}
	ev.Metadata = meta
	return ev
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Close stops accepting events, flushes what is queued and waits for the
// sink. Calling it again does nothing.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.exit
		return
	}
	d.closed = true
	close(d.stop)
	d.mu.Unlock()

	<-d.exit
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Failed reports events lost to a panicking sink.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
