package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/tabauth/internal/metrics"
	"github.com/redis/go-redis/v9"
)

var (
	ErrBusUnavailable = errors.New("event bus store unavailable")
	ErrBusClosed      = errors.New("event bus closed")
)

// Handler receives events from either delivery path. It may be invoked more
// than once for the same logical event.
type Handler func(Event)

const (
	streamField  = "event"
	streamMaxLen = 256
)

// Config wires a Bus to its origin's channel and event stream.
type Config struct {
	Channel   string
	StreamKey string
	// EventTTL expires the stream once no event has been published for
	// that long.
	EventTTL       time.Duration
	WatchInterval  time.Duration
	DisableChannel bool
	// Source identifies the publishing tab; channel messages carrying it are
	// not delivered back to the same bus.
	Source  string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Bus fans verification events out to every tab of an origin over a Redis
// Pub/Sub channel and, as a fallback, a short self-expiring Redis Stream that
// each tab reads forward from the last entry it has seen.
type Bus struct {
	redis   redis.UniversalClient
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.Mutex
	handlers map[uint64]Handler
	nextID   uint64
	started  bool
	closed   bool
	cancel   context.CancelFunc
	pubsub   *redis.PubSub
	wg       sync.WaitGroup

	channelUp atomic.Bool
}

func New(redisClient redis.UniversalClient, cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 250 * time.Millisecond
	}
	return &Bus{
		redis:    redisClient,
		cfg:      cfg,
		log:      logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
		handlers: make(map[uint64]Handler),
	}
}

// Start begins listening. The newest stream entry present now is the
// watcher's baseline; only later entries are delivered. When the channel is disabled or
// the subscription is refused the bus continues storage-only.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if b.started {
		return nil
	}

	baseline, err := b.lastID(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	if !b.cfg.DisableChannel {
		ps := b.redis.Subscribe(runCtx, b.cfg.Channel)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			b.metrics.Inc(metrics.BusChannelDegraded)
			b.log.Warn("bus channel unavailable, continuing storage-only",
				"channel", b.cfg.Channel, "error", err)
		} else {
			b.pubsub = ps
			b.channelUp.Store(true)
			b.wg.Add(1)
			go b.listen(ps.Channel())
		}
	} else {
		b.log.Debug("bus channel disabled, storage-only", "stream", b.cfg.StreamKey)
	}

	b.wg.Add(1)
	go b.watch(runCtx, baseline)

	b.started = true
	return nil
}

// Publish announces email as verified. Channel failures are logged; only a
// failed stream append is returned, since that path is the delivery guarantee.
func (b *Bus) Publish(ctx context.Context, email string) (Event, error) {
	ev := NewEvent(email, b.now())

	if !b.cfg.DisableChannel {
		msg, err := json.Marshal(envelope{Event: ev, Source: b.cfg.Source})
		if err == nil {
			err = b.redis.Publish(ctx, b.cfg.Channel, msg).Err()
		}
		if err != nil {
			b.log.Warn("bus channel publish failed", "email", email, "error", err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return ev, err
	}
	_, err = b.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: b.cfg.StreamKey,
			MaxLen: streamMaxLen,
			Values: map[string]any{streamField: string(payload)},
		})
		if b.cfg.EventTTL > 0 {
			pipe.PExpire(ctx, b.cfg.StreamKey, b.cfg.EventTTL)
		}
		return nil
	})
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	b.metrics.Inc(metrics.BusPublished)
	b.log.Debug("verification event published", "email", email, "timestamp", ev.Timestamp)
	return ev, nil
}

// Subscribe registers fn and returns an idempotent unsubscribe.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// ChannelAvailable reports whether the direct channel is in use.
func (b *Bus) ChannelAvailable() bool {
	return b.channelUp.Load()
}

// Close stops both listeners and waits for them to exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	ps := b.pubsub
	b.mu.Unlock()

	var err error
	if cancel != nil {
		cancel()
	}
	if ps != nil {
		err = ps.Close()
	}
	b.channelUp.Store(false)
	b.wg.Wait()
	return err
}

func (b *Bus) listen(ch <-chan *redis.Message) {
	defer b.wg.Done()

	for msg := range ch {
		env, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			b.metrics.Inc(metrics.BusDecodeFailure)
			b.log.Warn("bus channel message dropped", "error", err)
			continue
		}
		if env.Source != "" && env.Source == b.cfg.Source {
			continue
		}
		b.metrics.Inc(metrics.BusChannelDelivered)
		b.deliver(env.Event)
	}
}

func (b *Bus) watch(ctx context.Context, last string) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs, err := b.readAfter(ctx, last)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.log.Debug("bus stream read failed", "error", err)
			continue
		}

		for _, msg := range msgs {
			last = msg.ID
			raw, _ := msg.Values[streamField].(string)
			env, err := decodeEnvelope([]byte(raw))
			if err != nil {
				b.metrics.Inc(metrics.BusDecodeFailure)
				b.log.Warn("bus stream entry ignored", "id", msg.ID, "error", err)
				continue
			}
			b.metrics.Inc(metrics.BusStorageDelivered)
			b.deliver(env.Event)
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	hs := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// lastID returns the newest entry id, or "0-0" for an empty stream.
func (b *Bus) lastID(ctx context.Context) (string, error) {
	msgs, err := b.redis.XRevRangeN(ctx, b.cfg.StreamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// readAfter returns every entry newer than id without blocking.
func (b *Bus) readAfter(ctx context.Context, id string) ([]redis.XMessage, error) {
	streams, err := b.redis.XRead(ctx, &redis.XReadArgs{
		Streams: []string{b.cfg.StreamKey, id},
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return streams[0].Messages, nil
}
