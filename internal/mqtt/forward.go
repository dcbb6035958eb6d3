package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/nugget/quill/internal/events"
)

// Forwarding limits. A busy research request emits a few events per
// tool call; bursts beyond this are dropped and counted.
const (
	forwardBuffer   = 128
	forwardLimit    = 100
	forwardInterval = 10 * time.Second
)

// Forward subscribes to bus and publishes each event as JSON to
// quill/<device>/events/<kind>. It blocks until ctx is cancelled and
// unsubscribes on return. Events that arrive before the broker
// connection is up are dropped.
func (p *Publisher) Forward(ctx context.Context, bus *events.Bus) {
	if bus == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := bus.Subscribe(forwardBuffer, events.Filter{})
	defer bus.Unsubscribe(ch)

	limiter := newRateLimiter(forwardLimit, forwardInterval, p.logger)
	go limiter.start(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !limiter.allow() {
				continue
			}
			p.forwardEvent(ctx, e)
		}
	}
}

func (p *Publisher) forwardEvent(ctx context.Context, e events.Event) {
	if p.out == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e.Kind)
	if _, err := p.out.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     0,
	}); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

// rateLimiter counts forwarded events and drops them once the count
// for the current interval exceeds the limit. Counters are atomic so
// allow stays lock-free.
type rateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *rateLimiter {
	return &rateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the counter at every interval boundary until ctx is
// cancelled, logging a warning when events were dropped.
func (r *rateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			if dropped := r.dropped.Swap(0); dropped > 0 {
				r.logger.Warn("mqtt events dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

func (r *rateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
