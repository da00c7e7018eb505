// Package fabric distributes accepted signals beyond the ingesting
// process: a Redis-backed bus for cross-pod fan-out and a WebSocket
// streamer for live dashboards. In a single-pod deployment the bus runs
// local-only with identical semantics.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/windi/backend/internal/signal"
)

// DefaultChannel is the Redis pub/sub channel for accepted signals.
const DefaultChannel = "windi:signals"

type subscriberEntry struct {
	id      int
	handler func(signal.DecodedSignal)
}

// SignalBus fans accepted signals out to in-process subscribers and,
// when a Redis client is attached, to every other pod. Publish never
// blocks the ingest hot path: Redis delivery is asynchronous and a
// publish failure falls back to local-only delivery.
type SignalBus struct {
	mu      sync.RWMutex
	subs    []subscriberEntry
	nextID  int
	rdb     *redis.Client
	channel string
	cancel  context.CancelFunc
	closed  bool
}

// NewLocalBus creates a bus with in-process delivery only.
func NewLocalBus() *SignalBus {
	return &SignalBus{channel: DefaultChannel}
}

// NewRedisBus creates a bus backed by Redis Pub/Sub at addr. The
// subscription loop runs until Close.
func NewRedisBus(addr, channel string) (*SignalBus, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &SignalBus{rdb: rdb, channel: channel, cancel: cancel}

	pubsub := rdb.Subscribe(ctx, channel)
	go func() {
		for msg := range pubsub.Channel() {
			var sig signal.DecodedSignal
			if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
				slog.Warn("[SignalBus] Failed to unmarshal signal", "error", err)
				continue
			}
			b.deliverLocal(sig)
		}
	}()
	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()

	slog.Info("[SignalBus] Redis fan-out active", "addr", addr, "channel", channel)
	return b, nil
}

// SignalAccepted implements the bridge's SignalSink: every accepted
// signal lands here after aggregation.
func (b *SignalBus) SignalAccepted(sig signal.DecodedSignal) {
	b.mu.RLock()
	closed := b.closed
	rdb := b.rdb
	b.mu.RUnlock()
	if closed {
		return
	}

	if rdb == nil {
		b.deliverLocal(sig)
		return
	}
	go func() {
		data, err := json.Marshal(sig)
		if err != nil {
			return
		}
		if err := rdb.Publish(context.Background(), b.channel, data).Err(); err != nil {
			slog.Warn("[SignalBus] Publish failed, falling back to local", "error", err)
			b.deliverLocal(sig)
		}
		// Redis delivery loops back through the subscription, so no
		// local fan-out here — that would double-deliver.
	}()
}

// Subscribe registers a handler for accepted signals. Returns an
// unsubscribe function.
func (b *SignalBus) Subscribe(handler func(signal.DecodedSignal)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriberEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.subs {
			if e.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

func (b *SignalBus) deliverLocal(sig signal.DecodedSignal) {
	b.mu.RLock()
	subs := make([]subscriberEntry, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, e := range subs {
		h := e.handler
		go h(sig)
	}
}

// Close shuts down the bus and its Redis subscription.
func (b *SignalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	if b.rdb != nil {
		return b.rdb.Close()
	}
	return nil
}
