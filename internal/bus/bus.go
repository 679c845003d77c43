// SPDX-License-Identifier: MIT

// Package bus provides the in-process pub/sub that carries inbound
// pipeline events from the transport edge to the coordinator's single
// event-processing stream.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/decluttered-ai/reportd/internal/log"
	"github.com/decluttered-ai/reportd/internal/metrics"
)

// Topics used by the coordination core.
const (
	TopicResults = "pipeline.results"
	TopicStart   = "pipeline.start"
	TopicStop    = "pipeline.stop"
)

// Message is an opaque event payload.
type Message any

// Bus is the event transport between ingress and the coordinator.
type Bus interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Subscribe(ctx context.Context, topic string) (Subscriber, error)
}

// Subscriber is a single subscription handle.
type Subscriber interface {
	C() <-chan Message
	Close() error
}

const dropLogEvery = 100

var dropCount atomic.Uint64

// MemoryBus is an in-memory pub/sub with at-least-once in-process
// delivery while publish contexts remain active. Not durable.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]chan Message)}
}

func publishDropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Publish delivers msg to every subscriber of topic, blocking per
// subscriber until the send succeeds or ctx ends.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) error {
	if ctx == nil {
		return fmt.Errorf("publish context is nil")
	}
	b.mu.RLock()
	chs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()
	for _, ch := range chs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			reason := publishDropReason(ctx.Err())
			metrics.IncBusDrop(topic, reason)
			count := dropCount.Add(1)
			if count%dropLogEvery == 0 {
				logger := log.L()
				logger.Warn().
					Str("topic", topic).
					Str("reason", reason).
					Uint64("dropped", count).
					Msg("memory bus failed to publish due to context cancellation")
			}
			return fmt.Errorf("publish topic %q: %w", topic, ctx.Err())
		}
	}
	return nil
}

// Subscribe registers a buffered subscription for topic.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscriber, error) {
	ch := make(chan Message, 64)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	return &memSub{b: b, topic: topic, ch: ch}, nil
}

// Pending reports the number of buffered, not yet consumed messages on a
// topic across all subscribers. Feeds the status signal's pending_work.
func (b *MemoryBus) Pending(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, ch := range b.subs[topic] {
		n += len(ch)
	}
	return n
}

type memSub struct {
	b     *MemoryBus
	topic string
	ch    chan Message
}

func (s *memSub) C() <-chan Message {
	return s.ch
}

func (s *memSub) Close() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	lst := s.b.subs[s.topic]
	out := lst[:0]
	for _, c := range lst {
		if c != s.ch {
			out = append(out, c)
		}
	}
	s.b.subs[s.topic] = out
	return nil
}
