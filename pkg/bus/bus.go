// Package bus is an in-process publish/subscribe layer between market data
// collectors and strategies.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindKline     Kind = "kline"
	KindOrderbook Kind = "orderbook"
	KindTrade     Kind = "trade"
	KindTicker    Kind = "ticker"
)

// Topic builds "market.<kind>.<platform>.<symbol>".
func Topic(kind Kind, platform, symbol string) string {
	return fmt.Sprintf("market.%s.%s.%s", kind, platform, symbol)
}

// Handler receives the JSON payload of one message.
type Handler func(ctx context.Context, payload []byte)

type subscription struct {
	id int64
	h  Handler
}

// Bus delivers synchronously: Publish returns after every handler of the
// topic has returned, in subscription order. Nothing is buffered or dropped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID int64
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{subs: make(map[string][]subscription), logger: logger}
}

// Subscribe registers h on topic and returns its unsubscribe function.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, h: h})
	b.mu.Unlock()

	b.logger.WithField("topic", topic).Debug("Subscribed")

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish encodes v as JSON and hands it to every subscriber of topic.
func (b *Bus) Publish(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(ctx, payload)
	}
	return nil
}

// Subscribers returns the number of handlers on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
