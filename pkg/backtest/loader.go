package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/gregtusar/tradecore/pkg/store"
)

// Loader reads stored market records of one symbol.
type Loader interface {
	Load(ctx context.Context, platform, symbol string, kind RecordKind, begin, end int64) ([]Record, error)
}

// MemoryLoader serves records kept in memory.
type MemoryLoader struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{}
}

// Add stores v as a record. v must encode to a JSON object carrying the
// record's timestamp, like the models market types do.
func (l *MemoryLoader) Add(kind RecordKind, platform, symbol string, ts int64, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", kind, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, Record{
		Kind:      kind,
		Timestamp: ts,
		Platform:  platform,
		Symbol:    symbol,
		Payload:   payload,
	})
	return nil
}

func (l *MemoryLoader) Load(_ context.Context, platform, symbol string, kind RecordKind, begin, end int64) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Record
	for _, r := range l.records {
		if r.Kind == kind && r.Platform == platform && r.Symbol == symbol &&
			r.Timestamp >= begin && r.Timestamp < end {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

// StoreLoader reads the kline, trade and orderbook collections of a
// document store. Documents are the JSON of the models market types.
type StoreLoader struct {
	Store store.DocumentStore
}

func (l StoreLoader) Load(ctx context.Context, platform, symbol string, kind RecordKind, begin, end int64) ([]Record, error) {
	docs, err := l.Store.GetList(ctx, string(kind), store.Filter{
		Eq:    map[string]any{"platform": platform, "symbol": symbol},
		Range: []store.Range{{Field: "timestamp", Gte: begin, Lt: end}},
	}, store.ListOptions{Sort: "timestamp"})
	if err != nil {
		return nil, fmt.Errorf("load %s %s/%s: %w", kind, platform, symbol, err)
	}

	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		var head struct {
			Timestamp int64 `json:"timestamp"`
		}
		if err := d.Decode(&head); err != nil {
			return nil, fmt.Errorf("decode %s document %s: %w", kind, d.ID, err)
		}
		out = append(out, Record{
			Kind:      kind,
			Timestamp: head.Timestamp,
			Platform:  platform,
			Symbol:    symbol,
			Payload:   d.Body,
		})
	}
	return out, nil
}
