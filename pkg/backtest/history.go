package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/gregtusar/tradecore/pkg/locker"
	"github.com/sirupsen/logrus"
)

var (
	ErrReplayFinished = errors.New("replay already finished")
	ErrReplayRunning  = errors.New("replay is running")
)

// WindowLocker is the method locker every replay window is delivered under.
const WindowLocker = "history.window"

type RecordKind string

const (
	RecordKline     RecordKind = "kline"
	RecordTrade     RecordKind = "trade"
	RecordOrderbook RecordKind = "orderbook"
)

// Record is one stored market event. Payload is the JSON of the matching
// models type.
type Record struct {
	Kind      RecordKind      `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Platform  string          `json:"platform"`
	Symbol    string          `json:"symbol"`
	Payload   json.RawMessage `json:"payload"`
}

// Source is a replay participant, typically a simulated venue.
type Source interface {
	// Load returns the records of kind with timestamp in [begin, end).
	Load(ctx context.Context, kind RecordKind, begin, end int64) ([]Record, error)
	// Feed delivers one record. It returns only after every callback the
	// record triggered has returned.
	Feed(ctx context.Context, rec Record) error
	// Done is called once after the last window.
	Done(ctx context.Context)
}

type HistoryConfig struct {
	Start      time.Time
	PeriodDay  int
	Window     time.Duration // default 1h
	DriveTypes []RecordKind  // default kline
}

func (c HistoryConfig) withDefaults() HistoryConfig {
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if len(c.DriveTypes) == 0 {
		c.DriveTypes = []RecordKind{RecordKline}
	}
	return c
}

// History merges every registered source into one timestamp-ordered stream
// and replays it window by window.
type History struct {
	cfg     HistoryConfig
	clock   *Clock
	lockers *locker.Registry
	logger  *logrus.Logger

	mu         sync.Mutex
	sources    []Source
	onComplete []func(ctx context.Context)
	taps       []func(Record)
	running    bool
	finished   bool
}

func NewHistory(cfg HistoryConfig, clock *Clock, lockers *locker.Registry, logger *logrus.Logger) (*History, error) {
	if cfg.Start.IsZero() {
		return nil, errors.New("backtest start time is required")
	}
	if cfg.PeriodDay <= 0 {
		return nil, fmt.Errorf("backtest period_day must be positive, got %d", cfg.PeriodDay)
	}
	if clock == nil {
		clock = NewClock(cfg.Start)
	}
	if lockers == nil {
		lockers = locker.NewRegistry()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &History{
		cfg:     cfg.withDefaults(),
		clock:   clock,
		lockers: lockers,
		logger:  logger,
	}, nil
}

func (h *History) Clock() *Clock { return h.clock }

// Register adds a source. Registration order breaks timestamp ties.
func (h *History) Register(src Source) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return ErrReplayFinished
	}
	if h.running {
		return ErrReplayRunning
	}
	h.sources = append(h.sources, src)
	return nil
}

// OnComplete adds a hook run after the last window.
func (h *History) OnComplete(fn func(ctx context.Context)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onComplete = append(h.onComplete, fn)
}

// Tap observes every record right before it is fed.
func (h *History) Tap(fn func(Record)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps = append(h.taps, fn)
}

type pending struct {
	src Source
	rec Record
}

// Run replays [Start, Start+PeriodDay) and blocks until done or ctx ends.
// A History runs once.
func (h *History) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return ErrReplayFinished
	}
	if h.running {
		h.mu.Unlock()
		return ErrReplayRunning
	}
	h.running = true
	sources := append([]Source(nil), h.sources...)
	taps := slices.Clone(h.taps)
	h.mu.Unlock()

	begin := h.cfg.Start.UnixMilli()
	end := h.cfg.Start.Add(time.Duration(h.cfg.PeriodDay) * 24 * time.Hour).UnixMilli()
	step := h.cfg.Window.Milliseconds()

	log := h.logger.WithFields(logrus.Fields{
		"start":   h.cfg.Start.UTC().Format(time.RFC3339),
		"days":    h.cfg.PeriodDay,
		"window":  h.cfg.Window,
		"sources": len(sources),
	})
	log.Info("Starting replay")

	lk := h.lockers.Get(WindowLocker)
	total := 0
	for b := begin; b < end; b += step {
		e := min(b+step, end)
		err := lk.Do(ctx, func(ctx context.Context) error {
			n, err := h.window(ctx, sources, taps, b, e)
			total += n
			return err
		})
		if err != nil {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return err
		}
	}

	for _, src := range sources {
		src.Done(ctx)
	}

	h.mu.Lock()
	h.running = false
	h.finished = true
	hooks := slices.Clone(h.onComplete)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(ctx)
	}
	log.WithField("records", total).Info("Replay finished")
	return nil
}

func (h *History) window(ctx context.Context, sources []Source, taps []func(Record), begin, end int64) (int, error) {
	var batch []pending
	for _, src := range sources {
		for _, kind := range h.cfg.DriveTypes {
			recs, err := src.Load(ctx, kind, begin, end)
			if err != nil {
				return 0, fmt.Errorf("load %s [%d, %d): %w", kind, begin, end, err)
			}
			for _, r := range recs {
				batch = append(batch, pending{src: src, rec: r})
			}
		}
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].rec.Timestamp < batch[j].rec.Timestamp
	})

	for _, p := range batch {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		h.clock.Advance(p.rec.Timestamp)
		for _, tap := range taps {
			tap(p.rec)
		}
		if err := p.src.Feed(ctx, p.rec); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"kind":      p.rec.Kind,
				"platform":  p.rec.Platform,
				"symbol":    p.rec.Symbol,
				"timestamp": p.rec.Timestamp,
			}).Warn("Failed to feed record")
		}
	}
	return len(batch), nil
}
