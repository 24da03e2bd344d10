package hostwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"clawlens/internal/history"
)

// timeNow is swapped in tests that pin sample timestamps.
var timeNow = func() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Sampler periodically runs a probe set and writes the gauges through the
// history store. Probe failures are logged and skipped; the loop never
// stops on its own.
type Sampler struct {
	store    history.MetricsWriter
	probes   []Probe
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// NewSampler creates a sampler over the given probes. A nil probe slice
// gets DefaultProbes.
func NewSampler(store history.MetricsWriter, probes []Probe, interval time.Duration, log *slog.Logger) (*Sampler, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if probes == nil {
		probes = DefaultProbes()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		store:    store,
		probes:   probes,
		interval: interval,
		log:      log,
	}, nil
}

// Start begins periodic sampling. Calling Start on a running sampler is a
// no-op.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)

	go s.loop(ctx)
}

// Stop cancels the loop and waits for the worker to exit. Probes finish
// quickly, so an unbounded wait is fine here.
func (s *Sampler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// SampleOnce runs every probe once and records whatever succeeded.
func (s *Sampler) SampleOnce(ctx context.Context) {
	ts := timeNow()
	values := map[string]any{}
	for _, probe := range s.probes {
		gauges, err := probe.Sample(ctx)
		if err != nil {
			s.log.Warn("host probe failed", "probe", probe.Name(), "error", err)
			continue
		}
		for name, v := range gauges {
			values[name] = v
		}
	}
	if len(values) == 0 {
		return
	}
	if err := s.store.RecordMetricsBatch(ctx, ts, values); err != nil {
		s.log.Warn("failed to record host metrics", "error", err)
	}
}

func (s *Sampler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.SampleOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}
