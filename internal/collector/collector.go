package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"clawlens/internal/gateway"
	"clawlens/internal/history"
)

// ErrorHook receives per-step collection failures. The collector never
// surfaces errors out of its loop; the hook is the one place they become
// observable. Hooks must be safe for concurrent use.
type ErrorHook func(step string, err error)

// timeNow is swapped in tests that pin cycle timestamps.
var timeNow = func() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Collector runs one background worker that polls the gateway every
// Interval and writes derived metrics, cron records, and one raw snapshot
// per cycle through the history store.
type Collector struct {
	store  history.Writer
	invoke gateway.Invoker
	cfg    Config
	hook   ErrorHook
	log    *slog.Logger
	id     string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// Option configures the collector.
type Option func(*Collector)

// WithErrorHook installs a hook invoked on every swallowed step failure.
func WithErrorHook(hook ErrorHook) Option {
	return func(c *Collector) {
		c.hook = hook
	}
}

// WithLogger sets the logger used by the default error hook.
func WithLogger(log *slog.Logger) Option {
	return func(c *Collector) {
		c.log = log
	}
}

// New creates a collector instance.
func New(store history.Writer, invoke gateway.Invoker, cfg Config, opts ...Option) (*Collector, error) {
	if store == nil || invoke == nil {
		return nil, errors.New("store and invoker are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Collector{
		store:  store,
		invoke: invoke,
		cfg:    cfg,
		log:    slog.Default(),
		id:     uuid.NewString(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.hook == nil {
		c.hook = func(step string, err error) {
			c.log.Warn("collection step failed",
				"collector_id", c.id,
				"step", step,
				"error", err,
			)
		}
	}
	return c, nil
}

// ID returns the instance identifier used for log correlation.
func (c *Collector) ID() string {
	return c.id
}

// Start begins the periodic collection loop. Calling Start on a running
// collector is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)

	go c.loop(ctx)
}

// Stop requests the worker to exit and waits up to StopTimeout for it.
// Context cancellation wakes the sleep phase immediately; a worker blocked
// inside a gateway call may outlive the wait, which is accepted.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.running = false
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.cfg.StopTimeout):
		c.log.Warn("collector worker did not exit within stop timeout",
			"collector_id", c.id,
			"timeout", c.cfg.StopTimeout,
		)
	}
}

// CollectOnce executes a single collection cycle immediately. Step
// failures are swallowed as in the background loop; CollectOnce itself
// never returns an error.
func (c *Collector) CollectOnce(ctx context.Context) {
	c.cycle(ctx)
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	// Collect immediately, then on every tick.
	c.cycle(ctx)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle(ctx)
		}
	}
}

// cycle performs one collection: session_status metrics, sessions_active
// count, cron run records, then one raw snapshot of everything fetched.
// The four steps run in order and are isolated from one another; the
// snapshot step runs with whatever the earlier steps managed to collect.
func (c *Collector) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.hook("cycle", fmt.Errorf("panic: %v", r))
		}
	}()

	ts := timeNow()
	allData := map[string]any{}

	if err := c.collectStatus(ctx, ts, allData); err != nil {
		c.hook("session_status", err)
	}
	if err := c.collectSessions(ctx, ts, allData); err != nil {
		c.hook("sessions_list", err)
	}
	if err := c.collectCrons(ctx, ts, allData); err != nil {
		c.hook("cron", err)
	}
	if err := c.writeSnapshot(ctx, allData); err != nil {
		c.hook("snapshot", err)
	}
}

// collectStatus extracts cost and token totals from session_status.
// Absent or unconvertible fields are omitted, never defaulted to zero.
func (c *Collector) collectStatus(ctx context.Context, ts float64, allData map[string]any) error {
	status, err := c.invoke.Invoke(ctx, "session_status", map[string]any{})
	if err != nil {
		return err
	}

	metrics := map[string]any{}
	for _, name := range []string{"cost_total", "tokens_in_total", "tokens_out_total"} {
		if f, ok := safeFloat(status[name]); ok {
			metrics[name] = f
		}
	}
	if len(metrics) > 0 {
		if err := c.store.RecordMetricsBatch(ctx, ts, metrics); err != nil {
			return err
		}
	}
	allData["session_status"] = status
	return nil
}

// collectSessions records the current session count as sessions_active.
func (c *Collector) collectSessions(ctx context.Context, ts float64, allData map[string]any) error {
	resp, err := c.invoke.Invoke(ctx, "sessions_list", map[string]any{
		"limit":        c.cfg.SessionsLimit,
		"messageLimit": 0,
	})
	if err != nil {
		return err
	}

	raw, present := resp["sessions"]
	if !present {
		raw = []any{}
	}
	sessions, ok := raw.([]any)
	if !ok {
		return nil
	}
	if err := c.store.RecordMetricsBatch(ctx, ts, map[string]any{
		"sessions_active": float64(len(sessions)),
	}); err != nil {
		return err
	}
	allData["sessions_list"] = resp
	return nil
}

// collectCrons writes one CronRecord per job that reports a last-run time,
// stamped at that run time. Jobs without one are skipped here but still
// end up in the raw snapshot.
func (c *Collector) collectCrons(ctx context.Context, ts float64, allData map[string]any) error {
	resp, err := c.invoke.Invoke(ctx, "cron", map[string]any{"action": "list"})
	if err != nil {
		return err
	}
	allData["cron"] = resp

	raw, present := resp["jobs"]
	if !present {
		raw = resp["crons"]
	}
	jobs, ok := raw.([]any)
	if !ok {
		return nil
	}

	for _, entry := range jobs {
		job, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		jobID := stringOr(job["id"], stringOr(job["name"], "unknown"))

		lastRun := job["lastRun"]
		if !truthy(lastRun) {
			lastRun = job["last_run"]
		}
		if !truthy(lastRun) {
			continue
		}
		if err := c.store.RecordCron(ctx, normalizeRunTime(lastRun, ts), jobID, job); err != nil {
			return err
		}
	}
	return nil
}

// writeSnapshot persists the cycle's raw responses as one snapshot row.
func (c *Collector) writeSnapshot(ctx context.Context, allData map[string]any) error {
	data, err := json.Marshal(allData)
	if err != nil {
		return err
	}
	return c.store.RecordTextMetric(ctx, history.MetricSnapshot, string(data))
}
