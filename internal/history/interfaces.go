package history

import "context"

// =============================================================================
// CORE INTERFACES
// =============================================================================

// MetricsWriter is the write path used by producers (collector, host
// sampler, tests).
type MetricsWriter interface {
	// RecordMetricsBatch inserts one metric row per map entry at ts.
	RecordMetricsBatch(ctx context.Context, ts float64, values map[string]any) error
	// RecordTextMetric inserts a single text metric row timestamped now.
	RecordTextMetric(ctx context.Context, metric, text string) error
}

// ObservationWriter records session and cron observations.
type ObservationWriter interface {
	// RecordSession appends one session observation.
	RecordSession(ctx context.Context, ts float64, sessionKey string, payload map[string]any) error
	// RecordCron appends one cron run observation.
	RecordCron(ctx context.Context, ts float64, jobID string, payload map[string]any) error
}

// Writer is the full write surface of the store.
type Writer interface {
	MetricsWriter
	ObservationWriter
}

// Querier is the read surface exposed to callers (MCP tools, CLIs, tests).
type Querier interface {
	// QueryMetrics returns time-bucketed averages for a metric.
	QueryMetrics(ctx context.Context, metric string, fromTS, toTS float64, intervalSeconds int) ([]BucketPoint, error)
	// ListMetricNames returns distinct metric names, sorted.
	ListMetricNames(ctx context.Context) ([]string, error)
	// QuerySessions returns session observations in a time range.
	QuerySessions(ctx context.Context, fromTS, toTS float64, sessionKey string) ([]SessionRecord, error)
	// QueryCrons returns cron observations in a time range.
	QueryCrons(ctx context.Context, fromTS, toTS float64, jobID string) ([]CronRecord, error)
	// QuerySnapshotNear returns the snapshot closest to a timestamp.
	QuerySnapshotNear(ctx context.Context, ts float64) (Payload, bool, error)
	// Stats returns overall store statistics.
	Stats(ctx context.Context) (StoreStats, error)
}
