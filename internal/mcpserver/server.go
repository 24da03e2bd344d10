// Package mcpserver exposes the history store to MCP clients over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"clawlens/internal/history"
)

// CollectTrigger runs one collection cycle on demand.
type CollectTrigger interface {
	CollectOnce(ctx context.Context)
}

// Server wraps the MCP server with history query tools.
type Server struct {
	mcpServer *mcp.Server
	store     history.Querier
	trigger   CollectTrigger
	log       *slog.Logger
}

// Config holds configuration for the MCP server.
type Config struct {
	ServerName    string
	ServerVersion string
}

// NewServer creates a new MCP server instance. The trigger is optional;
// without one the collect_now tool reports an error.
func NewServer(cfg Config, store history.Querier, trigger CollectTrigger, log *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if log == nil {
		log = slog.Default()
	}

	impl := &mcp.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}

	s := &Server{
		mcpServer: mcp.NewServer(impl, nil),
		store:     store,
		trigger:   trigger,
		log:       log,
	}
	s.registerTools()
	return s, nil
}

// timeNow is swapped in tests that pin the default query window.
var timeNow = func() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// timeRange applies the default query window: end defaults to now, start
// to 24 hours before end.
func timeRange(fromTS, toTS float64) (float64, float64) {
	if toTS == 0 {
		toTS = timeNow()
	}
	if fromTS == 0 {
		fromTS = toTS - 24*3600
	}
	return fromTS, toTS
}

// =============================================================================
// TOOL SCHEMAS
// =============================================================================

// QueryMetricsArgs defines the input for the query_metrics tool.
type QueryMetricsArgs struct {
	Metric          string  `json:"metric" jsonschema:"metric name, e.g. cost_total"`
	FromTS          float64 `json:"from_ts,omitempty" jsonschema:"range start as unix seconds; 0 means 24h before the range end"`
	ToTS            float64 `json:"to_ts,omitempty" jsonschema:"range end as unix seconds; 0 means now"`
	IntervalSeconds int     `json:"interval_seconds,omitempty" jsonschema:"bucket width in seconds; 0 means 300"`
}

// QueryMetricsResult wraps bucketed metric averages.
type QueryMetricsResult struct {
	Metric string                `json:"metric" jsonschema:"queried metric name"`
	Points []history.BucketPoint `json:"points" jsonschema:"time-bucketed averages, ascending"`
}

// ListMetricsResult wraps the known metric names.
type ListMetricsResult struct {
	Metrics []string `json:"metrics" jsonschema:"distinct metric names, sorted"`
}

// QuerySessionsArgs defines the input for the query_sessions tool.
type QuerySessionsArgs struct {
	FromTS     float64 `json:"from_ts,omitempty" jsonschema:"range start as unix seconds; 0 means 24h before the range end"`
	ToTS       float64 `json:"to_ts,omitempty" jsonschema:"range end as unix seconds; 0 means now"`
	SessionKey string  `json:"session_key,omitempty" jsonschema:"optional session key filter"`
}

// QuerySessionsResult wraps session observations.
type QuerySessionsResult struct {
	Sessions []map[string]any `json:"sessions" jsonschema:"session observations, oldest first"`
}

// QueryCronsArgs defines the input for the query_crons tool.
type QueryCronsArgs struct {
	FromTS float64 `json:"from_ts,omitempty" jsonschema:"range start as unix seconds; 0 means 24h before the range end"`
	ToTS   float64 `json:"to_ts,omitempty" jsonschema:"range end as unix seconds; 0 means now"`
	JobID  string  `json:"job_id,omitempty" jsonschema:"optional cron job id filter"`
}

// QueryCronsResult wraps cron run observations.
type QueryCronsResult struct {
	Crons []map[string]any `json:"crons" jsonschema:"cron run observations, oldest first"`
}

// QuerySnapshotArgs defines the input for the query_snapshot tool.
type QuerySnapshotArgs struct {
	TS float64 `json:"ts,omitempty" jsonschema:"target unix seconds; 0 means now"`
}

// QuerySnapshotResult wraps the nearest raw gateway snapshot.
type QuerySnapshotResult struct {
	Found     bool           `json:"found" jsonschema:"whether any snapshot exists"`
	Snapshot  map[string]any `json:"snapshot,omitempty" jsonschema:"raw gateway responses of the nearest cycle"`
	Recovered bool           `json:"recovered,omitempty" jsonschema:"true when the stored document was corrupt and wrapped as raw text"`
}

// StatsResult wraps store statistics.
type StatsResult struct {
	TotalPoints int64   `json:"total_points" jsonschema:"total metric rows"`
	OldestTS    float64 `json:"oldest_ts" jsonschema:"oldest metric timestamp, unix seconds"`
	NewestTS    float64 `json:"newest_ts" jsonschema:"newest metric timestamp, unix seconds"`
	SizeBytes   int64   `json:"size_bytes" jsonschema:"database file size in bytes"`
}

// CollectNowResult reports an on-demand collection cycle.
type CollectNowResult struct {
	Triggered bool `json:"triggered" jsonschema:"whether a cycle ran"`
}

// =============================================================================
// TOOL REGISTRATION AND HANDLERS
// =============================================================================

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_metrics",
		Description: "Query time-bucketed averages of a recorded metric (cost_total, tokens_in_total, tokens_out_total, sessions_active, host gauges). Use for trend analysis over a time range.",
	}, s.handleQueryMetrics)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_metrics",
		Description: "List the distinct metric names present in the history store.",
	}, s.handleListMetrics)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_sessions",
		Description: "Query recorded session observations in a time range, optionally filtered by session key.",
	}, s.handleQuerySessions)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_crons",
		Description: "Query recorded cron job runs in a time range, optionally filtered by job id.",
	}, s.handleQueryCrons)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_snapshot",
		Description: "Fetch the raw gateway snapshot closest to a point in time. Use to inspect exactly what the gateway reported around an incident.",
	}, s.handleQuerySnapshot)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "history_stats",
		Description: "Report history store statistics: total metric points, covered time range, and database file size.",
	}, s.handleStats)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "collect_now",
		Description: "Run one collection cycle immediately instead of waiting for the next scheduled one.",
	}, s.handleCollectNow)
}

func (s *Server) handleQueryMetrics(ctx context.Context, _ *mcp.CallToolRequest, args QueryMetricsArgs) (*mcp.CallToolResult, QueryMetricsResult, error) {
	if args.Metric == "" {
		return nil, QueryMetricsResult{}, fmt.Errorf("metric is required")
	}
	fromTS, toTS := timeRange(args.FromTS, args.ToTS)

	points, err := s.store.QueryMetrics(ctx, args.Metric, fromTS, toTS, args.IntervalSeconds)
	if err != nil {
		return nil, QueryMetricsResult{}, fmt.Errorf("failed to query metrics: %w", err)
	}
	return nil, QueryMetricsResult{Metric: args.Metric, Points: points}, nil
}

func (s *Server) handleListMetrics(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ListMetricsResult, error) {
	names, err := s.store.ListMetricNames(ctx)
	if err != nil {
		return nil, ListMetricsResult{}, fmt.Errorf("failed to list metrics: %w", err)
	}
	return nil, ListMetricsResult{Metrics: names}, nil
}

func (s *Server) handleQuerySessions(ctx context.Context, _ *mcp.CallToolRequest, args QuerySessionsArgs) (*mcp.CallToolResult, QuerySessionsResult, error) {
	fromTS, toTS := timeRange(args.FromTS, args.ToTS)

	records, err := s.store.QuerySessions(ctx, fromTS, toTS, args.SessionKey)
	if err != nil {
		return nil, QuerySessionsResult{}, fmt.Errorf("failed to query sessions: %w", err)
	}

	// Initialize as empty slice, not nil
	sessions := []map[string]any{}
	for _, r := range records {
		sessions = append(sessions, r.Map())
	}
	return nil, QuerySessionsResult{Sessions: sessions}, nil
}

func (s *Server) handleQueryCrons(ctx context.Context, _ *mcp.CallToolRequest, args QueryCronsArgs) (*mcp.CallToolResult, QueryCronsResult, error) {
	fromTS, toTS := timeRange(args.FromTS, args.ToTS)

	records, err := s.store.QueryCrons(ctx, fromTS, toTS, args.JobID)
	if err != nil {
		return nil, QueryCronsResult{}, fmt.Errorf("failed to query crons: %w", err)
	}

	// Initialize as empty slice, not nil
	crons := []map[string]any{}
	for _, r := range records {
		crons = append(crons, r.Map())
	}
	return nil, QueryCronsResult{Crons: crons}, nil
}

func (s *Server) handleQuerySnapshot(ctx context.Context, _ *mcp.CallToolRequest, args QuerySnapshotArgs) (*mcp.CallToolResult, QuerySnapshotResult, error) {
	ts := args.TS
	if ts == 0 {
		ts = timeNow()
	}

	payload, found, err := s.store.QuerySnapshotNear(ctx, ts)
	if err != nil {
		return nil, QuerySnapshotResult{}, fmt.Errorf("failed to query snapshot: %w", err)
	}
	if !found {
		return nil, QuerySnapshotResult{Found: false}, nil
	}
	return nil, QuerySnapshotResult{
		Found:     true,
		Snapshot:  payload.Data,
		Recovered: payload.Recovered,
	}, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, StatsResult, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, StatsResult{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return nil, StatsResult{
		TotalPoints: stats.TotalPoints,
		OldestTS:    stats.OldestTS,
		NewestTS:    stats.NewestTS,
		SizeBytes:   stats.SizeBytes,
	}, nil
}

func (s *Server) handleCollectNow(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, CollectNowResult, error) {
	if s.trigger == nil {
		return nil, CollectNowResult{}, fmt.Errorf("no collector attached")
	}
	s.trigger.CollectOnce(ctx)
	return nil, CollectNowResult{Triggered: true}, nil
}

// Start runs the MCP server on stdio until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("starting MCP server on stdio")
	transport := &mcp.StdioTransport{}
	return s.mcpServer.Run(ctx, transport)
}
