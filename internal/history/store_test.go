package history

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	client, err := NewInMemoryClient()
	if err != nil {
		t.Fatalf("failed to create sqlite client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	store := NewStore(client)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return store
}

// pinNow fixes the store clock for the duration of the test.
func pinNow(t *testing.T, ts float64) {
	t.Helper()
	prev := now
	now = func() float64 { return ts }
	t.Cleanup(func() { now = prev })
}

func TestRecordAndQueryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordMetricsBatch(ctx, 305, map[string]any{"cost_total": 4.2}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	points, err := store.QueryMetrics(ctx, "cost_total", 0, 1000, 300)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(points))
	}
	if points[0].Bucket != 300 {
		t.Errorf("expected bucket 300, got %v", points[0].Bucket)
	}
	if points[0].Average != 4.2 {
		t.Errorf("expected average 4.2, got %v", points[0].Average)
	}
}

func TestBucketAverageOfEqualValues(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ts := 300 + float64(i)*10
		if err := store.RecordMetricsBatch(ctx, ts, map[string]any{"tokens_in_total": 7.0}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	points, err := store.QueryMetrics(ctx, "tokens_in_total", 0, 1000, 300)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(points))
	}
	if points[0].Average != 7.0 {
		t.Errorf("expected mean 7.0, got %v", points[0].Average)
	}
}

func TestBucketingDeterminism(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// 305 and 595 share bucket 300; 600 starts bucket 600.
	for ts, v := range map[float64]float64{305: 10, 595: 20, 600: 30} {
		if err := store.RecordMetricsBatch(ctx, ts, map[string]any{"sessions_active": v}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	points, err := store.QueryMetrics(ctx, "sessions_active", 0, 1000, 300)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(points), points)
	}
	if points[0].Bucket != 300 || points[0].Average != 15 {
		t.Errorf("bucket 300: expected average 15, got %+v", points[0])
	}
	if points[1].Bucket != 600 || points[1].Average != 30 {
		t.Errorf("bucket 600: expected average 30, got %+v", points[1])
	}
}

func TestQueryMetricsEmptyRange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	points, err := store.QueryMetrics(ctx, "nope", 0, 1000, 300)
	if err != nil {
		t.Fatalf("expected no error for empty range, got %v", err)
	}
	if points == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(points) != 0 {
		t.Errorf("expected 0 points, got %d", len(points))
	}
}

func TestTextRowsExcludedFromAggregation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pinNow(t, 150)
	if err := store.RecordTextMetric(ctx, "mixed", `{"a":1}`); err != nil {
		t.Fatalf("record text failed: %v", err)
	}
	if err := store.RecordMetricsBatch(ctx, 150, map[string]any{"mixed": 5.0}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	points, err := store.QueryMetrics(ctx, "mixed", 0, 1000, 300)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(points) != 1 || points[0].Average != 5.0 {
		t.Errorf("text row leaked into aggregation: %+v", points)
	}
}

func TestRecordMetricsBatchStringValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Non-numeric values take the text column and never aggregate.
	if err := store.RecordMetricsBatch(ctx, 100, map[string]any{"status": "healthy"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	points, err := store.QueryMetrics(ctx, "status", 0, 1000, 60)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("expected no numeric points for text value, got %+v", points)
	}

	names, err := store.ListMetricNames(ctx)
	if err != nil {
		t.Fatalf("list names failed: %v", err)
	}
	if len(names) != 1 || names[0] != "status" {
		t.Errorf("expected [status], got %v", names)
	}
}

func TestListMetricNamesSorted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := map[string]any{
		"tokens_out_total": 1.0,
		"cost_total":       2.0,
		"sessions_active":  3.0,
	}
	if err := store.RecordMetricsBatch(ctx, 10, batch); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	names, err := store.ListMetricNames(ctx)
	if err != nil {
		t.Fatalf("list names failed: %v", err)
	}
	expected := []string{"cost_total", "sessions_active", "tokens_out_total"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d names, got %v", len(expected), names)
	}
	for i, want := range expected {
		if names[i] != want {
			t.Errorf("position %d: expected %q, got %q", i, want, names[i])
		}
	}
}

func TestSessionsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordSession(ctx, 200, "main", map[string]any{"model": "opus"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordSession(ctx, 100, "main", map[string]any{"model": "sonnet"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordSession(ctx, 150, "other", map[string]any{"model": "haiku"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	records, err := store.QuerySessions(ctx, 0, 1000, "")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Ascending by timestamp regardless of insert order.
	if records[0].Timestamp != 100 || records[1].Timestamp != 150 || records[2].Timestamp != 200 {
		t.Errorf("records not sorted by ts: %+v", records)
	}

	filtered, err := store.QuerySessions(ctx, 0, 1000, "other")
	if err != nil {
		t.Fatalf("filtered query failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].SessionKey != "other" {
		t.Fatalf("expected only session 'other', got %+v", filtered)
	}

	m := filtered[0].Map()
	if m[FieldTimestamp] != 150.0 {
		t.Errorf("expected _ts 150, got %v", m[FieldTimestamp])
	}
	if m[FieldSessionKey] != "other" {
		t.Errorf("expected _session_key 'other', got %v", m[FieldSessionKey])
	}
	if m["model"] != "haiku" {
		t.Errorf("payload field lost: %v", m)
	}
}

func TestCorruptSessionRowFallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Bypass the API to plant a row that is not valid JSON.
	if _, err := store.db.ExecContext(ctx,
		`INSERT INTO sessions (ts, session_key, data) VALUES (?, ?, ?)`,
		50, "broken", "not json {",
	); err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}
	if err := store.RecordSession(ctx, 60, "ok", map[string]any{"fine": true}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	records, err := store.QuerySessions(ctx, 0, 1000, "")
	if err != nil {
		t.Fatalf("query must not fail on corrupt rows: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !records[0].Payload.Recovered {
		t.Error("corrupt row should be marked recovered")
	}
	if records[0].Payload.Data[FieldRaw] != "not json {" {
		t.Errorf("expected raw fallback, got %v", records[0].Payload.Data)
	}
	if records[1].Payload.Recovered {
		t.Error("valid row wrongly marked recovered")
	}
}

func TestCronsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordCron(ctx, 100, "backup", map[string]any{"state": "ok"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordCron(ctx, 200, "backup", map[string]any{"state": "failed"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordCron(ctx, 150, "report", map[string]any{"state": "ok"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	records, err := store.QueryCrons(ctx, 0, 1000, "backup")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 backup runs, got %d", len(records))
	}
	if records[0].Timestamp != 100 || records[1].Timestamp != 200 {
		t.Errorf("runs not sorted by ts: %+v", records)
	}

	m := records[1].Map()
	if m[FieldJobID] != "backup" || m["state"] != "failed" {
		t.Errorf("unexpected cron map: %v", m)
	}
}

func TestQuerySnapshotNear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pinNow(t, 100)
	if err := store.RecordTextMetric(ctx, MetricSnapshot, `{"cycle":"early"}`); err != nil {
		t.Fatalf("record snapshot failed: %v", err)
	}
	pinNow(t, 200)
	if err := store.RecordTextMetric(ctx, MetricSnapshot, `{"cycle":"late"}`); err != nil {
		t.Fatalf("record snapshot failed: %v", err)
	}

	tests := []struct {
		name  string
		query float64
		cycle string
	}{
		{"closer to early", 140, "early"},
		{"closer to late", 160, "late"},
		{"equidistant prefers earlier", 150, "early"},
		{"before range", 0, "early"},
		{"after range", 10000, "late"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, found, err := store.QuerySnapshotNear(ctx, tt.query)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if !found {
				t.Fatal("expected a snapshot")
			}
			if payload.Data["cycle"] != tt.cycle {
				t.Errorf("expected cycle %q, got %v", tt.cycle, payload.Data["cycle"])
			}
		})
	}
}

func TestQuerySnapshotNearEmpty(t *testing.T) {
	store := newTestStore(t)

	payload, found, err := store.QuerySnapshotNear(context.Background(), 100)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found {
		t.Errorf("expected no snapshot, got %+v", payload)
	}
}

func TestStats(t *testing.T) {
	// File-backed so the size statistic is exercised.
	path := filepath.Join(t.TempDir(), "history.db")
	client, err := NewFileClient(path)
	if err != nil {
		t.Fatalf("failed to create file client: %v", err)
	}
	defer client.Close()

	store := NewStore(client)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	empty, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if empty.TotalPoints != 0 || empty.OldestTS != 0 || empty.NewestTS != 0 {
		t.Errorf("expected zeroed stats on empty store, got %+v", empty)
	}

	if err := store.RecordMetricsBatch(ctx, 100, map[string]any{"cost_total": 1.0}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordMetricsBatch(ctx, 900, map[string]any{"cost_total": 2.0}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalPoints != 2 {
		t.Errorf("expected 2 points, got %d", stats.TotalPoints)
	}
	if stats.OldestTS != 100 || stats.NewestTS != 900 {
		t.Errorf("unexpected ts bounds: %+v", stats)
	}
	if stats.SizeBytes <= 0 {
		t.Errorf("expected positive db size, got %d", stats.SizeBytes)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordMetricsBatch(ctx, 10, map[string]any{"cost_total": 1.0}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalPoints != 1 {
		t.Errorf("migrate lost data: %+v", stats)
	}
}

func TestClosedStoreFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := store.RecordMetricsBatch(ctx, 10, map[string]any{"cost_total": 1.0}); err == nil {
		t.Error("expected write on closed store to fail")
	}
	if _, err := store.ListMetricNames(ctx); err == nil {
		t.Error("expected read on closed store to fail")
	}
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers = 4
	const rows = 25

	var wg sync.WaitGroup
	wg.Add(writers + 1)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rows; i++ {
				ts := float64(w*rows + i)
				if err := store.RecordMetricsBatch(ctx, ts, map[string]any{"cost_total": 1.0}); err != nil {
					t.Errorf("writer %d: %v", w, err)
					return
				}
			}
		}(w)
	}
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := store.QueryMetrics(ctx, "cost_total", 0, math.MaxFloat64, 60); err != nil {
				t.Errorf("reader: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalPoints != writers*rows {
		t.Errorf("expected %d rows, got %d", writers*rows, stats.TotalPoints)
	}
}
