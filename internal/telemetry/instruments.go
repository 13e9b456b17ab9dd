package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	cacheScopeName    = "github.com/steveyegge/foundry/internal/configcache"
	workflowScopeName = "github.com/steveyegge/foundry/internal/workflow"
)

// CacheMetrics are the configuration cache instruments. The zero value
// is unusable; build one with NewCacheMetrics. A nil *CacheMetrics is a
// valid no-op.
type CacheMetrics struct {
	lookups     metric.Int64Counter
	fetches     metric.Int64Counter
	staleServed metric.Int64Counter
}

// NewCacheMetrics registers foundry.cache.* instruments on the global meter.
func NewCacheMetrics() *CacheMetrics {
	m := Meter(cacheScopeName)
	lookups, _ := m.Int64Counter("foundry.cache.lookups",
		metric.WithDescription("Cache tier lookups by tier and result"),
	)
	fetches, _ := m.Int64Counter("foundry.cache.fetches",
		metric.WithDescription("Upstream configuration fetches by result"),
	)
	stale, _ := m.Int64Counter("foundry.cache.stale_served",
		metric.WithDescription("Snapshots served past their TTL"),
	)
	return &CacheMetrics{lookups: lookups, fetches: fetches, staleServed: stale}
}

// Lookup records one tier lookup. result is hit, miss, stale, or error.
func (m *CacheMetrics) Lookup(ctx context.Context, tier, result string) {
	if m == nil {
		return
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("result", result),
	))
}

// Fetch records one upstream fetch.
func (m *CacheMetrics) Fetch(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.fetches.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
}

// StaleServed records a stale snapshot returned to a caller.
func (m *CacheMetrics) StaleServed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.staleServed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// WorkflowMetrics are the workflow engine instruments. A nil
// *WorkflowMetrics is a valid no-op.
type WorkflowMetrics struct {
	transitions metric.Int64Counter
	attempts    metric.Int64Histogram
}

// NewWorkflowMetrics registers foundry.workflow.* instruments.
func NewWorkflowMetrics() *WorkflowMetrics {
	m := Meter(workflowScopeName)
	transitions, _ := m.Int64Counter("foundry.workflow.transitions",
		metric.WithDescription("Phase transitions by kind and outcome"),
	)
	attempts, _ := m.Int64Histogram("foundry.workflow.attempts",
		metric.WithDescription("Remote update attempts per transition"),
	)
	return &WorkflowMetrics{transitions: transitions, attempts: attempts}
}

// Transition records the outcome of one transition or rollback.
func (m *WorkflowMetrics) Transition(ctx context.Context, kind, outcome string, attempts int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.transitions.Add(ctx, 1, attrs)
	if attempts > 0 {
		m.attempts.Record(ctx, int64(attempts), attrs)
	}
}

// WorkflowTracer returns the tracer used for per-transition spans.
func WorkflowTracer() trace.Tracer {
	return Tracer(workflowScopeName)
}
