package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrGateway   = "gateway"
	attrOperation = "operation"
	attrProvider  = "provider"
	attrResult    = "result"
	attrAction    = "action_type"
)

// Metrics records MailPipe's counters and histograms. All methods are safe to
// call on a nil receiver.
type Metrics struct {
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	turnsTotal   metric.Int64Counter
	turnDuration metric.Float64Histogram

	llmCallsTotal   metric.Int64Counter
	llmCallDuration metric.Float64Histogram

	gatewayCallsTotal metric.Int64Counter

	emailsDispatched metric.Int64Counter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.httpRequestsTotal, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120)); err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}
	if m.turnsTotal, err = meter.Int64Counter("agent_turns_total",
		metric.WithDescription("Agent turns by outcome status"),
		metric.WithUnit("{turn}")); err != nil {
		return nil, fmt.Errorf("failed to create agent_turns_total counter: %w", err)
	}
	if m.turnDuration, err = meter.Float64Histogram("agent_turn_duration_seconds",
		metric.WithDescription("Agent turn duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120)); err != nil {
		return nil, fmt.Errorf("failed to create agent_turn_duration_seconds histogram: %w", err)
	}
	if m.llmCallsTotal, err = meter.Int64Counter("llm_calls_total",
		metric.WithDescription("Language model calls by provider and result"),
		metric.WithUnit("{call}")); err != nil {
		return nil, fmt.Errorf("failed to create llm_calls_total counter: %w", err)
	}
	if m.llmCallDuration, err = meter.Float64Histogram("llm_call_duration_seconds",
		metric.WithDescription("Language model call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.25, 0.5, 1, 2, 5, 10, 20, 40, 60)); err != nil {
		return nil, fmt.Errorf("failed to create llm_call_duration_seconds histogram: %w", err)
	}
	if m.gatewayCallsTotal, err = meter.Int64Counter("gateway_calls_total",
		metric.WithDescription("Calls to contacts, mail and credential gateways"),
		metric.WithUnit("{call}")); err != nil {
		return nil, fmt.Errorf("failed to create gateway_calls_total counter: %w", err)
	}
	if m.emailsDispatched, err = meter.Int64Counter("emails_dispatched_total",
		metric.WithDescription("Emails handed to the mail transport by result"),
		metric.WithUnit("{email}")); err != nil {
		return nil, fmt.Errorf("failed to create emails_dispatched_total counter: %w", err)
	}
	return m, nil
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(status)),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordTurn records one agent turn and its outcome status.
func (m *Metrics) RecordTurn(ctx context.Context, actionType, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(attrAction, actionType), attribute.String(attrStatus, status))
	m.turnsTotal.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordLLMCall records one language model call.
func (m *Metrics) RecordLLMCall(ctx context.Context, provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(attrProvider, provider), attribute.String(attrResult, result))
	m.llmCallsTotal.Add(ctx, 1, attrs)
	m.llmCallDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordGatewayCall records one call to an external gateway.
func (m *Metrics) RecordGatewayCall(ctx context.Context, gateway, operation string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.gatewayCallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrGateway, gateway),
		attribute.String(attrOperation, operation),
		attribute.String(attrResult, result),
	))
}

// RecordDispatch records the outcome of one send.
func (m *Metrics) RecordDispatch(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.emailsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}
