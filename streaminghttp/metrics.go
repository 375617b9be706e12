package streaminghttp

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/ggoodman/mcp-session-gateway"

type metrics struct {
	sessionsCreated metric.Int64Counter
	sessionsClosed  metric.Int64Counter
	inboundMessages metric.Int64Counter
	requestDur      metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	sessionsCreated, _ := meter.Int64Counter(
		"mcp.gateway.sessions.created",
		metric.WithDescription("Sessions admitted to the registry"),
		metric.WithUnit("{session}"),
	)
	sessionsClosed, _ := meter.Int64Counter(
		"mcp.gateway.sessions.closed",
		metric.WithDescription("Sessions removed and disposed"),
		metric.WithUnit("{session}"),
	)
	inboundMessages, _ := meter.Int64Counter(
		"mcp.gateway.messages.inbound",
		metric.WithDescription("Inbound JSON-RPC messages relayed into sessions"),
		metric.WithUnit("{message}"),
	)
	requestDur, _ := meter.Float64Histogram(
		"mcp.gateway.request.duration",
		metric.WithDescription("HTTP request handling duration"),
		metric.WithUnit("s"),
	)

	return &metrics{
		sessionsCreated: sessionsCreated,
		sessionsClosed:  sessionsClosed,
		inboundMessages: inboundMessages,
		requestDur:      requestDur,
	}
}

func (m *metrics) sessionCreated(ctx context.Context, variant string) {
	m.sessionsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", variant)))
}

func (m *metrics) sessionClosed(ctx context.Context, variant string) {
	m.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", variant)))
}

func (m *metrics) inboundMessage(ctx context.Context, variant string) {
	m.inboundMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", variant)))
}

func (m *metrics) requestDone(ctx context.Context, route string, start time.Time) {
	m.requestDur.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("route", route)))
}
