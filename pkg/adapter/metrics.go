// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/GwynCerbin/go_servicebus/pkg/adapter"

// Metrics holds the OpenTelemetry instruments of a receiver. Instruments come
// from the global providers and are no-ops unless the host installs an SDK.
type Metrics struct {
	tracer trace.Tracer

	messagesReceived metric.Int64Counter
	messagesSettled  metric.Int64Counter
	managementCalls  metric.Int64Counter
	errorsTotal      metric.Int64Counter
	pendingLocks     metric.Int64UpDownCounter
}

// NewMetrics creates the receiver instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{
		tracer: otel.Tracer(instrumentationName),
	}

	var err error

	m.messagesReceived, err = meter.Int64Counter(
		"servicebus.messages.received.total",
		metric.WithDescription("Total messages materialized from live receives"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesReceived counter: %w", err)
	}

	m.messagesSettled, err = meter.Int64Counter(
		"servicebus.messages.settled.total",
		metric.WithDescription("Total settlement attempts by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messagesSettled counter: %w", err)
	}

	m.managementCalls, err = meter.Int64Counter(
		"servicebus.management.calls.total",
		metric.WithDescription("Total management operations by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create managementCalls counter: %w", err)
	}

	m.errorsTotal, err = meter.Int64Counter(
		"servicebus.errors.total",
		metric.WithDescription("Total receiver errors by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create errorsTotal counter: %w", err)
	}

	m.pendingLocks, err = meter.Int64UpDownCounter(
		"servicebus.locks.pending",
		metric.WithDescription("Locked messages awaiting settlement"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pendingLocks gauge: %w", err)
	}

	return m, nil
}

func (m *Metrics) startSpan(ctx context.Context, op, path string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "servicebus."+op,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination.name", path)))
}

// endSpan records err on the span and the error counter, then ends the span.
func (m *Metrics) endSpan(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}

	span.End()
}

func (m *Metrics) received(ctx context.Context, path string, n int) {
	if n == 0 {
		return
	}

	m.messagesReceived.Add(ctx, int64(n), metric.WithAttributes(attribute.String("entity", path)))
}

func (m *Metrics) settled(ctx context.Context, op string, err error) {
	m.messagesSettled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil)))
}

func (m *Metrics) managementCall(ctx context.Context, op string, err error) {
	m.managementCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil)))
}

func (m *Metrics) locks(ctx context.Context, delta int64) {
	m.pendingLocks.Add(ctx, delta)
}
