// Package gmetrics exposes the gateway's domain meters. Instruments are
// created against the global meter provider, so everything degrades to
// no-ops when no provider is configured.
package gmetrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/models"
)

type GatewayMetrics interface {
	EventReceived(ctx context.Context, event *models.Event)
	EventDuplicate(ctx context.Context, event *models.Event)
	DeliveryAttempted(ctx context.Context, task *models.DeliveryTask)
	DeliveryCompleted(ctx context.Context, task *models.DeliveryTask, status string, elapsed time.Duration)
	DLQAppended(ctx context.Context, entry *models.DLQEntry)
	ScheduleCancelled(ctx context.Context, count int)
}

type gatewayMetricsImpl struct {
	eventsReceived     metric.Int64Counter
	eventsDuplicate    metric.Int64Counter
	deliveryAttempts   metric.Int64Counter
	deliveryOutcomes   metric.Int64Counter
	deliveryDuration   metric.Float64Histogram
	dlqEntries         metric.Int64Counter
	schedulesCancelled metric.Int64Counter
}

var _ GatewayMetrics = (*gatewayMetricsImpl)(nil)

func New() (GatewayMetrics, error) {
	meter := otel.GetMeterProvider().Meter("github.com/varaprasadreddy9676/integration-control-plane-sub002/internal/gmetrics")

	eventsReceived, err := meter.Int64Counter("gateway.events.received",
		metric.WithDescription("Events accepted from a source"))
	if err != nil {
		return nil, err
	}
	eventsDuplicate, err := meter.Int64Counter("gateway.events.duplicate",
		metric.WithDescription("Events suppressed by the idempotency layer"))
	if err != nil {
		return nil, err
	}
	deliveryAttempts, err := meter.Int64Counter("gateway.deliveries.attempted",
		metric.WithDescription("Delivery tasks picked up for execution"))
	if err != nil {
		return nil, err
	}
	deliveryOutcomes, err := meter.Int64Counter("gateway.deliveries.completed",
		metric.WithDescription("Delivery tasks that reached a terminal attempt outcome"))
	if err != nil {
		return nil, err
	}
	deliveryDuration, err := meter.Float64Histogram("gateway.deliveries.duration",
		metric.WithDescription("Wall time of a single delivery attempt"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	dlqEntries, err := meter.Int64Counter("gateway.dlq.appended",
		metric.WithDescription("Entries parked on the dead letter queue"))
	if err != nil {
		return nil, err
	}
	schedulesCancelled, err := meter.Int64Counter("gateway.schedules.cancelled",
		metric.WithDescription("Scheduled entries voided by cancellation"))
	if err != nil {
		return nil, err
	}

	return &gatewayMetricsImpl{
		eventsReceived:     eventsReceived,
		eventsDuplicate:    eventsDuplicate,
		deliveryAttempts:   deliveryAttempts,
		deliveryOutcomes:   deliveryOutcomes,
		deliveryDuration:   deliveryDuration,
		dlqEntries:         dlqEntries,
		schedulesCancelled: schedulesCancelled,
	}, nil
}

func (m *gatewayMetricsImpl) EventReceived(ctx context.Context, event *models.Event) {
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("source.kind", string(event.Source.Kind)),
	))
}

func (m *gatewayMetricsImpl) EventDuplicate(ctx context.Context, event *models.Event) {
	m.eventsDuplicate.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event.type", event.Type),
	))
}

func (m *gatewayMetricsImpl) DeliveryAttempted(ctx context.Context, task *models.DeliveryTask) {
	m.deliveryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", string(task.Trigger)),
	))
}

func (m *gatewayMetricsImpl) DeliveryCompleted(ctx context.Context, task *models.DeliveryTask, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("trigger", string(task.Trigger)),
		attribute.String("status", status),
	)
	m.deliveryOutcomes.Add(ctx, 1, attrs)
	m.deliveryDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *gatewayMetricsImpl) DLQAppended(ctx context.Context, entry *models.DLQEntry) {
	m.dlqEntries.Add(ctx, 1)
}

func (m *gatewayMetricsImpl) ScheduleCancelled(ctx context.Context, count int) {
	m.schedulesCancelled.Add(ctx, int64(count))
}
