package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "storefront/internal/service"

type instruments struct {
	tracer trace.Tracer

	reservationsCreated  metric.Int64Counter
	reservationsRejected metric.Int64Counter
	reservationsSwept    metric.Int64Counter
	checkoutsCommitted   metric.Int64Counter
	checkoutsRejected    metric.Int64Counter
	inconsistentState    metric.Int64Counter
}

// newInstruments binds to the global providers, which are no-ops until
// telemetry.Init installs real ones.
func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)

	// Instrument constructors only fail on invalid names; the returned
	// instrument is a usable no-op in that case.
	created, _ := meter.Int64Counter("storefront.reservations.created",
		metric.WithDescription("Stock reservations created"))
	rejected, _ := meter.Int64Counter("storefront.reservations.rejected",
		metric.WithDescription("Reservations rejected for insufficient stock"))
	swept, _ := meter.Int64Counter("storefront.reservations.swept",
		metric.WithDescription("Expired reservations deleted by the sweeper"))
	committed, _ := meter.Int64Counter("storefront.checkouts.committed",
		metric.WithDescription("Checkouts converted into orders"))
	checkoutRejected, _ := meter.Int64Counter("storefront.checkouts.rejected",
		metric.WithDescription("Checkouts rejected at validation"))
	inconsistent, _ := meter.Int64Counter("storefront.inconsistent_state",
		metric.WithDescription("Negative availability or drift between cart items and reservations"))

	return &instruments{
		tracer:               otel.Tracer(instrumentationName),
		reservationsCreated:  created,
		reservationsRejected: rejected,
		reservationsSwept:    swept,
		checkoutsCommitted:   committed,
		checkoutsRejected:    checkoutRejected,
		inconsistentState:    inconsistent,
	}
}

func (in *instruments) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// end records err on the span, if any, and closes it.
func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
