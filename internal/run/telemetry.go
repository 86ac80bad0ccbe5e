package run

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"fleetrun/pkg/telemetry"
)

func newOperation(ctx context.Context, tracer trace.Tracer) *telemetry.Operation {
	return telemetry.Start(ctx, tracer, "fleet.run")
}
