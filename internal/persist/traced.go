// internal/persist/traced.go
package persist

import (
	"context"

	"github.com/Chinzzii/undo-replication-go/internal/record"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope used for persistence spans.
const TracerName = "github.com/Chinzzii/undo-replication-go/internal/persist"

type traced struct {
	next   Persistence
	tracer trace.Tracer
}

// Traced wraps p so every call is recorded as a span.
func Traced(p Persistence, tracer trace.Tracer) Persistence {
	return &traced{next: p, tracer: tracer}
}

func (t *traced) Upsert(ctx context.Context, r record.Record) error {
	ctx, span := t.tracer.Start(ctx, "persist.upsert",
		trace.WithAttributes(attribute.String("record.id", r.ID().String())))
	defer span.End()

	return endSpan(span, t.next.Upsert(ctx, r))
}

func (t *traced) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := t.tracer.Start(ctx, "persist.delete",
		trace.WithAttributes(attribute.String("record.id", id.String())))
	defer span.End()

	return endSpan(span, t.next.Delete(ctx, id))
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
