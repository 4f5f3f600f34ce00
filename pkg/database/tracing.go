package database

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/leasehub/tenantauth/pkg/database"

// QueryTracer opens spans around SQL statements and logs statements slower
// than SlowThreshold. A zero threshold or nil Logger disables slow logging.
// The zero value is ready to use.
type QueryTracer struct {
	DBName        string
	SlowThreshold time.Duration
	Logger        *slog.Logger
}

// NewQueryTracer returns a tracer for the named database.
func NewQueryTracer(dbName string, slowThreshold time.Duration, logger *slog.Logger) *QueryTracer {
	return &QueryTracer{DBName: dbName, SlowThreshold: slowThreshold, Logger: logger}
}

// Trace starts a span for a database operation. The returned function must
// be called with the operation's error when it completes:
//
//	ctx, end := qt.Trace(ctx, "FindTenantsByPhone", query)
//	defer func() { end(err) }()
func (qt *QueryTracer) Trace(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
		attribute.String("db.statement", statement),
	}
	if qt != nil && qt.DBName != "" {
		attrs = append(attrs, attribute.String("db.name", qt.DBName))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		qt.logIfSlow(ctx, operation, statement, time.Since(start), err)
	}
}

func (qt *QueryTracer) logIfSlow(ctx context.Context, operation, statement string, elapsed time.Duration, err error) {
	if qt == nil || qt.SlowThreshold <= 0 || qt.Logger == nil || elapsed < qt.SlowThreshold {
		return
	}
	attrs := []any{
		slog.String("operation", operation),
		slog.String("statement", statement),
		slog.Duration("duration", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	qt.Logger.WarnContext(ctx, "slow query detected", attrs...)
}
