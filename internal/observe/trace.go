package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tacogerbil/chatterboxPro"

// Span attribute keys shared by the engine.
const (
	AttrChunkID    = attribute.Key("chunk.id")
	AttrOrdinal    = attribute.Key("chunk.ordinal")
	AttrAttempt    = attribute.Key("chunk.attempt")
	AttrDevice     = attribute.Key("device")
	AttrCandidates = attribute.Key("chunk.candidates")
	AttrChapter    = attribute.Key("assembly.chapter")
	AttrPerChapter = attribute.Key("assembly.per_chapter")
)

// Tracer returns the chatterbox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// ChunkAttrs identifies the chunk attempt a span or log line is about. Zero
// fields are left off.
type ChunkAttrs struct {
	ID         string
	Ordinal    int
	Attempt    int
	Device     string
	Candidates int
}

func (a ChunkAttrs) attributes() []attribute.KeyValue {
	kv := []attribute.KeyValue{AttrChunkID.String(a.ID)}
	if a.Ordinal > 0 {
		kv = append(kv, AttrOrdinal.Int(a.Ordinal))
	}
	if a.Attempt > 0 {
		kv = append(kv, AttrAttempt.Int(a.Attempt))
	}
	if a.Device != "" {
		kv = append(kv, AttrDevice.String(a.Device))
	}
	if a.Candidates > 1 {
		kv = append(kv, AttrCandidates.Int(a.Candidates))
	}
	return kv
}

// StartChunkSpan starts a span for one stage of a chunk attempt, such as
// "chunk.synthesize". The caller must call span.End.
func StartChunkSpan(ctx context.Context, stage string, a ChunkAttrs) (context.Context, trace.Span) {
	return Tracer().Start(ctx, stage, trace.WithAttributes(a.attributes()...))
}

// StartAssemblySpan starts the span of one assembly request. chapter is
// negative for the whole book.
func StartAssemblySpan(ctx context.Context, chapter int, perChapter bool) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "assembly.assemble", trace.WithAttributes(
		AttrChapter.Int(chapter),
		AttrPerChapter.Bool(perChapter),
	))
}

// FailSpan marks span as failed with err. A nil err is ignored.
func FailSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace id of the span in ctx, or "" when there
// is none. API responses echo it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// ChunkLogger returns slog.Default with the fields of a, plus trace_id when
// ctx carries a span, so worker log lines can be matched to their trace.
func ChunkLogger(ctx context.Context, a ChunkAttrs) *slog.Logger {
	args := []any{slog.String("chunk_id", a.ID)}
	if a.Ordinal > 0 {
		args = append(args, slog.Int("ordinal", a.Ordinal))
	}
	if a.Attempt > 0 {
		args = append(args, slog.Int("attempt", a.Attempt))
	}
	if a.Device != "" {
		args = append(args, slog.String("device", a.Device))
	}
	if cid := CorrelationID(ctx); cid != "" {
		args = append(args, slog.String("trace_id", cid))
	}
	return slog.Default().With(args...)
}
