package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Handler is a slog.Handler that stamps records with trace context and
// counts them as metrics. Records are buffered and processed off the hot
// path; a full buffer drops records rather than blocking message routing.
type Handler struct {
	opts        HandlerOptions
	tracer      trace.Tracer
	meter       metric.Meter
	serviceName string

	logCounter  metric.Int64Counter
	logsDropped metric.Int64Counter

	buffer   chan logEntry
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// HandlerOptions configures the handler.
type HandlerOptions struct {
	Level      slog.Level
	Writer     io.Writer
	BufferSize int
}

type logEntry struct {
	time  time.Time
	level slog.Level
	msg   string
	attrs []slog.Attr
	ctx   context.Context
}

// NewHandler builds a buffered handler and starts its processor.
func NewHandler(tracer trace.Tracer, meter metric.Meter, serviceName string, opts HandlerOptions) (*Handler, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}

	logCounter, err := meter.Int64Counter(
		"agentx_logs_total",
		metric.WithDescription("Total number of log records"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	logsDropped, err := meter.Int64Counter(
		"agentx_logs_dropped_total",
		metric.WithDescription("Log records dropped because the buffer was full"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		opts:        opts,
		tracer:      tracer,
		meter:       meter,
		serviceName: serviceName,
		logCounter:  logCounter,
		logsDropped: logsDropped,
		buffer:      make(chan logEntry, opts.BufferSize),
		shutdown:    make(chan struct{}),
	}
	h.wg.Add(1)
	go h.processLogs()
	return h, nil
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	attrs := make([]slog.Attr, 0, r.NumAttrs()+3)
	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		attrs = append(attrs,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	attrs = append(attrs, slog.String("service", h.serviceName))

	entry := logEntry{time: r.Time, level: r.Level, msg: r.Message, attrs: attrs, ctx: ctx}
	select {
	case h.buffer <- entry:
	default:
		h.logsDropped.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", h.serviceName),
		))
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// The handler is stateless across attrs; a fresh instance with the
	// same sinks keeps buffering behavior intact.
	newHandler, _ := NewHandler(h.tracer, h.meter, h.serviceName, h.opts)
	return newHandler
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}

func (h *Handler) processLogs() {
	defer h.wg.Done()
	for {
		select {
		case entry := <-h.buffer:
			h.processLogEntry(entry)
		case <-h.shutdown:
			for {
				select {
				case entry := <-h.buffer:
					h.processLogEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (h *Handler) processLogEntry(entry logEntry) {
	h.logCounter.Add(entry.ctx, 1, metric.WithAttributes(
		attribute.String("level", entry.level.String()),
		attribute.String("service", h.serviceName),
	))

	if h.opts.Writer == nil {
		return
	}
	logData := map[string]any{
		"time":    entry.time.Format(time.RFC3339),
		"level":   entry.level.String(),
		"msg":     entry.msg,
		"service": h.serviceName,
	}
	for _, attr := range entry.attrs {
		logData[attr.Key] = attr.Value.Any()
	}
	fmt.Fprintf(h.opts.Writer, "%v\n", logData)
}

// Shutdown drains the buffer and stops the processor.
func (h *Handler) Shutdown(ctx context.Context) error {
	close(h.shutdown)
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
