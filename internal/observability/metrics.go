package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsManager owns the message-plane instruments shared by the engine,
// the bridge, and the supervisor.
type MetricsManager struct {
	meter metric.Meter

	messagesProcessedTotal    metric.Int64Counter
	messageProcessingDuration metric.Float64Histogram
	messageErrorsTotal        metric.Int64Counter
	messagesRoutedTotal       metric.Int64Counter

	pluginRPCDuration  metric.Float64Histogram
	pluginRestartTotal metric.Int64Counter

	tasksActive metric.Int64UpDownCounter

	goGoroutines         metric.Int64UpDownCounter
	goMemstatsAllocBytes metric.Int64UpDownCounter

	lastGoroutines int64
	lastAllocBytes int64
}

// NewMetricsManager registers all instruments on the given meter.
func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error
	mm.messagesProcessedTotal, err = meter.Int64Counter(
		"agentx_messages_processed_total",
		metric.WithDescription("Total number of messages processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	mm.messageProcessingDuration, err = meter.Float64Histogram(
		"agentx_message_processing_duration_seconds",
		metric.WithDescription("Message processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	mm.messageErrorsTotal, err = meter.Int64Counter(
		"agentx_message_errors_total",
		metric.WithDescription("Total number of message processing errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	mm.messagesRoutedTotal, err = meter.Int64Counter(
		"agentx_messages_routed_total",
		metric.WithDescription("Total number of messages routed to plugins"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	mm.pluginRPCDuration, err = meter.Float64Histogram(
		"agentx_plugin_rpc_duration_seconds",
		metric.WithDescription("Plugin RPC round-trip duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	mm.pluginRestartTotal, err = meter.Int64Counter(
		"agentx_plugin_restarts_total",
		metric.WithDescription("Total number of plugin restarts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	mm.tasksActive, err = meter.Int64UpDownCounter(
		"agentx_tasks_active",
		metric.WithDescription("Number of tasks currently tracked by the engine"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	mm.goGoroutines, err = meter.Int64UpDownCounter(
		"go_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	mm.goMemstatsAllocBytes, err = meter.Int64UpDownCounter(
		"go_memstats_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

// IncrementMessagesProcessed counts one processed message.
func (mm *MetricsManager) IncrementMessagesProcessed(ctx context.Context, messageType, source string, success bool) {
	mm.messagesProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("message_type", messageType),
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
}

// RecordMessageDuration records processing latency for one message.
func (mm *MetricsManager) RecordMessageDuration(ctx context.Context, messageType, source string, duration time.Duration) {
	mm.messageProcessingDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("message_type", messageType),
		attribute.String("source", source),
	))
}

// IncrementMessageErrors counts one processing error.
func (mm *MetricsManager) IncrementMessageErrors(ctx context.Context, messageType, source, errorKind string) {
	mm.messageErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("message_type", messageType),
		attribute.String("source", source),
		attribute.String("error", errorKind),
	))
}

// IncrementMessagesRouted counts one routed message.
func (mm *MetricsManager) IncrementMessagesRouted(ctx context.Context, pluginID string) {
	mm.messagesRoutedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plugin_id", pluginID),
	))
}

// RecordPluginRPCDuration records one plugin round trip.
func (mm *MetricsManager) RecordPluginRPCDuration(ctx context.Context, pluginID string, duration time.Duration) {
	mm.pluginRPCDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("plugin_id", pluginID),
	))
}

// IncrementPluginRestarts counts one plugin restart.
func (mm *MetricsManager) IncrementPluginRestarts(ctx context.Context, pluginID string) {
	mm.pluginRestartTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plugin_id", pluginID),
	))
}

// AddActiveTasks moves the active task gauge by delta.
func (mm *MetricsManager) AddActiveTasks(ctx context.Context, delta int64) {
	mm.tasksActive.Add(ctx, delta)
}

// UpdateSystemMetrics samples runtime counters. The up-down counters move
// by the change since the previous sample, so they report current values.
func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := int64(runtime.NumGoroutine())
	allocBytes := int64(m.Alloc)
	mm.goGoroutines.Add(ctx, goroutines-mm.lastGoroutines)
	mm.goMemstatsAllocBytes.Add(ctx, allocBytes-mm.lastAllocBytes)
	mm.lastGoroutines, mm.lastAllocBytes = goroutines, allocBytes
}

// StartTimer returns a stop function recording elapsed processing time.
func (mm *MetricsManager) StartTimer() func(ctx context.Context, messageType, source string) {
	start := time.Now()
	return func(ctx context.Context, messageType, source string) {
		mm.RecordMessageDuration(ctx, messageType, source, time.Since(start))
	}
}

// MetricsTicker periodically samples system metrics.
type MetricsTicker struct {
	ctx            context.Context
	metricsManager *MetricsManager
	ticker         *time.Ticker
	done           chan struct{}
}

// NewMetricsTicker builds a ticker sampling every 30 seconds.
func NewMetricsTicker(ctx context.Context, metricsManager *MetricsManager) *MetricsTicker {
	return &MetricsTicker{
		ctx:            ctx,
		metricsManager: metricsManager,
		ticker:         time.NewTicker(30 * time.Second),
		done:           make(chan struct{}),
	}
}

// Start begins sampling until the context or ticker is stopped.
func (m *MetricsTicker) Start() {
	go func() {
		defer m.ticker.Stop()
		for {
			select {
			case <-m.ticker.C:
				m.metricsManager.UpdateSystemMetrics(m.ctx)
			case <-m.ctx.Done():
				return
			case <-m.done:
				return
			}
		}
	}()
}

// Stop ends sampling.
func (m *MetricsTicker) Stop() {
	close(m.done)
}
