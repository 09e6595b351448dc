package supervisor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/plugin"
)

func testSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	metrics, err := observability.NewMetricsManager(otel.Meter("test"))
	require.NoError(t, err)
	return New(DefaultConfig(), slog.New(slog.DiscardHandler), metrics)
}

func TestStartPluginBadExecutable(t *testing.T) {
	sup := testSupervisor(t)
	ctx := context.Background()

	err := sup.StartPlugin(ctx, "p1", "/nonexistent/plugin-binary", 50100, plugin.FrameworkLangChain, map[string]string{"model": "small"})
	require.Error(t, err)

	record, err := sup.GetStatus("p1")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateFailed, record.State)
	assert.Equal(t, "localhost:50100", record.Endpoint)
	assert.Equal(t, 50100, record.Port)
}

func TestUnknownPluginOperations(t *testing.T) {
	sup := testSupervisor(t)
	ctx := context.Background()

	_, err := sup.GetStatus("ghost")
	assert.Error(t, err)
	assert.Error(t, sup.StopPlugin(ctx, "ghost", false))
	assert.Error(t, sup.RestartPlugin(ctx, "ghost"))
}

func TestListPlugins(t *testing.T) {
	sup := testSupervisor(t)
	ctx := context.Background()

	assert.Empty(t, sup.ListPlugins())
	_ = sup.StartPlugin(ctx, "p1", "/nonexistent/bin", 50101, plugin.FrameworkAutoGen, nil)
	records := sup.ListPlugins()
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].PluginID)
	assert.Equal(t, plugin.FrameworkAutoGen, records[0].Framework)
}

func TestRestartLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRestartAttempts = 0
	metrics, err := observability.NewMetricsManager(otel.Meter("test"))
	require.NoError(t, err)
	sup := New(cfg, slog.New(slog.DiscardHandler), metrics)
	ctx := context.Background()

	_ = sup.StartPlugin(ctx, "p1", "/nonexistent/bin", 50102, plugin.FrameworkMastra, nil)
	err = sup.RestartPlugin(ctx, "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart attempts")

	record, getErr := sup.GetStatus("p1")
	require.NoError(t, getErr)
	assert.Equal(t, plugin.StateFailed, record.State)
}
