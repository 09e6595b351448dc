// Command agentx runs the runtime node: protocol engine, plugin bridge and
// supervisor, registry, security kernel, and cluster control plane behind
// one process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/bridge"
	"github.com/agentx/agentx/internal/cluster"
	"github.com/agentx/agentx/internal/config"
	"github.com/agentx/agentx/internal/engine"
	"github.com/agentx/agentx/internal/monitoring"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/registry"
	"github.com/agentx/agentx/internal/security"
	"github.com/agentx/agentx/internal/server"
	"github.com/agentx/agentx/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON/YAML/TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("agentx: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	obs, err := observability.New(observability.FromService(cfg.Service.Name, cfg.Service))
	if err != nil {
		return err
	}
	logger := obs.Logger
	tracer := observability.NewTraceManager(cfg.Service.Name)
	metrics, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Shared state: the engine and the server hold the same registry
	// handle.
	reg := registry.New(registry.Config{
		HealthCheckInterval: cfg.Registry.HealthCheckInterval,
		AgentTimeout:        cfg.Registry.AgentTimeout,
		MaxErrorCount:       cfg.Registry.MaxErrorCount,
		EnableAutoCleanup:   cfg.Registry.EnableAutoCleanup,
	}, logger)

	sec := security.NewManager(security.Config{
		AuthType:           security.AuthType(cfg.Security.AuthType),
		Encryption:         cfg.Security.Encryption,
		Signature:          cfg.Security.Signature,
		RequiredTrustLevel: a2a.TrustLevel(cfg.Security.RequiredTrustLevel),
		TokenExpiry:        cfg.Security.TokenExpiry,
		MaxClockSkew:       cfg.Security.MaxClockSkew,
		AuditLogSize:       cfg.Security.AuditLogSize,
	}, logger)

	eng := engine.New(engine.Config{
		MaxMessageSize:     cfg.Protocol.MaxMessageSize,
		DefaultTimeout:     cfg.Protocol.DefaultTimeout,
		MaxHops:            cfg.Protocol.MaxHops,
		ValidateMessages:   cfg.Protocol.ValidateMessages,
		CacheCapabilities:  cfg.Protocol.CacheCapabilities,
		HandlerPoolSize:    cfg.Protocol.HandlerPoolSize,
		MaxConcurrentTasks: cfg.Protocol.MaxConcurrentTasks,
	}, reg, logger, tracer, metrics)

	br := bridge.New(bridge.Config{
		DefaultTimeout: cfg.Protocol.DefaultTimeout,
	}, logger, tracer, metrics)
	eng.SetRouter(br)
	eng.AddInterceptor(&engine.LoggingInterceptor{Logger: logger})
	eng.AddInterceptor(engine.HopInterceptor{})

	sup := supervisor.New(supervisor.Config{
		MaxRestartAttempts:  cfg.Supervisor.MaxRestartAttempts,
		RestartDelay:        cfg.Supervisor.RestartDelay,
		HealthCheckInterval: cfg.Supervisor.HealthCheckInterval,
		StartupTimeout:      cfg.Supervisor.StartupTimeout,
		ShutdownTimeout:     cfg.Supervisor.ShutdownTimeout,
	}, logger, metrics)

	stream := monitoring.NewStream(1000)

	// Cluster control plane.
	nodes := cluster.NewNodeManager(cluster.NodeConfig{
		NodeID:            cfg.Cluster.NodeID,
		NodeName:          cfg.Cluster.NodeName,
		BindAddress:       cfg.Cluster.BindAddress,
		Role:              cluster.NodeRole(cfg.Cluster.Role),
		HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		AgentTimeout:      cfg.Cluster.AgentTimeout,
	}, logger)

	backend, err := cluster.NewBackend(cfg.Discovery.Backend)
	if err != nil {
		return err
	}
	discovery := cluster.NewServiceDiscovery(backend, cfg.Discovery.TTLSeconds)

	lb := cluster.NewLoadBalancer(cfg.LB.Strategy)
	monitor := cluster.NewHealthMonitor(cluster.DefaultHealthMonitorConfig(), logger)
	monitor.Subscribe(func(targetID string, result cluster.HealthResult, responseTime time.Duration) {
		lb.SetHealthy(targetID, result == cluster.HealthHealthy)
		if result == cluster.HealthHealthy {
			lb.RecordResponseTime(targetID, responseTime)
		}
	})

	scaler := cluster.NewAutoscaler(cluster.AutoscalerConfig{
		Enabled:            cfg.Autoscaler.Enabled,
		Strategy:           cfg.Autoscaler.Strategy,
		MinInstances:       cfg.Autoscaler.MinInstances,
		MaxInstances:       cfg.Autoscaler.MaxInstances,
		ScaleUpThreshold:   cfg.Autoscaler.ScaleUpThreshold,
		ScaleDownThreshold: cfg.Autoscaler.ScaleDownThreshold,
		ScaleUpStep:        cfg.Autoscaler.ScaleUpStep,
		ScaleDownStep:      cfg.Autoscaler.ScaleDownStep,
		CooldownPeriod:     cfg.Autoscaler.CooldownPeriod,
		MinConfidence:      cfg.Autoscaler.MinConfidence,
		MaxHistoryEntries:  cfg.Autoscaler.MaxHistoryEntries,
	}, logger)

	// Supervisor probe outcomes feed load balancing and the monitoring
	// stream; registry health rows are not updated from them.
	sup.SetProbeObserver(func(pluginID string, healthy bool, elapsed time.Duration) {
		lb.SetHealthy(pluginID, healthy)
		if healthy {
			lb.RecordResponseTime(pluginID, elapsed)
		}
		stream.Record(monitoring.Sample{
			Name:   "plugin_probe_ms",
			Value:  float64(elapsed.Milliseconds()),
			Labels: map[string]string{"plugin_id": pluginID},
		})
	})

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Service.ListenAddr,
		AuthEnabled: cfg.Security.AuthType != "none",
	}, eng, reg, sec, stream, logger, tracer)
	if err != nil {
		return err
	}

	health := observability.NewHealthServer(cfg.Service.HealthPort, cfg.Service.Name, cfg.Service.Version)
	health.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))

	// Periodic loops run as independent tasks.
	go reg.Run(ctx)
	go sec.Run(ctx)
	go sup.Run(ctx)
	go nodes.Run(ctx)
	go discovery.Run(ctx)
	go monitor.Run(ctx)
	go scaler.Run(ctx)
	go func() {
		if err := health.Start(ctx); err != nil {
			logger.Error("Health server failed", "error", err)
		}
	}()
	ticker := observability.NewMetricsTicker(ctx, metrics)
	ticker.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	logger.InfoContext(ctx, "AgentX runtime started",
		"listen_addr", srv.Addr(),
		"node_id", nodes.LocalNode().ID,
		"lb_strategy", lb.Strategy(),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var result *multierror.Error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := health.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
