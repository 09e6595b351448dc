// Package supervisor owns plugin child processes: spawn, health probing,
// restart after a fixed delay, and teardown.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/plugin"
)

// Config tunes process lifecycle handling.
type Config struct {
	MaxRestartAttempts  int
	RestartDelay        time.Duration
	HealthCheckInterval time.Duration
	StartupTimeout      time.Duration
	ShutdownTimeout     time.Duration
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() Config {
	return Config{
		MaxRestartAttempts:  3,
		RestartDelay:        5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		StartupTimeout:      30 * time.Second,
		ShutdownTimeout:     10 * time.Second,
	}
}

// Record is the supervisor's view of one plugin process.
type Record struct {
	PluginID        string                `json:"pluginId"`
	Framework       plugin.Framework      `json:"framework"`
	Endpoint        string                `json:"endpoint"`
	Capabilities    []string              `json:"capabilities,omitempty"`
	State           plugin.LifecycleState `json:"state"`
	RestartCount    int                   `json:"restartCount"`
	LastHealthCheck time.Time             `json:"lastHealthCheck"`
	Config          map[string]string     `json:"config,omitempty"`
	Port            int                   `json:"port"`
}

// Prober checks a running plugin's health; the default dials its endpoint.
type Prober interface {
	Probe(ctx context.Context, endpoint string) error
}

// ProbeObserver receives each probe outcome. The supervisor updates neither
// registry health nor autoscaler metrics itself; only the installed
// observer sees the results.
type ProbeObserver func(pluginID string, healthy bool, elapsed time.Duration)

type managed struct {
	record Record
	exe    string
	args   []string
	cmd    *exec.Cmd
	exited chan error
}

// Supervisor exclusively owns the plugin process map; all operations
// serialize on it.
type Supervisor struct {
	mu      sync.Mutex
	plugins map[string]*managed

	config   Config
	prober   Prober
	observer ProbeObserver
	logger   *slog.Logger
	metrics  *observability.MetricsManager
}

// New builds a supervisor.
func New(config Config, logger *slog.Logger, metrics *observability.MetricsManager) *Supervisor {
	return &Supervisor{
		plugins: make(map[string]*managed),
		config:  config,
		prober:  grpcProber{},
		logger:  logger,
		metrics: metrics,
	}
}

// SetProber replaces the health prober.
func (s *Supervisor) SetProber(prober Prober) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prober = prober
}

// SetProbeObserver installs the probe outcome callback.
func (s *Supervisor) SetProbeObserver(observer ProbeObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = observer
}

// StartPlugin spawns the plugin executable with its identity, port, and
// configuration exported through the environment. State is starting until
// the first successful health probe.
func (s *Supervisor) StartPlugin(ctx context.Context, pluginID, exe string, port int, framework plugin.Framework, config map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.plugins[pluginID]; ok {
		switch existing.record.State {
		case plugin.StateStarting, plugin.StateRunning:
			return a2a.ValidationError("plugin %s is already running", pluginID)
		}
	}

	m := &managed{
		record: Record{
			PluginID:  pluginID,
			Framework: framework,
			Endpoint:  fmt.Sprintf("localhost:%d", port),
			State:     plugin.StateStarting,
			Config:    config,
			Port:      port,
		},
		exe: exe,
	}
	if err := s.spawnLocked(ctx, m); err != nil {
		m.record.State = plugin.StateFailed
		s.plugins[pluginID] = m
		return err
	}
	s.plugins[pluginID] = m

	s.logger.InfoContext(ctx, "Plugin started",
		"plugin_id", pluginID,
		"executable", exe,
		"port", port,
	)
	return nil
}

// spawnLocked launches the child process and arms exit watching.
func (s *Supervisor) spawnLocked(ctx context.Context, m *managed) error {
	cmd := exec.Command(m.exe, m.args...)
	cmd.Env = append(os.Environ(),
		"AGENTX_PLUGIN_ID="+m.record.PluginID,
		fmt.Sprintf("AGENTX_GRPC_PORT=%d", m.record.Port),
	)
	for key, value := range m.record.Config {
		cmd.Env = append(cmd.Env, fmt.Sprintf("AGENTX_CONFIG_%s=%s", strings.ToUpper(key), value))
	}
	cmd.Stdout = &logWriter{logger: s.logger, pluginID: m.record.PluginID, stream: "stdout"}
	cmd.Stderr = &logWriter{logger: s.logger, pluginID: m.record.PluginID, stream: "stderr"}

	if err := cmd.Start(); err != nil {
		return a2a.WrapError(a2a.KindInternal, err, "failed to spawn plugin %s", m.record.PluginID)
	}
	m.cmd = cmd
	m.record.State = plugin.StateStarting

	exited := make(chan error, 1)
	m.exited = exited
	go func() {
		exited <- cmd.Wait()
	}()
	return nil
}

// StopPlugin stops a plugin. A graceful stop waits for cooperative exit up
// to the shutdown timeout, then kills; force skips the wait.
func (s *Supervisor) StopPlugin(ctx context.Context, pluginID string, force bool) error {
	s.mu.Lock()
	m, ok := s.plugins[pluginID]
	if !ok {
		s.mu.Unlock()
		return a2a.ValidationError("unknown plugin %s", pluginID)
	}
	if m.cmd == nil || m.cmd.Process == nil {
		m.record.State = plugin.StateStopped
		s.mu.Unlock()
		return nil
	}
	m.record.State = plugin.StateStopping
	cmd := m.cmd
	exited := m.exited
	s.mu.Unlock()

	if force {
		cmd.Process.Kill()
	} else {
		cmd.Process.Signal(os.Interrupt)
		select {
		case <-exited:
		case <-time.After(s.config.ShutdownTimeout):
			s.logger.WarnContext(ctx, "Plugin did not stop in time, killing",
				"plugin_id", pluginID,
			)
			cmd.Process.Kill()
		case <-ctx.Done():
			cmd.Process.Kill()
		}
	}

	s.mu.Lock()
	m.record.State = plugin.StateStopped
	m.cmd = nil
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Plugin stopped", "plugin_id", pluginID, "force", force)
	return nil
}

// RestartPlugin stops the plugin, bumps its restart count, waits out the
// restart delay, and spawns it again. Plugins at the restart limit stay
// failed.
func (s *Supervisor) RestartPlugin(ctx context.Context, pluginID string) error {
	s.mu.Lock()
	m, ok := s.plugins[pluginID]
	if !ok {
		s.mu.Unlock()
		return a2a.ValidationError("unknown plugin %s", pluginID)
	}
	if m.record.RestartCount >= s.config.MaxRestartAttempts {
		m.record.State = plugin.StateFailed
		s.mu.Unlock()
		s.logger.ErrorContext(ctx, "Plugin exceeded restart attempts",
			"plugin_id", pluginID,
			"restart_count", m.record.RestartCount,
		)
		return a2a.ServiceUnavailable("plugin %s exceeded %d restart attempts", pluginID, s.config.MaxRestartAttempts)
	}
	m.record.RestartCount++
	s.mu.Unlock()

	if err := s.StopPlugin(ctx, pluginID, false); err != nil {
		return err
	}
	s.metrics.IncrementPluginRestarts(ctx, pluginID)

	select {
	case <-time.After(s.config.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawnLocked(ctx, m)
}

// GetStatus returns the record for one plugin.
func (s *Supervisor) GetStatus(pluginID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.plugins[pluginID]
	if !ok {
		return Record{}, a2a.ValidationError("unknown plugin %s", pluginID)
	}
	return m.record, nil
}

// ListPlugins returns all plugin records.
func (s *Supervisor) ListPlugins() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]Record, 0, len(s.plugins))
	for _, m := range s.plugins {
		records = append(records, m.record)
	}
	return records
}

// Run drives the periodic health task until the context is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.probeAll(ctx)
		}
	}
}

// probeAll distinguishes exited children from unhealthy-but-running ones,
// probing the latter over their endpoints.
func (s *Supervisor) probeAll(ctx context.Context) {
	s.mu.Lock()
	type probeTarget struct {
		pluginID string
		endpoint string
	}
	var targets []probeTarget
	var toRestart []string
	prober := s.prober
	observer := s.observer
	for id, m := range s.plugins {
		switch m.record.State {
		case plugin.StateStarting, plugin.StateRunning:
		default:
			continue
		}
		select {
		case err := <-m.exited:
			// Child is gone; mark failed and consider auto-restart.
			m.record.State = plugin.StateFailed
			s.logger.ErrorContext(ctx, "Plugin process exited",
				"plugin_id", id,
				"error", err,
			)
			if m.record.RestartCount < s.config.MaxRestartAttempts {
				toRestart = append(toRestart, id)
			}
		default:
			targets = append(targets, probeTarget{pluginID: id, endpoint: m.record.Endpoint})
		}
	}
	s.mu.Unlock()

	for _, target := range targets {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := prober.Probe(probeCtx, target.endpoint)
		cancel()
		elapsed := time.Since(start)

		s.mu.Lock()
		if m, ok := s.plugins[target.pluginID]; ok {
			m.record.LastHealthCheck = time.Now().UTC()
			if err == nil && m.record.State == plugin.StateStarting {
				m.record.State = plugin.StateRunning
			}
		}
		s.mu.Unlock()

		if observer != nil {
			observer(target.pluginID, err == nil, elapsed)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "Plugin health probe failed",
				"plugin_id", target.pluginID,
				"error", err,
			)
		}
	}

	for _, id := range toRestart {
		if err := s.RestartPlugin(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "Plugin restart failed", "plugin_id", id, "error", err)
		}
	}
}

func (s *Supervisor) stopAll() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.mu.Lock()
	ids := make([]string, 0, len(s.plugins))
	for id := range s.plugins {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.StopPlugin(ctx, id, false)
	}
}

// grpcProber dials the plugin health RPC.
type grpcProber struct{}

func (grpcProber) Probe(ctx context.Context, endpoint string) error {
	client, err := plugin.Dial(endpoint)
	if err != nil {
		return err
	}
	defer client.Close()
	resp, err := client.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if resp.Status != plugin.HealthServing {
		return a2a.ServiceUnavailable("plugin reported %s: %s", resp.Status, resp.Message)
	}
	return nil
}

// logWriter forwards captured child output to the logger line by line.
type logWriter struct {
	logger   *slog.Logger
	pluginID string
	stream   string
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.logger.Info("Plugin output",
			"plugin_id", w.pluginID,
			"stream", w.stream,
			"line", line,
		)
	}
	return len(p), nil
}
