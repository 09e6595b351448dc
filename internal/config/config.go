// Package config loads the runtime configuration from JSON, YAML, or TOML
// files with an AGENTX_-prefixed environment overlay.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration tree.
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Protocol   ProtocolConfig   `mapstructure:"protocol"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	LB         LBConfig         `mapstructure:"lb"`
	Autoscaler AutoscalerConfig `mapstructure:"autoscaler"`
	Security   SecurityConfig   `mapstructure:"security"`
	Cluster    ClusterConfig    `mapstructure:"cluster"`
	Discovery  DiscoveryConfig  `mapstructure:"discovery"`
}

// ServiceConfig identifies the process and its telemetry endpoints.
type ServiceConfig struct {
	Name           string `mapstructure:"name"`
	Version        string `mapstructure:"version"`
	Environment    string `mapstructure:"environment"`
	LogLevel       string `mapstructure:"log_level"`
	ListenAddr     string `mapstructure:"listen_addr"`
	HealthPort     string `mapstructure:"health_port"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	PrometheusPort string `mapstructure:"prometheus_port"`
}

// ProtocolConfig tunes the protocol engine.
type ProtocolConfig struct {
	MaxMessageSize     int           `mapstructure:"max_message_size"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout_secs"`
	MaxHops            int           `mapstructure:"max_hops"`
	ValidateMessages   bool          `mapstructure:"validate_messages"`
	CacheCapabilities  bool          `mapstructure:"cache_capabilities"`
	HandlerPoolSize    int           `mapstructure:"handler_pool_size"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
}

// SupervisorConfig tunes the plugin supervisor.
type SupervisorConfig struct {
	MaxRestartAttempts  int           `mapstructure:"max_restart_attempts"`
	RestartDelay        time.Duration `mapstructure:"restart_delay_ms"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval_ms"`
	StartupTimeout      time.Duration `mapstructure:"startup_timeout_ms"`
	ShutdownTimeout     time.Duration `mapstructure:"shutdown_timeout_ms"`
}

// RegistryConfig tunes the agent registry's health cleanup.
type RegistryConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval_ms"`
	AgentTimeout        time.Duration `mapstructure:"agent_timeout_ms"`
	MaxErrorCount       int           `mapstructure:"max_error_count"`
	EnableAutoCleanup   bool          `mapstructure:"enable_auto_cleanup"`
}

// LBConfig tunes the load balancer.
type LBConfig struct {
	Strategy            string        `mapstructure:"strategy"`
	StatsUpdateInterval time.Duration `mapstructure:"stats_update_interval"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	ConnectionTimeout   time.Duration `mapstructure:"connection_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
}

// AutoscalerConfig tunes metric-driven scaling decisions.
type AutoscalerConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Strategy           string        `mapstructure:"strategy"`
	MinInstances       int           `mapstructure:"min_instances"`
	MaxInstances       int           `mapstructure:"max_instances"`
	ScaleUpThreshold   float64       `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold float64       `mapstructure:"scale_down_threshold"`
	ScaleUpStep        int           `mapstructure:"scale_up_step"`
	ScaleDownStep      int           `mapstructure:"scale_down_step"`
	CooldownPeriod     time.Duration `mapstructure:"cooldown_period"`
	MinConfidence      float64       `mapstructure:"min_confidence"`
	MaxHistoryEntries  int           `mapstructure:"max_history_entries"`
}

// SecurityConfig tunes the security kernel.
type SecurityConfig struct {
	AuthType           string        `mapstructure:"auth_type"`
	Encryption         string        `mapstructure:"encryption"`
	Signature          string        `mapstructure:"signature"`
	RequiredTrustLevel string        `mapstructure:"required_trust_level"`
	TokenExpiry        time.Duration `mapstructure:"token_expiry_seconds"`
	MaxClockSkew       time.Duration `mapstructure:"max_clock_skew_seconds"`
	AuditLogSize       int           `mapstructure:"audit_log_size"`
}

// ClusterConfig tunes node membership.
type ClusterConfig struct {
	NodeID            string        `mapstructure:"node_id"`
	NodeName          string        `mapstructure:"node_name"`
	BindAddress       string        `mapstructure:"bind_address"`
	Role              string        `mapstructure:"role"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	AgentTimeout      time.Duration `mapstructure:"agent_timeout"`
}

// DiscoveryConfig selects and tunes the service discovery backend.
type DiscoveryConfig struct {
	Backend    string            `mapstructure:"backend"`
	TTLSeconds int64             `mapstructure:"ttl_seconds"`
	Options    map[string]string `mapstructure:"options"`
}

// Load reads configuration from the given file (format chosen by
// extension), overlays AGENTX_* environment variables, and fills defaults.
// An empty path loads defaults plus the environment overlay only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "agentx")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")
	v.SetDefault("service.log_level", "INFO")
	v.SetDefault("service.listen_addr", ":8700")
	v.SetDefault("service.health_port", "8080")
	v.SetDefault("service.otlp_endpoint", "127.0.0.1:4317")
	v.SetDefault("service.prometheus_port", "9090")

	v.SetDefault("protocol.max_message_size", 1024*1024)
	v.SetDefault("protocol.default_timeout_secs", 30*time.Second)
	v.SetDefault("protocol.max_hops", 10)
	v.SetDefault("protocol.validate_messages", true)
	v.SetDefault("protocol.cache_capabilities", true)
	v.SetDefault("protocol.handler_pool_size", 10)
	v.SetDefault("protocol.max_concurrent_tasks", 1000)

	v.SetDefault("supervisor.max_restart_attempts", 3)
	v.SetDefault("supervisor.restart_delay_ms", 5*time.Second)
	v.SetDefault("supervisor.health_check_interval_ms", 30*time.Second)
	v.SetDefault("supervisor.startup_timeout_ms", 30*time.Second)
	v.SetDefault("supervisor.shutdown_timeout_ms", 10*time.Second)

	v.SetDefault("registry.health_check_interval_ms", 30*time.Second)
	v.SetDefault("registry.agent_timeout_ms", 5*time.Minute)
	v.SetDefault("registry.max_error_count", 5)
	v.SetDefault("registry.enable_auto_cleanup", true)

	v.SetDefault("lb.strategy", "round_robin")
	v.SetDefault("lb.stats_update_interval", 10*time.Second)
	v.SetDefault("lb.health_check_interval", 30*time.Second)
	v.SetDefault("lb.connection_timeout", 5*time.Second)
	v.SetDefault("lb.max_retries", 3)

	v.SetDefault("autoscaler.enabled", false)
	v.SetDefault("autoscaler.strategy", "hybrid")
	v.SetDefault("autoscaler.min_instances", 1)
	v.SetDefault("autoscaler.max_instances", 10)
	v.SetDefault("autoscaler.scale_up_threshold", 0.7)
	v.SetDefault("autoscaler.scale_down_threshold", 0.3)
	v.SetDefault("autoscaler.scale_up_step", 1)
	v.SetDefault("autoscaler.scale_down_step", 1)
	v.SetDefault("autoscaler.cooldown_period", 5*time.Minute)
	v.SetDefault("autoscaler.min_confidence", 0.7)
	v.SetDefault("autoscaler.max_history_entries", 100)

	v.SetDefault("security.auth_type", "none")
	v.SetDefault("security.encryption", "none")
	v.SetDefault("security.signature", "none")
	v.SetDefault("security.required_trust_level", "public")
	v.SetDefault("security.token_expiry_seconds", time.Hour)
	v.SetDefault("security.max_clock_skew_seconds", 5*time.Minute)
	v.SetDefault("security.audit_log_size", 1000)

	v.SetDefault("cluster.node_name", "agentx-node")
	v.SetDefault("cluster.bind_address", "127.0.0.1:8701")
	v.SetDefault("cluster.role", "worker")
	v.SetDefault("cluster.heartbeat_interval", 30*time.Second)
	v.SetDefault("cluster.agent_timeout", 5*time.Minute)

	v.SetDefault("discovery.backend", "memory")
	v.SetDefault("discovery.ttl_seconds", 300)
}
