// Package bridge routes envelopes to plugin processes, translating between
// the wire protocol and each framework's native message form, and relays
// chunked streams with strict sequence ordering.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/plugin"
)

// Caller invokes the plugin hosting an agent. *plugin.Client satisfies it;
// tests substitute in-process fakes.
type Caller interface {
	ProcessMessage(ctx context.Context, req *plugin.ProcessMessageRequest) (*plugin.ProcessMessageResponse, error)
}

// route binds one plugin's caller and framework identity.
type route struct {
	pluginID  string
	framework plugin.Framework
	caller    Caller
	converter Converter
}

// Config tunes the bridge.
type Config struct {
	DefaultTimeout time.Duration
	StreamWindow   int
}

// DefaultConfig returns the bridge defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		StreamWindow:   64,
	}
}

// Bridge routes messages from the engine to plugin processes.
type Bridge struct {
	mu      sync.RWMutex
	plugins map[string]*route // plugin id -> route
	agents  map[string]string // agent id -> plugin id

	streams *streamTable
	config  Config
	logger  *slog.Logger
	tracer  *observability.TraceManager
	metrics *observability.MetricsManager
}

// New builds an empty bridge.
func New(config Config, logger *slog.Logger, tracer *observability.TraceManager, metrics *observability.MetricsManager) *Bridge {
	if config.StreamWindow <= 0 {
		config.StreamWindow = 64
	}
	return &Bridge{
		plugins: make(map[string]*route),
		agents:  make(map[string]string),
		streams: newStreamTable(config.StreamWindow),
		config:  config,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
	}
}

// AttachPlugin registers a plugin caller under its framework identity.
func (b *Bridge) AttachPlugin(pluginID string, framework plugin.Framework, caller Caller) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plugins[pluginID] = &route{
		pluginID:  pluginID,
		framework: framework,
		caller:    caller,
		converter: ForFramework(framework),
	}
}

// DetachPlugin removes a plugin and all agent routes pointing at it.
func (b *Bridge) DetachPlugin(pluginID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.plugins, pluginID)
	for agentID, owner := range b.agents {
		if owner == pluginID {
			delete(b.agents, agentID)
		}
	}
}

// BindAgent maps an agent id onto its hosting plugin.
func (b *Bridge) BindAgent(agentID, pluginID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.plugins[pluginID]; !ok {
		return a2a.ServiceUnavailable("plugin %s is not attached", pluginID)
	}
	b.agents[agentID] = pluginID
	return nil
}

// UnbindAgent removes an agent route.
func (b *Bridge) UnbindAgent(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.agents, agentID)
}

// AgentRoute resolves the plugin hosting an agent.
func (b *Bridge) AgentRoute(agentID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pluginID, ok := b.agents[agentID]
	return pluginID, ok
}

// Route translates the envelope for the target's framework, invokes the
// plugin, and translates the reply back. The caller-supplied context
// carries the effective deadline; context and task correlation survive the
// round trip.
func (b *Bridge) Route(ctx context.Context, msg *a2a.Message, target *a2a.AgentCard) (*a2a.Message, error) {
	b.mu.RLock()
	pluginID, ok := b.agents[target.ID]
	var rt *route
	if ok {
		rt = b.plugins[pluginID]
	}
	b.mu.RUnlock()
	if rt == nil {
		return nil, a2a.ServiceUnavailable("no plugin route for agent %s", target.ID)
	}

	ctx, span := b.tracer.StartRouteSpan(ctx, msg.MessageID, target.ID, rt.pluginID)
	defer span.End()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.DefaultTimeout)
		defer cancel()
	}

	native, err := rt.converter.ToFramework(msg)
	if err != nil {
		b.tracer.RecordError(span, err)
		return nil, err
	}

	start := time.Now()
	resp, err := rt.caller.ProcessMessage(ctx, &plugin.ProcessMessageRequest{
		Message: msg,
		Native:  native,
		Metadata: map[string]string{
			"agent_id":  target.ID,
			"framework": string(rt.framework),
		},
	})
	b.metrics.RecordPluginRPCDuration(ctx, rt.pluginID, time.Since(start))
	if err != nil {
		mapped := mapTransportError(err)
		b.tracer.RecordError(span, mapped)
		b.logger.ErrorContext(ctx, "Plugin call failed",
			"plugin_id", rt.pluginID,
			"agent_id", target.ID,
			"error", mapped,
		)
		return nil, mapped
	}
	b.metrics.IncrementMessagesRouted(ctx, rt.pluginID)

	var reply *a2a.Message
	switch {
	case len(resp.Native) > 0:
		reply, err = rt.converter.FromFramework(resp.Native)
		if err != nil {
			b.tracer.RecordError(span, err)
			return nil, err
		}
	case resp.Message != nil:
		reply = resp.Message
	default:
		b.tracer.SetSpanSuccess(span)
		return nil, nil
	}

	reply.ContextID = msg.ContextID
	reply.TaskID = msg.TaskID
	reply.From = target.ID
	reply.To = msg.From
	b.tracer.SetSpanSuccess(span)
	return reply, nil
}

// RouteFromAgent routes on behalf of another agent: plugin failures come
// back as error envelopes rather than transport errors.
func (b *Bridge) RouteFromAgent(ctx context.Context, msg *a2a.Message, target *a2a.AgentCard) *a2a.Message {
	reply, err := b.Route(ctx, msg, target)
	if err != nil {
		a2aErr := a2a.AsError(err)
		return msg.ErrorResponse(string(a2aErr.Kind), a2aErr.Message)
	}
	if reply == nil {
		return nil
	}
	return reply
}

// mapTransportError folds gRPC transport failures into the error taxonomy.
func mapTransportError(err error) error {
	if _, ok := err.(*a2a.Error); ok {
		return err
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return a2a.TimeoutError("plugin call timed out")
		case codes.Unavailable:
			return a2a.ServiceUnavailable("plugin unavailable: %s", st.Message())
		case codes.ResourceExhausted:
			return a2a.NewError(a2a.KindRateLimitExceeded, "plugin rejected call: %s", st.Message())
		case codes.Unauthenticated:
			return a2a.AuthenticationError("plugin rejected credentials: %s", st.Message())
		case codes.PermissionDenied:
			return a2a.AuthorizationError("plugin denied call: %s", st.Message())
		case codes.NotFound:
			return a2a.NewError(a2a.KindAgentNotFound, "plugin reported missing agent: %s", st.Message())
		}
	}
	if err == context.DeadlineExceeded {
		return a2a.TimeoutError("plugin call timed out")
	}
	return a2a.WrapError(a2a.KindNetwork, err, "plugin transport failure")
}
