// Package engine implements the protocol core: message dispatch through an
// interceptor chain, task lifecycle, request validation, and routing
// handoff to the plugin bridge.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/registry"
)

// Config tunes the protocol engine.
type Config struct {
	MaxMessageSize     int
	DefaultTimeout     time.Duration
	MaxHops            int
	ValidateMessages   bool
	CacheCapabilities  bool
	HandlerPoolSize    int
	MaxConcurrentTasks int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:     1024 * 1024,
		DefaultTimeout:     30 * time.Second,
		MaxHops:            10,
		ValidateMessages:   true,
		CacheCapabilities:  true,
		HandlerPoolSize:    10,
		MaxConcurrentTasks: 1000,
	}
}

// MessageContext carries per-dispatch processing state. It is immutable for
// interceptors and handlers.
type MessageContext struct {
	SourceAgent *a2a.AgentCard
	TargetAgent *a2a.AgentCard
	Metadata    map[string]string
	HopCount    int
	StartTime   time.Time
}

// MessageHandler executes messages of one type.
type MessageHandler interface {
	Handle(ctx context.Context, msg *a2a.Message, mctx *MessageContext) (*a2a.Message, error)
}

// MessageInterceptor observes ingress and egress messages. Interceptors may
// mutate metadata but must leave message id, task id, and role untouched.
type MessageInterceptor interface {
	InterceptIncoming(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error
	InterceptOutgoing(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error
}

// Router hands a message off to the plugin hosting the target agent.
type Router interface {
	Route(ctx context.Context, msg *a2a.Message, target *a2a.AgentCard) (*a2a.Message, error)
}

// Stats counts engine activity.
type Stats struct {
	TotalTasks        uint64 `json:"totalTasks"`
	CompletedTasks    uint64 `json:"completedTasks"`
	FailedTasks       uint64 `json:"failedTasks"`
	ActiveTasks       int    `json:"activeTasks"`
	MessagesProcessed uint64 `json:"messagesProcessed"`
	MessagesRouted    uint64 `json:"messagesRouted"`
}

// Engine is the protocol engine. The registry is shared read-mostly; the
// task map is owned by the engine and guarded by its own lock.
type Engine struct {
	registry *registry.Registry
	router   Router
	config   Config
	codec    *a2a.Codec

	handlersMu   sync.RWMutex
	handlers     map[a2a.MessageType]MessageHandler
	interceptors []MessageInterceptor

	tasksMu sync.Mutex
	tasks   map[string]*a2a.Task
	cancels map[string]context.CancelFunc

	statsMu sync.Mutex
	stats   Stats

	logger  *slog.Logger
	tracer  *observability.TraceManager
	metrics *observability.MetricsManager
}

// New builds an engine over the shared registry.
func New(config Config, reg *registry.Registry, logger *slog.Logger, tracer *observability.TraceManager, metrics *observability.MetricsManager) *Engine {
	return &Engine{
		registry: reg,
		config:   config,
		codec:    a2a.NewCodec(config.MaxMessageSize),
		handlers: make(map[a2a.MessageType]MessageHandler),
		tasks:    make(map[string]*a2a.Task),
		cancels:  make(map[string]context.CancelFunc),
		logger:   logger,
		tracer:   tracer,
		metrics:  metrics,
	}
}

// SetRouter installs the plugin bridge used for message routing.
func (e *Engine) SetRouter(router Router) {
	e.router = router
}

// Codec exposes the engine codec to transport layers.
func (e *Engine) Codec() *a2a.Codec {
	return e.codec
}

// RegisterHandler installs the handler for one message type. There is one
// handler per type; installing a second is an error, never an overwrite.
func (e *Engine) RegisterHandler(messageType a2a.MessageType, handler MessageHandler) error {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	if _, exists := e.handlers[messageType]; exists {
		return a2a.ValidationError("handler already registered for message type %s", messageType)
	}
	e.handlers[messageType] = handler
	return nil
}

// AddInterceptor appends an interceptor; chain order is registration order
// for both directions.
func (e *Engine) AddInterceptor(interceptor MessageInterceptor) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.interceptors = append(e.interceptors, interceptor)
}

// RegisterAgent validates and forwards a card to the registry.
func (e *Engine) RegisterAgent(ctx context.Context, card *a2a.AgentCard) error {
	return e.registry.Register(ctx, card)
}

// UnregisterAgent forwards to the registry.
func (e *Engine) UnregisterAgent(ctx context.Context, agentID string) error {
	return e.registry.Unregister(ctx, agentID)
}

// DiscoverAgents forwards a capability query to the registry matcher.
func (e *Engine) DiscoverAgents(ctx context.Context, query *registry.Query) []*registry.Match {
	matches := e.registry.Discover(query)
	e.logger.DebugContext(ctx, "Capability query answered", "matches", len(matches))
	return matches
}

// ProcessMessage runs a message through validation, the interceptor chain,
// and its type handler. A missing handler yields a synthesized error reply,
// not a transport failure.
func (e *Engine) ProcessMessage(ctx context.Context, msg *a2a.Message) (*a2a.Message, error) {
	messageType := classify(msg)
	ctx, span := e.tracer.StartMessageSpan(ctx, "process_message", msg.MessageID, string(messageType))
	defer span.End()
	timer := e.metrics.StartTimer()
	defer timer(ctx, string(messageType), "engine")

	if e.config.ValidateMessages {
		if err := e.validateMessage(msg); err != nil {
			e.tracer.RecordError(span, err)
			e.metrics.IncrementMessagesProcessed(ctx, string(messageType), "engine", false)
			return nil, err
		}
	}
	if msg.Expired(time.Now()) {
		e.tracer.RecordError(span, a2a.ErrMessageExpired)
		return nil, a2a.ErrMessageExpired
	}

	mctx := &MessageContext{
		Metadata:  make(map[string]string),
		StartTime: time.Now().UTC(),
	}
	if hops, ok := msg.Metadata["hop_count"].(float64); ok {
		mctx.HopCount = int(hops)
		if e.config.MaxHops > 0 && mctx.HopCount > e.config.MaxHops {
			err := a2a.ValidationError("message exceeded %d hops", e.config.MaxHops)
			e.tracer.RecordError(span, err)
			return nil, err
		}
	}
	if msg.From != "" {
		if card, ok := e.registry.Get(msg.From); ok {
			mctx.SourceAgent = card
		}
	}
	if msg.To != "" {
		if card, ok := e.registry.Get(msg.To); ok {
			mctx.TargetAgent = card
		}
	}

	e.handlersMu.RLock()
	interceptors := e.interceptors
	handler := e.handlers[messageType]
	e.handlersMu.RUnlock()

	for _, interceptor := range interceptors {
		if err := interceptor.InterceptIncoming(ctx, msg, mctx); err != nil {
			e.tracer.RecordError(span, err)
			e.metrics.IncrementMessageErrors(ctx, string(messageType), "engine", "interceptor")
			return nil, err
		}
	}

	e.appendTaskHistory(msg)

	var response *a2a.Message
	if handler != nil {
		var err error
		response, err = handler.Handle(ctx, msg, mctx)
		if err != nil {
			e.tracer.RecordError(span, err)
			e.metrics.IncrementMessagesProcessed(ctx, string(messageType), "engine", false)
			return nil, err
		}
	} else {
		e.logger.WarnContext(ctx, "No handler for message type",
			"message_type", string(messageType),
			"message_id", msg.MessageID,
		)
		response = msg.ErrorResponse("NO_HANDLER", "no handler for message type "+string(messageType))
	}

	if response != nil {
		for _, interceptor := range interceptors {
			if err := interceptor.InterceptOutgoing(ctx, response, mctx); err != nil {
				e.tracer.RecordError(span, err)
				e.metrics.IncrementMessageErrors(ctx, string(messageType), "engine", "interceptor")
				return nil, err
			}
		}
	}

	e.statsMu.Lock()
	e.stats.MessagesProcessed++
	e.statsMu.Unlock()
	e.metrics.IncrementMessagesProcessed(ctx, string(messageType), "engine", true)
	e.tracer.SetSpanSuccess(span)
	return response, nil
}

// RouteMessage resolves the target agent and hands the message to the
// bridge. The target must exist and be online.
func (e *Engine) RouteMessage(ctx context.Context, msg *a2a.Message) (*a2a.Message, error) {
	target, ok := e.registry.Get(msg.To)
	if !ok {
		return nil, a2a.AgentNotFound(msg.To)
	}
	if target.Status != a2a.AgentOnline {
		return nil, a2a.ServiceUnavailable("agent %s is not online", msg.To)
	}
	if e.router == nil {
		return nil, a2a.ServiceUnavailable("no plugin bridge attached")
	}

	deadline := e.config.DefaultTimeout
	if msg.ExpiresAt != nil {
		if ttl := time.Until(*msg.ExpiresAt); ttl < deadline {
			deadline = ttl
		}
	}
	if deadline <= 0 {
		return nil, a2a.ErrMessageExpired
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	reply, err := e.router.Route(ctx, msg, target)
	if err != nil {
		return nil, err
	}
	e.statsMu.Lock()
	e.stats.MessagesRouted++
	e.statsMu.Unlock()
	if reply != nil {
		e.appendTaskHistory(reply)
	}
	return reply, nil
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	stats := e.stats
	e.tasksMu.Lock()
	stats.ActiveTasks = len(e.tasks)
	e.tasksMu.Unlock()
	return stats
}

// validateMessage applies the field, size, and version checks.
func (e *Engine) validateMessage(msg *a2a.Message) error {
	if msg.MessageID == "" {
		return a2a.ValidationError("message id is required")
	}
	if msg.From == "" {
		return a2a.ValidationError("source agent id is required")
	}
	if msg.To == "" {
		return a2a.ValidationError("target agent id is required")
	}
	if msg.Version != "" && msg.Version != a2a.Version {
		return a2a.VersionMismatch(a2a.Version, msg.Version)
	}
	if _, err := e.codec.EncodeMessage(msg); err != nil {
		return err
	}
	return nil
}

// appendTaskHistory serializes history appends per task in dispatch order.
func (e *Engine) appendTaskHistory(msg *a2a.Message) {
	if msg.TaskID == "" {
		return
	}
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()
	task, ok := e.tasks[msg.TaskID]
	if !ok {
		return
	}
	task.AppendHistory(msg)
	if task.Status.State == a2a.TaskSubmitted && msg.Role == a2a.RoleUser {
		task.Transition(a2a.TaskWorking, time.Now().UTC())
	}
}

func classify(msg *a2a.Message) a2a.MessageType {
	if kind, ok := msg.Metadata["message_type"].(string); ok && kind != "" {
		return a2a.MessageType(kind)
	}
	if msg.Role == a2a.RoleAgent {
		return a2a.MessageTypeResponse
	}
	return a2a.MessageTypeRequest
}
