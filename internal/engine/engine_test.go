package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/observability"
	"github.com/agentx/agentx/internal/registry"
)

func testEngine(t *testing.T) (*Engine, *registry.Registry) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := registry.New(registry.DefaultConfig(), logger)
	metrics, err := observability.NewMetricsManager(otel.Meter("test"))
	require.NoError(t, err)
	eng := New(DefaultConfig(), reg, logger, observability.NewTraceManager("test"), metrics)
	return eng, reg
}

func rpc(t *testing.T, method string, params any) *a2a.Request {
	t.Helper()
	req, err := a2a.NewRequest(method, params, "r1")
	require.NoError(t, err)
	return req
}

func result(t *testing.T, resp *a2a.Response) map[string]any {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected RPC error: %+v", resp.Error)
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &out))
	return out
}

func TestTaskLifecycle(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	submit := eng.ProcessRequest(ctx, rpc(t, a2a.MethodSubmitTask, map[string]string{
		"id":   "t1",
		"kind": "text_gen",
	}))
	out := result(t, submit)
	assert.Equal(t, "t1", out["taskId"])
	assert.Equal(t, "submitted", out["status"])

	task, err := eng.GetTask("t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskSubmitted, task.Status.State)

	cancel := eng.ProcessRequest(ctx, rpc(t, a2a.MethodCancelTask, map[string]string{"taskId": "t1"}))
	out = result(t, cancel)
	assert.Equal(t, "canceled", out["status"])

	get := eng.ProcessRequest(ctx, rpc(t, a2a.MethodGetTask, map[string]string{"taskId": "t1"}))
	var fetched a2a.Task
	require.Nil(t, get.Error)
	require.NoError(t, json.Unmarshal(get.Result, &fetched))
	assert.Equal(t, a2a.TaskCanceled, fetched.Status.State)

	// Cancel is idempotent on an already-canceled task.
	again := eng.ProcessRequest(ctx, rpc(t, a2a.MethodCancelTask, map[string]string{"taskId": "t1"}))
	assert.Nil(t, again.Error)
}

func TestUnknownMethod(t *testing.T) {
	eng, _ := testEngine(t)
	resp := eng.ProcessRequest(context.Background(), rpc(t, "invalid_method", nil))
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeMethodNotFound, resp.Error.Code)
	assert.JSONEq(t, `"r1"`, string(resp.ID))
}

func TestGetTaskNotFound(t *testing.T) {
	eng, _ := testEngine(t)
	resp := eng.ProcessRequest(context.Background(), rpc(t, a2a.MethodGetTask, map[string]string{"taskId": "nope"}))
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.CodeTaskNotFound, resp.Error.Code)
}

func TestSubmitTaskValidation(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	resp := eng.ProcessRequest(ctx, rpc(t, a2a.MethodSubmitTask, map[string]string{"id": "", "kind": "x"}))
	assert.NotNil(t, resp.Error)

	resp = eng.ProcessRequest(ctx, rpc(t, a2a.MethodSubmitTask, map[string]string{"id": "t", "kind": ""}))
	assert.NotNil(t, resp.Error)
}

func TestMaxConcurrentTasks(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	reg := registry.New(registry.DefaultConfig(), logger)
	metrics, err := observability.NewMetricsManager(otel.Meter("test"))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MaxConcurrentTasks = 2
	eng := New(cfg, reg, logger, observability.NewTraceManager("test"), metrics)
	ctx := context.Background()

	require.NoError(t, eng.SubmitTask(ctx, &a2a.Task{ID: "t1", Kind: "k"}))
	require.NoError(t, eng.SubmitTask(ctx, &a2a.Task{ID: "t2", Kind: "k"}))

	err = eng.SubmitTask(ctx, &a2a.Task{ID: "t3", Kind: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Maximum concurrent tasks reached")
}

func TestExpiredEnvelope(t *testing.T) {
	eng, _ := testEngine(t)
	msg := a2a.NewUserMessage("late")
	msg.From = "a1"
	msg.To = "a2"
	expires := time.Now().Add(-time.Hour)
	msg.ExpiresAt = &expires

	_, err := eng.ProcessMessage(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, a2a.KindMessageExpired, a2a.AsError(err).Kind)
}

func TestProcessMessageValidation(t *testing.T) {
	eng, _ := testEngine(t)
	msg := a2a.NewUserMessage("hi") // no from/to

	_, err := eng.ProcessMessage(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, a2a.KindValidation, a2a.AsError(err).Kind)
}

func TestNoHandlerSynthesizesErrorReply(t *testing.T) {
	eng, _ := testEngine(t)
	msg := a2a.NewUserMessage("hi")
	msg.From = "a1"
	msg.To = "a2"

	resp, err := eng.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "NO_HANDLER", resp.Metadata["error_code"])
	assert.Equal(t, "a1", resp.To)
}

type capturingHandler struct {
	seen []*a2a.Message
}

func (h *capturingHandler) Handle(ctx context.Context, msg *a2a.Message, mctx *MessageContext) (*a2a.Message, error) {
	h.seen = append(h.seen, msg)
	return a2a.NewAgentMessage("handled").WithTask(msg.TaskID), nil
}

func TestHandlerDispatchAndDuplicateRegistration(t *testing.T) {
	eng, _ := testEngine(t)
	handler := &capturingHandler{}
	require.NoError(t, eng.RegisterHandler(a2a.MessageTypeRequest, handler))

	// One handler per message type; the second registration must fail
	// rather than silently replace the first.
	err := eng.RegisterHandler(a2a.MessageTypeRequest, &capturingHandler{})
	assert.Error(t, err)

	msg := a2a.NewUserMessage("work")
	msg.From = "a1"
	msg.To = "a2"
	resp, err := eng.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "handled", resp.TextContent())
	assert.Len(t, handler.seen, 1)
}

type taggingInterceptor struct {
	tag      string
	incoming *[]string
	outgoing *[]string
	fail     bool
}

func (i *taggingInterceptor) InterceptIncoming(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error {
	if i.fail {
		return a2a.ValidationError("interceptor rejected")
	}
	*i.incoming = append(*i.incoming, i.tag)
	msg.Metadata["seen_"+i.tag] = true
	return nil
}

func (i *taggingInterceptor) InterceptOutgoing(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error {
	*i.outgoing = append(*i.outgoing, i.tag)
	return nil
}

func TestInterceptorOrderAndShortCircuit(t *testing.T) {
	eng, _ := testEngine(t)
	var incoming, outgoing []string
	eng.AddInterceptor(&taggingInterceptor{tag: "first", incoming: &incoming, outgoing: &outgoing})
	eng.AddInterceptor(&taggingInterceptor{tag: "second", incoming: &incoming, outgoing: &outgoing})

	msg := a2a.NewUserMessage("hi")
	msg.From = "a1"
	msg.To = "a2"
	_, err := eng.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, incoming)
	assert.Equal(t, []string{"first", "second"}, outgoing)

	// A failing interceptor aborts processing.
	incoming, outgoing = nil, nil
	eng2, _ := testEngine(t)
	eng2.AddInterceptor(&taggingInterceptor{tag: "bad", incoming: &incoming, outgoing: &outgoing, fail: true})
	msg2 := a2a.NewUserMessage("hi")
	msg2.From = "a1"
	msg2.To = "a2"
	_, err = eng2.ProcessMessage(context.Background(), msg2)
	assert.Error(t, err)
	assert.Empty(t, incoming)
}

func TestHistoryAppendOnProcess(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()
	require.NoError(t, eng.SubmitTask(ctx, &a2a.Task{ID: "t1", Kind: "k"}))

	msg := a2a.NewUserMessage("step one")
	msg.From = "a1"
	msg.To = "a2"
	msg.TaskID = "t1"
	_, err := eng.ProcessMessage(ctx, msg)
	require.NoError(t, err)

	task, err := eng.GetTask("t1")
	require.NoError(t, err)
	require.NotEmpty(t, task.History)
	assert.Equal(t, msg.MessageID, task.History[len(task.History)-1].MessageID)
	assert.Equal(t, a2a.TaskWorking, task.Status.State)
}

func TestRouteMessageErrors(t *testing.T) {
	eng, reg := testEngine(t)
	ctx := context.Background()

	msg := a2a.NewUserMessage("hi")
	msg.From = "src"
	msg.To = "missing"
	_, err := eng.RouteMessage(ctx, msg)
	require.Error(t, err)
	assert.Equal(t, a2a.KindAgentNotFound, a2a.AsError(err).Kind)

	card := a2a.NewAgentCard("offline", "Offline", "", "1.0.0")
	card.AddEndpoint(a2a.Endpoint{Protocol: "http", URL: "http://localhost:9999"})
	card.Status = a2a.AgentOffline
	require.NoError(t, reg.Register(ctx, card))

	msg.To = "offline"
	_, err = eng.RouteMessage(ctx, msg)
	require.Error(t, err)
	assert.Equal(t, a2a.KindServiceUnavailable, a2a.AsError(err).Kind)
}

func TestGetCapabilitiesUnion(t *testing.T) {
	eng, reg := testEngine(t)
	ctx := context.Background()

	for i, name := range []string{"text_generation", "data_analysis"} {
		card := a2a.NewAgentCard(string(rune('a'+i)), "Agent", "", "1.0.0")
		card.AddEndpoint(a2a.Endpoint{Protocol: "http", URL: "http://localhost:8080"})
		card.AddCapability(a2a.NewCapability(name, "", a2a.CapTextGeneration))
		require.NoError(t, reg.Register(ctx, card))
	}

	resp := eng.ProcessRequest(ctx, rpc(t, a2a.MethodGetCapabilities, nil))
	out := result(t, resp)
	caps, ok := out["capabilities"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"text_generation", "data_analysis"}, caps)
}
