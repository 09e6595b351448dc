package engine

import (
	"context"
	"encoding/json"

	"github.com/agentx/agentx/internal/a2a"
)

// ProcessRequest dispatches one JSON-RPC frame to its method handler and
// never fails at the transport level: every outcome is a response frame.
func (e *Engine) ProcessRequest(ctx context.Context, req *a2a.Request) *a2a.Response {
	ctx, span := e.tracer.StartRPCSpan(ctx, req.Method)
	defer span.End()

	var resp *a2a.Response
	switch req.Method {
	case a2a.MethodSubmitTask:
		resp = e.handleSubmitTask(ctx, req)
	case a2a.MethodGetTask:
		resp = e.handleGetTask(ctx, req)
	case a2a.MethodCancelTask:
		resp = e.handleCancelTask(ctx, req)
	case a2a.MethodSendMessage:
		resp = e.handleSendMessage(ctx, req)
	case a2a.MethodGetCapabilities:
		resp = e.handleGetCapabilities(ctx, req)
	default:
		e.logger.WarnContext(ctx, "Unknown JSON-RPC method", "method", req.Method)
		resp = a2a.ErrorResponse(a2a.MethodNotFound(), req.ID)
	}
	if resp.Error != nil {
		e.tracer.RecordError(span, a2a.NewError(a2a.KindInternal, "%s", resp.Error.Message))
	} else {
		e.tracer.SetSpanSuccess(span)
	}
	return resp
}

func (e *Engine) handleSubmitTask(ctx context.Context, req *a2a.Request) *a2a.Response {
	if req.Params == nil {
		return a2a.ErrorResponse(a2a.InvalidParams(), req.ID)
	}
	var task a2a.Task
	if err := json.Unmarshal(req.Params, &task); err != nil {
		e.logger.ErrorContext(ctx, "Failed to parse task", "error", err)
		return a2a.ErrorResponse(a2a.InvalidParams(), req.ID)
	}
	if err := e.SubmitTask(ctx, &task); err != nil {
		return rpcError(err, req.ID)
	}
	return a2a.SuccessResponse(map[string]string{
		"taskId": task.ID,
		"status": "submitted",
	}, req.ID)
}

func (e *Engine) handleGetTask(ctx context.Context, req *a2a.Request) *a2a.Response {
	taskID, ok := paramString(req.Params, "taskId")
	if !ok {
		return a2a.ErrorResponse(a2a.InvalidParams(), req.ID)
	}
	task, err := e.GetTask(taskID)
	if err != nil {
		return rpcError(err, req.ID)
	}
	return a2a.SuccessResponse(task, req.ID)
}

func (e *Engine) handleCancelTask(ctx context.Context, req *a2a.Request) *a2a.Response {
	taskID, ok := paramString(req.Params, "taskId")
	if !ok {
		return a2a.ErrorResponse(a2a.InvalidParams(), req.ID)
	}
	task, err := e.CancelTask(ctx, taskID)
	if err != nil {
		return rpcError(err, req.ID)
	}
	return a2a.SuccessResponse(map[string]string{
		"taskId": task.ID,
		"status": string(task.Status.State),
	}, req.ID)
}

func (e *Engine) handleSendMessage(ctx context.Context, req *a2a.Request) *a2a.Response {
	if req.Params == nil {
		return a2a.ErrorResponse(a2a.InvalidParams(), req.ID)
	}
	var msg a2a.Message
	if err := json.Unmarshal(req.Params, &msg); err != nil {
		e.logger.ErrorContext(ctx, "Failed to parse message", "error", err)
		return a2a.ErrorResponse(a2a.InvalidParams(), req.ID)
	}
	if _, err := e.RouteMessage(ctx, &msg); err != nil {
		return rpcError(err, req.ID)
	}
	return a2a.SuccessResponse(map[string]string{
		"messageId": msg.MessageID,
		"status":    "delivered",
	}, req.ID)
}

func (e *Engine) handleGetCapabilities(ctx context.Context, req *a2a.Request) *a2a.Response {
	capabilities := e.registry.AllCapabilities()
	return a2a.SuccessResponse(map[string]any{
		"capabilities": capabilities,
		"agents":       e.registry.Stats().TotalAgents,
	}, req.ID)
}

func rpcError(err error, id json.RawMessage) *a2a.Response {
	a2aErr := a2a.AsError(err)
	return a2a.ErrorResponse(&a2a.RPCError{
		Code:    a2aErr.RPCCode(),
		Message: a2aErr.Message,
	}, id)
}

func paramString(params json.RawMessage, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(params, &values); err != nil {
		return "", false
	}
	raw, ok := values[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil || value == "" {
		return "", false
	}
	return value, true
}
