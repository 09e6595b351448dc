package engine

import (
	"context"
	"log/slog"

	"github.com/agentx/agentx/internal/a2a"
)

// LoggingInterceptor logs every envelope crossing the engine. It mutates
// nothing.
type LoggingInterceptor struct {
	Logger *slog.Logger
}

func (li *LoggingInterceptor) InterceptIncoming(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error {
	li.Logger.DebugContext(ctx, "Message received",
		"message_id", msg.MessageID,
		"from", msg.From,
		"to", msg.To,
		"task_id", msg.TaskID,
		"hop_count", mctx.HopCount,
	)
	return nil
}

func (li *LoggingInterceptor) InterceptOutgoing(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error {
	li.Logger.DebugContext(ctx, "Message emitted",
		"message_id", msg.MessageID,
		"to", msg.To,
		"task_id", msg.TaskID,
	)
	return nil
}

// HopInterceptor stamps the hop counter into egress metadata so downstream
// engines can enforce the hop bound.
type HopInterceptor struct{}

func (HopInterceptor) InterceptIncoming(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error {
	return nil
}

func (HopInterceptor) InterceptOutgoing(ctx context.Context, msg *a2a.Message, mctx *MessageContext) error {
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	msg.Metadata["hop_count"] = float64(mctx.HopCount + 1)
	return nil
}
