package a2a

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	codec := NewCodec(0)

	msg := NewUserMessage("hello")
	msg.TaskID = "t1"
	msg.ContextID = "ctx1"
	msg.Metadata["priority"] = "high"
	msg.Parts = append(msg.Parts,
		FilePart{Name: "report.pdf", MimeType: "application/pdf", URI: "https://example.com/report.pdf"},
		DataPart{Data: json.RawMessage(`{"k":1}`)},
	)

	data, err := codec.EncodeMessage(msg)
	require.NoError(t, err)

	decoded, err := codec.DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, RoleUser, decoded.Role)
	assert.Equal(t, "t1", decoded.TaskID)
	assert.Equal(t, "ctx1", decoded.ContextID)
	assert.Equal(t, "high", decoded.Metadata["priority"])
	require.Len(t, decoded.Parts, 3)
	assert.Equal(t, "hello", decoded.TextContent())
	file, ok := decoded.Parts[1].(FilePart)
	require.True(t, ok)
	assert.Equal(t, "report.pdf", file.Name)
}

func TestDecodeUnknownPartKind(t *testing.T) {
	codec := NewCodec(0)
	raw := []byte(`{"messageId":"m1","role":"user","version":"` + Version + `","parts":[{"kind":"hologram"}]}`)

	_, err := codec.DecodeMessage(raw)
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsError(err).Kind)
}

func TestDecodeVersionMismatch(t *testing.T) {
	codec := NewCodec(0)
	raw := []byte(`{"messageId":"m1","role":"user","version":"9.9.9","parts":[]}`)

	_, err := codec.DecodeMessage(raw)
	require.Error(t, err)
	assert.Equal(t, KindVersionMismatch, AsError(err).Kind)
}

func TestDecodeExpiredMessage(t *testing.T) {
	codec := NewCodec(0)
	msg := NewUserMessage("late")
	expires := time.Now().Add(-time.Hour)
	msg.ExpiresAt = &expires

	data, err := codec.EncodeMessage(msg)
	require.NoError(t, err)
	_, err = codec.DecodeMessage(data)
	assert.ErrorIs(t, err, ErrMessageExpired)
}

func TestMaxMessageSize(t *testing.T) {
	codec := NewCodec(64)
	msg := NewUserMessage(string(make([]byte, 256)))

	_, err := codec.EncodeMessage(msg)
	require.Error(t, err)
	assert.Equal(t, KindValidation, AsError(err).Kind)
}

func TestDeriveGetsFreshID(t *testing.T) {
	msg := NewUserMessage("original")
	msg.Metadata["key"] = "value"

	derived := msg.Derive()
	derived.Metadata["key"] = "changed"

	assert.NotEqual(t, msg.MessageID, derived.MessageID)
	assert.Equal(t, "value", msg.Metadata["key"])
}

func TestUnknownTopLevelFieldsIgnored(t *testing.T) {
	codec := NewCodec(0)
	raw := []byte(`{"messageId":"m1","role":"agent","version":"` + Version + `","parts":[{"kind":"text","text":"ok"}],"futureField":42}`)

	msg, err := codec.DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, msg.Role)
	assert.Equal(t, "ok", msg.TextContent())
}

func TestTaskStateMachine(t *testing.T) {
	now := time.Now().UTC()
	task := NewTask("text_gen")

	require.NoError(t, task.Transition(TaskWorking, now))
	require.NoError(t, task.Transition(TaskCompleted, now.Add(time.Second)))
	assert.True(t, task.Status.State.Terminal())

	// Terminal states admit no further transitions.
	err := task.Transition(TaskWorking, now.Add(2*time.Second))
	assert.Error(t, err)
}

func TestTaskCancelFromSubmittedAndWorking(t *testing.T) {
	now := time.Now().UTC()

	fromSubmitted := NewTask("a")
	require.NoError(t, fromSubmitted.Transition(TaskCanceled, now))

	fromWorking := NewTask("b")
	require.NoError(t, fromWorking.Transition(TaskWorking, now))
	require.NoError(t, fromWorking.Transition(TaskCanceled, now))

	// Idempotent on an already-canceled task.
	require.NoError(t, fromWorking.Transition(TaskCanceled, now.Add(time.Second)))
}

func TestTaskTimestampMonotone(t *testing.T) {
	now := time.Now().UTC()
	task := NewTask("c")
	require.NoError(t, task.Transition(TaskWorking, now))

	// A transition stamped in the past must not move time backwards.
	require.NoError(t, task.Transition(TaskCompleted, now.Add(-time.Hour)))
	assert.False(t, task.Status.Timestamp.Before(now))
}

func TestErrorRetryability(t *testing.T) {
	assert.True(t, TimeoutError("slow").Retryable())
	assert.True(t, ServiceUnavailable("down").Retryable())
	assert.True(t, NewError(KindNetwork, "io").Retryable())
	assert.True(t, NewError(KindRateLimitExceeded, "429").Retryable())

	assert.False(t, ValidationError("bad").Retryable())
	assert.False(t, AuthenticationError("who").Retryable())
	assert.False(t, TaskNotFound("t").Retryable())
}

func TestErrorRPCCodes(t *testing.T) {
	assert.Equal(t, CodeTaskNotFound, TaskNotFound("t1").RPCCode())
	assert.Equal(t, CodeRoutingFailure, AgentNotFound("a1").RPCCode())
	assert.Equal(t, CodeValidation, ValidationError("bad").RPCCode())
}
