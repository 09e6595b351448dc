// Package a2a defines the wire protocol spoken across the engine boundary:
// message envelopes, tasks, agent cards, JSON-RPC frames, and the codec
// that validates them.
//
// # Messages
//
// A Message is the atomic unit of traffic. It carries an ordered sequence
// of parts (text, file, or structured data), optional task and context
// correlation ids, and a free-form metadata map. Messages are immutable
// once the engine has observed them; use Derive to obtain a mutable copy
// under a fresh message id:
//
//	msg := a2a.NewUserMessage("summarize this document").
//		WithTask(taskID).
//		WithContext(contextID)
//
// # Tasks
//
// A Task tracks a unit of work across one or more messages. Its state
// machine is
//
//	submitted -> working -> (completed | failed | canceled)
//
// with cancellation also allowed straight from submitted. Terminal states
// are append-only: transitions out of them fail, and re-entering the same
// terminal state is a no-op so cancellation stays idempotent. History
// grows only by append and the status timestamp never moves backwards.
//
// # Agent cards
//
// An AgentCard describes an agent for discovery: identity, status, trust
// level, endpoints, and a typed capability list. Trust levels are totally
// ordered through TrustScore; policy checks compare scores, never labels.
//
// # Codec
//
// The Codec enforces the envelope version, the configured maximum message
// size, and part well-formedness. Unknown top-level fields are ignored so
// newer peers can extend the envelope; unknown part kinds are rejected as
// validation errors.
//
// # Errors
//
// Error carries a stable kind from the taxonomy in this package. Kinds
// map onto JSON-RPC codes for the transport surface, and Retryable
// reports whether a client may retry (network, timeout, unavailable, and
// rate-limit failures only).
package a2a
