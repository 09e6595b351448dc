package a2a

import (
	"encoding/json"
	"errors"
	"time"
)

// Codec serializes and validates the two framings crossing the engine
// boundary: self-describing message envelopes and JSON-RPC request frames.
type Codec struct {
	maxMessageSize int
}

// NewCodec builds a codec enforcing the given size bound in bytes. A zero
// bound disables the check.
func NewCodec(maxMessageSize int) *Codec {
	return &Codec{maxMessageSize: maxMessageSize}
}

// EncodeMessage serializes a message envelope, enforcing the size bound.
func (c *Codec) EncodeMessage(msg *Message) ([]byte, error) {
	if msg.Version == "" {
		msg.Version = Version
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, WrapError(KindValidation, err, "message %s cannot be serialized", msg.MessageID)
	}
	if c.maxMessageSize > 0 && len(data) > c.maxMessageSize {
		return nil, ValidationError("message size %d exceeds maximum %d", len(data), c.maxMessageSize)
	}
	return data, nil
}

// DecodeMessage parses and validates a message envelope.
func (c *Codec) DecodeMessage(data []byte) (*Message, error) {
	if c.maxMessageSize > 0 && len(data) > c.maxMessageSize {
		return nil, ValidationError("message size %d exceeds maximum %d", len(data), c.maxMessageSize)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		var a2aErr *Error
		if errors.As(err, &a2aErr) {
			return nil, a2aErr
		}
		return nil, WrapError(KindValidation, err, "malformed message envelope")
	}
	if msg.MessageID == "" {
		return nil, ValidationError("message id is required")
	}
	if msg.Version != Version {
		return nil, VersionMismatch(Version, msg.Version)
	}
	if msg.Expired(time.Now()) {
		return nil, ErrMessageExpired
	}
	return &msg, nil
}

// DecodeRequest parses a JSON-RPC request frame.
func (c *Codec) DecodeRequest(data []byte) (*Request, error) {
	if c.maxMessageSize > 0 && len(data) > c.maxMessageSize {
		return nil, ValidationError("request size %d exceeds maximum %d", len(data), c.maxMessageSize)
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, WrapError(KindValidation, err, "malformed JSON-RPC frame")
	}
	if req.JSONRPC != "2.0" {
		return nil, ValidationError("unsupported JSON-RPC version %q", req.JSONRPC)
	}
	if req.Method == "" {
		return nil, ValidationError("method is required")
	}
	return &req, nil
}

// EncodeResponse serializes a JSON-RPC response frame.
func (c *Codec) EncodeResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, WrapError(KindInternal, err, "response cannot be serialized")
	}
	return data, nil
}
