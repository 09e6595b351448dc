package bridge

import (
	"sync"
	"time"

	"github.com/agentx/agentx/internal/a2a"
	"github.com/agentx/agentx/internal/plugin"
)

// StreamState is the lifecycle of one logical stream.
type StreamState string

const (
	StreamOpen      StreamState = "open"
	StreamCompleted StreamState = "completed"
	StreamAborted   StreamState = "aborted"
)

// ChunkSink receives in-order chunks; the plugin-side stream implements it.
type ChunkSink interface {
	Send(*plugin.StreamChunk) error
}

// streamRecv tracks receive progress for one stream. Out-of-order chunks
// are buffered up to the window; a gap larger than the window aborts the
// stream.
type streamRecv struct {
	streamID       string
	expectedChunks uint64
	receivedChunks uint64
	nextSequence   uint64
	state          StreamState
	updatedAt      time.Time
	pending        map[uint64]*plugin.StreamChunk
	sink           ChunkSink
}

// StreamStatus is the externally visible stream state.
type StreamStatus struct {
	StreamID       string      `json:"streamId"`
	ExpectedChunks uint64      `json:"expectedChunks,omitempty"`
	ReceivedChunks uint64      `json:"receivedChunks"`
	State          StreamState `json:"state"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// streamTable owns all in-flight stream receive states.
type streamTable struct {
	mu      sync.Mutex
	window  int
	streams map[string]*streamRecv
}

func newStreamTable(window int) *streamTable {
	return &streamTable{
		window:  window,
		streams: make(map[string]*streamRecv),
	}
}

// OpenStream starts tracking a logical stream feeding the given sink.
func (b *Bridge) OpenStream(streamID string, expectedChunks uint64, sink ChunkSink) error {
	b.streams.mu.Lock()
	defer b.streams.mu.Unlock()
	if _, exists := b.streams.streams[streamID]; exists {
		return a2a.ValidationError("stream %s is already open", streamID)
	}
	b.streams.streams[streamID] = &streamRecv{
		streamID:       streamID,
		expectedChunks: expectedChunks,
		state:          StreamOpen,
		updatedAt:      time.Now().UTC(),
		pending:        make(map[uint64]*plugin.StreamChunk),
		sink:           sink,
	}
	return nil
}

// AcceptChunk feeds one chunk into the stream. Chunks reach the sink in
// strictly increasing sequence order; anything buffered beyond the window
// aborts the stream and emits a terminal marker to the sink.
func (b *Bridge) AcceptChunk(chunk *plugin.StreamChunk) error {
	b.streams.mu.Lock()
	recv, ok := b.streams.streams[chunk.StreamID]
	if !ok {
		b.streams.mu.Unlock()
		return a2a.ValidationError("stream %s is not open", chunk.StreamID)
	}
	if recv.state != StreamOpen {
		b.streams.mu.Unlock()
		return a2a.ValidationError("stream %s is %s", chunk.StreamID, recv.state)
	}

	if chunk.Sequence < recv.nextSequence {
		// Duplicate delivery; at-least-once transports may replay.
		b.streams.mu.Unlock()
		return nil
	}
	if chunk.Sequence > recv.nextSequence {
		if len(recv.pending) >= b.streams.window {
			recv.state = StreamAborted
			recv.pending = nil
			recv.updatedAt = time.Now().UTC()
			sink := recv.sink
			b.streams.mu.Unlock()
			sink.Send(&plugin.StreamChunk{
				StreamID: chunk.StreamID,
				IsFinal:  true,
				Aborted:  true,
			})
			return a2a.ValidationError("stream %s aborted: reorder window exceeded", chunk.StreamID)
		}
		recv.pending[chunk.Sequence] = chunk
		recv.updatedAt = time.Now().UTC()
		b.streams.mu.Unlock()
		return nil
	}

	// In-order chunk; drain it and any buffered successors.
	ready := []*plugin.StreamChunk{chunk}
	recv.nextSequence++
	for {
		next, ok := recv.pending[recv.nextSequence]
		if !ok {
			break
		}
		delete(recv.pending, recv.nextSequence)
		ready = append(ready, next)
		recv.nextSequence++
	}
	recv.receivedChunks += uint64(len(ready))
	recv.updatedAt = time.Now().UTC()
	last := ready[len(ready)-1]
	if last.IsFinal || (recv.expectedChunks > 0 && recv.receivedChunks >= recv.expectedChunks) {
		recv.state = StreamCompleted
	}
	sink := recv.sink
	b.streams.mu.Unlock()

	for _, c := range ready {
		if err := sink.Send(c); err != nil {
			b.AbortStream(chunk.StreamID)
			return a2a.WrapError(a2a.KindNetwork, err, "stream %s sink failed", chunk.StreamID)
		}
	}
	return nil
}

// AbortStream abandons a stream, flushing local state and emitting the
// terminal marker.
func (b *Bridge) AbortStream(streamID string) {
	b.streams.mu.Lock()
	recv, ok := b.streams.streams[streamID]
	if !ok || recv.state != StreamOpen {
		b.streams.mu.Unlock()
		return
	}
	recv.state = StreamAborted
	recv.pending = nil
	recv.updatedAt = time.Now().UTC()
	sink := recv.sink
	b.streams.mu.Unlock()

	sink.Send(&plugin.StreamChunk{StreamID: streamID, IsFinal: true, Aborted: true})
}

// StreamStatus reports the state of one stream.
func (b *Bridge) StreamStatus(streamID string) (StreamStatus, bool) {
	b.streams.mu.Lock()
	defer b.streams.mu.Unlock()
	recv, ok := b.streams.streams[streamID]
	if !ok {
		return StreamStatus{}, false
	}
	return StreamStatus{
		StreamID:       recv.streamID,
		ExpectedChunks: recv.expectedChunks,
		ReceivedChunks: recv.receivedChunks,
		State:          recv.state,
		UpdatedAt:      recv.updatedAt,
	}, true
}

// CloseStream drops a finished stream's state.
func (b *Bridge) CloseStream(streamID string) {
	b.streams.mu.Lock()
	defer b.streams.mu.Unlock()
	delete(b.streams.streams, streamID)
}
