package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/miravalier/tabletop/pkg/protocol"
)

var (
	ErrMissingMetadata   = errors.New("missing transfer metadata")
	ErrInvalidChunkCount = errors.New("invalid chunk count")
	ErrFileTooLarge      = errors.New("file too large")
	ErrTooManyChunks     = errors.New("received more chunks than declared")
)

// TransferKey identifies a pending transfer. Request ids are chosen by
// clients, so they are only unique per connection.
type TransferKey struct {
	ConnID    uint64
	RequestID uint32
}

// CompletionFunc performs the side effect of a finished transfer and returns
// an optional reply.
type CompletionFunc func(ctx context.Context, t *Transfer) protocol.Message

// Transfer is the reassembly state of one chunked upload
type Transfer struct {
	Key        TransferKey
	Meta       protocol.Message // nil until the intent arrives
	ChunkCount int              // 0 until the intent arrives
	Chunks     [][]byte

	onComplete   CompletionFunc
	lastActivity time.Time
}

// Data returns the chunks concatenated in arrival order
func (t *Transfer) Data() []byte {
	size := 0
	for _, c := range t.Chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range t.Chunks {
		data = append(data, c...)
	}
	return data
}

func (t *Transfer) hasIntent() bool {
	return t.Meta != nil
}

func (t *Transfer) done() bool {
	return t.hasIntent() && len(t.Chunks) == t.ChunkCount
}

// Transfers holds in-flight chunked transfers. Intent and chunks for a key may
// arrive in either order; the completion callback fires exactly once, outside
// the lock, after the entry has been removed.
type Transfers struct {
	pending   map[TransferKey]*Transfer
	mu        sync.Mutex
	maxChunks int
	ttl       time.Duration
	now       func() time.Time
	metrics   *Metrics
}

// NewTransfers creates a reassembler that accepts at most maxChunks chunks per
// transfer and considers entries idle for longer than ttl abandoned.
func NewTransfers(maxChunks int, ttl time.Duration) *Transfers {
	return &Transfers{
		pending:   make(map[TransferKey]*Transfer),
		maxChunks: maxChunks,
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetMetrics attaches metrics to the reassembler
func (ts *Transfers) SetMetrics(metrics *Metrics) {
	ts.metrics = metrics
}

// Intent declares the metadata and chunk count of a transfer. Chunks that
// arrived earlier are kept.
func (ts *Transfers) Intent(ctx context.Context, key TransferKey, meta protocol.Message, chunkCount int64, onComplete CompletionFunc) (protocol.Message, error) {
	if meta == nil {
		return nil, ErrMissingMetadata
	}
	if chunkCount <= 0 {
		return nil, ErrInvalidChunkCount
	}
	if chunkCount > int64(ts.maxChunks) {
		return nil, ErrFileTooLarge
	}

	ts.mu.Lock()
	t, ok := ts.pending[key]
	if !ok {
		t = &Transfer{Key: key}
		ts.pending[key] = t
	}
	t.Meta = meta
	t.ChunkCount = int(chunkCount)
	t.onComplete = onComplete
	t.lastActivity = ts.now()

	if len(t.Chunks) > t.ChunkCount {
		delete(ts.pending, key)
		ts.recordPendingLocked()
		ts.mu.Unlock()
		ts.metrics.RecordTransfersDropped("overflow", 1)
		return nil, ErrTooManyChunks
	}

	finished := t.done()
	if finished {
		delete(ts.pending, key)
	}
	ts.recordPendingLocked()
	ts.mu.Unlock()

	if !finished {
		return nil, nil
	}
	return ts.complete(ctx, t), nil
}

// Chunk appends a payload to the transfer for key, creating a skeletal entry
// when the intent has not arrived yet. The index is informational only.
func (ts *Transfers) Chunk(ctx context.Context, key TransferKey, index uint32, payload []byte) (protocol.Message, error) {
	ts.mu.Lock()
	t, ok := ts.pending[key]
	if !ok {
		t = &Transfer{Key: key}
		ts.pending[key] = t
	}
	t.Chunks = append(t.Chunks, payload)
	t.lastActivity = ts.now()

	if !t.hasIntent() && len(t.Chunks) > ts.maxChunks {
		delete(ts.pending, key)
		ts.recordPendingLocked()
		ts.mu.Unlock()
		ts.metrics.RecordTransfersDropped("overflow", 1)
		return nil, ErrTooManyChunks
	}

	finished := t.done()
	if finished {
		delete(ts.pending, key)
	}
	ts.recordPendingLocked()
	ts.mu.Unlock()

	debugLog.Printf("Conn %d: chunk %d of request %d (%d bytes)", key.ConnID, index, key.RequestID, len(payload))

	if !finished {
		return nil, nil
	}
	return ts.complete(ctx, t), nil
}

func (ts *Transfers) complete(ctx context.Context, t *Transfer) protocol.Message {
	ts.metrics.RecordTransferCompleted()
	if t.onComplete == nil {
		return nil
	}
	return t.onComplete(ctx, t).WithRequestID(t.Key.RequestID)
}

// Sweep drops every pending transfer of a connection
func (ts *Transfers) Sweep(connID uint64) int {
	ts.mu.Lock()
	n := 0
	for key := range ts.pending {
		if key.ConnID == connID {
			delete(ts.pending, key)
			n++
		}
	}
	ts.recordPendingLocked()
	ts.mu.Unlock()

	ts.metrics.RecordTransfersDropped("closed", n)
	return n
}

// Expire drops transfers that saw no activity for longer than the TTL
func (ts *Transfers) Expire(now time.Time) int {
	if ts.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-ts.ttl)

	ts.mu.Lock()
	n := 0
	for key, t := range ts.pending {
		if t.lastActivity.Before(cutoff) {
			delete(ts.pending, key)
			n++
		}
	}
	ts.recordPendingLocked()
	ts.mu.Unlock()

	ts.metrics.RecordTransfersDropped("expired", n)
	return n
}

// Len returns the number of pending transfers
func (ts *Transfers) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.pending)
}

func (ts *Transfers) recordPendingLocked() {
	ts.metrics.RecordPendingTransfers(len(ts.pending))
}
