// Package diskio implements the per-store-path disk-I/O engine: a
// fixed pool of worker goroutines that perform the blocking
// open/read/write/truncate/unlink/sync system calls on behalf of the
// network layer, so that no single slow disk ever blocks an unrelated
// connection. Per-connection state is routed to a fixed worker
// goroutine as a task submitted on a channel and awaited on a result
// channel, the suspension model pkg/reactor relies on to keep a
// connection's goroutine blocked without blocking any other
// connection.
package diskio

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

// ErrTrunkCollision is returned by a check_trunk task when the target
// slot's existing header is neither zero nor "dead".
var ErrTrunkCollision = trunkstore.ErrConflict

// OpKind names one disk-engine operation: delete_normal, delete_trunk,
// read, write, append, modify, truncate, discard, write_chunk_header,
// check_trunk_on_upload, or check_trunk_on_sync.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
	OpAppend
	OpModify
	OpTruncate
	OpDeleteNormal
	OpDeleteTrunk
	OpDiscard
	OpWriteChunkHeader
	OpCheckTrunkOnUpload
	OpCheckTrunkOnSync
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpAppend:
		return "append"
	case OpModify:
		return "modify"
	case OpTruncate:
		return "truncate"
	case OpDeleteNormal:
		return "delete_normal"
	case OpDeleteTrunk:
		return "delete_trunk"
	case OpDiscard:
		return "discard"
	case OpWriteChunkHeader:
		return "write_chunk_header"
	case OpCheckTrunkOnUpload:
		return "check_trunk_on_upload"
	case OpCheckTrunkOnSync:
		return "check_trunk_on_sync"
	default:
		return "unknown"
	}
}

// isReadOnly reports whether an op belongs in the reader sub-pool
// when reader/writer separation is enabled.
func (k OpKind) isReadOnly() bool {
	return k == OpRead || k == OpDiscard || k == OpCheckTrunkOnUpload || k == OpCheckTrunkOnSync
}

// MetricsSink mirrors counter increments into an external observability
// system. pkg/metrics implements this with Prometheus counters; tests
// may pass nil.
type MetricsSink interface {
	IncCounter(name string, delta int64)
}

// Counters are the thread-safe ground-truth operation counters that
// pkg/metrics exports for observability.
type Counters struct {
	TotalFileOpenCount   atomic.Int64
	SuccessFileOpenCount atomic.Int64
	TotalReadCount       atomic.Int64
	SuccessReadCount     atomic.Int64
	TotalWriteCount      atomic.Int64
	SuccessWriteCount    atomic.Int64

	sink MetricsSink
}

func (c *Counters) bump(total, success *atomic.Int64, name string, ok bool) {
	total.Add(1)
	if c.sink != nil {
		c.sink.IncCounter("total_"+name, 1)
	}
	if ok {
		success.Add(1)
		if c.sink != nil {
			c.sink.IncCounter("success_"+name, 1)
		}
	}
}

func (c *Counters) recordOpen(ok bool)  { c.bump(&c.TotalFileOpenCount, &c.SuccessFileOpenCount, "file_open_count", ok) }
func (c *Counters) recordRead(ok bool)  { c.bump(&c.TotalReadCount, &c.SuccessReadCount, "read_count", ok) }
func (c *Counters) recordWrite(ok bool) { c.bump(&c.TotalWriteCount, &c.SuccessWriteCount, "write_count", ok) }

// Result is returned for every task submitted to the engine. For
// chunked operations (read/write of a file larger than one buffer)
// Done is false and the caller resubmits a follow-up task against the
// same FileContext.
type Result struct {
	Err            error
	BytesProcessed int
	Done           bool
}

// Engine runs the fixed worker topology for one configured store path
// ("Topology").
type Engine struct {
	StorePathIndex int
	Separated      bool

	readers []*worker
	writers []*worker

	Counters Counters
	log      *logrus.Entry
}

// Config controls worker-pool sizing and observability wiring.
type Config struct {
	ReaderCount int
	WriterCount int
	Separated   bool
	Sink        MetricsSink
	Logger      *logrus.Entry
}

// NewEngine builds and starts the worker goroutines for one store
// path. Callers must call Stop when done to release worker goroutines.
func NewEngine(storePathIndex int, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Engine{
		StorePathIndex: storePathIndex,
		Separated:      cfg.Separated,
		log:            cfg.Logger.WithField("store_path", storePathIndex),
	}
	e.Counters.sink = cfg.Sink

	if cfg.Separated {
		e.readers = newWorkers(e, cfg.ReaderCount)
		e.writers = newWorkers(e, cfg.WriterCount)
	} else {
		combined := newWorkers(e, cfg.ReaderCount+cfg.WriterCount)
		e.readers = combined
		e.writers = combined
	}
	return e
}

// Stop shuts down every worker goroutine. Pending tasks are drained
// before the goroutines exit.
func (e *Engine) Stop() {
	seen := make(map[*worker]bool)
	for _, w := range append(append([]*worker{}, e.readers...), e.writers...) {
		if seen[w] {
			continue
		}
		seen[w] = true
		close(w.queue)
	}
}

// Submit routes task to the worker owning connID's hash bucket within
// the appropriate sub-pool, hashing the connection identifier modulo
// the worker count so that all tasks for one connection land on the
// same worker and execute in submission order. Returns a channel that
// receives exactly one Result.
//
// The caller (pkg/reactor) reads from the returned channel to
// "suspend" the connection's goroutine without blocking any other
// connection — the idiomatic-Go restatement of the original reactor's
// non-blocking event-loop suspension.
func (e *Engine) Submit(connID uint64, t *Task) <-chan Result {
	pool := e.writers
	if t.Kind.isReadOnly() {
		pool = e.readers
	}
	w := pool[connID%uint64(len(pool))]
	resp := make(chan Result, 1)
	t.resp = resp
	w.queue <- t
	return resp
}
