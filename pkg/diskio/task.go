package diskio

import (
	"hash"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

// FileKind determines rollback policy on write/append failure.
type FileKind int

const (
	// KindNormal is a standalone, non-trunked, non-appendable file:
	// a failed write unlinks the partial file.
	KindNormal FileKind = iota
	// KindAppender is a standalone file that supports further
	// appends: a failed append truncates back to its pre-append
	// length.
	KindAppender
	// KindTrunk is a slot inside a shared trunk file: a failed
	// write releases the slot back to the allocator.
	KindTrunk
)

// FileContext is the state threaded from the network layer through
// the disk engine and back for one in-flight operation. Exactly one
// goroutine observes a FileContext at a time: the owning connection
// goroutine while idle, a disk worker goroutine while a task
// referencing it is being processed.
type FileContext struct {
	Path string
	Kind FileKind

	File *os.File

	// Start, End and Offset bound the byte range this operation is
	// responsible for ([Start, End) within the file); Offset is the
	// current read/write cursor.
	Start, End, Offset int64

	// appendStart records the length of the file before an append
	// began, for rollback on mid-append failure.
	appendStart int64

	CRC32    hash.Hash32
	FullHash hash.Hash // optional MD5 of the whole upload, per configuration

	// Trunk is set when Kind == KindTrunk; TrunkStore is the
	// allocator slots were drawn from, needed to release on
	// rollback or on delete_trunk.
	Trunk      *trunkstore.TrunkInfo
	TrunkStore *trunkstore.Store

	// BeforeOpen/BeforeClose express per-command hooks around a
	// generic read/write loop as plain functions attached to the
	// context, rather than opaque pointers threaded through the disk
	// engine.
	BeforeOpen  func(*FileContext) error
	BeforeClose func(*FileContext) error

	cancelled atomic.Bool

	Log *logrus.Entry
}

// Cancel marks the context cancelled. A worker mid-operation observes
// this between chunks and performs rollback instead of continuing,
// releasing the trunk slot if applicable.
func (fc *FileContext) Cancel() { fc.cancelled.Store(true) }

func (fc *FileContext) cancelledNow() bool { return fc.cancelled.Load() }

// Task is one unit of work submitted to the disk engine.
type Task struct {
	Kind OpKind
	Ctx  *FileContext

	// Data is the source chunk for write/append/modify/write_chunk_header.
	Data []byte
	// Buffer is the destination chunk for read; the engine fills up
	// to len(Buffer) bytes.
	Buffer []byte
	// Size carries the target length for truncate and the absolute
	// write offset for modify.
	Size int64

	resp chan<- Result
}
