package diskio

import (
	"fmt"
	"os"

	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

// handle dispatches one task to its operation-specific implementation
// ("Operations").
func (e *Engine) handle(t *Task) Result {
	switch t.Kind {
	case OpRead:
		return e.handleRead(t)
	case OpWrite:
		return e.handleWrite(t)
	case OpAppend:
		return e.handleAppend(t)
	case OpModify:
		return e.handleModify(t)
	case OpTruncate:
		return e.handleTruncate(t)
	case OpDeleteNormal:
		return e.handleDeleteNormal(t)
	case OpDeleteTrunk:
		return e.handleDeleteTrunk(t)
	case OpDiscard:
		return e.handleDiscard(t)
	case OpWriteChunkHeader:
		return e.handleWriteChunkHeader(t)
	case OpCheckTrunkOnUpload, OpCheckTrunkOnSync:
		return e.handleCheckTrunk(t)
	default:
		return Result{Err: fmt.Errorf("diskio: unknown op kind %v", t.Kind)}
	}
}

// handleRead implements "Read protocol": open if needed,
// read min(remaining, buffer-free) into the caller's buffer, advance
// offset, close and signal done on reaching the end of the range.
func (e *Engine) handleRead(t *Task) Result {
	ctx := t.Ctx

	if ctx.File == nil {
		f, err := os.Open(ctx.Path)
		e.Counters.recordOpen(err == nil)
		if err != nil {
			return Result{Err: fmt.Errorf("diskio: open %s: %w", ctx.Path, err)}
		}
		if _, err := f.Seek(ctx.Start, os.SEEK_SET); err != nil {
			f.Close()
			return Result{Err: fmt.Errorf("diskio: seek %s: %w", ctx.Path, err)}
		}
		ctx.File = f
		ctx.Offset = ctx.Start
	}

	remaining := ctx.End - ctx.Offset
	want := int64(len(t.Buffer))
	if want > remaining {
		want = remaining
	}

	var n int
	var err error
	if want > 0 {
		n, err = ctx.File.Read(t.Buffer[:want])
		ctx.Offset += int64(n)
	}
	e.Counters.recordRead(err == nil)
	if err != nil {
		ctx.File.Close()
		ctx.File = nil
		return Result{Err: fmt.Errorf("diskio: read %s: %w", ctx.Path, err), BytesProcessed: n}
	}

	done := ctx.Offset >= ctx.End
	if done {
		ctx.File.Close()
		ctx.File = nil
	}
	return Result{BytesProcessed: n, Done: done}
}

// handleWrite implements "Write protocol": BeforeOpen hook
// (allocate a trunk slot, create parent directories), open, write the
// chunk, maintain the running hashes, and on completion run
// BeforeClose (e.g. write the trunk slot header) before closing.
func (e *Engine) handleWrite(t *Task) Result {
	ctx := t.Ctx

	if ctx.File == nil {
		if ctx.BeforeOpen != nil {
			if err := ctx.BeforeOpen(ctx); err != nil {
				return Result{Err: fmt.Errorf("diskio: before_open: %w", err)}
			}
		}
		f, err := os.OpenFile(ctx.Path, os.O_CREATE|os.O_WRONLY, 0o644)
		e.Counters.recordOpen(err == nil)
		if err != nil {
			return Result{Err: fmt.Errorf("diskio: open %s: %w", ctx.Path, err)}
		}
		if ctx.Start > 0 {
			if _, err := f.Seek(ctx.Start, os.SEEK_SET); err != nil {
				f.Close()
				return Result{Err: fmt.Errorf("diskio: seek %s: %w", ctx.Path, err)}
			}
		}
		ctx.File = f
		ctx.Offset = ctx.Start
	}

	n, err := ctx.File.Write(t.Data)
	ctx.Offset += int64(n)
	if n > 0 {
		if ctx.CRC32 != nil {
			ctx.CRC32.Write(t.Data[:n])
		}
		if ctx.FullHash != nil {
			ctx.FullHash.Write(t.Data[:n])
		}
	}
	e.Counters.recordWrite(err == nil)

	if err != nil {
		e.rollbackWrite(ctx)
		return Result{Err: fmt.Errorf("diskio: write %s: %w", ctx.Path, err), BytesProcessed: n}
	}

	if ctx.cancelledNow() {
		e.rollbackWrite(ctx)
		return Result{Err: fmt.Errorf("diskio: write %s: cancelled", ctx.Path), BytesProcessed: n}
	}

	done := ctx.Offset >= ctx.End
	if !done {
		return Result{BytesProcessed: n}
	}

	if ctx.BeforeClose != nil {
		if err := ctx.BeforeClose(ctx); err != nil {
			e.rollbackWrite(ctx)
			return Result{Err: fmt.Errorf("diskio: before_close: %w", err), BytesProcessed: n}
		}
	}
	if err := ctx.File.Sync(); err != nil {
		e.rollbackWrite(ctx)
		return Result{Err: fmt.Errorf("diskio: fsync %s: %w", ctx.Path, err), BytesProcessed: n}
	}
	ctx.File.Close()
	ctx.File = nil
	return Result{BytesProcessed: n, Done: true}
}

// rollbackWrite applies the failure policy from "Rollback
// policy" appropriate to ctx.Kind.
func (e *Engine) rollbackWrite(ctx *FileContext) {
	if ctx.File != nil {
		ctx.File.Close()
		ctx.File = nil
	}
	switch ctx.Kind {
	case KindNormal:
		os.Remove(ctx.Path)
	case KindTrunk:
		if ctx.Trunk != nil && ctx.TrunkStore != nil {
			ctx.TrunkStore.Release(*ctx.Trunk)
		}
	case KindAppender:
		if ctx.appendStart >= 0 {
			os.Truncate(ctx.Path, ctx.appendStart)
		}
	}
}

// handleAppend extends an appender file. On any mid-append failure,
// ftruncate restores the pre-append length.
func (e *Engine) handleAppend(t *Task) Result {
	ctx := t.Ctx
	ctx.Kind = KindAppender

	if ctx.File == nil {
		fi, statErr := os.Stat(ctx.Path)
		if statErr != nil {
			return Result{Err: fmt.Errorf("diskio: stat %s: %w", ctx.Path, statErr)}
		}
		ctx.appendStart = fi.Size()
		f, err := os.OpenFile(ctx.Path, os.O_WRONLY, 0o644)
		e.Counters.recordOpen(err == nil)
		if err != nil {
			return Result{Err: fmt.Errorf("diskio: open %s: %w", ctx.Path, err)}
		}
		if _, err := f.Seek(ctx.appendStart, os.SEEK_SET); err != nil {
			f.Close()
			return Result{Err: fmt.Errorf("diskio: seek %s: %w", ctx.Path, err)}
		}
		ctx.File = f
		ctx.Offset = ctx.appendStart
		ctx.Start = ctx.appendStart
		ctx.End = ctx.appendStart + int64(len(t.Data))
	}

	n, err := ctx.File.Write(t.Data)
	ctx.Offset += int64(n)
	e.Counters.recordWrite(err == nil)
	if err != nil {
		e.rollbackWrite(ctx)
		return Result{Err: fmt.Errorf("diskio: append %s: %w", ctx.Path, err), BytesProcessed: n}
	}

	done := ctx.Offset >= ctx.End
	if done {
		syncErr := ctx.File.Sync()
		ctx.File.Close()
		ctx.File = nil
		if syncErr != nil {
			return Result{Err: fmt.Errorf("diskio: fsync %s: %w", ctx.Path, syncErr), BytesProcessed: n}
		}
	}
	return Result{BytesProcessed: n, Done: done}
}

// handleModify overwrites [t.Size, t.Size+len(t.Data)) in
// place. Failures are logged but not rolled back: "the region is
// declared permanently suspect; the caller must observe the error
// code".
func (e *Engine) handleModify(t *Task) Result {
	ctx := t.Ctx

	f, err := os.OpenFile(ctx.Path, os.O_WRONLY, 0o644)
	e.Counters.recordOpen(err == nil)
	if err != nil {
		return Result{Err: fmt.Errorf("diskio: open %s: %w", ctx.Path, err)}
	}
	defer f.Close()

	n, err := f.WriteAt(t.Data, t.Size)
	e.Counters.recordWrite(err == nil)
	if err != nil {
		if ctx.Log != nil {
			ctx.Log.WithError(err).WithField("path", ctx.Path).Warn("modify left region suspect, not rolled back")
		}
		return Result{Err: fmt.Errorf("diskio: modify %s at %d: %w", ctx.Path, t.Size, err), BytesProcessed: n}
	}
	if err := f.Sync(); err != nil {
		return Result{Err: fmt.Errorf("diskio: fsync %s: %w", ctx.Path, err), BytesProcessed: n}
	}
	return Result{BytesProcessed: n, Done: true}
}

// handleTruncate sets the file length to t.Size.
func (e *Engine) handleTruncate(t *Task) Result {
	ctx := t.Ctx
	if err := os.Truncate(ctx.Path, t.Size); err != nil {
		return Result{Err: fmt.Errorf("diskio: truncate %s to %d: %w", ctx.Path, t.Size, err)}
	}
	return Result{Done: true}
}

// handleDeleteNormal unlinks a standalone (non-trunked) file.
func (e *Engine) handleDeleteNormal(t *Task) Result {
	ctx := t.Ctx
	if err := os.Remove(ctx.Path); err != nil {
		return Result{Err: fmt.Errorf("diskio: unlink %s: %w", ctx.Path, err)}
	}
	return Result{Done: true}
}

// handleDeleteTrunk releases a slot back to its trunk allocator. The
// shared trunk file itself is never removed here.
func (e *Engine) handleDeleteTrunk(t *Task) Result {
	ctx := t.Ctx
	if ctx.Trunk == nil || ctx.TrunkStore == nil {
		return Result{Err: fmt.Errorf("diskio: delete_trunk without trunk info")}
	}
	ctx.TrunkStore.Release(*ctx.Trunk)
	return Result{Done: true}
}

// handleDiscard abandons a partially-read FileContext, e.g. when the
// reactor tears down a connection mid-download.
func (e *Engine) handleDiscard(t *Task) Result {
	ctx := t.Ctx
	if ctx.File != nil {
		ctx.File.Close()
		ctx.File = nil
	}
	return Result{Done: true}
}

// handleWriteChunkHeader seeks to the slot's header offset inside its
// trunk file and writes the packed 24-byte header, run as a separate
// task after the body write completes.
func (e *Engine) handleWriteChunkHeader(t *Task) Result {
	ctx := t.Ctx
	if ctx.Trunk == nil {
		return Result{Err: fmt.Errorf("diskio: write_chunk_header without trunk info")}
	}
	f, err := os.OpenFile(ctx.Path, os.O_WRONLY, 0o644)
	if err != nil {
		return Result{Err: fmt.Errorf("diskio: open %s: %w", ctx.Path, err)}
	}
	defer f.Close()

	n, err := f.WriteAt(t.Data, ctx.Trunk.Offset)
	if err != nil {
		return Result{Err: fmt.Errorf("diskio: write_chunk_header %s at %d: %w", ctx.Path, ctx.Trunk.Offset, err), BytesProcessed: n}
	}
	return Result{BytesProcessed: n, Done: true}
}

// handleCheckTrunk reads the 24 bytes at the target slot's offset and
// rejects the allocation if they are non-zero and do not unpack to a
// "dead" header ("Collision check").
func (e *Engine) handleCheckTrunk(t *Task) Result {
	ctx := t.Ctx
	if ctx.Trunk == nil {
		return Result{Err: fmt.Errorf("diskio: check_trunk without trunk info")}
	}
	f, err := os.Open(ctx.Path)
	if os.IsNotExist(err) {
		// A brand-new trunk file has no header to collide with.
		return Result{Done: true}
	}
	if err != nil {
		return Result{Err: fmt.Errorf("diskio: open %s: %w", ctx.Path, err)}
	}
	defer f.Close()

	raw := make([]byte, trunkstore.HeaderLen)
	_, err = f.ReadAt(raw, ctx.Trunk.Offset)
	if err != nil {
		// Reading past current EOF means this region was never
		// written: treat as a clean slot.
		return Result{Done: true}
	}
	if trunkstore.IsZero(raw) || trunkstore.IsDead(raw) {
		return Result{Done: true}
	}
	return Result{Err: fmt.Errorf("diskio: %w at trunk offset %d", ErrTrunkCollision, ctx.Trunk.Offset)}
}
