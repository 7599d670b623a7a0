package storageservice

import (
	"fmt"
	"os"

	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
	"github.com/happyfish100/fastdfs-sub003/pkg/fileid"
)

// Delete implements DELETE_FILE: unlinks a standalone
// file, or releases a trunked file's slot and removes its pointer
// record. A second delete of the same id returns NotFound and leaves
// no state change (idempotent delete).
//
// Enforcing "not referenced as link target" would need a persisted
// slave-link registry this module doesn't keep (no handler here
// tracks which master a slave derives from beyond the one UploadSlave
// lookup at creation time); deleting a master currently leaves any of
// its slaves on disk but orphaned. Left unenforced, noted as an open
// decision in DESIGN.md.
func (s *Service) Delete(req fdfsproto.FileKeyRequest, connID uint64) error {
	if err := s.checkGroup(req.GroupName); err != nil {
		return err
	}
	id, err := s.parseID(req.FileName)
	if err != nil {
		return err
	}
	sp, err := s.resolve(id)
	if err != nil {
		return err
	}
	if err := s.deleteLocal(sp, id, connID); err != nil {
		return err
	}
	s.replicator.Forward(SyncUpload{FileName: id.FileName(), IsDelete: true})
	return nil
}

// deleteLocal performs the on-disk deletion shared by Delete (which
// also forwards to replication peers) and ApplySync (which must not,
// since a forwarded delete has already been forwarded once by the
// node that accepted it originally).
func (s *Service) deleteLocal(sp StorePath, id fileid.ID, connID uint64) error {
	infoPath := sp.Root.InfoPath(id)
	rec, err := readFileRecord(infoPath)
	if err != nil {
		return ferrors.New(ferrors.KindNotFound, "delete", err)
	}

	filePath := sp.Root.FilePath(id)
	if rec.IsTrunked {
		pointerRaw, err := os.ReadFile(filePath)
		if err != nil {
			return ferrors.New(ferrors.KindIOError, "delete", err)
		}
		info, err := decodeTrunkPointer(pointerRaw)
		if err != nil {
			return ferrors.New(ferrors.KindIOError, "delete", err)
		}
		ctx := &diskio.FileContext{Trunk: &info, TrunkStore: sp.Trunks}
		if res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpDeleteTrunk, Ctx: ctx}); res.Err != nil {
			return ferrors.New(ferrors.KindIOError, "delete", res.Err)
		}
	}

	// Unlinks the content itself for a standalone file, or just the
	// small pointer record for a trunked one.
	ctx := &diskio.FileContext{Path: filePath}
	if res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpDeleteNormal, Ctx: ctx}); res.Err != nil {
		return ferrors.New(ferrors.KindIOError, "delete", res.Err)
	}
	os.Remove(infoPath)
	os.Remove(sp.Root.MetaPath(id))
	return nil
}

// Append implements APPEND_FILE: extends an appender file by the
// content's length ("Appender monotonic": the resulting size
// is the pre-call size plus the appended length, or unchanged if a
// partial write fails — enforced by pkg/diskio's rollback policy for
// FileKind Appender).
func (s *Service) Append(req fdfsproto.AppendRequest, connID uint64) error {
	id, err := s.parseID(req.FileName)
	if err != nil {
		return err
	}
	sp, err := s.resolve(id)
	if err != nil {
		return err
	}

	infoPath := sp.Root.InfoPath(id)
	rec, err := readFileRecord(infoPath)
	if err != nil {
		return ferrors.New(ferrors.KindNotFound, "append", err)
	}
	if !rec.IsAppender {
		return ferrors.New(ferrors.KindFrameError, "append", fmt.Errorf("%s is not an appender file", id.FileName()))
	}

	ctx := &diskio.FileContext{Path: sp.Root.FilePath(id), Kind: diskio.KindAppender, Log: s.log}
	res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpAppend, Ctx: ctx, Data: req.Content})
	if res.Err != nil {
		return ferrors.New(ferrors.KindIOError, "append", res.Err)
	}

	rec.FileSize += int64(len(req.Content))
	if err := writeFileRecord(infoPath, rec); err != nil {
		return ferrors.New(ferrors.KindIOError, "append", err)
	}

	s.replicator.Forward(SyncUpload{FileName: id.FileName(), Content: req.Content})
	return nil
}

// Modify implements MODIFY_FILE: overwrites `[offset, offset+len(content))`
// in place. The target range must already lie within the file
// (offset+length must not exceed the current file size); a mid-write
// failure is reported but left unrolled back, per pkg/diskio.handleModify.
func (s *Service) Modify(req fdfsproto.ModifyRequest, connID uint64) error {
	id, err := s.parseID(req.FileName)
	if err != nil {
		return err
	}
	sp, err := s.resolve(id)
	if err != nil {
		return err
	}

	infoPath := sp.Root.InfoPath(id)
	rec, err := readFileRecord(infoPath)
	if err != nil {
		return ferrors.New(ferrors.KindNotFound, "modify", err)
	}
	if !rec.IsAppender {
		return ferrors.New(ferrors.KindFrameError, "modify", fmt.Errorf("%s is not an appender file", id.FileName()))
	}
	offset := int64(req.Offset)
	if offset+int64(len(req.Content)) > rec.FileSize {
		return ferrors.New(ferrors.KindFrameError, "modify", fmt.Errorf("offset %d + length %d exceeds file size %d", offset, len(req.Content), rec.FileSize))
	}

	ctx := &diskio.FileContext{Path: sp.Root.FilePath(id), Log: s.log}
	res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpModify, Ctx: ctx, Data: req.Content, Size: offset})
	if res.Err != nil {
		return ferrors.New(ferrors.KindIOError, "modify", res.Err)
	}

	s.replicator.Forward(SyncUpload{FileName: id.FileName(), Content: req.Content})
	return nil
}

// Truncate implements TRUNCATE_FILE: sets an appender file's length to
// the requested size, shrinking or extending it.
func (s *Service) Truncate(req fdfsproto.TruncateRequest, connID uint64) error {
	id, err := s.parseID(req.FileName)
	if err != nil {
		return err
	}
	sp, err := s.resolve(id)
	if err != nil {
		return err
	}

	infoPath := sp.Root.InfoPath(id)
	rec, err := readFileRecord(infoPath)
	if err != nil {
		return ferrors.New(ferrors.KindNotFound, "truncate", err)
	}
	if !rec.IsAppender {
		return ferrors.New(ferrors.KindFrameError, "truncate", fmt.Errorf("%s is not an appender file", id.FileName()))
	}

	ctx := &diskio.FileContext{Path: sp.Root.FilePath(id)}
	size := int64(req.TruncateSize)
	res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpTruncate, Ctx: ctx, Size: size})
	if res.Err != nil {
		return ferrors.New(ferrors.KindIOError, "truncate", res.Err)
	}

	rec.FileSize = size
	if err := writeFileRecord(infoPath, rec); err != nil {
		return ferrors.New(ferrors.KindIOError, "truncate", err)
	}

	s.replicator.Forward(SyncUpload{FileName: id.FileName(), IsDelete: false})
	return nil
}
