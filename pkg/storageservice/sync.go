package storageservice

import (
	"hash/crc32"
	"net"

	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
)

// ApplySync implements the receiving side of CmdSyncUpload: a peer
// storage node applies a write or delete forwarded by the node that
// originally accepted it. It does not forward again — replication in
// this module is one hop from the originating node to its peers, not
// group-wide gossip; full cluster resynchronization is out of scope.
//
// A synced file is always written standalone on the receiving node,
// even when the origin packed it into a trunk: replicating trunk-file
// layout itself, rather than individual file contents, is not
// implemented (see DESIGN.md's pkg/replication entry).
func (s *Service) ApplySync(req fdfsproto.SyncUploadRequest, connID uint64) error {
	id, err := s.parseID(req.FileName)
	if err != nil {
		return err
	}
	sp, err := s.resolve(id)
	if err != nil {
		return err
	}

	if req.IsDelete {
		return s.deleteLocal(sp, id, connID)
	}

	if err := sp.Root.EnsureFileDir(id); err != nil {
		return ferrors.New(ferrors.KindIOError, "apply_sync", err)
	}
	if err := s.writeStandalone(sp, id, diskio.KindNormal, req.Content, connID); err != nil {
		return err
	}
	rec := newFileRecord(crc32.ChecksumIEEE(req.Content), int64(len(req.Content)), net.IPv4zero, false, false)
	if err := writeFileRecord(sp.Root.InfoPath(id), rec); err != nil {
		return ferrors.New(ferrors.KindIOError, "apply_sync", err)
	}
	return nil
}
