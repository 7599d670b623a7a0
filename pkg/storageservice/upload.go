package storageservice

import (
	"hash/crc32"
	"net"
	"os"
	"time"

	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
	"github.com/happyfish100/fastdfs-sub003/pkg/fileid"
	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

// Upload implements UPLOAD_FILE / UPLOAD_APPENDER_FILE.
// appender selects whether the new file supports later append/modify/
// truncate calls; appender files always bypass trunking and are
// written as standalone files ("Appender files bypass
// trunking").
func (s *Service) Upload(req fdfsproto.UploadRequest, appender bool, connID uint64, peerIP net.IP) (fileid.ID, error) {
	if int64(len(req.Content)) > s.maxUploadBytes && s.maxUploadBytes > 0 {
		return fileid.ID{}, ferrors.New(ferrors.KindQuotaOrNoSpace, "upload", nil)
	}

	// 0xFF ("unspecified") and any other out-of-range value fall back
	// to this node's own round-robin choice; a client may otherwise pin
	// a specific configured store path.
	const unspecifiedStorePath = 0xFF
	storePathIdx := int(req.StorePathIndex)
	if req.StorePathIndex == unspecifiedStorePath || storePathIdx >= len(s.storePaths) {
		storePathIdx = s.pickStorePath()
	}
	sp := s.storePaths[storePathIdx]

	crc := crc32.ChecksumIEEE(req.Content)
	id, err := fileid.New(s.group, storePathIdx, time.Now(), crc, peerIP, int64(len(req.Content)), req.FileExtName)
	if err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindFrameError, "upload", err)
	}

	if err := sp.Root.EnsureFileDir(id); err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindIOError, "upload", err)
	}

	// The initial write of a brand-new appender file still rolls back
	// by unlink on failure, exactly like a normal upload: KindAppender
	// only changes rollback policy for a *subsequent* APPEND_FILE call
	// (handleAppend sets it itself). "isAppender" as a durable file
	// attribute is tracked separately in its sidecar fileRecord.
	var writeErr error
	trunked := sp.Trunks != nil && !appender && int64(len(req.Content)) <= s.trunkThreshold
	if trunked {
		writeErr = s.writeTrunked(sp, id, req.Content, connID)
	} else {
		writeErr = s.writeStandalone(sp, id, diskio.KindNormal, req.Content, connID)
	}
	if writeErr != nil {
		return fileid.ID{}, writeErr
	}

	rec := newFileRecord(crc, int64(len(req.Content)), peerIP, appender, trunked)
	if err := writeFileRecord(sp.Root.InfoPath(id), rec); err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindIOError, "upload", err)
	}

	s.replicator.Forward(SyncUpload{FileName: id.FileName(), Content: req.Content})
	return id, nil
}

// UploadSlave implements UPLOAD_SLAVE_FILE: a sibling file bound to an
// existing master by a "_"/"-"-prefixed suffix ("Slave file
// identifier derivation").
func (s *Service) UploadSlave(req fdfsproto.UploadSlaveRequest, connID uint64, peerIP net.IP) (fileid.ID, error) {
	master, err := s.parseID(req.MasterFileName)
	if err != nil {
		return fileid.ID{}, err
	}
	sp, err := s.resolve(master)
	if err != nil {
		return fileid.ID{}, err
	}
	if _, err := os.Stat(sp.Root.FilePath(master)); err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindNotFound, "upload_slave", err)
	}

	slave, err := fileid.DeriveSlave(master, req.PrefixName, req.FileExtName)
	if err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindFrameError, "upload_slave", err)
	}
	slave.FileSize = int64(len(req.Content))

	if _, err := os.Stat(sp.Root.FilePath(slave)); err == nil {
		return fileid.ID{}, ferrors.New(ferrors.KindAlreadyExists, "upload_slave", nil)
	}

	if err := sp.Root.EnsureFileDir(slave); err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindIOError, "upload_slave", err)
	}
	if err := s.writeStandalone(sp, slave, diskio.KindNormal, req.Content, connID); err != nil {
		return fileid.ID{}, err
	}

	rec := newFileRecord(crc32.ChecksumIEEE(req.Content), int64(len(req.Content)), peerIP, false, false)
	if err := writeFileRecord(sp.Root.InfoPath(slave), rec); err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindIOError, "upload_slave", err)
	}

	s.replicator.Forward(SyncUpload{FileName: slave.FileName(), Content: req.Content})
	return slave, nil
}

// writeStandalone writes content to id's normal on-disk path as a
// single disk-engine task (the content already being fully buffered
// in memory, per fdfsproto's decoded request bodies).
func (s *Service) writeStandalone(sp StorePath, id fileid.ID, kind diskio.FileKind, content []byte, connID uint64) error {
	ctx := &diskio.FileContext{
		Path:  sp.Root.FilePath(id),
		Kind:  kind,
		Start: 0,
		End:   int64(len(content)),
		CRC32: crc32.NewIEEE(),
	}
	res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpWrite, Ctx: ctx, Data: content})
	if res.Err != nil {
		return ferrors.New(ferrors.KindIOError, "write", res.Err)
	}
	return nil
}

// writeTrunked packs content into a shared trunk file slot and writes
// a small pointer record at id's normal on-disk location (see
// encodeTrunkPointer in service.go).
func (s *Service) writeTrunked(sp StorePath, id fileid.ID, content []byte, connID uint64) error {
	const headerLen = trunkstore.HeaderLen
	slotSize := headerLen + int64(len(content))

	info, err := sp.Trunks.Allocate(slotSize)
	if err != nil {
		return ferrors.New(ferrors.KindQuotaOrNoSpace, "write_trunked", err)
	}

	trunkPath := sp.Root.TrunkPath(info.TrunkID)
	checkCtx := &diskio.FileContext{Path: trunkPath, Trunk: &info}
	if res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpCheckTrunkOnUpload, Ctx: checkCtx}); res.Err != nil {
		sp.Trunks.Release(info)
		return ferrors.New(ferrors.KindIOError, "write_trunked", res.Err)
	}

	ctx := &diskio.FileContext{
		Path:       trunkPath,
		Kind:       diskio.KindTrunk,
		Start:      info.Offset + headerLen,
		End:        info.Offset + headerLen + int64(len(content)),
		CRC32:      crc32.NewIEEE(),
		Trunk:      &info,
		TrunkStore: sp.Trunks,
	}
	ctx.BeforeClose = func(fc *diskio.FileContext) error {
		return writeSlotHeader(fc, info, int64(len(content)), id.Ext)
	}
	res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpWrite, Ctx: ctx, Data: content})
	if res.Err != nil {
		return ferrors.New(ferrors.KindIOError, "write_trunked", res.Err)
	}

	pointerCtx := &diskio.FileContext{Path: sp.Root.FilePath(id), Kind: diskio.KindNormal, Start: 0, End: trunkPointerLen}
	pointer := encodeTrunkPointer(info)
	if res := submitAndWait(sp.Engine, connID, &diskio.Task{Kind: diskio.OpWrite, Ctx: pointerCtx, Data: pointer}); res.Err != nil {
		sp.Trunks.Release(info)
		return ferrors.New(ferrors.KindIOError, "write_trunked", res.Err)
	}
	return nil
}

// writeSlotHeader packs and writes the 24-byte slot header at the
// start of an allocated trunk slot, once the slot's body has been
// fully written ("Slot headers").
func writeSlotHeader(fc *diskio.FileContext, info trunkstore.TrunkInfo, fileSize int64, ext string) error {
	hdr := trunkstore.SlotHeader{
		AllocSize:    uint32(info.SlotSize),
		FileSize:     uint32(fileSize),
		CRC32:        fc.CRC32.Sum32(),
		ModTimeUnix:  uint32(time.Now().Unix()),
		FileType:     1,
		FormattedExt: ext,
	}
	packed := hdr.Pack()
	_, err := fc.File.WriteAt(packed[:], info.Offset)
	return err
}
