package storageservice

import (
	"os"

	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

// downloadChunkSize bounds how much of a range Download reads per
// disk-engine task ("Read protocol"). Download collects the chunks and
// returns the whole range at once, which pkg/reactor then sends as one
// response body.
const downloadChunkSize = 64 * 1024

// Download implements DOWNLOAD_FILE: the requested range
// `[off, off+len)` must lie within the file. `len == 0` reads from
// `off` to the end of the file, which is 0 bytes when `off == size`;
// any range starting past `size`, or extending past it, fails NotFound.
func (s *Service) Download(req fdfsproto.DownloadRequest, connID uint64) ([]byte, error) {
	if err := s.checkGroup(req.GroupName); err != nil {
		return nil, err
	}
	id, err := s.parseID(req.FileName)
	if err != nil {
		return nil, err
	}
	sp, err := s.resolve(id)
	if err != nil {
		return nil, err
	}

	rec, err := readFileRecord(sp.Root.InfoPath(id))
	if err != nil {
		return nil, ferrors.New(ferrors.KindNotFound, "download", err)
	}

	readPath := sp.Root.FilePath(id)
	var base int64
	if rec.IsTrunked {
		pointerRaw, err := os.ReadFile(readPath)
		if err != nil {
			return nil, ferrors.New(ferrors.KindIOError, "download", err)
		}
		info, err := decodeTrunkPointer(pointerRaw)
		if err != nil {
			return nil, ferrors.New(ferrors.KindIOError, "download", err)
		}
		readPath = sp.Root.TrunkPath(info.TrunkID)
		base = info.Offset + trunkstore.HeaderLen
	}

	start := int64(req.StartOffset)
	length := int64(req.DownloadLen)
	if start > rec.FileSize || (start == rec.FileSize && length > 0) {
		return nil, ferrors.New(ferrors.KindNotFound, "download", nil)
	}
	if length == 0 {
		length = rec.FileSize - start
	}
	end := start + length
	if end > rec.FileSize {
		return nil, ferrors.New(ferrors.KindNotFound, "download", nil)
	}
	if length == 0 {
		return []byte{}, nil
	}

	ctx := &diskio.FileContext{Path: readPath, Start: base + start, End: base + end}
	out := make([]byte, 0, length)
	for {
		buf := make([]byte, downloadChunkSize)
		res := <-sp.Engine.Submit(connID, &diskio.Task{Kind: diskio.OpRead, Ctx: ctx, Buffer: buf})
		if res.Err != nil {
			return nil, ferrors.New(ferrors.KindIOError, "download", res.Err)
		}
		out = append(out, buf[:res.BytesProcessed]...)
		if res.Done {
			break
		}
	}
	return out, nil
}
