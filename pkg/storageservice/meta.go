package storageservice

import (
	"os"

	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
	"github.com/happyfish100/fastdfs-sub003/pkg/metadata"
)

// GetMetadata implements GET_METADATA: returns the
// key/value set set by the most recent SET_METADATA call, or the
// empty set for a file that never received one.
func (s *Service) GetMetadata(req fdfsproto.FileKeyRequest) (metadata.Set, error) {
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
	if _, err := os.Stat(sp.Root.InfoPath(id)); err != nil {
		return nil, ferrors.New(ferrors.KindNotFound, "get_metadata", err)
	}

	raw, err := os.ReadFile(sp.Root.MetaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return metadata.Set{}, nil
		}
		return nil, ferrors.New(ferrors.KindIOError, "get_metadata", err)
	}
	set, err := metadata.Decode(raw)
	if err != nil {
		return nil, ferrors.New(ferrors.KindIOError, "get_metadata", err)
	}
	return set, nil
}

// SetMetadata implements SET_METADATA: Overwrite
// replaces the stored set wholesale; Merge unions the new pairs into
// the existing set, with the new values winning on key conflicts.
func (s *Service) SetMetadata(req fdfsproto.SetMetadataRequest) error {
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
	if _, err := os.Stat(sp.Root.InfoPath(id)); err != nil {
		return ferrors.New(ferrors.KindNotFound, "set_metadata", err)
	}

	incoming, err := metadata.Decode(req.MetaBytes)
	if err != nil {
		return ferrors.New(ferrors.KindFrameError, "set_metadata", err)
	}
	if err := incoming.Validate(); err != nil {
		return ferrors.New(ferrors.KindFrameError, "set_metadata", err)
	}

	next := incoming
	if req.Flag == fdfsproto.MetaFlagMerge {
		existingRaw, err := os.ReadFile(sp.Root.MetaPath(id))
		if err != nil && !os.IsNotExist(err) {
			return ferrors.New(ferrors.KindIOError, "set_metadata", err)
		}
		existing, err := metadata.Decode(existingRaw)
		if err != nil {
			return ferrors.New(ferrors.KindIOError, "set_metadata", err)
		}
		next = existing.Merge(incoming)
	}

	if err := os.WriteFile(sp.Root.MetaPath(id), metadata.Encode(next), 0o644); err != nil {
		return ferrors.New(ferrors.KindIOError, "set_metadata", err)
	}
	return nil
}

// QueryFileInfo implements QUERY_FILE_INFO: reports the
// file's size, creation time, CRC32 and uploading source IP, all
// carried in its sidecar fileRecord ("CRC fidelity").
func (s *Service) QueryFileInfo(req fdfsproto.FileKeyRequest) (fdfsproto.QueryFileInfoResponse, error) {
	if err := s.checkGroup(req.GroupName); err != nil {
		return fdfsproto.QueryFileInfoResponse{}, err
	}
	id, err := s.parseID(req.FileName)
	if err != nil {
		return fdfsproto.QueryFileInfoResponse{}, err
	}
	sp, err := s.resolve(id)
	if err != nil {
		return fdfsproto.QueryFileInfoResponse{}, err
	}
	rec, err := readFileRecord(sp.Root.InfoPath(id))
	if err != nil {
		return fdfsproto.QueryFileInfoResponse{}, ferrors.New(ferrors.KindNotFound, "query_file_info", err)
	}
	return fdfsproto.QueryFileInfoResponse{
		FileSize:     uint64(rec.FileSize),
		CreateUnix:   uint64(rec.CreateTimeUnix),
		CRC32:        rec.CRC32,
		SourceIPAddr: rec.sourceIPAddr(),
	}, nil
}
