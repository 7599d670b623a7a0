// Package storageservice implements the storage-node command handlers:
// UPLOAD, UPLOAD_APPENDER, UPLOAD_SLAVE, DOWNLOAD, DELETE, APPEND,
// MODIFY, TRUNCATE, GET_METADATA, SET_METADATA and QUERY_FILE_INFO.
// Each handler decodes its wire body (pkg/fdfsproto), validates its
// preconditions, resolves the file identifier to an on-disk path
// (pkg/storepath), and drives pkg/diskio to perform the actual
// bytes-on-disk work, forwarding completed writes to replication
// peers.
//
// A small set of named verbs implemented by one receiver type, the
// same shape as a pluggable storage backend interface, generalized
// here to the richer per-command precondition set a FastDFS storage
// node needs.
package storageservice

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
	"github.com/happyfish100/fastdfs-sub003/pkg/fileid"
	"github.com/happyfish100/fastdfs-sub003/pkg/storepath"
	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

// StorePath bundles the three collaborators needed to serve one
// configured store path: the path resolver, the disk-I/O worker pool,
// and (when trunking is enabled) the free-space allocator.
type StorePath struct {
	Root   storepath.Root
	Engine *diskio.Engine
	Trunks *trunkstore.Store // nil disables trunking on this store path
}

// Config configures a Service.
type Config struct {
	Group            string
	StorePaths       []StorePath
	MaxUploadBytes   int64
	TrunkThreshold   int64 // files <= this size are packed into trunks when trunking is enabled
	Replicator       Replicator
	Logger           *logrus.Entry
}

// Service is the storage node's command-handler set. One Service is
// shared by every connection goroutine in pkg/reactor; all of its
// state is either immutable after construction or independently
// synchronized (pkg/diskio's counters, pkg/trunkstore's mutex).
type Service struct {
	group          string
	storePaths     []StorePath
	maxUploadBytes int64
	trunkThreshold int64
	replicator     Replicator
	log            *logrus.Entry

	nextStorePath atomic.Int64
}

// NewService builds a Service. cfg.StorePaths must be non-empty.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.StorePaths) == 0 {
		return nil, fmt.Errorf("storageservice: at least one store path is required")
	}
	if cfg.Replicator == nil {
		cfg.Replicator = noopReplicator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		group:          cfg.Group,
		storePaths:     cfg.StorePaths,
		maxUploadBytes: cfg.MaxUploadBytes,
		trunkThreshold: cfg.TrunkThreshold,
		replicator:     cfg.Replicator,
		log:            cfg.Logger.WithField("component", "storageservice"),
	}, nil
}

// pickStorePath chooses which configured store path serves the next
// upload. Round-robin spreads writes evenly across equivalent store
// paths.
func (s *Service) pickStorePath() int {
	n := int64(len(s.storePaths))
	idx := s.nextStorePath.Add(1) - 1
	return int(idx % n)
}

func (s *Service) resolve(id fileid.ID) (StorePath, error) {
	if id.StorePathIndex < 0 || id.StorePathIndex >= len(s.storePaths) {
		return StorePath{}, ferrors.New(ferrors.KindNotFound, "resolve", fmt.Errorf("store path index %d out of range", id.StorePathIndex))
	}
	return s.storePaths[id.StorePathIndex], nil
}

func (s *Service) parseID(fileName string) (fileid.ID, error) {
	id, err := fileid.ParseFileName(s.group, fileName)
	if err != nil {
		return fileid.ID{}, ferrors.New(ferrors.KindFrameError, "parse_id", err)
	}
	return id, nil
}

// checkGroup rejects a request body's group field when it names a
// different group than this storage node serves. A blank group is
// accepted (some request bodies, e.g. DownloadRequest, tolerate
// callers that leave it unset).
func (s *Service) checkGroup(group string) error {
	if group != "" && group != s.group {
		return ferrors.New(ferrors.KindNotFound, "check_group", fmt.Errorf("group %q is not served here (have %q)", group, s.group))
	}
	return nil
}

// --- trunk pointer ---
//
// A trunk-backed file is still addressed through the ordinary
// fileid/storepath two-level-directory scheme: the identifier's normal
// on-disk location holds a small fixed-size "pointer" record naming
// the trunk file and byte range the content actually lives in, rather
// than the content itself. This keeps every other handler (download,
// delete, metadata, query) working unmodified against one addressing
// scheme regardless of whether a given file happens to be trunked.
const trunkPointerLen = 8 + 8 + 8 // trunk id, slot offset, slot size (all big-endian)

func encodeTrunkPointer(info trunkstore.TrunkInfo) []byte {
	buf := make([]byte, trunkPointerLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(info.TrunkID))
	binary.BigEndian.PutUint64(buf[8:16], uint64(info.Offset))
	binary.BigEndian.PutUint64(buf[16:24], uint64(info.SlotSize))
	return buf
}

func decodeTrunkPointer(raw []byte) (trunkstore.TrunkInfo, error) {
	if len(raw) != trunkPointerLen {
		return trunkstore.TrunkInfo{}, fmt.Errorf("storageservice: malformed trunk pointer (%d bytes)", len(raw))
	}
	return trunkstore.TrunkInfo{
		TrunkID:  int64(binary.BigEndian.Uint64(raw[0:8])),
		Offset:   int64(binary.BigEndian.Uint64(raw[8:16])),
		SlotSize: int64(binary.BigEndian.Uint64(raw[16:24])),
	}, nil
}

// submitAndWait is a small convenience wrapper used by every handler:
// submit one task and block this goroutine on its single result,
// exactly the "suspension" pattern pkg/reactor relies on (§4.4).
func submitAndWait(engine *diskio.Engine, connID uint64, t *diskio.Task) diskio.Result {
	return <-engine.Submit(connID, t)
}
