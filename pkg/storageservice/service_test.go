package storageservice

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
	"github.com/happyfish100/fastdfs-sub003/pkg/metadata"
	"github.com/happyfish100/fastdfs-sub003/pkg/storepath"
	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

var testPeerIP = net.ParseIP("10.0.0.7")

func newTestService(t *testing.T, trunkThreshold int64) *Service {
	t.Helper()
	dir := t.TempDir()
	root := storepath.Root{Index: 0, Dir: dir}
	require.NoError(t, root.EnsureLayout())

	engine := diskio.NewEngine(0, diskio.Config{ReaderCount: 2, WriterCount: 2, Separated: true})
	t.Cleanup(engine.Stop)

	var trunks *trunkstore.Store
	if trunkThreshold > 0 {
		var nextID int64
		trunks = trunkstore.New(0, 64*1024, 64, func() (int64, error) {
			nextID++
			path := root.TrunkPath(nextID)
			f, err := os.Create(path)
			if err != nil {
				return 0, err
			}
			defer f.Close()
			if err := f.Truncate(64 * 1024); err != nil {
				return 0, err
			}
			return nextID, nil
		})
	}

	sp := StorePath{Root: root, Engine: engine, Trunks: trunks}
	svc, err := NewService(Config{
		Group:          "group1",
		StorePaths:     []StorePath{sp},
		MaxUploadBytes: 1 << 20,
		TrunkThreshold: trunkThreshold,
	})
	require.NoError(t, err)
	return svc
}

func TestRoundTripSmallFile(t *testing.T) {
	svc := newTestService(t, 0)

	id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "txt", Content: []byte("hello")}, false, 1, testPeerIP)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(id.String()), 40)
	require.LessOrEqual(t, len(id.String()), 128)

	info, err := svc.QueryFileInfo(fdfsproto.FileKeyRequest{GroupName: "group1", FileName: id.FileName()})
	require.NoError(t, err)
	require.EqualValues(t, 5, info.FileSize)
	require.Equal(t, uint32(0x3610A686), info.CRC32)

	content, err := svc.Download(fdfsproto.DownloadRequest{GroupName: "group1", FileName: id.FileName(), DownloadLen: 5}, 1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	require.NoError(t, svc.Delete(fdfsproto.FileKeyRequest{GroupName: "group1", FileName: id.FileName()}, 1))
	err = svc.Delete(fdfsproto.FileKeyRequest{GroupName: "group1", FileName: id.FileName()}, 1)
	require.Equal(t, ferrors.KindNotFound, ferrors.KindOf(err))
}

func TestSlaveFile(t *testing.T) {
	svc := newTestService(t, 0)

	master, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "jpg", Content: []byte("M")}, false, 1, testPeerIP)
	require.NoError(t, err)

	slave, err := svc.UploadSlave(fdfsproto.UploadSlaveRequest{
		MasterFileName: master.FileName(),
		PrefixName:     "_thumb",
		FileExtName:    "jpg",
		Content:        []byte("t"),
	}, 1, testPeerIP)
	require.NoError(t, err)
	require.Equal(t, master.Dir1, slave.Dir1)
	require.Equal(t, master.Dir2, slave.Dir2)
	require.NotEqual(t, master.Basename, slave.Basename)

	content, err := svc.Download(fdfsproto.DownloadRequest{GroupName: "group1", FileName: slave.FileName(), DownloadLen: 1}, 1)
	require.NoError(t, err)
	require.Equal(t, "t", string(content))

	_, err = svc.UploadSlave(fdfsproto.UploadSlaveRequest{
		MasterFileName: master.FileName(),
		PrefixName:     "_thumb",
		FileExtName:    "jpg",
		Content:        []byte("u"),
	}, 1, testPeerIP)
	require.Equal(t, ferrors.KindAlreadyExists, ferrors.KindOf(err))
}

func TestAppenderLifecycle(t *testing.T) {
	svc := newTestService(t, 0)

	id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "bin", Content: []byte("A")}, true, 1, testPeerIP)
	require.NoError(t, err)

	require.NoError(t, svc.Append(fdfsproto.AppendRequest{FileName: id.FileName(), Content: []byte("BC")}, 1))
	info, err := svc.QueryFileInfo(fdfsproto.FileKeyRequest{FileName: id.FileName()})
	require.NoError(t, err)
	require.EqualValues(t, 3, info.FileSize)

	require.NoError(t, svc.Append(fdfsproto.AppendRequest{FileName: id.FileName(), Content: []byte("DE")}, 1))
	info, err = svc.QueryFileInfo(fdfsproto.FileKeyRequest{FileName: id.FileName()})
	require.NoError(t, err)
	require.EqualValues(t, 5, info.FileSize)

	require.NoError(t, svc.Truncate(fdfsproto.TruncateRequest{FileName: id.FileName(), TruncateSize: 2}, 1))
	content, err := svc.Download(fdfsproto.DownloadRequest{FileName: id.FileName(), DownloadLen: 2}, 1)
	require.NoError(t, err)
	require.Equal(t, "AB", string(content))

	require.NoError(t, svc.Modify(fdfsproto.ModifyRequest{FileName: id.FileName(), Offset: 1, Content: []byte("X")}, 1))
	content, err = svc.Download(fdfsproto.DownloadRequest{FileName: id.FileName(), DownloadLen: 2}, 1)
	require.NoError(t, err)
	require.Equal(t, "AX", string(content))
}

func TestAppendModifyTruncateRejectNonAppender(t *testing.T) {
	svc := newTestService(t, 0)
	id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "bin", Content: []byte("hello")}, false, 1, testPeerIP)
	require.NoError(t, err)

	err = svc.Append(fdfsproto.AppendRequest{FileName: id.FileName(), Content: []byte("x")}, 1)
	require.Equal(t, ferrors.KindFrameError, ferrors.KindOf(err))

	err = svc.Modify(fdfsproto.ModifyRequest{FileName: id.FileName(), Offset: 0, Content: []byte("x")}, 1)
	require.Equal(t, ferrors.KindFrameError, ferrors.KindOf(err))

	err = svc.Truncate(fdfsproto.TruncateRequest{FileName: id.FileName(), TruncateSize: 1}, 1)
	require.Equal(t, ferrors.KindFrameError, ferrors.KindOf(err))
}

func TestModifyRejectsOutOfBoundsOffset(t *testing.T) {
	svc := newTestService(t, 0)
	id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "bin", Content: []byte("hello")}, true, 1, testPeerIP)
	require.NoError(t, err)

	err = svc.Modify(fdfsproto.ModifyRequest{FileName: id.FileName(), Offset: 4, Content: []byte("xx")}, 1)
	require.Equal(t, ferrors.KindFrameError, ferrors.KindOf(err))
}

func TestTrunkReclamation(t *testing.T) {
	svc := newTestService(t, 4096)
	sp := svc.storePaths[0]

	// 16-byte content plus the 24-byte slot header rounds up to one
	// 64-byte allocation unit, so 1000 uploads (64000 bytes) fit inside
	// a single 64 KiB trunk, matching the reclamation scenario's
	// expectation of exactly one surviving trunk.
	var ids []struct {
		name string
	}
	for i := 0; i < 1000; i++ {
		content := []byte(fmt.Sprintf("%016d", i))
		id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "bin", Content: content}, false, uint64(i), testPeerIP)
		require.NoError(t, err)
		ids = append(ids, struct{ name string }{id.FileName()})
	}
	for _, rec := range ids {
		require.NoError(t, svc.Delete(fdfsproto.FileKeyRequest{GroupName: "group1", FileName: rec.name}, 1))
	}
	require.Equal(t, 1, sp.Trunks.FreeExtentCount())
}

func TestMetadataMerge(t *testing.T) {
	svc := newTestService(t, 0)
	id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "txt", Content: []byte("x")}, false, 1, testPeerIP)
	require.NoError(t, err)

	m1 := metadata.Encode(metadata.Set{"a": "1", "b": "2"})
	require.NoError(t, svc.SetMetadata(fdfsproto.SetMetadataRequest{FileName: id.FileName(), Flag: fdfsproto.MetaFlagOverwrite, MetaBytes: m1}))

	m2 := metadata.Encode(metadata.Set{"b": "3", "c": "4"})
	require.NoError(t, svc.SetMetadata(fdfsproto.SetMetadataRequest{FileName: id.FileName(), Flag: fdfsproto.MetaFlagMerge, MetaBytes: m2}))

	got, err := svc.GetMetadata(fdfsproto.FileKeyRequest{FileName: id.FileName()})
	require.NoError(t, err)
	require.Equal(t, metadata.Set{"a": "1", "b": "3", "c": "4"}, got)
}

func TestDownloadBoundaryBehaviors(t *testing.T) {
	svc := newTestService(t, 0)
	id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "bin", Content: []byte("hello")}, false, 1, testPeerIP)
	require.NoError(t, err)

	content, err := svc.Download(fdfsproto.DownloadRequest{FileName: id.FileName(), StartOffset: 5, DownloadLen: 0}, 1)
	require.NoError(t, err)
	require.Empty(t, content)

	_, err = svc.Download(fdfsproto.DownloadRequest{FileName: id.FileName(), StartOffset: 5, DownloadLen: 1}, 1)
	require.Equal(t, ferrors.KindNotFound, ferrors.KindOf(err))
}

func TestUploadRejectsOverMaxBytes(t *testing.T) {
	svc := newTestService(t, 0)
	svc.maxUploadBytes = 4
	_, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "bin", Content: []byte("hello")}, false, 1, testPeerIP)
	require.Equal(t, ferrors.KindQuotaOrNoSpace, ferrors.KindOf(err))
}

func TestTrunkedRoundTrip(t *testing.T) {
	svc := newTestService(t, 4096)
	id, err := svc.Upload(fdfsproto.UploadRequest{FileExtName: "txt", Content: []byte("packed content")}, false, 1, testPeerIP)
	require.NoError(t, err)

	content, err := svc.Download(fdfsproto.DownloadRequest{FileName: id.FileName(), DownloadLen: uint64(len("packed content"))}, 1)
	require.NoError(t, err)
	require.Equal(t, "packed content", string(content))

	require.NoError(t, svc.Delete(fdfsproto.FileKeyRequest{FileName: id.FileName()}, 1))
}
