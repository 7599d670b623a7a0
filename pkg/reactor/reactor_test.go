package reactor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/storageservice"
	"github.com/happyfish100/fastdfs-sub003/pkg/storepath"
)

func newTestServer(t *testing.T) (*Server, net.Addr) {
	t.Helper()
	dir := t.TempDir()
	root := storepath.Root{Index: 0, Dir: dir}
	require.NoError(t, root.EnsureLayout())

	engine := diskio.NewEngine(0, diskio.Config{ReaderCount: 2, WriterCount: 2, Separated: true})
	t.Cleanup(engine.Stop)

	svc, err := storageservice.NewService(storageservice.Config{
		Group:          "group1",
		StorePaths:     []storageservice.StorePath{{Root: root, Engine: engine}},
		MaxUploadBytes: 1 << 20,
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &Server{Listener: ln, Service: svc, IdleTimeout: 5 * time.Second}
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, ln.Addr()
}

func roundTrip(t *testing.T, conn net.Conn, cmd byte, body []byte) (fdfsproto.Header, []byte) {
	t.Helper()
	_, err := conn.Write(fdfsproto.Encode(cmd, fdfsproto.StatusOK, body))
	require.NoError(t, err)
	hdr, err := fdfsproto.ReadHeader(conn, 0)
	require.NoError(t, err)
	resp := make([]byte, hdr.BodyLen)
	_, err = readFull(conn, resp)
	require.NoError(t, err)
	return hdr, resp
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestUploadDownloadDeleteOverTCP(t *testing.T) {
	_, addr := newTestServer(t)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	uploadBody, err := fdfsproto.EncodeUploadRequest(fdfsproto.UploadRequest{
		StorePathIndex: 0xFF,
		FileSize:       5,
		FileExtName:    "txt",
		Content:        []byte("hello"),
	})
	require.NoError(t, err)
	hdr, body := roundTrip(t, conn, fdfsproto.CmdUploadFile, uploadBody)
	require.Equal(t, fdfsproto.StatusOK, hdr.Status)
	uploadResp, err := fdfsproto.DecodeUploadResponse(body)
	require.NoError(t, err)
	require.Equal(t, "group1", uploadResp.GroupName)

	downloadBody, err := fdfsproto.EncodeDownloadRequest(fdfsproto.DownloadRequest{
		DownloadLen: 5,
		GroupName:   "group1",
		FileName:    uploadResp.FileName,
	})
	require.NoError(t, err)
	hdr, body = roundTrip(t, conn, fdfsproto.CmdDownloadFile, downloadBody)
	require.Equal(t, fdfsproto.StatusOK, hdr.Status)
	require.Equal(t, "hello", string(body))

	deleteBody, err := fdfsproto.EncodeFileKeyRequest(fdfsproto.FileKeyRequest{GroupName: "group1", FileName: uploadResp.FileName})
	require.NoError(t, err)
	hdr, _ = roundTrip(t, conn, fdfsproto.CmdDeleteFile, deleteBody)
	require.Equal(t, fdfsproto.StatusOK, hdr.Status)

	hdr, _ = roundTrip(t, conn, fdfsproto.CmdDeleteFile, deleteBody)
	require.NotEqual(t, fdfsproto.StatusOK, hdr.Status)
}

func TestQueryMalformedFileNameReturnsError(t *testing.T) {
	_, addr := newTestServer(t)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	req, err := fdfsproto.EncodeFileKeyRequest(fdfsproto.FileKeyRequest{GroupName: "group1", FileName: "not-a-valid-file-id"})
	require.NoError(t, err)
	hdr, _ := roundTrip(t, conn, fdfsproto.CmdQueryFileInfo, req)
	require.NotEqual(t, fdfsproto.StatusOK, hdr.Status)
}

func TestPipelinedRequestsOnSameConnection(t *testing.T) {
	_, addr := newTestServer(t)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		body, err := fdfsproto.EncodeUploadRequest(fdfsproto.UploadRequest{
			StorePathIndex: 0xFF,
			FileSize:       1,
			FileExtName:    "bin",
			Content:        []byte{byte(i)},
		})
		require.NoError(t, err)
		hdr, _ := roundTrip(t, conn, fdfsproto.CmdUploadFile, body)
		require.Equal(t, fdfsproto.StatusOK, hdr.Status)
	}
}
