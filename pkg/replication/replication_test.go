package replication

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/storageservice"
)

// fakePeer accepts exactly the frames a real storage node's reactor
// would for CmdSyncUpload, recording each one.
type fakePeer struct {
	ln       net.Listener
	received chan fdfsproto.SyncUploadRequest
}

func newFakePeer(t *testing.T) *fakePeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fp := &fakePeer{ln: ln, received: make(chan fdfsproto.SyncUploadRequest, 16)}
	go fp.serve()
	t.Cleanup(func() { ln.Close() })
	return fp
}

func (fp *fakePeer) serve() {
	for {
		conn, err := fp.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			hdr, err := fdfsproto.ReadHeader(conn, 0)
			if err != nil {
				return
			}
			body := make([]byte, hdr.BodyLen)
			if _, err := io.ReadFull(conn, body); err != nil {
				return
			}
			req, err := fdfsproto.DecodeSyncUploadRequest(body)
			if err != nil {
				return
			}
			fp.received <- req
			conn.Write(fdfsproto.Encode(hdr.Cmd, fdfsproto.StatusOK, nil))
		}()
	}
}

func TestForwardDeliversToPeer(t *testing.T) {
	fp := newFakePeer(t)
	g := New(Config{
		Peers:       []PeerConfig{{Address: fp.ln.Addr().String()}},
		RetryPeriod: 50 * time.Millisecond,
	})
	defer g.Close()

	g.Forward(storageservice.SyncUpload{FileName: "M00/aa/bb/file.txt", Content: []byte("hi")})

	select {
	case req := <-fp.received:
		require.Equal(t, "M00/aa/bb/file.txt", req.FileName)
		require.Equal(t, "hi", string(req.Content))
		require.False(t, req.IsDelete)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never received the forwarded sync")
	}
}

func TestOfflinePeerSpillsAndReplaysOnReconnect(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close() // nothing listening yet: first forward must fail and spill

	g := New(Config{
		Peers:       []PeerConfig{{Address: addr}},
		SpillDir:    dir,
		RetryPeriod: 50 * time.Millisecond,
	})
	defer g.Close()

	g.Forward(storageservice.SyncUpload{FileName: "M00/aa/bb/file.txt", Content: []byte("hi")})
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, StatusOffline, g.Peers()[0].Status)

	// Bring the peer back up on the same address and let the retry
	// ticker rediscover it and drain the spilled work.
	fp := &fakePeer{received: make(chan fdfsproto.SyncUploadRequest, 16)}
	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	fp.ln = ln2
	go fp.serve()
	defer ln2.Close()

	select {
	case req := <-fp.received:
		require.Equal(t, "M00/aa/bb/file.txt", req.FileName)
	case <-time.After(3 * time.Second):
		t.Fatal("peer never received the replayed sync after reconnecting")
	}
}
