// Package reactor serves the storage-node wire protocol (pkg/fdfsproto)
// over TCP: one goroutine per connection runs an explicit stage state
// machine (recv header, recv body, suspend on disk I/O, send response)
// and dispatches decoded command bodies to pkg/storageservice.
//
// One goroutine per connection blocks on a channel read from
// pkg/diskio while its disk work runs on the worker pool, which gives
// the same suspend-while-I/O-is-in-flight behavior a single-threaded
// non-blocking event loop would, without an explicit event loop.
package reactor

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
	"github.com/happyfish100/fastdfs-sub003/pkg/metadata"
	"github.com/happyfish100/fastdfs-sub003/pkg/storageservice"
)

// defaultMaxBodyLen bounds every non-upload command body; upload
// commands use fdfsproto.MaxUploadBytes instead.
const defaultMaxBodyLen = 1 << 20

// defaultIdleTimeout applies when Server.IdleTimeout is zero. The idle
// timeout bounds how long a connection's goroutine blocks reading
// the next request header before it gives up and closes the
// connection, so a server shutdown doesn't wait forever on a client
// that never sends another request.
const defaultIdleTimeout = 90 * time.Second

// Server accepts connections on a listener and serves them against a
// single storageservice.Service.
type Server struct {
	Listener    net.Listener
	Service     *storageservice.Service
	IdleTimeout time.Duration
	Log         *logrus.Entry

	nextConnID uint64
	mu         sync.Mutex
	closing    bool
}

// Serve accepts connections until the listener is closed (typically by
// a concurrent call to Close), spawning one goroutine per connection.
// It always returns a non-nil error; a clean shutdown reports
// net.ErrClosed.
func (s *Server) Serve() error {
	if s.Log == nil {
		s.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	idle := s.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			return err
		}
		connID := s.allocConnID()
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &connHandler{
				conn:    conn,
				connID:  connID,
				traceID: uuid.New(),
				svc:     s.Service,
				idle:    idle,
				log:     s.Log.WithField("conn_id", connID),
			}
			c.serve()
		}()
	}
}

// Close stops accepting new connections. In-flight connections are
// left to finish their current request.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.Listener.Close()
}

func (s *Server) allocConnID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConnID++
	return s.nextConnID
}

// stage names a connection's position in its explicit state machine.
type stage int

const (
	stageRecvHeader stage = iota
	stageRecvBody
	stageDIOPending
	stageSendResponse
)

func (st stage) String() string {
	switch st {
	case stageRecvHeader:
		return "recv_header"
	case stageRecvBody:
		return "recv_body"
	case stageDIOPending:
		return "dio_pending"
	case stageSendResponse:
		return "send_response"
	default:
		return "unknown"
	}
}

// connHandler owns one TCP connection for its entire lifetime: it runs
// request/response cycles back to back on a single goroutine, so a
// connection's requests are inherently served in the order they
// arrive ("per-connection FIFO").
type connHandler struct {
	conn    net.Conn
	connID  uint64
	traceID uuid.UUID
	svc     *storageservice.Service
	idle    time.Duration
	log     *logrus.Entry
}

func (c *connHandler) serve() {
	defer c.conn.Close()
	log := c.log.WithField("trace_id", c.traceID.String())

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.idle)); err != nil {
			log.WithError(err).Debug("set read deadline failed")
			return
		}
		if err := c.serveOne(log); err != nil {
			if err == io.EOF {
				log.Debug("connection closed by peer")
				return
			}
			log.WithError(err).Debug("connection terminated")
			return
		}
	}
}

// serveOne runs one full request/response cycle: recv header, recv
// body, dispatch (which suspends this goroutine on pkg/diskio's result
// channel for however many disk tasks the handler needs), send
// response.
func (c *connHandler) serveOne(log *logrus.Entry) error {
	st := stageRecvHeader
	hdr, err := fdfsproto.ReadHeader(c.conn, 0)
	if err != nil {
		return err
	}

	st = stageRecvBody
	maxLen := uint64(defaultMaxBodyLen)
	switch hdr.Cmd {
	case fdfsproto.CmdUploadFile, fdfsproto.CmdUploadAppenderFile, fdfsproto.CmdUploadSlaveFile, fdfsproto.CmdSyncUpload:
		maxLen = fdfsproto.MaxUploadBytes
	}
	if hdr.BodyLen > maxLen {
		return c.writeError(hdr.Cmd, ferrors.New(ferrors.KindFrameError, "recv_body", fmt.Errorf("body length %d exceeds max %d", hdr.BodyLen, maxLen)))
	}
	body := make([]byte, hdr.BodyLen)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return err
	}
	// A request body may itself carry file content up to the upload
	// ceiling; clear the idle deadline for the (potentially slow) disk
	// work rather than let it fire mid-dispatch.
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	st = stageDIOPending
	respBody, err := c.dispatch(hdr.Cmd, body)

	st = stageSendResponse
	if err != nil {
		log.WithFields(logrus.Fields{"stage": st.String(), "cmd": hdr.Cmd}).WithError(err).Debug("command failed")
		return c.writeError(hdr.Cmd, err)
	}
	return c.writeOK(hdr.Cmd, respBody)
}

func (c *connHandler) peerIP() net.IP {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// dispatch decodes body per hdr.Cmd and calls the matching
// storageservice method. Every call here blocks this connection's
// goroutine on pkg/diskio's result channel, suspending the connection
// without touching any other connection's goroutine.
func (c *connHandler) dispatch(cmd byte, body []byte) ([]byte, error) {
	switch cmd {
	case fdfsproto.CmdUploadFile, fdfsproto.CmdUploadAppenderFile:
		req, err := fdfsproto.DecodeUploadRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "upload", err)
		}
		appender := cmd == fdfsproto.CmdUploadAppenderFile
		id, err := c.svc.Upload(req, appender, c.connID, c.peerIP())
		if err != nil {
			return nil, err
		}
		return fdfsproto.EncodeUploadResponse(fdfsproto.UploadResponse{GroupName: id.Group, FileName: id.FileName()})

	case fdfsproto.CmdUploadSlaveFile:
		req, err := fdfsproto.DecodeUploadSlaveRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "upload_slave", err)
		}
		id, err := c.svc.UploadSlave(req, c.connID, c.peerIP())
		if err != nil {
			return nil, err
		}
		return fdfsproto.EncodeUploadResponse(fdfsproto.UploadResponse{GroupName: id.Group, FileName: id.FileName()})

	case fdfsproto.CmdDownloadFile:
		req, err := fdfsproto.DecodeDownloadRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "download", err)
		}
		return c.svc.Download(req, c.connID)

	case fdfsproto.CmdDeleteFile:
		req, err := fdfsproto.DecodeFileKeyRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "delete", err)
		}
		return nil, c.svc.Delete(req, c.connID)

	case fdfsproto.CmdGetMetadata:
		req, err := fdfsproto.DecodeFileKeyRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "get_metadata", err)
		}
		set, err := c.svc.GetMetadata(req)
		if err != nil {
			return nil, err
		}
		return metadata.Encode(set), nil

	case fdfsproto.CmdSetMetadata:
		req, err := fdfsproto.DecodeSetMetadataRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "set_metadata", err)
		}
		return nil, c.svc.SetMetadata(req)

	case fdfsproto.CmdQueryFileInfo:
		req, err := fdfsproto.DecodeFileKeyRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "query_file_info", err)
		}
		info, err := c.svc.QueryFileInfo(req)
		if err != nil {
			return nil, err
		}
		return fdfsproto.EncodeQueryFileInfoResponse(info), nil

	case fdfsproto.CmdAppendFile:
		req, err := fdfsproto.DecodeAppendRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "append", err)
		}
		return nil, c.svc.Append(req, c.connID)

	case fdfsproto.CmdModifyFile:
		req, err := fdfsproto.DecodeModifyRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "modify", err)
		}
		return nil, c.svc.Modify(req, c.connID)

	case fdfsproto.CmdTruncateFile:
		req, err := fdfsproto.DecodeTruncateRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "truncate", err)
		}
		return nil, c.svc.Truncate(req, c.connID)

	case fdfsproto.CmdSyncUpload:
		req, err := fdfsproto.DecodeSyncUploadRequest(body)
		if err != nil {
			return nil, ferrors.New(ferrors.KindFrameError, "apply_sync", err)
		}
		return nil, c.svc.ApplySync(req, c.connID)

	default:
		return nil, ferrors.New(ferrors.KindFrameError, "dispatch", fmt.Errorf("unknown command %d", cmd))
	}
}

func (c *connHandler) writeOK(cmd byte, body []byte) error {
	_, err := c.conn.Write(fdfsproto.Encode(cmd, fdfsproto.StatusOK, body))
	return err
}

// writeError maps a ferrors.Kind to its wire status byte and
// writes a zero-length-body response frame, echoing the request's
// command byte back as the real FastDFS protocol does.
func (c *connHandler) writeError(cmd byte, err error) error {
	status := ferrors.KindOf(err).Errno()
	_, werr := c.conn.Write(fdfsproto.Encode(cmd, status, nil))
	return werr
}
