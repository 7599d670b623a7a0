package fdfsclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/ferrors"
)

// Config configures a Client: connection tunables applied uniformly
// across every storage node it talks to.
type Config struct {
	// IdleTimeout drains a node's idle connections after this long
	// unused. Zero disables draining (connections live until Close).
	IdleTimeout time.Duration
	// DialTimeout bounds opening a new connection to a node.
	DialTimeout time.Duration
	// MaxConnections caps how many connections a node's pool may have
	// open at once. Zero means unbounded. Once the cap is hit and no
	// connection is idle, the pool reuses the oldest open connection
	// (round-robin of last resort) instead of dialing past the cap.
	MaxConnections int
	// MaxRetries bounds how many times a call retries
	// after a Retryable error before giving up. Zero means one
	// attempt, no retries.
	MaxRetries int
	// RetryBackoff is the base delay before the first retry; each
	// subsequent retry doubles it.
	RetryBackoff time.Duration
	// RateLimit, if non-nil, throttles outgoing requests across all
	// nodes. Off by default: most deployments rely on the storage
	// node's own disk I/O concurrency caps (pkg/diskio) rather than a
	// client-side limiter.
	RateLimit *rate.Limiter
	Log       *logrus.Entry
}

// Client issues FastDFS storage commands against one or more storage
// nodes, pooling connections per node address ("AMBIENT STACK:
// client runtime").
type Client struct {
	cfg   Config
	pools *pools
	log   *logrus.Entry
}

// New constructs a Client. The tracker server itself is out of scope
//; callers name a storage node address directly, the same
// way pkg/replication's peers are configured.
func New(cfg Config) *Client {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		cfg:   cfg,
		pools: newPools(cfg.IdleTimeout, cfg.DialTimeout, cfg.MaxConnections),
		log:   log,
	}
}

// Close drains every node's connection pool.
func (c *Client) Close() {
	c.pools.closeAll()
}

// call sends one framed request to addr and returns the decoded
// response header and body, retrying on a Retryable ferrors.Kind up
// to cfg.MaxRetries times with exponential backoff. A connection that
// just failed is assumed bad and is never returned to the pool; a retry
// takes another idle pooled connection if there is one and dials
// otherwise.
func (c *Client) call(ctx context.Context, addr string, cmd byte, body []byte) (fdfsproto.Header, []byte, error) {
	if c.cfg.RateLimit != nil {
		if err := c.cfg.RateLimit.Wait(ctx); err != nil {
			return fdfsproto.Header{}, nil, ferrors.New(ferrors.KindCancelled, "call", err)
		}
	}

	p := c.pools.forAddr(addr)
	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fdfsproto.Header{}, nil, ferrors.New(ferrors.KindCancelled, "call", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		hdr, respBody, _, err := c.callOnce(ctx, p, cmd, body)
		if err == nil {
			return hdr, respBody, nil
		}
		lastErr = err
		if !ferrors.Retryable(err) {
			return fdfsproto.Header{}, nil, err
		}
		c.log.WithError(err).WithField("attempt", attempt).Debug("retrying fdfs call")
	}
	return fdfsproto.Header{}, nil, lastErr
}

// callOnce runs one attempt over one pooled connection. The bool
// return reports whether the connection was healthy enough to return
// to the pool; callOnce itself performs that put so callers never
// touch the pool directly.
func (c *Client) callOnce(ctx context.Context, p *pool, cmd byte, body []byte) (fdfsproto.Header, []byte, bool, error) {
	conn, err := p.get()
	if err != nil {
		return fdfsproto.Header{}, nil, false, ferrors.New(ferrors.KindConnectionFailed, "dial", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Time{})
	}

	if _, err := conn.Write(fdfsproto.Encode(cmd, 0, body)); err != nil {
		p.put(conn, false)
		return fdfsproto.Header{}, nil, false, classifyNetErr("write", err)
	}

	hdr, err := fdfsproto.ReadHeader(conn, fdfsproto.MaxUploadBytes)
	if err != nil {
		p.put(conn, false)
		return fdfsproto.Header{}, nil, false, classifyNetErr("read_header", err)
	}
	respBody := make([]byte, hdr.BodyLen)
	if _, err := io.ReadFull(conn, respBody); err != nil {
		p.put(conn, false)
		return fdfsproto.Header{}, nil, false, classifyNetErr("read_body", err)
	}

	p.put(conn, true)
	if hdr.Status != fdfsproto.StatusOK {
		return hdr, respBody, true, ferrors.New(ferrors.KindFromErrno(hdr.Status), "fdfs_call", errStatus(hdr.Status))
	}
	return hdr, respBody, true, nil
}

func classifyNetErr(op string, err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ferrors.New(ferrors.KindNetworkTimeout, op, err)
	}
	return ferrors.New(ferrors.KindConnectionFailed, op, err)
}

type errStatus byte

func (e errStatus) Error() string {
	return fmt.Sprintf("storage node returned non-OK status %d", byte(e))
}
