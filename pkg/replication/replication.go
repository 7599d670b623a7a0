// Package replication forwards completed local writes to the other
// storage nodes in a group. A Group tracks each peer's reachability
// and keeps a bounded, disk-backed queue of work for any peer that is
// currently unreachable, so a storage node restart does not silently
// drop queued replication work: write locally, then asynchronously
// forward to peers, queuing the ones currently unreachable.
package replication

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/storageservice"
)

// Status is a peer's current reachability, a small typed enum instead
// of a bare string.
type Status int32

const (
	StatusActive Status = iota
	StatusOffline
)

func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "offline"
}

// queueCapacity bounds how much replication work a peer can have
// pending in memory before further writes spill to its on-disk replay
// log instead.
const queueCapacity = 256

// PeerConfig describes one replication target.
type PeerConfig struct {
	Address string // host:port of the peer's storage-node listener
}

// Config configures a Group.
type Config struct {
	Peers       []PeerConfig
	SpillDir    string // directory holding one replay-log file per peer; empty disables spill
	DialTimeout time.Duration
	RetryPeriod time.Duration // how often an Offline peer is retried
	Logger      *logrus.Entry
}

// Group forwards SyncUploads to every configured peer and implements
// storageservice.Replicator.
type Group struct {
	peers []*peer
	log   *logrus.Entry
	done  chan struct{}
	wg    sync.WaitGroup
}

var _ storageservice.Replicator = (*Group)(nil)

// New builds a Group and starts one worker goroutine per peer.
func New(cfg Config) *Group {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.RetryPeriod <= 0 {
		cfg.RetryPeriod = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	g := &Group{log: cfg.Logger.WithField("component", "replication"), done: make(chan struct{})}
	for _, pc := range cfg.Peers {
		p := newPeer(pc.Address, cfg.SpillDir, cfg.DialTimeout, cfg.RetryPeriod, g.log)
		g.peers = append(g.peers, p)
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			p.run(g.done)
		}()
	}
	return g
}

// Forward enqueues a completed write for delivery to every peer. A
// peer whose queue is full spills the task to its on-disk replay log
// rather than blocking the caller: replication must not stall the
// client-visible write it followed.
func (g *Group) Forward(u storageservice.SyncUpload) {
	for _, p := range g.peers {
		p.enqueue(u)
	}
}

// Peers reports each configured peer's address and current status.
func (g *Group) Peers() []PeerInfo {
	out := make([]PeerInfo, len(g.peers))
	for i, p := range g.peers {
		out[i] = PeerInfo{Address: p.address, Status: Status(p.status.Load())}
	}
	return out
}

// PeerInfo is a snapshot of one peer's replication status.
type PeerInfo struct {
	Address string
	Status  Status
}

// Close stops every peer worker. Already-queued work that hasn't been
// delivered is left in its spill file for the next startup to resume.
func (g *Group) Close() {
	close(g.done)
	g.wg.Wait()
	for _, p := range g.peers {
		for len(p.queue) > 0 {
			if err := p.spill(<-p.queue); err != nil {
				p.log.WithError(err).Warn("spilling queued update on close failed; update dropped")
			}
		}
	}
}

// peer owns delivery to one replication target: an in-memory queue
// backed by an append-only JSON spill file for overflow, and a
// reconnect-on-failure delivery loop.
type peer struct {
	address     string
	dialTimeout time.Duration
	retryPeriod time.Duration
	log         *logrus.Entry

	status atomic.Int32
	queue  chan storageservice.SyncUpload

	spillPath string
	spillMu   sync.Mutex
}

func newPeer(address, spillDir string, dialTimeout, retryPeriod time.Duration, log *logrus.Entry) *peer {
	p := &peer{
		address:     address,
		dialTimeout: dialTimeout,
		retryPeriod: retryPeriod,
		log:         log.WithField("peer", address),
		queue:       make(chan storageservice.SyncUpload, queueCapacity),
	}
	if spillDir != "" {
		p.spillPath = spillDir + "/" + sanitizeAddress(address) + ".replay.jsonl"
		// A replay log left by an earlier run starts the peer Offline, so
		// the retry ticker replays it once the peer answers.
		if _, err := os.Stat(p.spillPath); err == nil {
			p.status.Store(int32(StatusOffline))
		}
	}
	return p
}

func sanitizeAddress(addr string) string {
	out := make([]byte, len(addr))
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c == ':' || c == '/' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}

func (p *peer) enqueue(u storageservice.SyncUpload) {
	select {
	case p.queue <- u:
	default:
		if err := p.spill(u); err != nil {
			p.log.WithError(err).Warn("replication queue full and spill failed; update dropped")
		}
	}
}

// spillRecord is the on-disk shape of one queued SyncUpload. Content
// is stored inline: the replay log trades disk space for the
// simplicity of not re-reading the original file from the store path
// (which may itself have changed by replay time).
type spillRecord struct {
	FileName string `json:"file_name"`
	IsDelete bool   `json:"is_delete"`
	Content  []byte `json:"content,omitempty"`
}

func (p *peer) spill(u storageservice.SyncUpload) error {
	if p.spillPath == "" {
		return fmt.Errorf("replication: peer %s has no spill directory configured", p.address)
	}
	p.spillMu.Lock()
	defer p.spillMu.Unlock()
	f, err := os.OpenFile(p.spillPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(spillRecord{FileName: u.FileName, IsDelete: u.IsDelete, Content: u.Content})
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

// drainSpill replays every record in the spill file back onto the
// in-memory queue, then truncates the file. Called once a peer
// transitions back to Active.
func (p *peer) drainSpill() {
	if p.spillPath == "" {
		return
	}
	p.spillMu.Lock()
	defer p.spillMu.Unlock()

	f, err := os.Open(p.spillPath)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		p.log.WithError(err).Warn("opening replay log for drain")
		return
	}
	var replayed int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<30)
	for scanner.Scan() {
		var rec spillRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			p.log.WithError(err).Warn("skipping malformed replay-log record")
			continue
		}
		p.queue <- storageservice.SyncUpload{FileName: rec.FileName, IsDelete: rec.IsDelete, Content: rec.Content}
		replayed++
	}
	f.Close()
	if err := os.Remove(p.spillPath); err != nil {
		p.log.WithError(err).Warn("removing drained replay log")
	}
	if replayed > 0 {
		p.log.WithField("count", replayed).Info("replayed queued replication work")
	}
}

// run is the peer's delivery loop: it forwards each queued item as it
// arrives, and a delivery failure marks the peer Offline and spills the
// item to the replay log. While the peer is Offline, each retry tick
// probes it and, once it answers, marks it Active and replays the log.
func (p *peer) run(done <-chan struct{}) {
	ticker := time.NewTicker(p.retryPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case u := <-p.queue:
			if err := p.deliver(u); err != nil {
				p.log.WithError(err).Warn("delivery failed, marking offline")
				p.status.Store(int32(StatusOffline))
				p.spill(u)
			}
		case <-ticker.C:
			if Status(p.status.Load()) == StatusOffline {
				p.tryReconnect()
			}
		}
	}
}

func (p *peer) tryReconnect() {
	conn, err := net.DialTimeout("tcp", p.address, p.dialTimeout)
	if err != nil {
		return
	}
	conn.Close()
	p.status.Store(int32(StatusActive))
	p.log.Info("peer reachable again")
	p.drainSpill()
}

// deliver opens a short-lived connection and sends one CmdSyncUpload
// frame, the internal replication command peers use among themselves.
func (p *peer) deliver(u storageservice.SyncUpload) error {
	conn, err := net.DialTimeout("tcp", p.address, p.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	body := fdfsproto.EncodeSyncUploadRequest(fdfsproto.SyncUploadRequest{
		FileName: u.FileName,
		IsDelete: u.IsDelete,
		Content:  u.Content,
	})
	if _, err := conn.Write(fdfsproto.Encode(fdfsproto.CmdSyncUpload, fdfsproto.StatusOK, body)); err != nil {
		return err
	}
	hdr, err := fdfsproto.ReadHeader(conn, 0)
	if err != nil {
		return err
	}
	if hdr.Status != fdfsproto.StatusOK {
		return fmt.Errorf("replication: peer %s rejected sync with status %d", p.address, hdr.Status)
	}
	return nil
}
