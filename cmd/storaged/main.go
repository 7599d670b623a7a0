// Command storaged is the storage-node server binary: it wires
// pkg/storageservice, pkg/reactor, pkg/replication, pkg/trunkstore and
// pkg/diskio together per a YAML config file and serves the FastDFS
// storage wire protocol until terminated.
//
// Bootstrap follows the familiar load-config, build-handlers, serve,
// wait-for-signal shape, restated over Cobra.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/happyfish100/fastdfs-sub003/internal/cmdutil"
	"github.com/happyfish100/fastdfs-sub003/pkg/config"
	"github.com/happyfish100/fastdfs-sub003/pkg/diskio"
	"github.com/happyfish100/fastdfs-sub003/pkg/metrics"
	"github.com/happyfish100/fastdfs-sub003/pkg/reactor"
	"github.com/happyfish100/fastdfs-sub003/pkg/replication"
	"github.com/happyfish100/fastdfs-sub003/pkg/storageservice"
	"github.com/happyfish100/fastdfs-sub003/pkg/storepath"
	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "storaged",
		Short: "FastDFS-style storage-node server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "storaged.yaml", "path to the storaged YAML config file")
	root.AddCommand(cmdutil.VersionCommand("storaged"))
	return root
}

func run(configPath string) error {
	var cfg config.StoragedConfig
	if err := config.Load(configPath, &cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logrus.NewEntry(logrus.StandardLogger()).WithField("component", "storaged")

	storePaths, closers, err := buildStorePaths(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	var replicator *replication.Group
	if len(cfg.Peers) > 0 {
		var peerCfgs []replication.PeerConfig
		for _, p := range cfg.Peers {
			peerCfgs = append(peerCfgs, replication.PeerConfig{Address: p.Address})
		}
		replicator = replication.New(replication.Config{
			Peers:    peerCfgs,
			SpillDir: cfg.SpillDir,
			Logger:   log,
		})
		defer replicator.Close()
	}

	svc, err := storageservice.NewService(storageservice.Config{
		Group:          cfg.Group,
		StorePaths:     storePaths,
		MaxUploadBytes: cfg.MaxUploadBytes,
		TrunkThreshold: cfg.TrunkThreshold,
		Replicator:     replicatorOrNil(replicator),
		Logger:         log,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("storaged: listen %s: %w", cfg.ListenAddress, err)
	}

	idle := time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	srv := &reactor.Server{Listener: ln, Service: svc, IdleTimeout: idle, Log: log}

	if cfg.MetricsListenAddress != "" {
		go serveMetrics(cfg.MetricsListenAddress, log)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()
	log.WithField("listen_address", cfg.ListenAddress).Info("storaged listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down")
		return srv.Close()
	case err := <-serveErr:
		return err
	}
}

// replicatorOrNil avoids handing storageservice.NewService a
// *replication.Group typed nil pointer, which would satisfy the
// Replicator interface non-nil and bypass its own noopReplicator
// default.
func replicatorOrNil(g *replication.Group) storageservice.Replicator {
	if g == nil {
		return nil
	}
	return g
}

func serveMetrics(addr string, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.WithField("metrics_listen_address", addr).Info("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

// buildStorePaths brings up every configured store path's on-disk
// layout, trunk-recovery scan, and worker engine. Each store path is
// independent of the others, so the disk-bound setup work (directory
// creation, trunk-directory listing) runs concurrently via
// errgroup.Group, one goroutine per store path, rather than serially
// blocking startup on however many store paths are configured.
func buildStorePaths(cfg config.StoragedConfig, log *logrus.Entry) ([]storageservice.StorePath, []func(), error) {
	storePaths := make([]storageservice.StorePath, len(cfg.StorePaths))
	closers := make([]func(), len(cfg.StorePaths))

	var g errgroup.Group
	for i, spc := range cfg.StorePaths {
		i, spc := i, spc
		g.Go(func() error {
			root := storepath.Root{Index: spc.Index, Dir: spc.Dir}
			if err := root.EnsureLayout(); err != nil {
				return err
			}

			engine := diskio.NewEngine(spc.Index, diskio.Config{
				ReaderCount: spc.Readers,
				WriterCount: spc.Writers,
				Separated:   spc.Separated,
				Sink:        metrics.DiskioSink{},
				Logger:      log,
			})
			closers[i] = engine.Stop

			sp := storageservice.StorePath{Root: root, Engine: engine}
			if spc.TrunkSize > 0 {
				sp.Trunks = trunkstore.New(spc.Index, spc.TrunkSize, spc.TrunkAllocUnit, newDiskTrunkFunc(root, spc.TrunkSize))
				if err := loadExistingTrunks(sp.Trunks, root); err != nil {
					return err
				}
			}
			storePaths[i] = sp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range closers {
			if c != nil {
				c()
			}
		}
		return nil, nil, err
	}
	return storePaths, closers, nil
}

var trunkFileName = regexp.MustCompile(`^trunk-(\d+)\.bin$`)

// loadExistingTrunks registers every trunk file already on disk as
// fully free with the allocator, so a restart doesn't re-create files
// it already has. This module does not persist the allocator's
// free-extent tree itself (restart recovery of in-progress allocations
// is out of scope); a restart that
// finds partially-allocated trunks from a prior run will over-report
// their free space until those slots are next released and
// re-coalesced. Treated as a known limitation rather than silently
// dropped, consistent with the DESIGN.md note under cmd/storaged.
func loadExistingTrunks(store *trunkstore.Store, root storepath.Root) error {
	entries, err := os.ReadDir(root.TrunkDir())
	if err != nil {
		return fmt.Errorf("storaged: reading trunk dir: %w", err)
	}
	var maxID int64 = -1
	for _, e := range entries {
		m := trunkFileName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		store.AddTrunk(id, 0, info.Size())
		if id > maxID {
			maxID = id
		}
	}
	if maxID >= 0 {
		store.NewTrunk = newDiskTrunkFuncFrom(root, store.TrunkSize, maxID+1)
	}
	return nil
}

// newDiskTrunkFunc returns a trunkstore.NewTrunkFunc starting from
// trunk id 0, for a store path with no pre-existing trunk files.
func newDiskTrunkFunc(root storepath.Root, trunkSize int64) trunkstore.NewTrunkFunc {
	return newDiskTrunkFuncFrom(root, trunkSize, 0)
}

// newDiskTrunkFuncFrom returns a trunkstore.NewTrunkFunc that
// physically creates the next trunk file on disk, pre-sized to
// trunkSize bytes via Truncate so later slot writes never need to
// extend the file ("trunk files are fixed-size").
func newDiskTrunkFuncFrom(root storepath.Root, trunkSize int64, start int64) trunkstore.NewTrunkFunc {
	nextID := &atomic.Int64{}
	nextID.Store(start)
	return func() (int64, error) {
		id := nextID.Add(1) - 1
		path := root.TrunkPath(id)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		if err := f.Truncate(trunkSize); err != nil {
			return 0, err
		}
		return id, nil
	}
}
