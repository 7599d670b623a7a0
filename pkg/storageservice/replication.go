package storageservice

// SyncUpload describes one completed local write that must be
// forwarded to (or queued for) the other storage nodes in the group
// ("Replication").
type SyncUpload struct {
	FileName string
	Content  []byte
	IsDelete bool
}

// Replicator forwards a completed local write to the rest of the
// group. pkg/replication provides the real implementation (per-peer
// Active/Offline tracking, forward-to-peer, bounded replay queue for
// Offline peers); storageservice depends only on this interface so it
// can be built and tested independently of the replication package.
type Replicator interface {
	Forward(SyncUpload)
}

// noopReplicator is used when a Service is constructed without a
// Replicator, e.g. in tests exercising a single standalone node.
type noopReplicator struct{}

func (noopReplicator) Forward(SyncUpload) {}
