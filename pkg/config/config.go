// Package config defines the typed, YAML-backed configuration for
// cmd/storaged and cmd/fdfsctl, decoded by github.com/spf13/viper.
// Validation checks required fields explicitly and collects every
// problem before returning one combined error rather than failing on
// the first one found.
package config

import (
	"fmt"
	"strings"
)

// StorePathConfig configures one local store path a storage node
// serves.
type StorePathConfig struct {
	// Index is this store path's position, carried in every file
	// identifier resolved against it (fileid.ID.StorePathIndex).
	Index int `mapstructure:"index"`
	// Dir is the store path's root directory on local disk.
	Dir string `mapstructure:"dir"`
	// Readers/Writers size pkg/diskio's reader and writer pools.
	Readers int `mapstructure:"readers"`
	Writers int `mapstructure:"writers"`
	// Separated routes reads and writes to disjoint worker pools
	// ("store_path.disk_rw_separated").
	Separated bool `mapstructure:"separated"`
	// TrunkSize enables trunk packing when non-zero; zero
	// disables trunking for this store path.
	TrunkSize int64 `mapstructure:"trunk_size"`
	// TrunkAllocUnit rounds every allocation up to this many bytes.
	TrunkAllocUnit int64 `mapstructure:"trunk_alloc_unit"`
}

func (c StorePathConfig) validate() error {
	var errs []string
	if c.Dir == "" {
		errs = append(errs, fmt.Sprintf("store_path[%d]: dir is required", c.Index))
	}
	if c.Readers <= 0 {
		errs = append(errs, fmt.Sprintf("store_path[%d]: readers must be positive", c.Index))
	}
	if c.Writers <= 0 {
		errs = append(errs, fmt.Sprintf("store_path[%d]: writers must be positive", c.Index))
	}
	if c.TrunkSize < 0 {
		errs = append(errs, fmt.Sprintf("store_path[%d]: trunk_size must not be negative", c.Index))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf(strings.Join(errs, "; "))
}

// PeerConfig names one replication peer in the same group.
type PeerConfig struct {
	Address string `mapstructure:"address"`
}

// StoragedConfig is cmd/storaged's full configuration.
type StoragedConfig struct {
	// Group is this node's group name, echoed in every resolved
	// fileid.ID.
	Group string `mapstructure:"group"`
	// ListenAddress is the TCP address pkg/reactor.Server accepts
	// connections on.
	ListenAddress string `mapstructure:"listen_address"`
	// MaxUploadBytes bounds a single UPLOAD/UPLOAD_APPENDER/
	// UPLOAD_SLAVE body.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
	// TrunkThreshold: files at or below this size are packed into
	// trunks when the owning store path has trunking enabled.
	TrunkThreshold int64 `mapstructure:"trunk_threshold"`
	// IdleTimeoutSeconds bounds how long a connection may sit between
	// requests before pkg/reactor closes it.
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"`
	// MetricsListenAddress serves /metrics when non-empty.
	MetricsListenAddress string `mapstructure:"metrics_listen_address"`

	StorePaths []StorePathConfig `mapstructure:"store_paths"`
	Peers      []PeerConfig      `mapstructure:"peers"`
	// SpillDir holds pkg/replication's per-peer replay log when a
	// peer is offline; empty disables spilling (forwards are
	// best-effort only).
	SpillDir string `mapstructure:"spill_dir"`
}

// Validate checks StoragedConfig for the problems Unmarshal itself
// cannot catch: missing required fields, out-of-range values, and
// duplicate store-path indices. It collects every problem it finds
// rather than stopping at the first.
func (c StoragedConfig) Validate() error {
	var errs []string
	if c.Group == "" {
		errs = append(errs, "group is required")
	}
	if c.ListenAddress == "" {
		errs = append(errs, "listen_address is required")
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, "max_upload_bytes must be positive")
	}
	if len(c.StorePaths) == 0 {
		errs = append(errs, "at least one store path is required")
	}
	seen := make(map[int]bool)
	for _, sp := range c.StorePaths {
		if seen[sp.Index] {
			errs = append(errs, fmt.Sprintf("store_path index %d is duplicated", sp.Index))
		}
		seen[sp.Index] = true
		if err := sp.validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	for i, p := range c.Peers {
		if p.Address == "" {
			errs = append(errs, fmt.Sprintf("peers[%d]: address is required", i))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %s", strings.Join(errs, "; "))
}

// ClientConfig is cmd/fdfsctl's configuration: the one storage node
// address it is pointed at plus pkg/fdfsclient tunables.
// The tracker server itself is out of scope; fdfsctl names
// a storage node address directly rather than discovering one.
type ClientConfig struct {
	StorageAddress     string `mapstructure:"storage_address"`
	MaxRetries         int    `mapstructure:"max_retries"`
	RetryBackoffMillis int    `mapstructure:"retry_backoff_millis"`
	DialTimeoutSeconds int    `mapstructure:"dial_timeout_seconds"`
	// MaxConnections caps the number of connections the client pool
	// keeps open per storage node address. Zero means unbounded.
	MaxConnections int `mapstructure:"max_connections"`
	// NetworkTimeoutSeconds bounds each individual request/response
	// round trip, applied as the context deadline for the call. Zero
	// means no deadline beyond the caller's own context.
	NetworkTimeoutSeconds int `mapstructure:"network_timeout_seconds"`
}

// Validate checks ClientConfig's required fields.
func (c ClientConfig) Validate() error {
	if c.StorageAddress == "" {
		return fmt.Errorf("config: storage_address is required")
	}
	return nil
}
