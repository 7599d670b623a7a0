// Package storepath resolves a file identifier to an absolute path on
// one configured store path, and manages the store path's root
// directory layout: a two-level hex directory forest for standalone
// files, and a "trunk" subdirectory for packed trunk files.
package storepath

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/happyfish100/fastdfs-sub003/pkg/fileid"
)

// Root is one configured store path: a local directory holding the
// "data" tree (standalone files, sharded two levels deep) and the
// "data/trunk" tree (packed trunk files).
type Root struct {
	Index int    // this store path's index, as carried in file identifiers
	Dir   string // absolute local directory
}

func dataDir(root string) string { return filepath.Join(root, "data") }

// TrunkDir returns the directory holding trunk files for this store path.
func (r Root) TrunkDir() string { return filepath.Join(dataDir(r.Dir), "trunk") }

// EnsureLayout creates the data and trunk directories if they do not exist.
func (r Root) EnsureLayout() error {
	if err := os.MkdirAll(dataDir(r.Dir), 0o755); err != nil {
		return fmt.Errorf("storepath: creating data dir: %w", err)
	}
	if err := os.MkdirAll(r.TrunkDir(), 0o755); err != nil {
		return fmt.Errorf("storepath: creating trunk dir: %w", err)
	}
	return nil
}

// FileDir returns the two-level directory an identifier's standalone
// file (or its sibling metadata file) lives in.
func (r Root) FileDir(id fileid.ID) string {
	return filepath.Join(dataDir(r.Dir), id.Dir1, id.Dir2)
}

// FilePath returns the absolute path of a standalone file's content.
func (r Root) FilePath(id fileid.ID) string {
	return filepath.Join(r.FileDir(id), id.Basename+"."+id.Ext)
}

// MetaPath returns the absolute path of a file's sibling metadata file:
// "<basename>.<ext>-m".
func (r Root) MetaPath(id fileid.ID) string {
	return filepath.Join(r.FileDir(id), id.Basename+"."+id.Ext+"-m")
}

// InfoPath returns the absolute path of a file's sibling attribute
// record: creation time, CRC32, uploading source IP and whether the
// file is an appender ("QUERY_FILE_INFO", §4.2 "Appender
// files"). Kept separate from MetaPath's user-supplied key/value
// metadata, which SET_METADATA can replace wholesale at any time.
func (r Root) InfoPath(id fileid.ID) string {
	return filepath.Join(r.FileDir(id), id.Basename+"."+id.Ext+"-i")
}

// EnsureFileDir creates the two-level directory for id if missing.
func (r Root) EnsureFileDir(id fileid.ID) error {
	if err := os.MkdirAll(r.FileDir(id), 0o755); err != nil {
		return fmt.Errorf("storepath: creating file dir for %s: %w", id, err)
	}
	return nil
}

// TrunkPath returns the absolute path of a trunk file by its id.
func (r Root) TrunkPath(trunkID int64) string {
	return filepath.Join(r.TrunkDir(), fmt.Sprintf("trunk-%08d.bin", trunkID))
}
