package storepath

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/happyfish100/fastdfs-sub003/pkg/fileid"
)

func TestEnsureLayoutAndPaths(t *testing.T) {
	dir := t.TempDir()
	r := Root{Index: 0, Dir: dir}
	require.NoError(t, r.EnsureLayout())

	require.DirExists(t, filepath.Join(dir, "data"))
	require.DirExists(t, r.TrunkDir())

	id, err := fileid.New("group1", 0, time.Now(), 1, net.ParseIP("10.0.0.1"), 5, "txt")
	require.NoError(t, err)

	require.NoError(t, r.EnsureFileDir(id))
	require.DirExists(t, r.FileDir(id))

	fp := r.FilePath(id)
	require.NoError(t, os.WriteFile(fp, []byte("hello"), 0o644))
	content, err := os.ReadFile(fp)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	mp := r.MetaPath(id)
	require.Equal(t, fp+"-m", mp)
}

func TestTrunkPathIsStable(t *testing.T) {
	r := Root{Index: 0, Dir: "/srv/fdfs0"}
	require.Equal(t, r.TrunkPath(3), r.TrunkPath(3))
	require.NotEqual(t, r.TrunkPath(3), r.TrunkPath(4))
}
