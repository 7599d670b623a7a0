package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
group: group1
listen_address: 0.0.0.0:23000
max_upload_bytes: 1048576
trunk_threshold: 4096
store_paths:
  - index: 0
    dir: /data/fdfs0
    readers: 4
    writers: 4
    separated: true
    trunk_size: 67108864
peers:
  - address: 10.0.0.2:23000
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storaged.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadStoragedConfig(t *testing.T) {
	path := writeTemp(t, sampleYAML)
	var cfg StoragedConfig
	require.NoError(t, Load(path, &cfg))
	require.NoError(t, cfg.Validate())
	require.Equal(t, "group1", cfg.Group)
	require.Len(t, cfg.StorePaths, 1)
	require.Equal(t, int64(67108864), cfg.StorePaths[0].TrunkSize)
	require.Len(t, cfg.Peers, 1)
}

func TestValidateRejectsMissingFields(t *testing.T) {
	var cfg StoragedConfig
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "group is required")
	require.Contains(t, err.Error(), "listen_address is required")
}

func TestValidateRejectsDuplicateStorePathIndex(t *testing.T) {
	cfg := StoragedConfig{
		Group:          "group1",
		ListenAddress:  "0.0.0.0:23000",
		MaxUploadBytes: 1024,
		StorePaths: []StorePathConfig{
			{Index: 0, Dir: "/a", Readers: 1, Writers: 1},
			{Index: 0, Dir: "/b", Readers: 1, Writers: 1},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicated")
}

func TestClientConfigValidate(t *testing.T) {
	var cfg ClientConfig
	require.Error(t, cfg.Validate())
	cfg.StorageAddress = "127.0.0.1:23000"
	require.NoError(t, cfg.Validate())
}
