package fileid

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	id, err := New("group1", 0, time.Unix(1700000000, 0), 0x3610A686, net.ParseIP("10.0.0.5"), 5, "txt")
	require.NoError(t, err)

	s := id.String()
	got, err := Parse(s)
	require.NoError(t, err)

	require.Equal(t, id.Group, got.Group)
	require.Equal(t, id.StorePathIndex, got.StorePathIndex)
	require.Equal(t, id.CRC32, got.CRC32)
	require.Equal(t, id.SourceIP.String(), got.SourceIP.String())
	require.Equal(t, id.FileSize, got.FileSize)
	require.Equal(t, id.UploadTime.Unix(), got.UploadTime.Unix())
}

func TestNoTwoUploadsCollide(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := New("group1", 0, time.Now(), uint32(i), net.ParseIP("10.0.0.5"), int64(i), "bin")
		require.NoError(t, err)
		s := id.String()
		require.False(t, seen[s], "collision at iteration %d", i)
		seen[s] = true
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("not-a-file-id")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseRejectsTamperedDirectory(t *testing.T) {
	id, err := New("group1", 0, time.Now(), 1, net.ParseIP("10.0.0.5"), 1, "bin")
	require.NoError(t, err)
	bogusDir2 := "ff"
	if bogusDir2 == id.Dir2 {
		bogusDir2 = "ee"
	}
	tampered := id
	tampered.Dir2 = bogusDir2
	_, err = Parse(tampered.String())
	require.Error(t, err)
}

func TestDeriveSlave(t *testing.T) {
	master, err := New("group1", 0, time.Now(), 1, net.ParseIP("10.0.0.5"), 1, "jpg")
	require.NoError(t, err)

	slave, err := DeriveSlave(master, "_thumb", "jpg")
	require.NoError(t, err)
	require.Equal(t, master.Group, slave.Group)
	require.Equal(t, master.StorePathIndex, slave.StorePathIndex)
	require.Equal(t, master.Dir1, slave.Dir1)
	require.Equal(t, master.Dir2, slave.Dir2)
	require.NotEqual(t, master.Basename, slave.Basename)

	// Round-trips through String/Parse.
	got, err := Parse(slave.String())
	require.NoError(t, err)
	require.Equal(t, slave.CRC32, got.CRC32)
}

func TestDeriveSlaveRejectsBadPrefix(t *testing.T) {
	master, err := New("group1", 0, time.Now(), 1, net.ParseIP("10.0.0.5"), 1, "jpg")
	require.NoError(t, err)

	_, err = DeriveSlave(master, "thumb", "jpg")
	require.Error(t, err)
}

func TestFileNameOmitsGroup(t *testing.T) {
	id, err := New("group1", 3, time.Now(), 1, net.ParseIP("10.0.0.5"), 1, "jpg")
	require.NoError(t, err)
	require.NotContains(t, id.FileName(), "group1")

	got, err := ParseFileName("group1", id.FileName())
	require.NoError(t, err)
	require.Equal(t, id.String(), got.String())
}
