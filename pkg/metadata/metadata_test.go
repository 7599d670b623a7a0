package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := Set{"a": "1", "b": "2"}
	raw := Encode(s)
	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, s, got)
}

func TestEmptySetRoundTrip(t *testing.T) {
	raw := Encode(Set{})
	require.Empty(t, raw)
	got, err := Decode(raw)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMergeLastWriterWins(t *testing.T) {
	m1 := Set{"a": "1", "b": "2"}
	m2 := Set{"b": "3", "c": "4"}
	got := m1.Merge(m2)
	require.Equal(t, Set{"a": "1", "b": "3", "c": "4"}, got)
}

func TestOverwriteIsTotal(t *testing.T) {
	m1 := Set{"a": "1", "b": "2"}
	m2 := Set{"c": "4"}
	// Overwrite semantics: caller just replaces the stored set with m2,
	// so reading the stored bytes back yields m2 alone, none of m1.
	got, err := Decode(Encode(m2))
	require.NoError(t, err)
	require.Equal(t, m2, got)
	require.NotEqual(t, m1, got)
}

func TestValidateRejectsOversizedKey(t *testing.T) {
	longKey := make([]byte, MaxKeyLen+1)
	for i := range longKey {
		longKey[i] = 'a'
	}
	s := Set{string(longKey): "v"}
	require.Error(t, s.Validate())
}

func TestValidateRejectsOversizedValue(t *testing.T) {
	longVal := make([]byte, MaxValLen+1)
	for i := range longVal {
		longVal[i] = 'v'
	}
	s := Set{"k": string(longVal)}
	require.Error(t, s.Validate())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte("no-separator-here"))
	require.Error(t, err)
}
