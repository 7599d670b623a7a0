// Package metadata implements the FastDFS sibling metadata file
// format: an unordered printable-ASCII key/value mapping
// stored in a file named "<basename>-m" next to a file's content,
// with entries separated by 0x02 and keys/values within an entry
// separated by 0x01. There is no trailing separator; an empty mapping
// is an empty file.
package metadata

import (
	"bytes"
	"fmt"

	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
)

const (
	MaxKeyLen = fdfsproto.MaxMetaKeyLen
	MaxValLen = fdfsproto.MaxMetaValLen
)

// Set is a metadata mapping. Keys are unique; the zero value is the
// empty mapping.
type Set map[string]string

// Clone returns a shallow copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Validate checks every key/value against the configured length
// limits: max key length 64, max value length 256.
func (s Set) Validate() error {
	for k, v := range s {
		if len(k) == 0 || len(k) > MaxKeyLen {
			return fmt.Errorf("metadata: key %q exceeds max length %d", k, MaxKeyLen)
		}
		if len(v) > MaxValLen {
			return fmt.Errorf("metadata: value for key %q exceeds max length %d", k, MaxValLen)
		}
	}
	return nil
}

// Merge returns a new Set containing the union of s and other, with
// other's values winning on key conflicts (last-writer-wins per key).
func (s Set) Merge(other Set) Set {
	out := s.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Encode serializes a Set into the on-disk sibling-file byte format.
func Encode(s Set) []byte {
	if len(s) == 0 {
		return nil
	}
	var buf bytes.Buffer
	first := true
	for k, v := range s {
		if !first {
			buf.WriteByte(fdfsproto.MetaRecordSeparator)
		}
		first = false
		buf.WriteString(k)
		buf.WriteByte(fdfsproto.MetaFieldSeparator)
		buf.WriteString(v)
	}
	return buf.Bytes()
}

// Decode parses the on-disk sibling-file byte format. An empty input
// decodes to an empty, non-nil Set.
func Decode(raw []byte) (Set, error) {
	out := Set{}
	if len(raw) == 0 {
		return out, nil
	}
	entries := bytes.Split(raw, []byte{fdfsproto.MetaRecordSeparator})
	for _, entry := range entries {
		parts := bytes.SplitN(entry, []byte{fdfsproto.MetaFieldSeparator}, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("metadata: malformed entry %q", entry)
		}
		out[string(parts[0])] = string(parts[1])
	}
	return out, nil
}
