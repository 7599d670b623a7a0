// Package fileid implements the FastDFS file identifier: an opaque,
// self-verifying token of the form
//
//	<group>/M<NN>/<dir1>/<dir2>/<basename>.<ext>
//
// where <basename> is built from a 16-byte struct (upload timestamp,
// CRC32, source IP, random field) base64-encoded, followed by the
// file size in hex.
//
// ID is a value type: it supports == and is safe to use as a map key.
package fileid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// structLen is the size of the raw binary struct backing the base64
// portion of a basename: timestamp(4) + crc32(4) + source IP(4) + random(4).
const structLen = 16

// b64Len is the fixed length of the base64 (RawURLEncoding) rendering
// of a 16-byte struct: ceil(16*8/6) = 22 characters.
const b64Len = 22

var ErrMalformed = errors.New("fileid: malformed identifier")

// ID is a parsed, immutable file identifier.
type ID struct {
	Group          string
	StorePathIndex int
	Dir1, Dir2     string // two hex chars each
	Basename       string // b64 struct portion + hex file-size suffix, no extension
	Ext            string

	// Decoded fields, embedded in Basename for self-verification.
	UploadTime time.Time
	CRC32      uint32
	SourceIP   net.IP
	Random     uint32
	FileSize   int64
}

var pathPattern = regexp.MustCompile(`^([^/]+)/M(\d{2})/([0-9a-f]{2})/([0-9a-f]{2})/([0-9A-Za-z_-]+)\.([0-9A-Za-z]{1,6})$`)

// New builds a new ID for a just-uploaded file. sourceIP must be an
// IPv4 address (FastDFS storage IDs are IPv4-only by convention).
func New(group string, storePathIndex int, uploadTime time.Time, crc32 uint32, sourceIP net.IP, fileSize int64, ext string) (ID, error) {
	ip4 := sourceIP.To4()
	if ip4 == nil {
		return ID{}, fmt.Errorf("fileid: source IP %v is not IPv4", sourceIP)
	}
	var randBuf [4]byte
	if _, err := rand.Read(randBuf[:]); err != nil {
		return ID{}, fmt.Errorf("fileid: reading random field: %w", err)
	}
	random := binary.BigEndian.Uint32(randBuf[:])

	raw := make([]byte, structLen)
	binary.BigEndian.PutUint32(raw[0:4], uint32(uploadTime.Unix()))
	binary.BigEndian.PutUint32(raw[4:8], crc32)
	binary.BigEndian.PutUint32(raw[8:12], binary.BigEndian.Uint32(ip4))
	binary.BigEndian.PutUint32(raw[12:16], random)

	b64 := base64.RawURLEncoding.EncodeToString(raw)
	basename := b64 + strconv.FormatInt(fileSize, 16)

	dir1 := fmt.Sprintf("%02x", raw[14])
	dir2 := fmt.Sprintf("%02x", raw[15])

	return ID{
		Group:          group,
		StorePathIndex: storePathIndex,
		Dir1:           dir1,
		Dir2:           dir2,
		Basename:       basename,
		Ext:            ext,
		UploadTime:     time.Unix(int64(binary.BigEndian.Uint32(raw[0:4])), 0).UTC(),
		CRC32:          crc32,
		SourceIP:       sourceIP,
		Random:         random,
		FileSize:       fileSize,
	}, nil
}

// String renders the identifier as the printable-ASCII token clients
// and the on-disk layout use.
func (id ID) String() string {
	return fmt.Sprintf("%s/M%02d/%s/%s/%s.%s", id.Group, id.StorePathIndex, id.Dir1, id.Dir2, id.Basename, id.Ext)
}

// FileName returns the identifier without its leading group, i.e. the
// part carried in wire-protocol filename fields.
func (id ID) FileName() string {
	return fmt.Sprintf("M%02d/%s/%s/%s.%s", id.StorePathIndex, id.Dir1, id.Dir2, id.Basename, id.Ext)
}

// Parse decodes a file identifier previously produced by String, and
// self-verifies it by recomputing the embedded fields from the
// 16-byte struct encoded in the basename.
func Parse(s string) (ID, error) {
	m := pathPattern.FindStringSubmatch(s)
	if m == nil {
		return ID{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return parseParts(m[1], m[2], m[3], m[4], m[5], m[6])
}

// ParseFileName decodes the group-less form produced by FileName,
// pairing it with an externally supplied group name (as carried
// separately in the wire protocol's fixed group field).
func ParseFileName(group, fileName string) (ID, error) {
	full := group + "/" + fileName
	return Parse(full)
}

func parseParts(group, idxStr, dir1, dir2, basename, ext string) (ID, error) {
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return ID{}, fmt.Errorf("%w: bad store path index %q", ErrMalformed, idxStr)
	}
	if len(basename) < b64Len {
		return ID{}, fmt.Errorf("%w: basename too short", ErrMalformed)
	}
	b64Part := basename[:b64Len]
	raw, err := base64.RawURLEncoding.DecodeString(b64Part)
	if err != nil || len(raw) != structLen {
		return ID{}, fmt.Errorf("%w: bad base64 struct: %v", ErrMalformed, err)
	}
	// The file-size suffix is the longest run of hex digits following
	// the base64 struct; a slave's prefix (which must start with '_'
	// or '-', neither a hex digit) terminates the run unambiguously.
	rest := basename[b64Len:]
	hexLen := 0
	for hexLen < len(rest) && isHexDigit(rest[hexLen]) {
		hexLen++
	}
	var fileSize int64
	if hexLen > 0 {
		fileSize, err = strconv.ParseInt(rest[:hexLen], 16, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: bad file size suffix %q", ErrMalformed, rest[:hexLen])
		}
	}
	wantDir1 := fmt.Sprintf("%02x", raw[14])
	wantDir2 := fmt.Sprintf("%02x", raw[15])
	if !strings.EqualFold(dir1, wantDir1) || !strings.EqualFold(dir2, wantDir2) {
		return ID{}, fmt.Errorf("%w: directory does not match embedded random field", ErrMalformed)
	}

	ipBytes := raw[8:12]
	ip := net.IPv4(ipBytes[0], ipBytes[1], ipBytes[2], ipBytes[3])

	return ID{
		Group:          group,
		StorePathIndex: idx,
		Dir1:           dir1,
		Dir2:           dir2,
		Basename:       basename,
		Ext:            ext,
		UploadTime:     time.Unix(int64(binary.BigEndian.Uint32(raw[0:4])), 0).UTC(),
		CRC32:          binary.BigEndian.Uint32(raw[4:8]),
		SourceIP:       ip,
		Random:         binary.BigEndian.Uint32(raw[12:16]),
		FileSize:       fileSize,
	}, nil
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// DeriveSlave computes the slave file's ID from its master's ID and a
// prefix: slave basename = masterBasename + prefix + "." + ext. The
// group and store path are inherited from the master.
func DeriveSlave(master ID, prefix, ext string) (ID, error) {
	if prefix == "" || (prefix[0] != '_' && prefix[0] != '-') {
		return ID{}, fmt.Errorf("fileid: slave prefix %q must begin with '_' or '-'", prefix)
	}
	if len(prefix) > 16 {
		return ID{}, fmt.Errorf("fileid: slave prefix %q exceeds 16 bytes", prefix)
	}
	slave := master
	slave.Basename = master.Basename + prefix
	slave.Ext = ext
	slave.FileSize = 0 // unknown until the slave's own content is written
	return slave, nil
}
