package trunkstore

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the size of the packed per-slot trunk header.
const HeaderLen = 24

const formattedExtLen = 7

// SlotHeader is the 24-byte, little-endian header written at the
// start of every trunk slot.
type SlotHeader struct {
	AllocSize     uint32
	FileSize      uint32
	CRC32         uint32
	ModTimeUnix   uint32
	FileType      byte
	FormattedExt  string // up to 7 bytes, NUL-padded
}

// Pack serializes a SlotHeader into its 24-byte wire form.
func (h SlotHeader) Pack() [HeaderLen]byte {
	var buf [HeaderLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.AllocSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.FileSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.CRC32)
	binary.LittleEndian.PutUint32(buf[12:16], h.ModTimeUnix)
	buf[16] = h.FileType
	n := copy(buf[17:17+formattedExtLen], h.FormattedExt)
	for i := 17 + n; i < HeaderLen; i++ {
		buf[i] = 0
	}
	return buf
}

// Unpack parses a 24-byte slot header.
func Unpack(raw []byte) (SlotHeader, error) {
	if len(raw) != HeaderLen {
		return SlotHeader{}, errInvalidHeaderLen(len(raw))
	}
	ext := raw[17 : 17+formattedExtLen]
	n := formattedExtLen
	for n > 0 && ext[n-1] == 0 {
		n--
	}
	return SlotHeader{
		AllocSize:    binary.LittleEndian.Uint32(raw[0:4]),
		FileSize:     binary.LittleEndian.Uint32(raw[4:8]),
		CRC32:        binary.LittleEndian.Uint32(raw[8:12]),
		ModTimeUnix:  binary.LittleEndian.Uint32(raw[12:16]),
		FileType:     raw[16],
		FormattedExt: string(ext[:n]),
	}, nil
}

// IsDead reports whether raw unpacks to a header whose alloc/size/type
// fields are all zero, i.e. a slot that was never written or whose
// occupant was released ("Collision check").
func IsDead(raw []byte) bool {
	if len(raw) != HeaderLen {
		return false
	}
	h, err := Unpack(raw)
	if err != nil {
		return false
	}
	return h.AllocSize == 0 && h.FileSize == 0 && h.FileType == 0
}

// IsZero reports whether raw is all-zero bytes (the state of a freshly
// extended trunk file before any slot has ever been written there).
func IsZero(raw []byte) bool {
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

type errInvalidHeaderLen int

func (e errInvalidHeaderLen) Error() string {
	return fmt.Sprintf("trunkstore: slot header must be %d bytes, got %d", HeaderLen, int(e))
}
