package storageservice

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"
)

// fileRecord is the small sidecar written next to every uploaded file
// (trunked or standalone), recording attributes that QUERY_FILE_INFO
// and the append/modify/truncate preconditions need but that cannot
// be recovered from the file's own bytes on disk once it may be
// packed into a shared trunk: its CRC32, creation time, uploading
// source IP, and whether it was created as an appender file.
//
// Packed with the same fixed-width Pack/Unpack shape as
// pkg/trunkstore.SlotHeader.
type fileRecord struct {
	CreateTimeUnix int64
	CRC32          uint32
	FileSize       int64
	SourceIP       [16]byte
	IsAppender     bool
	IsTrunked      bool
}

const fileRecordLen = 8 + 4 + 8 + 16 + 1 + 1

func (r fileRecord) pack() []byte {
	buf := make([]byte, fileRecordLen)
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.CreateTimeUnix))
	binary.BigEndian.PutUint32(buf[8:12], r.CRC32)
	binary.BigEndian.PutUint64(buf[12:20], uint64(r.FileSize))
	copy(buf[20:36], r.SourceIP[:])
	if r.IsAppender {
		buf[36] = 1
	}
	if r.IsTrunked {
		buf[37] = 1
	}
	return buf
}

func unpackFileRecord(buf []byte) (fileRecord, error) {
	if len(buf) != fileRecordLen {
		return fileRecord{}, fmt.Errorf("storageservice: malformed file record (%d bytes)", len(buf))
	}
	var r fileRecord
	r.CreateTimeUnix = int64(binary.BigEndian.Uint64(buf[0:8]))
	r.CRC32 = binary.BigEndian.Uint32(buf[8:12])
	r.FileSize = int64(binary.BigEndian.Uint64(buf[12:20]))
	copy(r.SourceIP[:], buf[20:36])
	r.IsAppender = buf[36] != 0
	r.IsTrunked = buf[37] != 0
	return r, nil
}

func newFileRecord(crc uint32, size int64, peerIP net.IP, isAppender, isTrunked bool) fileRecord {
	var ipBytes [16]byte
	if ip16 := peerIP.To16(); ip16 != nil {
		copy(ipBytes[:], ip16)
	}
	return fileRecord{
		CreateTimeUnix: time.Now().Unix(),
		CRC32:          crc,
		FileSize:       size,
		SourceIP:       ipBytes,
		IsAppender:     isAppender,
		IsTrunked:      isTrunked,
	}
}

func (r fileRecord) sourceIPAddr() string {
	ip := net.IP(append([]byte(nil), r.SourceIP[:]...))
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ip.String()
}

// writeFileRecord and readFileRecord use plain file I/O rather than a
// disk-engine task: the record is small, fixed-size, and has no
// rollback semantics of its own.
func writeFileRecord(path string, rec fileRecord) error {
	return os.WriteFile(path, rec.pack(), 0o644)
}

func readFileRecord(path string) (fileRecord, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fileRecord{}, err
	}
	return unpackFileRecord(buf)
}
