package fdfsproto

// This file defines the command-specific body layouts. Every exported
// type here is a parsed request or response body; Encode/Decode pairs
// are the only place in the module that slices raw bytes for these
// commands, giving each wire concept exactly one owning package.

import "fmt"

// MaxUploadBytes bounds UPLOAD/UPLOAD_APPENDER/UPLOAD_SLAVE body size
// accepted by the codec itself; pkg/storageservice additionally
// enforces the configured max_upload_bytes.
const MaxUploadBytes = 1 << 34 // 16 GiB, a codec-level sanity ceiling

// UploadRequest is the parsed body of UPLOAD_FILE / UPLOAD_APPENDER_FILE.
type UploadRequest struct {
	StorePathIndex byte
	FileSize       uint64
	FileExtName    string
	Content        []byte
}

// EncodeUploadRequest serializes an UploadRequest body.
func EncodeUploadRequest(r UploadRequest) ([]byte, error) {
	body := make([]byte, 1+8+FileExtLen+len(r.Content))
	body[0] = r.StorePathIndex
	PutUint64(body[1:9], r.FileSize)
	if err := PutFixedString(body[9:9+FileExtLen], r.FileExtName); err != nil {
		return nil, err
	}
	copy(body[9+FileExtLen:], r.Content)
	return body, nil
}

// DecodeUploadRequest parses an UploadRequest body.
func DecodeUploadRequest(body []byte) (UploadRequest, error) {
	const fixed = 1 + 8 + FileExtLen
	if len(body) < fixed {
		return UploadRequest{}, frameErrorf("upload body too short: %d < %d", len(body), fixed)
	}
	r := UploadRequest{
		StorePathIndex: body[0],
		FileSize:       GetUint64(body[1:9]),
		FileExtName:    GetFixedString(body[9 : 9+FileExtLen]),
		Content:        body[fixed:],
	}
	if r.FileSize != uint64(len(r.Content)) {
		return UploadRequest{}, frameErrorf("declared file size %d != body content %d", r.FileSize, len(r.Content))
	}
	return r, nil
}

// UploadResponse is the body of a successful upload reply: the
// resulting file identifier split into its group and filename parts.
type UploadResponse struct {
	GroupName string
	FileName  string
}

func EncodeUploadResponse(r UploadResponse) ([]byte, error) {
	body := make([]byte, GroupNameLen+len(r.FileName))
	if err := PutFixedString(body[:GroupNameLen], r.GroupName); err != nil {
		return nil, err
	}
	copy(body[GroupNameLen:], r.FileName)
	return body, nil
}

func DecodeUploadResponse(body []byte) (UploadResponse, error) {
	if len(body) < GroupNameLen {
		return UploadResponse{}, frameErrorf("upload response too short")
	}
	return UploadResponse{
		GroupName: GetFixedString(body[:GroupNameLen]),
		FileName:  string(body[GroupNameLen:]),
	}, nil
}

// UploadSlaveRequest is the parsed body of UPLOAD_SLAVE_FILE.
type UploadSlaveRequest struct {
	MasterFileName string
	FileSize       uint64
	PrefixName     string
	FileExtName    string
	Content        []byte
}

func EncodeUploadSlaveRequest(r UploadSlaveRequest) ([]byte, error) {
	masterLen := uint64(len(r.MasterFileName))
	body := make([]byte, 8+8+FilePrefixLen+FileExtLen+len(r.MasterFileName)+len(r.Content))
	PutUint64(body[0:8], masterLen)
	PutUint64(body[8:16], r.FileSize)
	off := 16
	if err := PutFixedString(body[off:off+FilePrefixLen], r.PrefixName); err != nil {
		return nil, err
	}
	off += FilePrefixLen
	if err := PutFixedString(body[off:off+FileExtLen], r.FileExtName); err != nil {
		return nil, err
	}
	off += FileExtLen
	off += copy(body[off:], r.MasterFileName)
	copy(body[off:], r.Content)
	return body, nil
}

func DecodeUploadSlaveRequest(body []byte) (UploadSlaveRequest, error) {
	const fixed = 8 + 8 + FilePrefixLen + FileExtLen
	if len(body) < fixed {
		return UploadSlaveRequest{}, frameErrorf("upload-slave body too short")
	}
	masterLen := GetUint64(body[0:8])
	fileSize := GetUint64(body[8:16])
	off := 16
	prefix := GetFixedString(body[off : off+FilePrefixLen])
	off += FilePrefixLen
	ext := GetFixedString(body[off : off+FileExtLen])
	off += FileExtLen
	if uint64(len(body)-off) < masterLen {
		return UploadSlaveRequest{}, frameErrorf("upload-slave master filename length %d exceeds remaining body", masterLen)
	}
	master := string(body[off : off+int(masterLen)])
	off += int(masterLen)
	content := body[off:]
	if fileSize != uint64(len(content)) {
		return UploadSlaveRequest{}, frameErrorf("declared file size %d != body content %d", fileSize, len(content))
	}
	if prefix == "" || (prefix[0] != '_' && prefix[0] != '-') {
		return UploadSlaveRequest{}, frameErrorf("slave prefix %q must begin with '_' or '-'", prefix)
	}
	return UploadSlaveRequest{
		MasterFileName: master,
		FileSize:       fileSize,
		PrefixName:     prefix,
		FileExtName:    ext,
		Content:        content,
	}, nil
}

// FileKeyRequest is the body shape shared by DELETE_FILE,
// GET_METADATA and QUERY_FILE_INFO: a fixed group name followed by the
// variable-length filename occupying the rest of the body.
type FileKeyRequest struct {
	GroupName string
	FileName  string
}

func EncodeFileKeyRequest(r FileKeyRequest) ([]byte, error) {
	body := make([]byte, GroupNameLen+len(r.FileName))
	if err := PutFixedString(body[:GroupNameLen], r.GroupName); err != nil {
		return nil, err
	}
	copy(body[GroupNameLen:], r.FileName)
	return body, nil
}

func DecodeFileKeyRequest(body []byte) (FileKeyRequest, error) {
	if len(body) < GroupNameLen {
		return FileKeyRequest{}, frameErrorf("file-key body too short")
	}
	return FileKeyRequest{
		GroupName: GetFixedString(body[:GroupNameLen]),
		FileName:  string(body[GroupNameLen:]),
	}, nil
}

// DownloadRequest is the body of DOWNLOAD_FILE.
type DownloadRequest struct {
	StartOffset uint64
	DownloadLen uint64
	GroupName   string
	FileName    string
}

func EncodeDownloadRequest(r DownloadRequest) ([]byte, error) {
	body := make([]byte, 8+8+GroupNameLen+len(r.FileName))
	PutUint64(body[0:8], r.StartOffset)
	PutUint64(body[8:16], r.DownloadLen)
	if err := PutFixedString(body[16:16+GroupNameLen], r.GroupName); err != nil {
		return nil, err
	}
	copy(body[16+GroupNameLen:], r.FileName)
	return body, nil
}

func DecodeDownloadRequest(body []byte) (DownloadRequest, error) {
	const fixed = 8 + 8 + GroupNameLen
	if len(body) < fixed {
		return DownloadRequest{}, frameErrorf("download body too short")
	}
	return DownloadRequest{
		StartOffset: GetUint64(body[0:8]),
		DownloadLen: GetUint64(body[8:16]),
		GroupName:   GetFixedString(body[16 : 16+GroupNameLen]),
		FileName:    string(body[fixed:]),
	}, nil
}

// SetMetadataRequest is the body of SET_METADATA.
type SetMetadataRequest struct {
	GroupName string
	FileName  string
	Flag      byte // MetaFlagOverwrite or MetaFlagMerge
	MetaBytes []byte
}

func EncodeSetMetadataRequest(r SetMetadataRequest) ([]byte, error) {
	fnLen := uint64(len(r.FileName))
	metaLen := uint64(len(r.MetaBytes))
	body := make([]byte, 8+8+MetaFlagLen+GroupNameLen+len(r.FileName)+len(r.MetaBytes))
	PutUint64(body[0:8], fnLen)
	PutUint64(body[8:16], metaLen)
	body[16] = r.Flag
	off := 17
	if err := PutFixedString(body[off:off+GroupNameLen], r.GroupName); err != nil {
		return nil, err
	}
	off += GroupNameLen
	off += copy(body[off:], r.FileName)
	copy(body[off:], r.MetaBytes)
	return body, nil
}

func DecodeSetMetadataRequest(body []byte) (SetMetadataRequest, error) {
	const fixed = 8 + 8 + MetaFlagLen + GroupNameLen
	if len(body) < fixed {
		return SetMetadataRequest{}, frameErrorf("set-metadata body too short")
	}
	fnLen := GetUint64(body[0:8])
	metaLen := GetUint64(body[8:16])
	flag := body[16]
	if flag != MetaFlagOverwrite && flag != MetaFlagMerge {
		return SetMetadataRequest{}, frameErrorf("unknown metadata flag %q", flag)
	}
	off := 17
	group := GetFixedString(body[off : off+GroupNameLen])
	off += GroupNameLen
	if uint64(len(body)-off) < fnLen+metaLen {
		return SetMetadataRequest{}, frameErrorf("set-metadata body shorter than declared lengths")
	}
	fileName := string(body[off : off+int(fnLen)])
	off += int(fnLen)
	meta := body[off : off+int(metaLen)]
	return SetMetadataRequest{GroupName: group, FileName: fileName, Flag: flag, MetaBytes: meta}, nil
}

// QueryFileInfoResponse is the body of a successful QUERY_FILE_INFO reply.
type QueryFileInfoResponse struct {
	FileSize     uint64
	CreateUnix   uint64
	CRC32        uint32
	SourceIPAddr string
}

func EncodeQueryFileInfoResponse(r QueryFileInfoResponse) []byte {
	body := make([]byte, 8+8+8+IPAddrLen)
	PutUint64(body[0:8], r.FileSize)
	PutUint64(body[8:16], r.CreateUnix)
	PutUint64(body[16:24], uint64(r.CRC32))
	_ = PutFixedString(body[24:24+IPAddrLen], r.SourceIPAddr)
	return body
}

func DecodeQueryFileInfoResponse(body []byte) (QueryFileInfoResponse, error) {
	if len(body) < 24+IPAddrLen {
		return QueryFileInfoResponse{}, frameErrorf("query-file-info response too short")
	}
	return QueryFileInfoResponse{
		FileSize:     GetUint64(body[0:8]),
		CreateUnix:   GetUint64(body[8:16]),
		CRC32:        uint32(GetUint64(body[16:24])),
		SourceIPAddr: GetFixedString(body[24 : 24+IPAddrLen]),
	}, nil
}

// AppendRequest is the body of APPEND_FILE.
type AppendRequest struct {
	FileName string
	Content  []byte
}

func EncodeAppendRequest(r AppendRequest) []byte {
	fnLen := uint64(len(r.FileName))
	body := make([]byte, 8+8+len(r.FileName)+len(r.Content))
	PutUint64(body[0:8], fnLen)
	PutUint64(body[8:16], uint64(len(r.Content)))
	off := 16 + copy(body[16:], r.FileName)
	copy(body[off:], r.Content)
	return body
}

func DecodeAppendRequest(body []byte) (AppendRequest, error) {
	if len(body) < 16 {
		return AppendRequest{}, frameErrorf("append body too short")
	}
	fnLen := GetUint64(body[0:8])
	contentLen := GetUint64(body[8:16])
	if uint64(len(body)-16) < fnLen+contentLen {
		return AppendRequest{}, frameErrorf("append body shorter than declared lengths")
	}
	fileName := string(body[16 : 16+fnLen])
	content := body[16+fnLen : 16+fnLen+contentLen]
	return AppendRequest{FileName: fileName, Content: content}, nil
}

// ModifyRequest is the body of MODIFY_FILE.
type ModifyRequest struct {
	FileName string
	Offset   uint64
	Content  []byte
}

func EncodeModifyRequest(r ModifyRequest) []byte {
	fnLen := uint64(len(r.FileName))
	body := make([]byte, 8+8+8+len(r.FileName)+len(r.Content))
	PutUint64(body[0:8], fnLen)
	PutUint64(body[8:16], r.Offset)
	PutUint64(body[16:24], uint64(len(r.Content)))
	off := 24 + copy(body[24:], r.FileName)
	copy(body[off:], r.Content)
	return body
}

func DecodeModifyRequest(body []byte) (ModifyRequest, error) {
	if len(body) < 24 {
		return ModifyRequest{}, frameErrorf("modify body too short")
	}
	fnLen := GetUint64(body[0:8])
	offset := GetUint64(body[8:16])
	contentLen := GetUint64(body[16:24])
	if uint64(len(body)-24) < fnLen+contentLen {
		return ModifyRequest{}, frameErrorf("modify body shorter than declared lengths")
	}
	fileName := string(body[24 : 24+fnLen])
	content := body[24+fnLen : 24+fnLen+contentLen]
	return ModifyRequest{FileName: fileName, Offset: offset, Content: content}, nil
}

// TruncateRequest is the body of TRUNCATE_FILE.
type TruncateRequest struct {
	FileName     string
	TruncateSize uint64
}

func EncodeTruncateRequest(r TruncateRequest) []byte {
	fnLen := uint64(len(r.FileName))
	body := make([]byte, 8+8+len(r.FileName))
	PutUint64(body[0:8], fnLen)
	PutUint64(body[8:16], r.TruncateSize)
	copy(body[16:], r.FileName)
	return body
}

func DecodeTruncateRequest(body []byte) (TruncateRequest, error) {
	if len(body) < 16 {
		return TruncateRequest{}, frameErrorf("truncate body too short")
	}
	fnLen := GetUint64(body[0:8])
	size := GetUint64(body[8:16])
	if uint64(len(body)-16) < fnLen {
		return TruncateRequest{}, frameErrorf("truncate body shorter than declared filename length")
	}
	return TruncateRequest{FileName: string(body[16 : 16+fnLen]), TruncateSize: size}, nil
}

// MetaFlagString renders a metadata flag byte for logging/errors.
func MetaFlagString(flag byte) string {
	switch flag {
	case MetaFlagOverwrite:
		return "overwrite"
	case MetaFlagMerge:
		return "merge"
	default:
		return fmt.Sprintf("unknown(%q)", flag)
	}
}

// SyncUploadRequest is the body of CmdSyncUpload: a primary storage
// forwarding one completed local write (or delete) to a peer in the
// same group ("Replication").
type SyncUploadRequest struct {
	FileName string
	IsDelete bool
	Content  []byte
}

func EncodeSyncUploadRequest(r SyncUploadRequest) []byte {
	fnLen := uint64(len(r.FileName))
	body := make([]byte, 8+1+8+len(r.FileName)+len(r.Content))
	PutUint64(body[0:8], fnLen)
	if r.IsDelete {
		body[8] = 1
	}
	PutUint64(body[9:17], uint64(len(r.Content)))
	off := 17 + copy(body[17:], r.FileName)
	copy(body[off:], r.Content)
	return body
}

func DecodeSyncUploadRequest(body []byte) (SyncUploadRequest, error) {
	if len(body) < 17 {
		return SyncUploadRequest{}, frameErrorf("sync-upload body too short")
	}
	fnLen := GetUint64(body[0:8])
	isDelete := body[8] != 0
	contentLen := GetUint64(body[9:17])
	if uint64(len(body)-17) < fnLen+contentLen {
		return SyncUploadRequest{}, frameErrorf("sync-upload body shorter than declared lengths")
	}
	fileName := string(body[17 : 17+fnLen])
	content := body[17+fnLen : 17+fnLen+contentLen]
	return SyncUploadRequest{FileName: fileName, IsDelete: isDelete, Content: content}, nil
}
