package fdfsproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{BodyLen: 1234, Cmd: CmdUploadFile, Status: StatusOK}
	raw := EncodeHeader(h)
	require.Len(t, raw, HeaderLen)

	got, err := DecodeHeader(raw, 0)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderRejectsOversizedBody(t *testing.T) {
	h := Header{BodyLen: 1000, Cmd: CmdUploadFile}
	raw := EncodeHeader(h)
	_, err := DecodeHeader(raw, 10)
	require.Error(t, err)
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
}

func TestReadHeader(t *testing.T) {
	h := Header{BodyLen: 5, Cmd: CmdDownloadFile, Status: StatusOK}
	var buf bytes.Buffer
	buf.Write(EncodeHeader(h))
	buf.WriteString("hello")

	got, err := ReadHeader(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.Equal(t, "hello", buf.String())
}

func TestFixedStringRoundTrip(t *testing.T) {
	dst := make([]byte, GroupNameLen)
	require.NoError(t, PutFixedString(dst, "group1"))
	require.Equal(t, "group1", GetFixedString(dst))
}

func TestPutFixedStringTooLong(t *testing.T) {
	dst := make([]byte, 4)
	err := PutFixedString(dst, "toolong")
	require.Error(t, err)
}

func TestUploadRequestRoundTrip(t *testing.T) {
	req := UploadRequest{StorePathIndex: 2, FileSize: 5, FileExtName: "txt", Content: []byte("hello")}
	body, err := EncodeUploadRequest(req)
	require.NoError(t, err)

	got, err := DecodeUploadRequest(body)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestUploadSlaveRequestRejectsBadPrefix(t *testing.T) {
	req := UploadSlaveRequest{
		MasterFileName: "m.jpg",
		FileSize:       1,
		PrefixName:     "thumb",
		FileExtName:    "jpg",
		Content:        []byte("t"),
	}
	_, err := EncodeUploadSlaveRequest(req)
	require.NoError(t, err) // encode doesn't validate; decode does

	body, _ := EncodeUploadSlaveRequest(req)
	_, err = DecodeUploadSlaveRequest(body)
	require.Error(t, err)
}

func TestUploadSlaveRequestRoundTrip(t *testing.T) {
	req := UploadSlaveRequest{
		MasterFileName: "m.jpg",
		FileSize:       1,
		PrefixName:     "_thumb",
		FileExtName:    "jpg",
		Content:        []byte("t"),
	}
	body, err := EncodeUploadSlaveRequest(req)
	require.NoError(t, err)

	got, err := DecodeUploadSlaveRequest(body)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestDownloadRequestRoundTrip(t *testing.T) {
	req := DownloadRequest{StartOffset: 10, DownloadLen: 20, GroupName: "group1", FileName: "a/b.txt"}
	body, err := EncodeDownloadRequest(req)
	require.NoError(t, err)

	got, err := DecodeDownloadRequest(body)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestSetMetadataRequestRoundTrip(t *testing.T) {
	req := SetMetadataRequest{
		GroupName: "group1",
		FileName:  "a/b.txt",
		Flag:      MetaFlagMerge,
		MetaBytes: []byte("a\x011\x02b\x012"),
	}
	body, err := EncodeSetMetadataRequest(req)
	require.NoError(t, err)

	got, err := DecodeSetMetadataRequest(body)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestAppendModifyTruncateRoundTrip(t *testing.T) {
	a := AppendRequest{FileName: "f1", Content: []byte("BC")}
	ab := EncodeAppendRequest(a)
	gotA, err := DecodeAppendRequest(ab)
	require.NoError(t, err)
	require.Equal(t, a, gotA)

	m := ModifyRequest{FileName: "f1", Offset: 1, Content: []byte("X")}
	mb := EncodeModifyRequest(m)
	gotM, err := DecodeModifyRequest(mb)
	require.NoError(t, err)
	require.Equal(t, m, gotM)

	tr := TruncateRequest{FileName: "f1", TruncateSize: 2}
	tb := EncodeTruncateRequest(tr)
	gotT, err := DecodeTruncateRequest(tb)
	require.NoError(t, err)
	require.Equal(t, tr, gotT)
}

func TestQueryFileInfoResponseRoundTrip(t *testing.T) {
	r := QueryFileInfoResponse{FileSize: 5, CreateUnix: 1700000000, CRC32: 0x3610A686, SourceIPAddr: "10.0.0.1"}
	body := EncodeQueryFileInfoResponse(r)
	got, err := DecodeQueryFileInfoResponse(body)
	require.NoError(t, err)
	require.Equal(t, r, got)
}
