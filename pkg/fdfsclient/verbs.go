package fdfsclient

import (
	"context"

	"github.com/happyfish100/fastdfs-sub003/pkg/fdfsproto"
	"github.com/happyfish100/fastdfs-sub003/pkg/fileid"
	"github.com/happyfish100/fastdfs-sub003/pkg/metadata"
)

// Upload sends UPLOAD_FILE (or UPLOAD_APPENDER_FILE when appender is
// true) to addr and returns the resulting file identifier.
func (c *Client) Upload(ctx context.Context, addr string, storePathIndex byte, ext string, content []byte, appender bool) (fileid.ID, error) {
	body, err := fdfsproto.EncodeUploadRequest(fdfsproto.UploadRequest{
		StorePathIndex: storePathIndex,
		FileSize:       uint64(len(content)),
		FileExtName:    ext,
		Content:        content,
	})
	if err != nil {
		return fileid.ID{}, err
	}
	cmd := fdfsproto.CmdUploadFile
	if appender {
		cmd = fdfsproto.CmdUploadAppenderFile
	}
	_, respBody, err := c.call(ctx, addr, cmd, body)
	if err != nil {
		return fileid.ID{}, err
	}
	resp, err := fdfsproto.DecodeUploadResponse(respBody)
	if err != nil {
		return fileid.ID{}, err
	}
	return fileid.ParseFileName(resp.GroupName, resp.FileName)
}

// UploadSlave sends UPLOAD_SLAVE_FILE, deriving a slave file tied to
// an existing master.
func (c *Client) UploadSlave(ctx context.Context, addr string, master fileid.ID, prefix, ext string, content []byte) (fileid.ID, error) {
	body, err := fdfsproto.EncodeUploadSlaveRequest(fdfsproto.UploadSlaveRequest{
		MasterFileName: master.FileName(),
		FileSize:       uint64(len(content)),
		PrefixName:     prefix,
		FileExtName:    ext,
		Content:        content,
	})
	if err != nil {
		return fileid.ID{}, err
	}
	_, respBody, err := c.call(ctx, addr, fdfsproto.CmdUploadSlaveFile, body)
	if err != nil {
		return fileid.ID{}, err
	}
	resp, err := fdfsproto.DecodeUploadResponse(respBody)
	if err != nil {
		return fileid.ID{}, err
	}
	return fileid.ParseFileName(resp.GroupName, resp.FileName)
}

// Download fetches the full content of id from addr.
func (c *Client) Download(ctx context.Context, addr string, id fileid.ID) ([]byte, error) {
	return c.DownloadRange(ctx, addr, id, 0, 0)
}

// DownloadRange fetches `[offset, offset+length)` of id's content; a
// zero length means "to end of file", matching DOWNLOAD_FILE's wire
// convention.
func (c *Client) DownloadRange(ctx context.Context, addr string, id fileid.ID, offset, length uint64) ([]byte, error) {
	body, err := fdfsproto.EncodeDownloadRequest(fdfsproto.DownloadRequest{
		StartOffset: offset,
		DownloadLen: length,
		GroupName:   id.Group,
		FileName:    id.FileName(),
	})
	if err != nil {
		return nil, err
	}
	_, respBody, err := c.call(ctx, addr, fdfsproto.CmdDownloadFile, body)
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// Delete removes a file. Deleting an already-deleted file fails with a
// NotFound error.
func (c *Client) Delete(ctx context.Context, addr string, id fileid.ID) error {
	body, err := fdfsproto.EncodeFileKeyRequest(fdfsproto.FileKeyRequest{GroupName: id.Group, FileName: id.FileName()})
	if err != nil {
		return err
	}
	_, _, err = c.call(ctx, addr, fdfsproto.CmdDeleteFile, body)
	return err
}

// GetMetadata fetches a file's user metadata set.
func (c *Client) GetMetadata(ctx context.Context, addr string, id fileid.ID) (metadata.Set, error) {
	body, err := fdfsproto.EncodeFileKeyRequest(fdfsproto.FileKeyRequest{GroupName: id.Group, FileName: id.FileName()})
	if err != nil {
		return nil, err
	}
	_, respBody, err := c.call(ctx, addr, fdfsproto.CmdGetMetadata, body)
	if err != nil {
		return nil, err
	}
	return metadata.Decode(respBody)
}

// SetMetadata replaces (overwrite=true) or merges (overwrite=false) a
// file's user metadata.
func (c *Client) SetMetadata(ctx context.Context, addr string, id fileid.ID, set metadata.Set, overwrite bool) error {
	flag := fdfsproto.MetaFlagMerge
	if overwrite {
		flag = fdfsproto.MetaFlagOverwrite
	}
	body, err := fdfsproto.EncodeSetMetadataRequest(fdfsproto.SetMetadataRequest{
		GroupName: id.Group,
		FileName:  id.FileName(),
		Flag:      flag,
		MetaBytes: metadata.Encode(set),
	})
	if err != nil {
		return err
	}
	_, _, err = c.call(ctx, addr, fdfsproto.CmdSetMetadata, body)
	return err
}

// QueryFileInfo fetches a file's server-owned attributes (size, CRC32,
// upload time, source IP).
func (c *Client) QueryFileInfo(ctx context.Context, addr string, id fileid.ID) (fdfsproto.QueryFileInfoResponse, error) {
	body, err := fdfsproto.EncodeFileKeyRequest(fdfsproto.FileKeyRequest{GroupName: id.Group, FileName: id.FileName()})
	if err != nil {
		return fdfsproto.QueryFileInfoResponse{}, err
	}
	_, respBody, err := c.call(ctx, addr, fdfsproto.CmdQueryFileInfo, body)
	if err != nil {
		return fdfsproto.QueryFileInfoResponse{}, err
	}
	return fdfsproto.DecodeQueryFileInfoResponse(respBody)
}

// Append extends an appender file's content.
func (c *Client) Append(ctx context.Context, addr string, id fileid.ID, content []byte) error {
	body := fdfsproto.EncodeAppendRequest(fdfsproto.AppendRequest{FileName: id.FileName(), Content: content})
	_, _, err := c.call(ctx, addr, fdfsproto.CmdAppendFile, body)
	return err
}

// Modify overwrites `[offset, offset+len(content))` of an appender
// file's content in place.
func (c *Client) Modify(ctx context.Context, addr string, id fileid.ID, offset uint64, content []byte) error {
	body := fdfsproto.EncodeModifyRequest(fdfsproto.ModifyRequest{FileName: id.FileName(), Offset: offset, Content: content})
	_, _, err := c.call(ctx, addr, fdfsproto.CmdModifyFile, body)
	return err
}

// Truncate sets an appender file's length.
func (c *Client) Truncate(ctx context.Context, addr string, id fileid.ID, size uint64) error {
	body := fdfsproto.EncodeTruncateRequest(fdfsproto.TruncateRequest{FileName: id.FileName(), TruncateSize: size})
	_, _, err := c.call(ctx, addr, fdfsproto.CmdTruncateFile, body)
	return err
}
