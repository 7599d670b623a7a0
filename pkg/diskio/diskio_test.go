package diskio

import (
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/happyfish100/fastdfs-sub003/pkg/trunkstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(0, Config{ReaderCount: 2, WriterCount: 2, Separated: true})
	t.Cleanup(e.Stop)
	return e
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	data := []byte("hello world")
	wctx := &FileContext{Path: path, Kind: KindNormal, Start: 0, End: int64(len(data)), CRC32: crc32.NewIEEE()}
	res := await(t, e.Submit(1, &Task{Kind: OpWrite, Ctx: wctx, Data: data}))
	require.NoError(t, res.Err)
	require.True(t, res.Done)
	require.Equal(t, crc32.ChecksumIEEE(data), wctx.CRC32.Sum32())

	rctx := &FileContext{Path: path, Start: 0, End: int64(len(data))}
	buf := make([]byte, len(data))
	res = await(t, e.Submit(1, &Task{Kind: OpRead, Ctx: rctx, Buffer: buf}))
	require.NoError(t, res.Err)
	require.True(t, res.Done)
	require.Equal(t, data, buf)
}

func TestReadInChunks(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	data := []byte("0123456789")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ctx := &FileContext{Path: path, Start: 0, End: int64(len(data))}
	var got []byte
	for {
		buf := make([]byte, 3)
		res := await(t, e.Submit(2, &Task{Kind: OpRead, Ctx: ctx, Buffer: buf}))
		require.NoError(t, res.Err)
		got = append(got, buf[:res.BytesProcessed]...)
		if res.Done {
			break
		}
	}
	require.Equal(t, data, got)
}

func TestWriteFailureRollsBackNormalFile(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "does", "not", "exist", "file.bin")

	ctx := &FileContext{Path: path, Kind: KindNormal, Start: 0, End: 4}
	res := await(t, e.Submit(1, &Task{Kind: OpWrite, Ctx: ctx, Data: []byte("data")}))
	require.Error(t, res.Err)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestAppendSucceedsAndExtendsFile(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	ctx := &FileContext{Path: path, Kind: KindAppender}
	res := await(t, e.Submit(1, &Task{Kind: OpAppend, Ctx: ctx, Data: []byte("def")}))
	require.NoError(t, res.Err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(content))
}

func TestAppendRollsBackOnFailure(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	// Pre-populate a FileContext with an already-closed handle so the
	// write inside handleAppend fails, forcing the rollback path.
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ctx := &FileContext{
		Path:        path,
		Kind:        KindAppender,
		File:        f,
		Start:       3,
		End:         6,
		Offset:      3,
		appendStart: 3,
	}
	res := await(t, e.Submit(1, &Task{Kind: OpAppend, Ctx: ctx, Data: []byte("def")}))
	require.Error(t, res.Err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abc", string(content))
}

func TestModifyOverwritesInPlace(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	ctx := &FileContext{Path: path}
	res := await(t, e.Submit(1, &Task{Kind: OpModify, Ctx: ctx, Data: []byte("XY"), Size: 2}))
	require.NoError(t, res.Err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "01XY456789", string(content))
}

func TestTruncate(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	res := await(t, e.Submit(1, &Task{Kind: OpTruncate, Ctx: &FileContext{Path: path}, Size: 4}))
	require.NoError(t, res.Err)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "0123", string(content))
}

func TestDeleteNormal(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	res := await(t, e.Submit(1, &Task{Kind: OpDeleteNormal, Ctx: &FileContext{Path: path}}))
	require.NoError(t, res.Err)
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestWriteChunkHeaderAndCheckTrunk(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "trunk-00000001.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 1024), 0o644))

	info := &trunkstore.TrunkInfo{TrunkID: 1, Offset: 0, SlotSize: 128}

	// A fresh, zeroed slot should pass the collision check.
	checkCtx := &FileContext{Path: path, Trunk: info}
	res := await(t, e.Submit(1, &Task{Kind: OpCheckTrunkOnUpload, Ctx: checkCtx}))
	require.NoError(t, res.Err)

	hdr := trunkstore.SlotHeader{AllocSize: 128, FileSize: 10, FileType: 1}
	packed := hdr.Pack()
	writeCtx := &FileContext{Path: path, Trunk: info}
	res = await(t, e.Submit(1, &Task{Kind: OpWriteChunkHeader, Ctx: writeCtx, Data: packed[:]}))
	require.NoError(t, res.Err)

	// Now the same slot has a live (non-dead) header: collision.
	checkCtx2 := &FileContext{Path: path, Trunk: info}
	res = await(t, e.Submit(1, &Task{Kind: OpCheckTrunkOnUpload, Ctx: checkCtx2}))
	require.ErrorIs(t, res.Err, ErrTrunkCollision)
}

func TestDeleteTrunkReleasesSlot(t *testing.T) {
	e := newTestEngine(t)
	var nextID int64
	store := trunkstore.New(0, 1024, 64, func() (int64, error) {
		nextID++
		return nextID, nil
	})
	info, err := store.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, 1, store.FreeExtentCount())

	ctx := &FileContext{Trunk: &info, TrunkStore: store}
	res := await(t, e.Submit(1, &Task{Kind: OpDeleteTrunk, Ctx: ctx}))
	require.NoError(t, res.Err)
	require.True(t, store.IsTrunkFullyFree(info.TrunkID))
}

func TestConnectionOrderingIsPreservedWithinAWorker(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "file.bin")

	ctx := &FileContext{Path: path, Kind: KindNormal, Start: 0, End: 6}
	r1 := await(t, e.Submit(5, &Task{Kind: OpWrite, Ctx: ctx, Data: []byte("abc")}))
	require.NoError(t, r1.Err)
	require.False(t, r1.Done)
	r2 := await(t, e.Submit(5, &Task{Kind: OpWrite, Ctx: ctx, Data: []byte("def")}))
	require.NoError(t, r2.Err)
	require.True(t, r2.Done)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(content))
}
