// Package trunkstore implements the trunk-file allocator: a free-space
// tree over a store path's shared trunk files, used to pack small
// logical files into shared physical files.
//
// Generalized from a simple append-only packing log into a proper
// free/allocated slot allocator supporting release and coalescing,
// using github.com/google/btree for the ordered free-extent index.
package trunkstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
)

// ErrNoSpace is returned by Allocate when the configured trunk size is
// smaller than the requested allocation.
var ErrNoSpace = errors.New("trunkstore: requested size exceeds trunk file size")

// ErrConflict is returned when a slot's existing on-disk header is
// neither zero nor "dead" ("Collision check").
var ErrConflict = errors.New("trunkstore: slot header collision")

// TrunkInfo identifies one allocated or free slot within a store
// path's trunk-file set ("trunk-info tuple").
type TrunkInfo struct {
	StorePathIndex int
	TrunkID        int64
	Offset         int64
	SlotSize       int64
}

// NewTrunkFunc is called by the allocator when it needs to extend the
// free-space pool with a brand-new trunk file of the configured size.
// It must create (or at least reserve) the file and return its id.
type NewTrunkFunc func() (trunkID int64, err error)

// Store is the free-space allocator for one store path. It is safe
// for concurrent use; allocate/release are serialized per store path,
// which a single mutex provides directly.
type Store struct {
	StorePathIndex int
	TrunkSize      int64
	AllocUnit      int64
	NewTrunk       NewTrunkFunc

	mu         sync.Mutex
	free       *btree.BTree            // ordered by (size, trunkID, offset), for best-fit search
	byTrunkOff map[int64]*btree.BTree  // trunkID -> ordered by offset, for coalescing
	trunks     map[int64]bool          // every trunk id the allocator knows about
}

// New constructs an empty Store. Call AddTrunk for any trunk files
// that already exist on disk before serving allocations.
func New(storePathIndex int, trunkSize, allocUnit int64, newTrunk NewTrunkFunc) *Store {
	if allocUnit <= 0 {
		allocUnit = 64
	}
	return &Store{
		StorePathIndex: storePathIndex,
		TrunkSize:      trunkSize,
		AllocUnit:      allocUnit,
		NewTrunk:       newTrunk,
		free:           btree.New(32),
		byTrunkOff:     make(map[int64]*btree.BTree),
		trunks:         make(map[int64]bool),
	}
}

func alignUp(n, unit int64) int64 {
	if n <= 0 {
		return unit
	}
	rem := n % unit
	if rem == 0 {
		return n
	}
	return n + (unit - rem)
}

// AddTrunk registers a pre-existing trunk file with a single free
// extent spanning [offset, offset+size). Used during startup recovery
// (cmd/storaged's loadExistingTrunks) and by tests.
func (s *Store) AddTrunk(trunkID int64, offset, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trunks[trunkID] = true
	s.insertFreeLocked(extent{trunkID: trunkID, offset: offset, size: size})
}

// TrunkCount returns the number of trunk files the allocator knows about.
func (s *Store) TrunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trunks)
}

// FreeExtentCount returns how many free extents exist across all
// trunk files (used by tests asserting coalescing).
func (s *Store) FreeExtentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.free.Len()
}

// FreeExtentsInTrunk returns the free extent sizes within one trunk
// file, in ascending offset order (test/debug helper).
func (s *Store) FreeExtentsInTrunk(trunkID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byTrunkOff[trunkID]
	if !ok {
		return nil
	}
	var sizes []int64
	t.Ascend(func(it btree.Item) bool {
		sizes = append(sizes, it.(offsetItem).size)
		return true
	})
	return sizes
}

// Allocate reserves a slot of at least n bytes (rounded up to
// AllocUnit), extending the trunk-file set with a new trunk if no
// existing free extent is large enough ("Allocation").
func (s *Store) Allocate(n int64) (TrunkInfo, error) {
	size := alignUp(n, s.AllocUnit)
	if size > s.TrunkSize {
		return TrunkInfo{}, fmt.Errorf("%w: %d > trunk size %d", ErrNoSpace, size, s.TrunkSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ext, ok := s.bestFitLocked(size)
	if !ok {
		if s.NewTrunk == nil {
			return TrunkInfo{}, fmt.Errorf("%w: no free extent and no trunk factory configured", ErrNoSpace)
		}
		trunkID, err := s.NewTrunk()
		if err != nil {
			return TrunkInfo{}, fmt.Errorf("trunkstore: creating new trunk: %w", err)
		}
		s.trunks[trunkID] = true
		s.insertFreeLocked(extent{trunkID: trunkID, offset: 0, size: s.TrunkSize})
		ext, ok = s.bestFitLocked(size)
		if !ok {
			return TrunkInfo{}, fmt.Errorf("%w: new trunk still insufficient", ErrNoSpace)
		}
	}

	s.removeFreeLocked(ext)
	if ext.size > size {
		remainder := extent{trunkID: ext.trunkID, offset: ext.offset + size, size: ext.size - size}
		s.insertFreeLocked(remainder)
	}

	return TrunkInfo{
		StorePathIndex: s.StorePathIndex,
		TrunkID:        ext.trunkID,
		Offset:         ext.offset,
		SlotSize:       size,
	}, nil
}

// Release returns a previously allocated slot to the free pool,
// coalescing it with any immediately adjacent free extents in the
// same trunk file ("Release").
func (s *Store) Release(info TrunkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := extent{trunkID: info.TrunkID, offset: info.Offset, size: info.SlotSize}

	if t, ok := s.byTrunkOff[cur.trunkID]; ok {
		var pred *offsetItem
		t.DescendLessOrEqual(offsetItem{offset: cur.offset}, func(it btree.Item) bool {
			p := it.(offsetItem)
			pred = &p
			return false
		})
		if pred != nil && pred.offset+pred.size == cur.offset {
			s.removeFreeLocked(extent(*pred))
			cur.offset = pred.offset
			cur.size += pred.size
		}

		var succ *offsetItem
		t.AscendGreaterOrEqual(offsetItem{offset: cur.offset + cur.size}, func(it btree.Item) bool {
			sitem := it.(offsetItem)
			succ = &sitem
			return false
		})
		if succ != nil && cur.offset+cur.size == succ.offset {
			s.removeFreeLocked(extent(*succ))
			cur.size += succ.size
		}
	}

	s.insertFreeLocked(cur)
}

// IsTrunkFullyFree reports whether trunkID currently has exactly one
// free extent spanning the whole trunk file.
func (s *Store) IsTrunkFullyFree(trunkID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byTrunkOff[trunkID]
	if !ok || t.Len() != 1 {
		return false
	}
	var only offsetItem
	t.Ascend(func(it btree.Item) bool { only = it.(offsetItem); return false })
	return only.offset == 0 && only.size == s.TrunkSize
}

func (s *Store) bestFitLocked(size int64) (extent, bool) {
	var found *freeItem
	s.free.AscendGreaterOrEqual(freeItem{size: size}, func(it btree.Item) bool {
		f := it.(freeItem)
		found = &f
		return false
	})
	if found == nil {
		return extent{}, false
	}
	return extent(*found), true
}

func (s *Store) insertFreeLocked(e extent) {
	s.free.ReplaceOrInsert(freeItem(e))
	t, ok := s.byTrunkOff[e.trunkID]
	if !ok {
		t = btree.New(32)
		s.byTrunkOff[e.trunkID] = t
	}
	t.ReplaceOrInsert(offsetItem(e))
}

func (s *Store) removeFreeLocked(e extent) {
	s.free.Delete(freeItem(e))
	if t, ok := s.byTrunkOff[e.trunkID]; ok {
		t.Delete(offsetItem(e))
	}
}

// extent is a contiguous free byte range inside one trunk file.
type extent struct {
	trunkID int64
	offset  int64
	size    int64
}

// freeItem orders extents by (size, trunkID, offset) so best-fit
// allocation is a single AscendGreaterOrEqual scan.
type freeItem extent

func (a freeItem) Less(than btree.Item) bool {
	b := than.(freeItem)
	if a.size != b.size {
		return a.size < b.size
	}
	if a.trunkID != b.trunkID {
		return a.trunkID < b.trunkID
	}
	return a.offset < b.offset
}

// offsetItem orders extents by offset alone, scoped to one trunk file
// (one *btree.BTree per trunk id), for neighbor lookups during release.
type offsetItem extent

func (a offsetItem) Less(than btree.Item) bool {
	return a.offset < than.(offsetItem).offset
}
