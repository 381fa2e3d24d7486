// Package index keeps the in-memory list of stored fault records.
//
// The index holds one handle per live record, ordered by sequence number,
// both across all categories and per category. Writers are serialized by
// the caller; every change publishes a new immutable Snapshot through an
// atomic pointer so readers never take a lock.
package index

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// Snapshot is an immutable view of the index at one version.
type Snapshot struct {
	version uint64
	all     []types.Handle // Ascending Seq
	byCat   map[types.Category][]types.Handle
}

var emptySnapshot = &Snapshot{byCat: map[types.Category][]types.Handle{}}

// Version returns the version the snapshot was published at. Every change
// to the index increments it.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of live records.
func (s *Snapshot) Len() int {
	return len(s.all)
}

// Count returns the number of live records of a category;
// CategoryUnspecified counts all of them.
func (s *Snapshot) Count(cat types.Category) int {
	return len(s.ascending(cat))
}

// LastSeq returns the highest live sequence number, or 0.
func (s *Snapshot) LastSeq() int64 {
	if len(s.all) == 0 {
		return 0
	}
	return s.all[len(s.all)-1].Seq
}

func (s *Snapshot) ascending(cat types.Category) []types.Handle {
	if cat == types.CategoryUnspecified {
		return s.all
	}
	return s.byCat[cat]
}

// List returns the handles of a category, most recent first.
// CategoryUnspecified lists every category interleaved by Seq.
func (s *Snapshot) List(cat types.Category) []types.Handle {
	src := s.ascending(cat)
	if len(src) == 0 {
		return nil
	}

	out := make([]types.Handle, len(src))
	for i, h := range src {
		out[len(src)-1-i] = h
	}
	return out
}

// Each calls fn for the handles of a category, most recent first, until
// fn returns false.
func (s *Snapshot) Each(cat types.Category, fn func(types.Handle) bool) {
	src := s.ascending(cat)
	for i := len(src) - 1; i >= 0; i-- {
		if !fn(src[i]) {
			return
		}
	}
}

// Oldest returns the handles of a category, oldest first, until fn returns
// false. The slice passed around is never modified by the index.
func (s *Snapshot) Oldest(cat types.Category, fn func(types.Handle) bool) {
	for _, h := range s.ascending(cat) {
		if !fn(h) {
			return
		}
	}
}

// Get looks up a live handle by sequence number.
func (s *Snapshot) Get(seq int64) (types.Handle, bool) {
	i := sort.Search(len(s.all), func(i int) bool { return s.all[i].Seq >= seq })
	if i < len(s.all) && s.all[i].Seq == seq {
		return s.all[i], true
	}
	return types.Handle{}, false
}

// Segments returns the set of WAL segments referenced by live handles.
func (s *Snapshot) Segments() map[int64]int {
	out := make(map[int64]int)
	for _, h := range s.all {
		out[h.Location.Segment]++
	}
	return out
}

// Stats holds index statistics.
type Stats struct {
	Version    uint64
	Live       int
	ByCategory map[types.Category]int
	Appended   int64
	Removed    int64
}

// Index is the persistent record index. Append and Remove must be called
// by one writer at a time; Snapshot and List may be called concurrently
// with anything.
type Index struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]

	appended atomic.Int64
	removed  atomic.Int64
}

// New creates an empty index.
func New() *Index {
	ix := &Index{}
	ix.snap.Store(emptySnapshot)
	return ix
}

// Snapshot returns the current immutable view.
func (ix *Index) Snapshot() *Snapshot {
	return ix.snap.Load()
}

// List returns the handles of a category from the current view, most
// recent first.
func (ix *Index) List(cat types.Category) []types.Handle {
	return ix.Snapshot().List(cat)
}

// Append adds a handle. Its Seq must be greater than every live Seq and its
// category must be a concrete fault kind.
func (ix *Index) Append(h types.Handle) error {
	if !h.Category.Concrete() {
		return fmt.Errorf("%w: %s", errors.ErrInvalidCategory, h.Category)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.snap.Load()
	if h.Seq <= cur.LastSeq() {
		return fmt.Errorf("%w: seq %d not after %d", errors.ErrInternal, h.Seq, cur.LastSeq())
	}

	// Appending may share the backing array with cur. cur never reads past
	// its own length and only the latest snapshot is ever extended.
	next := &Snapshot{
		version: cur.version + 1,
		all:     append(cur.all, h),
		byCat:   make(map[types.Category][]types.Handle, len(cur.byCat)+1),
	}
	for c, l := range cur.byCat {
		next.byCat[c] = l
	}
	next.byCat[h.Category] = append(cur.byCat[h.Category], h)

	ix.snap.Store(next)
	ix.appended.Add(1)
	return nil
}

// Remove drops the handles with the given sequence numbers and returns the
// handles actually removed. Unknown sequence numbers are ignored.
func (ix *Index) Remove(seqs []int64) []types.Handle {
	if len(seqs) == 0 {
		return nil
	}

	drop := make(map[int64]struct{}, len(seqs))
	for _, s := range seqs {
		drop[s] = struct{}{}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.snap.Load()

	var removed []types.Handle
	all := make([]types.Handle, 0, len(cur.all))
	byCat := make(map[types.Category][]types.Handle, len(cur.byCat))
	for _, h := range cur.all {
		if _, ok := drop[h.Seq]; ok {
			removed = append(removed, h)
			continue
		}
		all = append(all, h)
		byCat[h.Category] = append(byCat[h.Category], h)
	}

	if len(removed) == 0 {
		return nil
	}

	ix.snap.Store(&Snapshot{
		version: cur.version + 1,
		all:     all,
		byCat:   byCat,
	})
	ix.removed.Add(int64(len(removed)))
	return removed
}

// Stats returns index statistics.
func (ix *Index) Stats() Stats {
	s := ix.Snapshot()

	byCat := make(map[types.Category]int, len(s.byCat))
	for c, l := range s.byCat {
		if len(l) > 0 {
			byCat[c] = len(l)
		}
	}

	return Stats{
		Version:    s.version,
		Live:       len(s.all),
		ByCategory: byCat,
		Appended:   ix.appended.Load(),
		Removed:    ix.removed.Load(),
	}
}
