package snapshot

import (
	"github.com/outofforest/mass"
)

// StorageConfig tunes a Storage's holder pool capacity. Production code
// uses DefaultStorageConfig; tests use a small capacity to exercise
// exhaustion cheaply.
type StorageConfig struct {
	// Capacity bounds the number of holders the storage can retain
	// simultaneously. It is not a spec.md constant — the original
	// keeps the ring short purely by calling PurgeUntil regularly — but
	// a fixed-capacity mass.Mass pool needs an upper bound up front.
	Capacity uint64
}

// DefaultStorageConfig returns a capacity generous enough for a few
// seconds of ticks at typical server tick rates (spec.md §4.4's "list is
// short-bounded" assumption).
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{Capacity: 1024}
}

// snapshotHolder owns one tick's primary and (optional) alt payload.
// The original CSnapshotStorage packs holder and payloads into a single
// malloc'd block for cache locality; mass.Mass already gives the holder
// itself a pool allocation, so the payloads are plain byte slices
// instead of a hand-rolled contiguous layout.
type snapshotHolder struct {
	tick    int32
	tagtime int64
	data    []byte
	alt     []byte

	prev, next *snapshotHolder
}

// Storage is a doubly linked, tick-ordered ring of recent snapshots
// (spec.md §4.4). It is the sole mutator of its list; callers must
// serialize Add/PurgeAll/PurgeUntil the way a single-writer game loop
// would.
type Storage struct {
	config StorageConfig
	pool   *mass.Mass[snapshotHolder]

	// free holds holders dropped by PurgeUntil/PurgeAll, ready for Add to
	// reuse. mass.Mass itself is append-only (it has no Free call in the
	// corpus this is grounded on), so without this freelist the pool
	// would grow without bound over a long-running tick loop instead of
	// staying sized to the holders currently retained.
	free []*snapshotHolder

	first, last *snapshotHolder
	count       int
}

// NewStorage creates a Storage with the given configuration.
func NewStorage(config StorageConfig) *Storage {
	if config.Capacity == 0 {
		config.Capacity = DefaultStorageConfig().Capacity
	}
	return &Storage{
		config: config,
		pool:   mass.New[snapshotHolder](config.Capacity),
	}
}

// Init clears the storage. A freshly constructed Storage is already
// empty; Init exists for callers that reuse one across a restart.
func (s *Storage) Init() {
	s.first = nil
	s.last = nil
	s.count = 0
	s.free = s.free[:0]
}

// newHolder pops a recycled holder off the freelist left by a previous
// PurgeUntil/PurgeAll, falling back to the pool only once the freelist
// is drained. This is what makes the cap(h.data) >= len(data) reuse
// check below actually fire in steady state, instead of every Add
// drawing a fresh, never-freed element.
func (s *Storage) newHolder() *snapshotHolder {
	if n := len(s.free); n > 0 {
		h := s.free[n-1]
		s.free = s.free[:n-1]
		return h
	}
	return s.pool.New()
}

// Add links a new holder at the tail. data and alt are copied, never
// aliased, so the caller's buffers remain reusable. It panics (a class-1
// programmer error per spec.md §7) if either payload exceeds MaxSize,
// or if tick is lower than the last stored tick (an equal tick is
// accepted).
func (s *Storage) Add(tick int32, tagtime int64, data, alt []byte) {
	if len(data) > MaxSize {
		assertf("snapshot: storage add: primary payload %d exceeds MaxSize %d", len(data), MaxSize)
	}
	if len(alt) > MaxSize {
		assertf("snapshot: storage add: alt payload %d exceeds MaxSize %d", len(alt), MaxSize)
	}
	if s.last != nil && tick < s.last.tick {
		assertf("snapshot: storage add: tick %d precedes last stored tick %d", tick, s.last.tick)
	}

	h := s.newHolder()
	h.tick = tick
	h.tagtime = tagtime
	h.prev = s.last
	h.next = nil

	if cap(h.data) >= len(data) {
		h.data = h.data[:len(data)]
	} else {
		h.data = make([]byte, len(data))
	}
	copy(h.data, data)

	if alt == nil {
		h.alt = nil
	} else {
		if cap(h.alt) >= len(alt) {
			h.alt = h.alt[:len(alt)]
		} else {
			h.alt = make([]byte, len(alt))
		}
		copy(h.alt, alt)
	}

	if s.last != nil {
		s.last.next = h
	} else {
		s.first = h
	}
	s.last = h
	s.count++
}

// PurgeAll drops every holder, returning the storage to its just-Init
// state. Every dropped holder is pushed onto the freelist for Add to
// reuse, so the pool stays bounded by the number of holders currently
// retained rather than the number ever retained.
func (s *Storage) PurgeAll() {
	for h := s.first; h != nil; {
		next := h.next
		s.release(h)
		h = next
	}
	s.first = nil
	s.last = nil
	s.count = 0
}

// PurgeUntil drops every holder with tick < tick, preserving the rest
// (spec.md §4.4). It assumes the list is non-decreasing in tick, the
// same invariant Add enforces on insertion. Dropped holders are pushed
// onto the freelist rather than merely unlinked.
func (s *Storage) PurgeUntil(tick int32) {
	h := s.first
	for h != nil && h.tick < tick {
		next := h.next
		s.count--
		s.release(h)
		h = next
	}
	s.first = h
	if h == nil {
		s.last = nil
	} else {
		h.prev = nil
	}
}

// release returns h to the freelist. Its payload slices are kept, not
// nilled, so the cap(h.data) >= len(data) reuse path in Add can avoid a
// fresh allocation on the next tick that needs a similarly sized one.
func (s *Storage) release(h *snapshotHolder) {
	h.prev = nil
	h.next = nil
	s.free = append(s.free, h)
}

// Get returns the primary payload size, tagtime, and both payloads for
// the holder at tick, or (-1, false) on a miss. The search is linear
// from head, as spec.md §4.4 mandates — the list is short-bounded by
// regular PurgeUntil calls, so this is not a hot-path concern.
func (s *Storage) Get(tick int32) (size int32, tagtime int64, data, alt []byte, ok bool) {
	for h := s.first; h != nil; h = h.next {
		if h.tick == tick {
			return int32(len(h.data)), h.tagtime, h.data, h.alt, true
		}
	}
	return -1, 0, nil, nil, false
}

// Count returns the number of holders currently retained.
func (s *Storage) Count() int {
	return s.count
}

// Newest returns the most recently added holder's tick and tagtime, or
// ok == false when the storage is empty. Read-only convenience used by
// the delta sender to pick a baseline without a linear Get scan.
func (s *Storage) Newest() (tick int32, tagtime int64, ok bool) {
	if s.last == nil {
		return 0, 0, false
	}
	return s.last.tick, s.last.tagtime, true
}

// Oldest returns the earliest retained holder's tick and tagtime, or
// ok == false when the storage is empty. Read-only convenience used by
// callers bounding PurgeUntil against what's actually retained.
func (s *Storage) Oldest() (tick int32, tagtime int64, ok bool) {
	if s.first == nil {
		return 0, 0, false
	}
	return s.first.tick, s.first.tagtime, true
}
