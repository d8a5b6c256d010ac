package snapshot

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/outofforest/photon"

	"github.com/duskforge/snapshot/uuidreg"
)

// Item is a single typed, keyed payload read out of a Snapshot.
// Payload aliases the snapshot's backing buffer; callers must not
// retain it past the Snapshot's lifetime and must not write through
// it (a Snapshot is immutable once finished).
type Item struct {
	Type    int32
	ID      int32
	Payload []int32
}

// Key returns the packed (type, id) addressing this item.
func (it Item) Key() int32 {
	return key(it.Type, it.ID)
}

var empty = &Snapshot{}

// Empty returns the singleton zero-item, zero-byte snapshot used as
// "the previous snapshot" when no predecessor exists.
func Empty() *Snapshot {
	return empty
}

// Snapshot is an immutable, self-describing byte representation of
// world state at a tick: a header, an offset table, and a tightly
// packed region of header-word-prefixed items.
type Snapshot struct {
	data     []byte
	offsets  []int32
	registry *uuidreg.Registry

	indexBuilt bool
	index      map[uint64]int32
}

// NumItems returns the number of items in the snapshot.
func (s *Snapshot) NumItems() int {
	return len(s.offsets)
}

// DataSize returns the byte size of the packed item region.
func (s *Snapshot) DataSize() int32 {
	return int32(len(s.data))
}

// TotalSize returns the full encoded byte size: header, offset table,
// and packed data.
func (s *Snapshot) TotalSize() int32 {
	return 8 + int32(len(s.offsets))*wordSize + int32(len(s.data))
}

func (s *Snapshot) header(i int) TypeAndID {
	w := *photon.FromBytes[int32](s.data[s.offsets[i] : s.offsets[i]+wordSize])
	return unpackHeaderWord(w)
}

// itemSize returns the implied payload size, in words, of item i. It
// is derived from the offset table, not stored inline.
func (s *Snapshot) itemSize(i int) int32 {
	var end int32
	if i == len(s.offsets)-1 {
		end = int32(len(s.data))
	} else {
		end = s.offsets[i+1]
	}
	return (end - s.offsets[i] - wordSize) / wordSize
}

func (s *Snapshot) payload(i int) []int32 {
	n := s.itemSize(i)
	if n == 0 {
		return nil
	}
	start := s.offsets[i] + wordSize
	return photon.SliceFromPointer[int32](unsafe.Pointer(&s.data[start]), int(n))
}

// Item returns the i'th item in insertion order, O(1) via the offset
// table.
func (s *Snapshot) Item(i int) Item {
	h := s.header(i)
	return Item{Type: h.ItemType, ID: h.ID, Payload: s.payload(i)}
}

// Items returns a range-over-func iterator walking every item in
// insertion order, for callers that don't need random access.
func (s *Snapshot) Items() func(yield func(Item) bool) {
	return func(yield func(Item) bool) {
		for i := range s.offsets {
			if !yield(s.Item(i)) {
				return
			}
		}
	}
}

// ItemType returns the external type of item i, translating through
// the UUID registry when the stored type is an extended-type handle.
// If the companion indirection item or its UUID registration is
// missing, the raw internal type is returned unchanged.
func (s *Snapshot) ItemType(i int) int32 {
	h := s.header(i)
	if h.ItemType < OffsetUUIDType {
		return h.ItemType
	}
	return s.externalTypeFor(h.ItemType)
}

func (s *Snapshot) externalTypeFor(internalType int32) int32 {
	idx, ok := s.ItemIndex(key(0, internalType))
	if !ok || s.registry == nil {
		return internalType
	}
	payload := s.payload(int(idx))
	id, ok := decodeUUID(payload)
	if !ok {
		return internalType
	}
	externalType, ok := s.registry.Handle(id)
	if !ok {
		return internalType
	}
	return externalType
}

// FindItem looks up an item by its caller-visible (external type, id)
// pair. For plain external types the key is composed directly; for
// UUID-qualified types the indirection items are scanned to recover
// the internal type handle first.
func (s *Snapshot) FindItem(externalType, id int32) ([]int32, bool) {
	internalType := externalType
	if externalType >= OffsetUUID {
		var found bool
		internalType, found = s.internalTypeFor(externalType)
		if !found {
			return nil, false
		}
	}

	idx, ok := s.ItemIndex(key(internalType, id))
	if !ok {
		return nil, false
	}
	return s.payload(int(idx)), true
}

func (s *Snapshot) internalTypeFor(externalType int32) (int32, bool) {
	if s.registry == nil {
		return 0, false
	}
	id, ok := s.registry.UUID(externalType)
	if !ok {
		return 0, false
	}

	for i := range s.offsets {
		h := s.header(i)
		if h.ItemType != 0 || h.ID < OffsetUUIDType {
			continue
		}
		gotID, ok := decodeUUID(s.payload(i))
		if ok && gotID == id {
			return h.ID, true
		}
	}
	return 0, false
}

// ItemIndex returns the slot index of the item addressed by k, using
// the lazily built hashed side index when available and falling back
// to a linear scan otherwise (spec.md §4.1, §8's advisory-index rule
// mirrored from §4.3.1).
func (s *Snapshot) ItemIndex(k int32) (int32, bool) {
	s.ensureIndex()
	if idx, ok := s.index[xxhash.Sum64(keyBytes(k))]; ok {
		return idx, true
	}
	for i := range s.offsets {
		if s.header(i).key() == k {
			return int32(i), true
		}
	}
	return 0, false
}

func (s *Snapshot) ensureIndex() {
	if s.indexBuilt {
		return
	}
	s.index = make(map[uint64]int32, len(s.offsets))
	for i := range s.offsets {
		s.index[xxhash.Sum64(keyBytes(s.header(i).key()))] = int32(i)
	}
	s.indexBuilt = true
}

// CRC is a wrapping sum of every 32-bit payload word of every item.
// Item order never affects the result. It is not a cryptographic
// checksum; it exists strictly to detect a mismatch between two
// snapshots believed to be equal.
func (s *Snapshot) CRC() uint32 {
	var sum uint32
	for i := range s.offsets {
		for _, w := range s.payload(i) {
			sum += uint32(w)
		}
	}
	return sum
}

// IsValid reports whether the snapshot's header, offset table, and
// implied item sizes are all within bounds, and whether actualSize
// equals TotalSize(). No untrusted byte blob should be treated as a
// valid Snapshot unless this returns true.
func (s *Snapshot) IsValid(actualSize int32) bool {
	if len(s.offsets) > MaxItems {
		return false
	}
	if len(s.data) > MaxSize {
		return false
	}
	if actualSize != s.TotalSize() {
		return false
	}

	seen := make(map[int32]struct{}, len(s.offsets))
	var prev int32 = -1
	for i, off := range s.offsets {
		if off < 0 || off > int32(len(s.data)) || off%wordSize != 0 {
			return false
		}
		if off < prev {
			return false
		}
		prev = off
		if s.itemSize(i) < 0 {
			return false
		}
		k := s.header(i).key()
		if _, dup := seen[k]; dup {
			return false
		}
		seen[k] = struct{}{}
	}
	return true
}

// Encode writes the on-wire form of the snapshot — header, offset
// table, packed data — into buf and returns the number of bytes
// written. buf must have at least TotalSize() bytes of room.
func (s *Snapshot) Encode(buf []byte) int {
	hdr := photon.FromBytes[snapshotHeader](buf[:8])
	hdr.DataSize = s.DataSize()
	hdr.NumItems = int32(len(s.offsets))

	if len(s.offsets) > 0 {
		offBytes := buf[8 : 8+len(s.offsets)*wordSize]
		copy(photon.SliceFromPointer[int32](unsafe.Pointer(&offBytes[0]), len(s.offsets)), s.offsets)
	}

	copy(buf[8+len(s.offsets)*wordSize:], s.data)
	return int(s.TotalSize())
}

type snapshotHeader struct {
	DataSize int32
	NumItems int32
}

// Parse validates and reconstructs a Snapshot from its on-wire form.
// It returns an error rather than panicking: decoding untrusted bytes
// is a class-2 path per spec.md §7.
func Parse(registry *uuidreg.Registry, buf []byte) (*Snapshot, error) {
	if len(buf) < 8 {
		return nil, errTruncated("header")
	}
	hdr := *photon.FromBytes[snapshotHeader](buf[:8])
	if hdr.NumItems < 0 || hdr.NumItems > MaxItems {
		return nil, errMalformed("num_items out of range")
	}
	if hdr.DataSize < 0 || hdr.DataSize > MaxSize {
		return nil, errMalformed("data_size out of range")
	}

	offsetsEnd := 8 + int(hdr.NumItems)*wordSize
	if len(buf) < offsetsEnd {
		return nil, errTruncated("offset table")
	}
	dataEnd := offsetsEnd + int(hdr.DataSize)
	if len(buf) < dataEnd {
		return nil, errTruncated("data region")
	}

	offsets := make([]int32, hdr.NumItems)
	if hdr.NumItems > 0 {
		offView := photon.SliceFromPointer[int32](unsafe.Pointer(&buf[8]), int(hdr.NumItems))
		copy(offsets, offView)
	}

	data := make([]byte, hdr.DataSize)
	copy(data, buf[offsetsEnd:dataEnd])

	s := &Snapshot{data: data, offsets: offsets, registry: registry}
	if !s.IsValid(int32(dataEnd)) {
		return nil, errMalformed("offsets/sizes inconsistent")
	}
	return s, nil
}

func keyBytes(k int32) []byte {
	b := make([]byte, 4)
	b[0] = byte(k)
	b[1] = byte(k >> 8)
	b[2] = byte(k >> 16)
	b[3] = byte(k >> 24)
	return b
}

// decodeUUID reconstructs the UUID carried by an indirection item's
// payload: 16 bytes, big-endian, packed as four 32-bit words
// (spec.md §3).
func decodeUUID(payload []int32) (uuid.UUID, bool) {
	if len(payload) != 4 {
		return uuid.UUID{}, false
	}
	var out uuid.UUID
	for i, w := range payload {
		out[i*4] = byte(w >> 24)
		out[i*4+1] = byte(w >> 16)
		out[i*4+2] = byte(w >> 8)
		out[i*4+3] = byte(w)
	}
	return out, true
}

// encodeUUID is the inverse of decodeUUID, used by Builder when
// emitting an indirection item.
func encodeUUID(id uuid.UUID) [4]int32 {
	var out [4]int32
	for i := range out {
		out[i] = int32(id[i*4])<<24 | int32(id[i*4+1])<<16 | int32(id[i*4+2])<<8 | int32(id[i*4+3])
	}
	return out
}
