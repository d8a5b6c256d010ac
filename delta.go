package snapshot

import (
	"encoding/binary"
	"math"

	"github.com/duskforge/snapshot/uuidreg"
	"github.com/duskforge/snapshot/varint"
)

// DeltaConfig tunes a Delta's static-size registry capacity.
type DeltaConfig struct {
	MaxNetObjSizes int
}

// DefaultDeltaConfig returns the §6 wire-format constant.
func DefaultDeltaConfig() DeltaConfig {
	return DeltaConfig{MaxNetObjSizes: MaxNetObjSizes}
}

// RateStats accumulates per-type telemetry for UnpackDelta's undiff
// pass: total bits spent decoding updates of a type and how many
// update records were seen. It has no effect on decoding correctness;
// it exists purely for the caller's bandwidth accounting.
type RateStats struct {
	Bits    uint64
	Updates uint64
}

// Delta is the stateless codec that produces and consumes a delta
// between two Snapshots. "Stateless" refers to the encoding itself
// (CreateDelta/UnpackDelta never depend on a prior call); the instance
// still carries the static-size registry and rate counters described
// in spec.md §4.3.
type Delta struct {
	config    DeltaConfig
	itemSizes []int16
	stats     []RateStats
}

// NewDelta creates a Delta with the given configuration.
func NewDelta(config DeltaConfig) *Delta {
	if config.MaxNetObjSizes <= 0 {
		config.MaxNetObjSizes = MaxNetObjSizes
	}
	return &Delta{
		config:    config,
		itemSizes: make([]int16, config.MaxNetObjSizes),
		stats:     make([]RateStats, config.MaxNetObjSizes),
	}
}

// SetStaticSize registers the payload size, in bytes, of every item of
// itemType, letting update records for that type omit the size_words
// field. A zero size clears the registration. Panics on an
// out-of-range type or a size that is negative or doesn't fit an int16
// (spec.md §4.3.2) — both are programmer errors, not decode failures.
func (d *Delta) SetStaticSize(itemType, sizeBytes int32) {
	if itemType < 0 || int(itemType) >= len(d.itemSizes) {
		assertf("snapshot: static size type %d out of range [0, %d)", itemType, len(d.itemSizes))
	}
	if sizeBytes < 0 || sizeBytes > math.MaxInt16 {
		assertf("snapshot: static size %d out of range [0, %d]", sizeBytes, math.MaxInt16)
	}
	d.itemSizes[itemType] = int16(sizeBytes)
}

func (d *Delta) staticSize(itemType int32) (int32, bool) {
	if itemType < 0 || int(itemType) >= len(d.itemSizes) {
		return 0, false
	}
	sz := d.itemSizes[itemType]
	if sz == 0 {
		return 0, false
	}
	return int32(sz), true
}

// Stats returns the accumulated rate telemetry for itemType.
func (d *Delta) Stats(itemType int32) RateStats {
	if itemType < 0 || int(itemType) >= len(d.stats) {
		return RateStats{}
	}
	return d.stats[itemType]
}

// ResetStats zeroes every type's rate telemetry, for servers that
// window their bandwidth accounting per reporting interval.
func (d *Delta) ResetStats() {
	for i := range d.stats {
		d.stats[i] = RateStats{}
	}
}

func (d *Delta) recordRate(itemType int32, bits uint64) {
	if itemType < 0 || int(itemType) >= len(d.stats) {
		return
	}
	d.stats[itemType].Bits += bits
	d.stats[itemType].Updates++
}

// CreateDelta encodes the delta that takes `from` to `to`. It returns
// nil when from and to carry the same set of (key, payload) pairs —
// spec.md §4.3 step 7's "no delta needed" — and the encoded bytes
// otherwise.
func (d *Delta) CreateDelta(from, to *Snapshot) []byte {
	buf := make([]byte, 12)

	toIndex := newHashIndex()
	for i := range to.offsets {
		toIndex.insert(to.header(i).key(), int32(i))
	}

	var numDeleted int32
	for i := range from.offsets {
		k := from.header(i).key()
		if _, found := lookupInSnapshot(to, toIndex, k); !found {
			buf = appendInt32(buf, k)
			numDeleted++
		}
	}

	fromIndex := newHashIndex()
	for i := range from.offsets {
		fromIndex.insert(from.header(i).key(), int32(i))
	}

	// Prepass: resolve every `to` item's matching `from` index up
	// front, so the diff pass below touches `from`'s item bodies
	// sequentially instead of interleaving lookups with payload reads
	// (spec.md §4.3 step 5).
	matches := make([]int32, len(to.offsets))
	for i := range to.offsets {
		if idx, found := lookupInSnapshot(from, fromIndex, to.header(i).key()); found {
			matches[i] = idx
		} else {
			matches[i] = -1
		}
	}

	var numUpdate int32
	for i := range to.offsets {
		h := to.header(i)
		cur := to.payload(i)
		_, hasStatic := d.staticSize(h.ItemType)

		if fromIdx := matches[i]; fromIdx >= 0 {
			past := from.payload(int(fromIdx))
			if len(past) == len(cur) {
				diff := make([]int32, len(cur))
				var changed bool
				for w := range cur {
					diff[w] = int32(uint32(cur[w]) - uint32(past[w]))
					if diff[w] != 0 {
						changed = true
					}
				}
				if !changed {
					continue
				}
				buf = appendUpdateHeader(buf, h.ItemType, h.ID, hasStatic, int32(len(cur)))
				for _, w := range diff {
					buf = appendInt32(buf, w)
				}
				numUpdate++
				continue
			}
		}

		buf = appendUpdateHeader(buf, h.ItemType, h.ID, hasStatic, int32(len(cur)))
		for _, w := range cur {
			buf = appendInt32(buf, w)
		}
		numUpdate++
	}

	if numDeleted == 0 && numUpdate == 0 {
		return nil
	}

	binary.LittleEndian.PutUint32(buf[0:4], uint32(numDeleted))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(numUpdate))
	// num_temp (buf[8:12]) stays zero: this core never emits it and
	// treats it as reserved for forward compatibility (spec.md §4.3,
	// design note on num_temp).
	return buf
}

func appendUpdateHeader(buf []byte, itemType, id int32, hasStatic bool, sizeWords int32) []byte {
	buf = appendInt32(buf, itemType)
	buf = appendInt32(buf, id)
	if !hasStatic {
		buf = appendInt32(buf, sizeWords)
	}
	return buf
}

func appendInt32(buf []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}

func readInt32(buf []byte) int32 {
	return int32(binary.LittleEndian.Uint32(buf))
}

// lookupInSnapshot resolves key k to its item index in s, preferring
// idx's hashed lookup and falling back to a linear scan when the
// index reports a miss — a miss is ambiguous between "absent" and
// "dropped for bucket overflow" (spec.md §4.3.1).
func lookupInSnapshot(s *Snapshot, idx *hashIndex, k int32) (int32, bool) {
	if i, ok := idx.lookup(k); ok {
		return i, true
	}
	for i := range s.offsets {
		if s.header(i).key() == k {
			return int32(i), true
		}
	}
	return 0, false
}

// UnpackDelta decodes data (produced by CreateDelta, or crafted by an
// untrusted peer) against `from`, returning the reconstructed
// snapshot. Every returned error is one of the negative §6 codes.
func (d *Delta) UnpackDelta(from *Snapshot, data []byte, registry *uuidreg.Registry) (*Snapshot, error) {
	if len(data) < 12 {
		return nil, decodeErr(-201, "delta header truncated")
	}
	numDeleted := readInt32(data[0:4])
	numUpdate := readInt32(data[4:8])
	numTemp := readInt32(data[8:12])
	if numDeleted < 0 || numUpdate < 0 || numTemp < 0 {
		return nil, decodeErr(-201, "negative delta counters")
	}

	pos := 12
	deleted := make(map[int32]struct{}, numDeleted)
	for i := int32(0); i < numDeleted; i++ {
		if pos+4 > len(data) {
			return nil, decodeErr(-101, "deleted key section truncated")
		}
		deleted[readInt32(data[pos:pos+4])] = struct{}{}
		pos += 4
	}

	builder := NewBuilder(BuilderConfig{Registry: registry})
	for i := range from.offsets {
		h := from.header(i)
		if _, isDeleted := deleted[h.key()]; isDeleted {
			continue
		}
		payload := from.payload(i)
		dst := builder.rawNewItem(h.ItemType, h.ID, int32(len(payload))*wordSize)
		if dst == nil {
			return nil, decodeErr(-301, "builder refused carried-forward item")
		}
		copy(dst, payload)
	}

	for u := int32(0); u < numUpdate; u++ {
		if pos+8 > len(data) {
			return nil, decodeErr(-102, "update record truncated")
		}
		itemType := readInt32(data[pos : pos+4])
		pos += 4
		if itemType < 0 || itemType > MaxType {
			return nil, decodeErr(-202, "item type out of range")
		}
		id := readInt32(data[pos : pos+4])
		pos += 4
		if id < 0 || id > MaxID {
			return nil, decodeErr(-203, "item id out of range (id == -1 is reserved)")
		}

		var sizeWords int32
		staticSize, hasStatic := d.staticSize(itemType)
		if hasStatic {
			sizeWords = staticSize / wordSize
		} else {
			if pos+4 > len(data) {
				return nil, decodeErr(-204, "size_words truncated")
			}
			sizeWords = readInt32(data[pos : pos+4])
			pos += 4
			if sizeWords < 0 {
				return nil, decodeErr(-204, "negative size_words")
			}
		}

		sizeBytes := sizeWords * wordSize
		if sizeWords < 0 || sizeBytes/wordSize != sizeWords {
			return nil, decodeErr(-204, "size_words overflows byte count")
		}
		if pos+int(sizeBytes) > len(data) {
			return nil, decodeErr(-205, "update payload truncated")
		}

		k := key(itemType, id)
		dst, exists := builder.GetItemData(k)
		if !exists {
			dst = builder.rawNewItem(itemType, id, sizeBytes)
			if dst == nil {
				return nil, decodeErr(-302, "builder refused new item")
			}
		}

		fromIdx, hadPrev := findKeyLinear(from, k)
		switch {
		case hadPrev:
			past := from.payload(int(fromIdx))
			if len(past) != int(sizeWords) {
				return nil, decodeErr(-205, "size mismatch with previous item")
			}
			var bits uint64
			for w := 0; w < int(sizeWords); w++ {
				diffWord := readInt32(data[pos+w*wordSize : pos+w*wordSize+4])
				dst[w] = int32(uint32(past[w]) + uint32(diffWord))
				if diffWord == 0 {
					bits++
				} else {
					bits += uint64(varint.EncodedLen(diffWord)) * 8
				}
			}
			d.recordRate(itemType, bits)
		default:
			for w := 0; w < int(sizeWords); w++ {
				dst[w] = readInt32(data[pos+w*wordSize : pos+w*wordSize+4])
			}
			d.recordRate(itemType, uint64(sizeBytes)*8)
		}
		pos += int(sizeBytes)
	}

	return builder.Finish(), nil
}

func findKeyLinear(s *Snapshot, k int32) (int32, bool) {
	for i := range s.offsets {
		if s.header(i).key() == k {
			return int32(i), true
		}
	}
	return 0, false
}
