package snapshot

// djb2 hash index: 256 buckets of at most 64 (key, itemIndex) slots,
// exactly as spec.md §4.3.1 mandates. With MaxItems == 1024, 256*64 ==
// 16384 slots are ample — the cap exists purely to defend against
// pathological inputs, and callers fall back to a linear scan when a
// bucket has overflowed, per spec.md's "advisory index" rule.
const (
	hashBuckets     = 256
	hashSlotsPerBucket = 64
)

type hashSlot struct {
	key   int32
	index int32
	used  bool
}

type hashIndex struct {
	buckets [hashBuckets][hashSlotsPerBucket]hashSlot
	counts  [hashBuckets]int
}

func newHashIndex() *hashIndex {
	return &hashIndex{}
}

func (h *hashIndex) reset() {
	for i := range h.counts {
		h.counts[i] = 0
	}
	for b := range h.buckets {
		for s := range h.buckets[b] {
			h.buckets[b][s].used = false
		}
	}
}

// insert records key -> index. If the bucket is already full, the key
// is silently dropped from the index; lookups for it must fall back to
// a linear scan (spec.md §4.3.1, §9).
func (h *hashIndex) insert(key, index int32) {
	bucket := djb2(key) % hashBuckets
	n := h.counts[bucket]
	if n >= hashSlotsPerBucket {
		return
	}
	h.buckets[bucket][n] = hashSlot{key: key, index: index, used: true}
	h.counts[bucket]++
}

// lookup returns the recorded index for key, or (-1, false) if the key
// was never inserted or was dropped due to bucket overflow. A false
// result is advisory only — the caller must fall back to a linear scan
// before concluding the key is absent.
func (h *hashIndex) lookup(key int32) (int32, bool) {
	bucket := djb2(key) % hashBuckets
	for i := 0; i < h.counts[bucket]; i++ {
		if slot := h.buckets[bucket][i]; slot.used && slot.key == key {
			return slot.index, true
		}
	}
	return -1, false
}

// djb2 hashes the four bytes of key, low-order byte first, per
// spec.md §4.3.1.
func djb2(key int32) uint32 {
	h := uint32(5381)
	b := [4]byte{byte(key), byte(key >> 8), byte(key >> 16), byte(key >> 24)}
	for _, c := range b {
		h = h*33 + uint32(c)
	}
	return h
}
