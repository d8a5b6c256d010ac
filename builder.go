package snapshot

import (
	"unsafe"

	"github.com/google/uuid"

	"github.com/outofforest/photon"

	"github.com/duskforge/snapshot/uuidreg"
)

// BuilderConfig tunes a Builder. Production code uses
// DefaultBuilderConfig; tests use smaller budgets to exercise overflow
// paths cheaply.
type BuilderConfig struct {
	MaxItems              int
	MaxSize               int32
	MaxExtendedItemTypes  int
	Registry              *uuidreg.Registry
	// SixupMap remaps a positive internal type for protocol-v7
	// compatibility mode (spec.md §4.2). The real table is a
	// game-specific concern living outside this module; the identity
	// map is used when nil.
	SixupMap func(int32) int32
}

// DefaultBuilderConfig returns the §6 wire-format constants.
func DefaultBuilderConfig(registry *uuidreg.Registry) BuilderConfig {
	return BuilderConfig{
		MaxItems:             MaxItems,
		MaxSize:              MaxSize,
		MaxExtendedItemTypes: MaxExtendedItemTypes,
		Registry:             registry,
	}
}

// Builder is a single-writer accumulator that assembles the next
// Snapshot. It is intended to be reused tick over tick via Init.
type Builder struct {
	config BuilderConfig

	data    []byte
	offsets []int32
	dataSize int32

	sixup bool

	// extendedItemTypes persists across Init to keep handle assignment
	// stable within the builder's lifetime (spec.md §4.2). Keyed by the
	// caller's external type id, exactly as spec.md §4.2 types it
	// (extended_item_types: Vec<i32>); the UUID behind each entry is
	// resolved from the registry only when its indirection item is
	// emitted.
	extendedItemTypes []int32
}

// NewBuilder creates a Builder with the given configuration.
func NewBuilder(config BuilderConfig) *Builder {
	if config.MaxItems <= 0 {
		config.MaxItems = MaxItems
	}
	if config.MaxSize <= 0 {
		config.MaxSize = MaxSize
	}
	if config.MaxExtendedItemTypes <= 0 {
		config.MaxExtendedItemTypes = MaxExtendedItemTypes
	}
	if config.SixupMap == nil {
		config.SixupMap = func(t int32) int32 { return t }
	}
	return &Builder{
		config:  config,
		data:    make([]byte, config.MaxSize),
		offsets: make([]int32, 0, config.MaxItems),
	}
}

// Init resets the builder for a new snapshot. Every extended type
// handle assigned in a previous snapshot is re-announced by emitting
// its indirection item again, so the resulting snapshot is
// self-describing even if no instance of that type is added this
// tick.
func (b *Builder) Init(sixup bool) {
	b.offsets = b.offsets[:0]
	b.dataSize = 0
	b.sixup = sixup

	for idx, itemType := range b.extendedItemTypes {
		b.emitIndirection(int32(idx), itemType)
	}
}

// Reset is Init(false), for callers that never use sixup mode.
func (b *Builder) Reset() {
	b.Init(false)
}

func (b *Builder) emitIndirection(idx, itemType int32) {
	id, ok := b.uuidForType(itemType)
	if !ok {
		assertf("snapshot: no UUID registered for extended item type %d", itemType)
	}

	payload := b.rawNewItem(0, MaxType-idx, 16)
	if payload == nil {
		assertf("snapshot: builder overflow while re-emitting indirection item %d", idx)
	}
	words := encodeUUID(id)
	copy(payload, words[:])
}

func (b *Builder) uuidForType(itemType int32) (uuid.UUID, bool) {
	if b.config.Registry == nil {
		return uuid.UUID{}, false
	}
	return b.config.Registry.UUID(itemType)
}

// NewItem allocates a new item of itemType/id with a size_bytes-byte
// payload (size_bytes must be a multiple of 4) and returns a writable
// view over it. It returns nil if id == -1 (reserved, invalid). It
// panics — a programmer error, never an untrusted-input error — if the
// item would overflow MaxItems or MaxSize.
func (b *Builder) NewItem(itemType, id, sizeBytes int32) []int32 {
	if id == -1 {
		return nil
	}

	internalType := itemType
	extended := itemType >= OffsetUUID
	if extended {
		idx, ok := b.extendedTypeIndex(itemType)
		if !ok {
			assertf("snapshot: extended item types exhausted (max %d)", b.config.MaxExtendedItemTypes)
		}
		internalType = MaxType - idx
	}

	// Sixup remapping never touches extended-type handles: SixupMap is
	// keyed by ordinary game object types and has no reason to know
	// about the near-MaxType handles the extended-type table assigns,
	// so running one through it risks mapping it negative and silently
	// dropping the UUID object's indirection-backed item.
	if b.sixup && !extended {
		mapped := b.config.SixupMap(internalType)
		if internalType < 0 {
			mapped = -internalType
		}
		if mapped < 0 {
			// Writes are accepted but the item is not emitted: the
			// caller gets a scratch buffer to write into, but no
			// offset is recorded, so the item never appears in the
			// finished snapshot.
			return make([]int32, sizeBytes/wordSize)
		}
		internalType = mapped
	}

	payload := b.rawNewItem(internalType, id, sizeBytes)
	if payload == nil {
		assertf("snapshot: builder overflow allocating type %d id %d (%d bytes)", internalType, id, sizeBytes)
	}
	return payload
}

// rawNewItem is the untrusted-input-safe allocation primitive: it
// never panics, returning nil on overflow so callers decoding peer
// bytes (UnpackDelta) can surface a §6 error code instead of crashing
// the process. NewItem, used by trusted game code, wraps it with a
// fatal assertion per spec.md §7 class 1.
func (b *Builder) rawNewItem(internalType, id, sizeBytes int32) []int32 {
	if b.dataSize+wordSize+sizeBytes >= b.config.MaxSize {
		return nil
	}
	if len(b.offsets)+1 > b.config.MaxItems {
		return nil
	}

	offset := b.dataSize
	hdr := photon.FromBytes[int32](b.data[offset : offset+wordSize])
	*hdr = TypeAndID{ItemType: internalType, ID: id}.headerWord()

	payloadStart := offset + wordSize
	n := sizeBytes / wordSize
	var payload []int32
	if n > 0 {
		payload = photon.SliceFromPointer[int32](unsafe.Pointer(&b.data[payloadStart]), int(n))
		clear(payload)
	}

	b.offsets = append(b.offsets, offset)
	b.dataSize += wordSize + sizeBytes

	return payload
}

func (b *Builder) extendedTypeIndex(itemType int32) (int32, bool) {
	for i, existing := range b.extendedItemTypes {
		if existing == itemType {
			return int32(i), true
		}
	}

	if len(b.extendedItemTypes) >= b.config.MaxExtendedItemTypes {
		return 0, false
	}

	idx := int32(len(b.extendedItemTypes))
	b.extendedItemTypes = append(b.extendedItemTypes, itemType)
	b.emitIndirection(idx, itemType)
	return idx, true
}

// GetItemData returns a writable view over the payload of the item
// addressed by key k, if the builder already holds one.
func (b *Builder) GetItemData(k int32) ([]int32, bool) {
	for i, off := range b.offsets {
		h := unpackHeaderWord(*photon.FromBytes[int32](b.data[off : off+wordSize]))
		if h.key() != k {
			continue
		}
		return b.payloadAt(i), true
	}
	return nil, false
}

func (b *Builder) payloadAt(i int) []int32 {
	off := b.offsets[i]
	var end int32
	if i == len(b.offsets)-1 {
		end = b.dataSize
	} else {
		end = b.offsets[i+1]
	}
	n := (end - off - wordSize) / wordSize
	if n == 0 {
		return nil
	}
	return photon.SliceFromPointer[int32](unsafe.Pointer(&b.data[off+wordSize]), int(n))
}

// Finish finalizes the builder into an immutable Snapshot. The
// builder's backing buffer is copied, not aliased, so the builder
// remains safe to Init and reuse for the next tick.
func (b *Builder) Finish() *Snapshot {
	data := make([]byte, b.dataSize)
	copy(data, b.data[:b.dataSize])
	offsets := make([]int32, len(b.offsets))
	copy(offsets, b.offsets)

	return &Snapshot{data: data, offsets: offsets, registry: b.config.Registry}
}
