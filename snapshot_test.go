package snapshot

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/duskforge/snapshot/uuidreg"
)

func buildTestSnapshot(t *testing.T, items map[[2]int32][]int32) *Snapshot {
	t.Helper()
	b := NewBuilder(DefaultBuilderConfig(nil))
	for k, payload := range items {
		dst := b.NewItem(k[0], k[1], int32(len(payload))*wordSize)
		copy(dst, payload)
	}
	return b.Finish()
}

func TestEmptySnapshot(t *testing.T) {
	e := Empty()
	require.Equal(t, 0, e.NumItems())
	require.Equal(t, int32(0), e.DataSize())
	require.Equal(t, int32(8), e.TotalSize())
	require.True(t, e.IsValid(8))
}

func TestItemRoundTrip(t *testing.T) {
	s := buildTestSnapshot(t, map[[2]int32][]int32{
		{1, 0}: {10, 20, 30},
		{2, 5}: {1},
	})
	require.Equal(t, 2, s.NumItems())

	data, ok := s.FindItem(1, 0)
	require.True(t, ok)
	require.Equal(t, []int32{10, 20, 30}, data)

	data, ok = s.FindItem(2, 5)
	require.True(t, ok)
	require.Equal(t, []int32{1}, data)

	_, ok = s.FindItem(3, 0)
	require.False(t, ok)
}

func TestItemsIterator(t *testing.T) {
	s := buildTestSnapshot(t, map[[2]int32][]int32{
		{1, 0}: {10},
		{2, 0}: {20},
	})
	seen := map[int32]int32{}
	for it := range s.Items() {
		require.Len(t, it.Payload, 1)
		seen[it.Type] = it.Payload[0]
	}
	require.Equal(t, map[int32]int32{1: 10, 2: 20}, seen)
}

func TestCRCIsOrderInvariant(t *testing.T) {
	b1 := NewBuilder(DefaultBuilderConfig(nil))
	copy(b1.NewItem(1, 0, 4), []int32{7})
	copy(b1.NewItem(2, 0, 4), []int32{9})
	s1 := b1.Finish()

	b2 := NewBuilder(DefaultBuilderConfig(nil))
	copy(b2.NewItem(2, 0, 4), []int32{9})
	copy(b2.NewItem(1, 0, 4), []int32{7})
	s2 := b2.Finish()

	require.Equal(t, s1.CRC(), s2.CRC())
}

func TestEncodeParseRoundTrip(t *testing.T) {
	s := buildTestSnapshot(t, map[[2]int32][]int32{
		{1, 0}: {10, 20, 30},
		{2, 5}: {1},
	})
	buf := make([]byte, s.TotalSize())
	n := s.Encode(buf)
	require.EqualValues(t, n, s.TotalSize())

	got, err := Parse(nil, buf[:n])
	require.NoError(t, err)
	require.Equal(t, s.NumItems(), got.NumItems())
	require.Equal(t, s.CRC(), got.CRC())

	data, ok := got.FindItem(1, 0)
	require.True(t, ok)
	require.Equal(t, []int32{10, 20, 30}, data)
}

func TestParseTruncated(t *testing.T) {
	_, err := Parse(nil, []byte{1, 2, 3})
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, -103, decErr.Code)
}

func TestParseMalformedCounts(t *testing.T) {
	buf := make([]byte, 8)
	// num_items (buf[4:8]) set to -1: malformed regardless of data_size.
	buf[4], buf[5], buf[6], buf[7] = 0xFF, 0xFF, 0xFF, 0xFF
	_, err := Parse(nil, buf)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, -201, decErr.Code)
}

func TestExtendedTypeRoundTrip(t *testing.T) {
	reg := uuidreg.NewRegistry()
	id := uuid.New()
	require.NoError(t, reg.Register(OffsetUUID+1, id))

	b := NewBuilder(DefaultBuilderConfig(reg))
	dst := b.NewItem(OffsetUUID+1, 3, 4)
	dst[0] = 42
	s := b.Finish()

	data, ok := s.FindItem(OffsetUUID+1, 3)
	require.True(t, ok)
	require.Equal(t, []int32{42}, data)

	var found bool
	for i := 0; i < s.NumItems(); i++ {
		if s.ItemType(i) == OffsetUUID+1 {
			found = true
		}
	}
	require.True(t, found)
}

func TestIsValidRejectsDuplicateKeys(t *testing.T) {
	s := &Snapshot{
		data:    make([]byte, 16),
		offsets: []int32{0, 8},
	}
	hdr0 := TypeAndID{ItemType: 1, ID: 1}
	hdr1 := TypeAndID{ItemType: 1, ID: 1}
	putHeader(s.data[0:4], hdr0)
	putHeader(s.data[8:12], hdr1)
	require.False(t, s.IsValid(s.TotalSize()))
}

func putHeader(buf []byte, h TypeAndID) {
	k := h.key()
	buf[0] = byte(k)
	buf[1] = byte(k >> 8)
	buf[2] = byte(k >> 16)
	buf[3] = byte(k >> 24)
}
