package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func makeSnapshot(t *testing.T, items map[[2]int32][]int32) *Snapshot {
	t.Helper()
	b := NewBuilder(DefaultBuilderConfig(nil))
	for k, payload := range items {
		dst := b.NewItem(k[0], k[1], int32(len(payload))*wordSize)
		copy(dst, payload)
	}
	return b.Finish()
}

func TestCreateDeltaNilWhenIdentical(t *testing.T) {
	s := makeSnapshot(t, map[[2]int32][]int32{{1, 0}: {1, 2, 3}})
	d := NewDelta(DefaultDeltaConfig())
	require.Nil(t, d.CreateDelta(s, s))
}

func TestDeltaRoundTripUpdateOnly(t *testing.T) {
	from := makeSnapshot(t, map[[2]int32][]int32{{1, 0}: {1, 2, 3}})
	to := makeSnapshot(t, map[[2]int32][]int32{{1, 0}: {1, 5, 3}})

	d := NewDelta(DefaultDeltaConfig())
	patch := d.CreateDelta(from, to)
	require.NotNil(t, patch)

	got, err := d.UnpackDelta(from, patch, nil)
	require.NoError(t, err)
	require.Equal(t, to.CRC(), got.CRC())
	require.Equal(t, to.NumItems(), got.NumItems())

	data, ok := got.FindItem(1, 0)
	require.True(t, ok)
	require.Equal(t, []int32{1, 5, 3}, data)
}

func TestDeltaRoundTripWithDeletion(t *testing.T) {
	from := makeSnapshot(t, map[[2]int32][]int32{
		{1, 0}: {1, 2, 3},
		{2, 0}: {9},
	})
	to := makeSnapshot(t, map[[2]int32][]int32{{1, 0}: {1, 2, 3}})

	d := NewDelta(DefaultDeltaConfig())
	patch := d.CreateDelta(from, to)
	require.NotNil(t, patch)

	got, err := d.UnpackDelta(from, patch, nil)
	require.NoError(t, err)
	require.Equal(t, 1, got.NumItems())
	_, ok := got.FindItem(2, 0)
	require.False(t, ok)
}

func TestDeltaRoundTripNewItem(t *testing.T) {
	from := makeSnapshot(t, map[[2]int32][]int32{{1, 0}: {1, 2, 3}})
	to := makeSnapshot(t, map[[2]int32][]int32{
		{1, 0}: {1, 2, 3},
		{3, 7}: {42, 43},
	})

	d := NewDelta(DefaultDeltaConfig())
	patch := d.CreateDelta(from, to)
	require.NotNil(t, patch)

	got, err := d.UnpackDelta(from, patch, nil)
	require.NoError(t, err)
	data, ok := got.FindItem(3, 7)
	require.True(t, ok)
	require.Equal(t, []int32{42, 43}, data)
}

func TestDeltaStaticSizeOmitsSizeWords(t *testing.T) {
	from := makeSnapshot(t, map[[2]int32][]int32{{1, 0}: {1, 2}})
	to := makeSnapshot(t, map[[2]int32][]int32{{1, 0}: {3, 4}})

	withStatic := NewDelta(DefaultDeltaConfig())
	withStatic.SetStaticSize(1, 8)
	patchStatic := withStatic.CreateDelta(from, to)

	withoutStatic := NewDelta(DefaultDeltaConfig())
	patchPlain := withoutStatic.CreateDelta(from, to)

	require.Less(t, len(patchStatic), len(patchPlain))

	got, err := withStatic.UnpackDelta(from, patchStatic, nil)
	require.NoError(t, err)
	data, ok := got.FindItem(1, 0)
	require.True(t, ok)
	require.Equal(t, []int32{3, 4}, data)
}

func TestUnpackDeltaRejectsTruncatedHeader(t *testing.T) {
	d := NewDelta(DefaultDeltaConfig())
	_, err := d.UnpackDelta(Empty(), []byte{1, 2, 3}, nil)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, -201, decErr.Code)
}

func TestUnpackDeltaRejectsReservedID(t *testing.T) {
	buf := make([]byte, 0, 20)
	buf = appendInt32(buf, 0) // num_deleted
	buf = appendInt32(buf, 1) // num_update
	buf = appendInt32(buf, 0) // num_temp
	buf = appendInt32(buf, 1) // item_type
	buf = appendInt32(buf, -1) // id == -1, reserved
	buf = appendInt32(buf, 0)  // size_words

	d := NewDelta(DefaultDeltaConfig())
	_, err := d.UnpackDelta(Empty(), buf, nil)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, -203, decErr.Code)
}

func TestUnpackDeltaRejectsOversizedWords(t *testing.T) {
	buf := make([]byte, 0, 20)
	buf = appendInt32(buf, 0) // num_deleted
	buf = appendInt32(buf, 1) // num_update
	buf = appendInt32(buf, 0) // num_temp
	buf = appendInt32(buf, 1) // item_type
	buf = appendInt32(buf, 0) // id
	buf = appendInt32(buf, 1<<30) // size_words: 4*2^30 overflows int32 bytes

	d := NewDelta(DefaultDeltaConfig())
	_, err := d.UnpackDelta(Empty(), buf, nil)
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	require.Equal(t, -204, decErr.Code)
}

func TestHashIndexDropsKeysPastBucketCap(t *testing.T) {
	idx := newHashIndex()
	// Force a bucket to overflow past its 64-slot cap so the 65th
	// insert is silently dropped, and confirm lookup reports a miss for
	// it even though the caller's linear fallback would still find it
	// in the snapshot itself.
	var bucket uint32
	var bucketSet bool
	var k int32
	for k = 0; ; k++ {
		b := djb2(k) % hashBuckets
		if !bucketSet {
			bucket = b
			bucketSet = true
		}
		if b != bucket {
			continue
		}
		idx.insert(k, k)
		if idx.counts[bucket] == hashSlotsPerBucket {
			break
		}
	}
	// The next key after k that hashes into the same now-full bucket
	// must be dropped.
	var overflowKey int32
	for j := k + 1; ; j++ {
		if djb2(j)%hashBuckets == bucket {
			overflowKey = j
			break
		}
	}
	idx.insert(overflowKey, overflowKey)
	_, ok := idx.lookup(overflowKey)
	require.False(t, ok)
}
