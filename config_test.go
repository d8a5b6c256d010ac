package snapshot

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigFinishCountsTicks(t *testing.T) {
	cfg := DefaultConfig(nil)
	b := NewBuilder(cfg.Builder)

	b.NewItem(1, 0, 4)
	cfg.Finish(b)
	b.Reset()
	b.NewItem(1, 0, 4)
	cfg.Finish(b)

	require.EqualValues(t, 2, atomic.LoadUint64(cfg.TicksBuilt))
}
