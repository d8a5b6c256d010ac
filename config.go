package snapshot

import (
	"sync/atomic"

	"github.com/samber/lo"

	"github.com/duskforge/snapshot/uuidreg"
)

// Config aggregates the tuning knobs of every subsystem component. The
// console/variable-registry that would normally own these values is out
// of scope (spec.md §1); this struct is its in-process stand-in, plain
// Go fields with documented defaults, no parsing.
type Config struct {
	Registry *uuidreg.Registry
	Builder  BuilderConfig
	Delta    DeltaConfig
	Storage  StorageConfig

	// TicksBuilt counts snapshots finished under this configuration. It
	// starts at a non-nil pointer so callers can take its address once
	// and read it concurrently with a dedicated build goroutine, the
	// same shape as the teacher's TransactionRequestFactory counters.
	TicksBuilt *uint64
}

// DefaultConfig returns a Config wired to an explicit registry with
// every subsystem at its §6 wire-format defaults.
func DefaultConfig(registry *uuidreg.Registry) Config {
	return Config{
		Registry:   registry,
		Builder:    DefaultBuilderConfig(registry),
		Delta:      DefaultDeltaConfig(),
		Storage:    DefaultStorageConfig(),
		TicksBuilt: lo.ToPtr(uint64(0)),
	}
}

// Finish finalizes b into a Snapshot and records the build against
// c.TicksBuilt, a plain counter a reporting goroutine can sample between
// ticks without touching the single-writer builder itself.
func (c Config) Finish(b *Builder) *Snapshot {
	snap := b.Finish()
	if c.TicksBuilt != nil {
		atomic.AddUint64(c.TicksBuilt, 1)
	}
	return snap
}
