// Package uuidreg implements the process-wide mapping between
// externally-visible type identifiers (>= OFFSET_UUID) and 128-bit
// UUIDs. A Registry resolves UUIDs to/from the short integer handles
// that snapshots carry on the wire.
//
// The registry is designed as an explicit dependency: every entry
// point in the parent package that resolves extended types takes a
// *Registry rather than reaching for process-wide state, per the design note "Global UUID
// registry". Default provides a package-level convenience instance for
// callers that don't need isolation, but nothing in this module
// requires it.
package uuidreg

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Registry maps external UUID-typed ids to their UUIDs and back.
type Registry struct {
	mu       sync.RWMutex
	toUUID   map[int32]uuid.UUID
	toHandle map[uuid.UUID]int32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		toUUID:   map[int32]uuid.UUID{},
		toHandle: map[uuid.UUID]int32{},
	}
}

// Register associates externalType with id. externalType must be a
// UUID-typed external id (the caller is expected to have already
// checked it against OffsetUUID; this package doesn't import the
// parent package to avoid a cycle). Registering the same pair twice is
// a no-op; registering a different UUID under an already-used type, or
// vice versa, is an error.
func (r *Registry) Register(externalType int32, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.toUUID[externalType]; ok {
		if existing == id {
			return nil
		}
		return errors.Errorf("external type %d is already registered to a different UUID", externalType)
	}
	if existingType, ok := r.toHandle[id]; ok {
		return errors.Errorf("UUID %s is already registered to external type %d", id, existingType)
	}

	r.toUUID[externalType] = id
	r.toHandle[id] = externalType
	return nil
}

// UUID resolves an external type to its UUID.
func (r *Registry) UUID(externalType int32) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.toUUID[externalType]
	return id, ok
}

// Handle resolves a UUID to its external type.
func (r *Registry) Handle(id uuid.UUID) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	externalType, ok := r.toHandle[id]
	return externalType, ok
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns a lazily-constructed package-level registry for
// callers that don't need an isolated instance. It is never used
// implicitly by this module's constructors.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = NewRegistry()
	})
	return defaultReg
}
