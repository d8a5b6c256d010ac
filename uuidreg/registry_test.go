package uuidreg

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	require.NoError(t, r.Register(0x4003, id))

	gotUUID, ok := r.UUID(0x4003)
	require.True(t, ok)
	require.Equal(t, id, gotUUID)

	gotType, ok := r.Handle(id)
	require.True(t, ok)
	require.EqualValues(t, 0x4003, gotType)
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	id := uuid.New()

	require.NoError(t, r.Register(0x4003, id))
	require.NoError(t, r.Register(0x4003, id))
}

func TestRegisterConflict(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(0x4003, uuid.New()))
	require.Error(t, r.Register(0x4003, uuid.New()))

	id2 := uuid.New()
	require.NoError(t, r.Register(0x4004, id2))
	require.Error(t, r.Register(0x4005, id2))
}

func TestUnknownLookups(t *testing.T) {
	r := NewRegistry()
	_, ok := r.UUID(0x4003)
	require.False(t, ok)
	_, ok = r.Handle(uuid.New())
	require.False(t, ok)
}

func TestDefaultIsSingleton(t *testing.T) {
	require.Same(t, Default(), Default())
}
