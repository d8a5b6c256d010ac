// Package snapshot implements the realtime-game snapshot subsystem: an
// immutable, self-describing byte representation of world state at a
// tick, a delta codec that compresses tick-to-tick transitions, a
// bounded ring of recent snapshots, and the single-writer builder used
// by the simulation to assemble the next snapshot.
package snapshot
