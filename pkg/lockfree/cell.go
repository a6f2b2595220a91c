// Package lockfree provides the cross-thread primitives the rest of
// tutti-core is built on: atomic scalar cells, bounded SPSC/MPMC queues,
// and an atomic snapshot pointer. Nothing in this package allocates after
// construction and nothing blocks.
package lockfree

import (
	"math"
	"sync/atomic"
)

// Flag is a boolean cell with acquire/release semantics, used for
// one-shot signals such as "seek pending" or "discontinuity occurred".
type Flag struct {
	v atomic.Bool
}

// Set raises the flag.
func (f *Flag) Set() { f.v.Store(true) }

// Clear lowers the flag.
func (f *Flag) Clear() { f.v.Store(false) }

// IsSet returns the current value.
func (f *Flag) IsSet() bool { return f.v.Load() }

// TestAndClear atomically reads the flag and clears it, returning the
// value observed before clearing. Used by the audio thread to consume a
// pending seek exactly once.
func (f *Flag) TestAndClear() bool {
	return f.v.Swap(false)
}

// U32 is an atomic uint32 cell.
type U32 struct{ v atomic.Uint32 }

func (c *U32) Load() uint32      { return c.v.Load() }
func (c *U32) Store(x uint32)    { c.v.Store(x) }
func (c *U32) Add(d uint32) uint32 { return c.v.Add(d) }

// U64 is an atomic uint64 cell.
type U64 struct{ v atomic.Uint64 }

func (c *U64) Load() uint64      { return c.v.Load() }
func (c *U64) Store(x uint64)    { c.v.Store(x) }
func (c *U64) Add(d uint64) uint64 { return c.v.Add(d) }

// Float64 is an atomic float64 cell (bit-punned through atomic.Uint64).
type Float64 struct{ bits atomic.Uint64 }

func (c *Float64) Load() float64 {
	return math.Float64frombits(c.bits.Load())
}

func (c *Float64) Store(x float64) {
	c.bits.Store(math.Float64bits(x))
}

// Float32 is an atomic float32 cell (bit-punned through atomic.Uint32).
type Float32 struct{ bits atomic.Uint32 }

func (c *Float32) Load() float32 {
	return math.Float32frombits(c.bits.Load())
}

func (c *Float32) Store(x float32) {
	c.bits.Store(math.Float32bits(x))
}

// U8 is an atomic byte-sized cell, used for small enums like motion state.
type U8 struct{ v atomic.Uint32 }

func (c *U8) Load() uint8 { return uint8(c.v.Load()) }

func (c *U8) Store(x uint8) { c.v.Store(uint32(x)) }
