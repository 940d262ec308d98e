// Package dram models the byte-addressable DRAM backing store protected by
// the firmware core. DRAM byte storage, decoding, and bus plumbing are out
// of scope for the hard core (spec.md §1); this package is the external
// collaborator the spec assumes exists, kept deliberately simple: a flat
// byte array addressed by absolute byte offset, with 64-byte block
// granularity to match the line/node/MAC-block size used everywhere else in
// the design.
package dram

import "fmt"

// BlockSize is the fixed unit of DRAM access used throughout the design: one
// protected data line, one counter-tree node, or one data-MAC block.
const BlockSize = 64

// Block is a single 64-byte DRAM unit.
type Block [BlockSize]byte

// ErrOutOfBounds is returned when an address or block falls outside the
// backing store. In the firmware this is a programming error (spec.md §7:
// DramOutOfBounds) and is treated as fatal by callers.
var ErrOutOfBounds = fmt.Errorf("dram: address out of bounds")

// DRAM is the simulated memory array.
type DRAM struct {
	bytes []byte
}

// New creates a DRAM of the given size in bytes. size must be a multiple of
// BlockSize.
func New(size uint64) *DRAM {
	if size%BlockSize != 0 {
		panic("dram: size must be a multiple of the block size")
	}

	return &DRAM{bytes: make([]byte, size)}
}

// Size returns the capacity of the backing store in bytes.
func (d *DRAM) Size() uint64 {
	return uint64(len(d.bytes))
}

// LoadBlock reads the 64-byte block at addr, which must be block-aligned.
func (d *DRAM) LoadBlock(addr uint64) (Block, error) {
	var blk Block

	if err := d.checkBounds(addr); err != nil {
		return blk, err
	}

	copy(blk[:], d.bytes[addr:addr+BlockSize])

	return blk, nil
}

// StoreBlock writes the 64-byte block at addr, which must be block-aligned.
func (d *DRAM) StoreBlock(addr uint64, blk Block) error {
	if err := d.checkBounds(addr); err != nil {
		return err
	}

	copy(d.bytes[addr:addr+BlockSize], blk[:])

	return nil
}

// ReadByte and WriteByte give byte-addressable access for tampering in
// tests (spec.md §8 property P2 flips individual bits of persisted state)
// and for tooling that inspects DRAM without going through the block cache.
func (d *DRAM) ReadByte(addr uint64) (byte, error) {
	if addr >= uint64(len(d.bytes)) {
		return 0, fmt.Errorf("%w: %#x", ErrOutOfBounds, addr)
	}

	return d.bytes[addr], nil
}

func (d *DRAM) WriteByte(addr uint64, v byte) error {
	if addr >= uint64(len(d.bytes)) {
		return fmt.Errorf("%w: %#x", ErrOutOfBounds, addr)
	}

	d.bytes[addr] = v

	return nil
}

func (d *DRAM) checkBounds(addr uint64) error {
	if addr%BlockSize != 0 {
		return fmt.Errorf("%w: %#x not block-aligned", ErrOutOfBounds, addr)
	}

	if addr+BlockSize > uint64(len(d.bytes)) {
		return fmt.Errorf("%w: %#x", ErrOutOfBounds, addr)
	}

	return nil
}

// Snapshot returns a copy of the entire backing store, used by tooling to
// persist or compare DRAM state (spec.md §8 property P6).
func (d *DRAM) Snapshot() []byte {
	cp := make([]byte, len(d.bytes))
	copy(cp, d.bytes)

	return cp
}

// Restore replaces the backing store with data, which must be the same
// size previously returned by Snapshot.
func (d *DRAM) Restore(data []byte) error {
	if len(data) != len(d.bytes) {
		return fmt.Errorf("%w: snapshot size %d != dram size %d", ErrOutOfBounds, len(data), len(d.bytes))
	}

	copy(d.bytes, data)

	return nil
}
