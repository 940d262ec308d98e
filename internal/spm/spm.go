// Package spm implements the scratchpad memory: its raw byte storage with
// the word, byte and block accessors firmware code calls directly (no data
// window is served over MMIO), and the directly-mapped block cache policy (spec.md §4.1,
// component C1) that keeps a fixed purpose-to-slot mapping backed by DRAM.
//
// SPM bytes are exclusively owned by the firmware between MMIO handshakes:
// no accelerator writes SPM without the firmware explicitly commanding it
// (spec.md §3). This package is the sole owner of that storage and of the
// per-slot management words; the engine and the MAC, AXI manager and DMA
// devices each hold a *SPM handle for their whole lifetime.
package spm

import (
	"encoding/binary"
	"fmt"

	"github.com/coldtrace/memshield/internal/proto"
)

// NumSlots is the number of directly-mapped 64-byte slots in the scratchpad.
const NumSlots = 64

// Slot identifies one of the scratchpad's directly-mapped lines.
type Slot uint8

// Fixed purpose-to-slot assignment (spec.md §3 SPM layout).
const (
	// SlotRoot holds the tree root: a single 64-bit trust anchor, never
	// evicted and never backed by DRAM.
	SlotRoot Slot = 0

	// SlotData holds the ciphertext of the line currently being processed.
	SlotData Slot = 7

	// SlotMAC holds the data-MAC block of the line currently being
	// processed.
	SlotMAC Slot = 8

	// SlotLeafCounter holds a dedicated copy of the leaf counter block,
	// loaded up front by the dispatcher to evaluate the zero-initialized
	// shortcut before the tree walk proper begins.
	SlotLeafCounter Slot = 9

	// managementSlot is SPM "slot 56" from spec.md §3: a slot repurposed to
	// hold per-cached-slot management words instead of a DRAM-backed block.
	managementSlot Slot = 56
)

// SlotForLevel returns the SPM slot caching the counter-tree node for level
// i (0 = the DRAM level directly under the root, TreeHeight-1 = the leaf
// level), using the "slot 6-i" assignment of spec.md §3.
func SlotForLevel(i int) Slot {
	if i < 0 || i >= proto.TreeHeight {
		panic(fmt.Sprintf("spm: level %d out of range", i))
	}

	return Slot(6 - i)
}

// cachedSlots lists every slot participating in the block-cache policy, in
// the fixed order used to index management words. Root is excluded: it is
// never evicted and has no tag.
var cachedSlots = func() []Slot {
	slots := make([]Slot, 0, proto.TreeHeight+3)
	for i := 0; i < proto.TreeHeight; i++ {
		slots = append(slots, SlotForLevel(i))
	}

	return append(slots, SlotData, SlotMAC, SlotLeafCounter)
}()

func managementIndex(s Slot) int {
	for i, c := range cachedSlots {
		if c == s {
			return i
		}
	}

	panic(fmt.Sprintf("spm: slot %d is not a cached slot", s))
}

// SPM is the scratchpad's raw byte storage, read and written through its
// methods.
type SPM struct {
	bytes [NumSlots * proto.LineSize]byte
}

// New creates a zeroed scratchpad.
func New() *SPM {
	return &SPM{}
}

// ReadWord reads a little-endian 64-bit word at the given byte offset,
// which must be 8-byte aligned. Firmware code calls it directly; it is not
// reachable over MMIO.
func (s *SPM) ReadWord(offset uint64) uint64 {
	s.checkOffset(offset, 8)
	return binary.LittleEndian.Uint64(s.bytes[offset : offset+8])
}

// WriteWord writes a little-endian 64-bit word at the given byte offset.
func (s *SPM) WriteWord(offset uint64, v uint64) {
	s.checkOffset(offset, 8)
	binary.LittleEndian.PutUint64(s.bytes[offset:offset+8], v)
}

// ReadByte and WriteByte give byte-granularity access to the scratchpad.
// The minor-counter and MAC-entry packing in package engine does not use
// them: it goes through ReadWord/WriteWord and counter.ExtractByte/ReplaceByte.
func (s *SPM) ReadByte(offset uint64) byte {
	s.checkOffset(offset, 1)
	return s.bytes[offset]
}

func (s *SPM) WriteByte(offset uint64, v byte) {
	s.checkOffset(offset, 1)
	s.bytes[offset] = v
}

// ReadBlock returns a copy of the 64-byte line at slot.
func (s *SPM) ReadBlock(slot Slot) [proto.LineSize]byte {
	var blk [proto.LineSize]byte
	off := uint64(slot) * proto.LineSize
	copy(blk[:], s.bytes[off:off+proto.LineSize])

	return blk
}

// WriteBlock overwrites the 64-byte line at slot.
func (s *SPM) WriteBlock(slot Slot, blk [proto.LineSize]byte) {
	off := uint64(slot) * proto.LineSize
	copy(s.bytes[off:off+proto.LineSize], blk[:])
}

// SlotOffset returns the byte offset of slot within the scratchpad's data
// window, for MMIO addressing.
func SlotOffset(slot Slot) uint64 {
	return uint64(slot) * proto.LineSize
}

func (s *SPM) checkOffset(offset uint64, width uint64) {
	if offset+width > uint64(len(s.bytes)) {
		panic(fmt.Sprintf("spm: offset %#x out of bounds", offset))
	}
}
