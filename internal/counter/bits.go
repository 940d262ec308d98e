// Package counter implements the counter-tree addressing and bit packing:
// the bit-level packing of minor counters inside 64-bit tree words and the
// translation of a request address into tree-node and data-MAC addresses
// (spec.md §4.2, component C2). The root-downward verify/update walks that
// use them (C3/C4) live in package engine. This is the part of the design singled out as "the
// hard part" -- a cryptographic protocol, a bit-level layout and a tree
// traversal expressed as plain, independently testable functions wherever
// possible, per the design note that bit-level packing belongs in pure
// functions tested in isolation.
package counter

// ExtractByte reads the byte occupying bits [bitOffset, bitOffset+8) of
// word, least-significant bit first. bitOffset need not be a multiple of 8;
// this is deliberately a bit-addressed, not byte-addressed, primitive (spec
// design note: MAC update ranges are normalized to bit offsets throughout).
func ExtractByte(word uint64, bitOffset uint) byte {
	return byte(word >> bitOffset)
}

// ReplaceByte returns word with the byte at bits [bitOffset, bitOffset+8)
// replaced by v, leaving every other bit untouched.
func ReplaceByte(word uint64, bitOffset uint, v byte) uint64 {
	mask := uint64(0xFF) << bitOffset
	return (word &^ mask) | (uint64(v) << bitOffset)
}

// BitOffsetForChild returns the bit offset, within a tree node's 64-bit
// first word plus its minor-counter array, of the minor counter belonging
// to child index idx (0..FanOut-1): 8 bytes of major counter followed by
// one byte per child.
func BitOffsetForChild(idx int) uint64 {
	return 64 + uint64(idx)*8
}
