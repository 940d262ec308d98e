// Package proto holds the fixed protocol constants shared by every layer of
// the firmware core: line size, tree fan-out and height. These are fixed by
// spec.md's non-goals (no runtime-configurable tree shape, no request sizes
// other than the fixed 64-byte line) and so are plain constants rather than
// configuration.
package proto

const (
	// LineSize is the fixed size, in bytes, of one protected DRAM line, one
	// counter-tree node, and one DMA/MMIO block.
	LineSize = 64

	// FanOut is the number of children authenticated by one counter-tree
	// node, and the number of data lines covered by one leaf counter block.
	FanOut = 32

	// DataMacFanOut is the number of data lines covered by one data-MAC
	// block (8 entries of 8 bytes each in a 64-byte block).
	DataMacFanOut = 8

	// TreeHeight is the number of DRAM-resident tree levels below the root
	// (levels 1..TreeHeight in spec.md §3; indexed 0..TreeHeight-1 in the
	// verifier/updater loops of §4.3-4.4).
	TreeHeight = 4

	// NodeBodySize is the portion of a tree node (and counter block) fed to
	// the MAC: an 8-byte major counter plus FanOut 1-byte minor counters,
	// padded to 56 bytes (448 bits).
	NodeBodySize = 56

	// NodeMACOffset is the byte offset of the stored MAC within a 64-byte
	// tree node / counter block.
	NodeMACOffset = 56
)
