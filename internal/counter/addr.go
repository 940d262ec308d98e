package counter

import (
	"errors"
	"fmt"

	"github.com/coldtrace/memshield/internal/proto"
)

// ErrOutOfRange is returned when a request address falls outside the
// protected region (spec.md §7: RequestOutOfRange, rejected at dispatch).
var ErrOutOfRange = errors.New("counter: request address out of protected region")

// Path holds the tree-path indices for one request address, one per tree
// level, root-downward: Path[0] is the index into the level nearest the
// root, Path[TreeHeight-1] is the line index itself (spec.md §4.2).
type Path [proto.TreeHeight]uint64

// Address is the full set of derived addresses and offsets for one request
// (spec.md §4.2, component C2): the line index, the leaf counter block and
// data-MAC block addresses, their within-block offsets, and the tree path.
type Address struct {
	Addr uint64 // the resolved request address itself, line-aligned
	Line uint64
	CB   uint64 // leaf counter-block DRAM address
	MB   uint64 // data-MAC block DRAM address
	CBO  uint64 // leaf counter bit-offset within CB
	DMO  uint64 // data-MAC byte-offset within MB
	Path Path
}

// Layout fixes the protected region and counter/MAC region base addresses
// and precomputes the per-level base-offset table used by the tree verifier
// and updater (spec.md §4.2 "precomputed table level_base[i]").
type Layout struct {
	Base    uint64
	Size    uint64
	CtrBase uint64
	MacBase uint64

	levelBase  [proto.TreeHeight]uint64
	totalLines uint64
}

// NewLayout builds a Layout for a protected region of size bytes starting at
// base, with counter and data-MAC regions at ctrBase and macBase. size must
// be a multiple of the line size.
func NewLayout(base, size, ctrBase, macBase uint64) (*Layout, error) {
	if size%proto.LineSize != 0 {
		return nil, fmt.Errorf("counter: region size %d is not a multiple of the line size", size)
	}

	l := &Layout{
		Base:       base,
		Size:       size,
		CtrBase:    ctrBase,
		MacBase:    macBase,
		totalLines: size / proto.LineSize,
	}
	l.levelBase = levelBaseTable(l.totalLines)

	return l, nil
}

// levelBaseTable lays out each tree level's node array back-to-back within
// the counter region, leaf level first (offset 0) so that the leaf-level
// formula collapses to the direct CB computation of spec.md §4.2.
func levelBaseTable(totalLines uint64) [proto.TreeHeight]uint64 {
	var sizes [proto.TreeHeight]uint64

	for i := 0; i < proto.TreeHeight; i++ {
		divisor := pow32(uint(proto.TreeHeight - i))
		n := ceilDiv(totalLines, divisor)

		if n == 0 {
			n = 1
		}

		sizes[i] = n
	}

	var base [proto.TreeHeight]uint64

	base[proto.TreeHeight-1] = 0
	for i := proto.TreeHeight - 2; i >= 0; i-- {
		base[i] = base[i+1] + sizes[i+1]*proto.LineSize
	}

	return base
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func pow32(n uint) uint64 {
	p := uint64(1)
	for i := uint(0); i < n; i++ {
		p *= proto.FanOut
	}

	return p
}

// Resolve translates a 64-byte-aligned request address into its full set of
// derived addresses (spec.md §4.2).
func (l *Layout) Resolve(reqAddr uint64) (Address, error) {
	if reqAddr < l.Base || reqAddr >= l.Base+l.Size {
		return Address{}, fmt.Errorf("%w: %#x", ErrOutOfRange, reqAddr)
	}

	if reqAddr%proto.LineSize != 0 {
		return Address{}, fmt.Errorf("counter: address %#x is not line-aligned", reqAddr)
	}

	rel := reqAddr - l.Base
	line := rel / proto.LineSize

	var path Path
	for i := 0; i < proto.TreeHeight; i++ {
		path[proto.TreeHeight-1-i] = rel / (proto.LineSize * pow32(uint(i)))
	}

	return Address{
		Addr: reqAddr,
		Line: line,
		CB:   l.CtrBase + (line/proto.FanOut)*proto.LineSize,
		MB:   l.MacBase + (line/proto.DataMacFanOut)*proto.LineSize,
		CBO:  BitOffsetForChild(int(line % proto.FanOut)),
		DMO:  (line % proto.DataMacFanOut) * 8,
		Path: path,
	}, nil
}

// NodeAddr returns the DRAM address of the tree node at level (0 = directly
// under the root, TreeHeight-1 = leaf) on the path described by p.
func (l *Layout) NodeAddr(level int, p Path) uint64 {
	return l.CtrBase + (p[level]/proto.FanOut)*proto.LineSize + l.levelBase[level]
}

// ParentBitOffset returns the bit offset, within the level-(level-1) node's
// body, of the 8-bit entry authenticating the child on path p at level.
// isRoot reports that level 0's parent is the in-SPM root rather than a
// DRAM node, in which case the verifier feeds the whole 64-bit root instead.
func ParentBitOffset(level int, p Path) (offset uint64, isRoot bool) {
	if level == 0 {
		return 0, true
	}

	return BitOffsetForChild(int(p[level-1] % proto.FanOut)), false
}
