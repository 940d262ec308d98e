package engine

import "github.com/coldtrace/memshield/internal/dram"

// Default MMIO base addresses for the four accelerators, chosen simply to
// be non-overlapping (spec.md §6: offsets are always device-relative, so
// the absolute bases are an implementation choice).
const (
	DefaultDMABase  = 0x1000_0000
	DefaultAESBase  = 0x2000_0000
	DefaultMACBase  = 0x3000_0000
	DefaultAXIMBase = 0x4000_0000
)

// Config describes the memory geography the firmware core operates over:
// where the protected region, counter region and data-MAC region live in
// DRAM, and how large the backing DRAM and protected region are.
type Config struct {
	// DRAMSize is the total size, in bytes, of the simulated DRAM backing
	// store. Must be large enough to hold the protected region, the counter
	// region and the data-MAC region without overlap.
	DRAMSize uint64

	// Base and Size describe the protected region [Base, Base+Size).
	Base uint64
	Size uint64

	// CtrBase and MacBase are the DRAM base addresses of the counter region
	// and the data-MAC region, respectively.
	CtrBase uint64
	MacBase uint64

	DMABase  uint64
	AESBase  uint64
	MACBase  uint64
	AXIMBase uint64

	// DRAM lets a caller attach an already-populated backing store instead
	// of allocating a fresh, zeroed one. Note that the tree root lives only
	// in SPM (spec.md §4.4: "root is not stored in DRAM -- its authority is
	// the trust anchor"), so an Engine built this way starts with root=0;
	// it can only authenticate lines that were never written under the
	// previous Engine, not verify or continue a prior session's writes.
	// Snapshot/inspection tooling that only needs to read raw bytes (not
	// drive requests through the new Engine) is unaffected.
	DRAM *dram.DRAM
}

// WithDefaultBases fills in any zero-valued accelerator base address with
// the package defaults, leaving explicit choices untouched.
func (c Config) WithDefaultBases() Config {
	if c.DMABase == 0 {
		c.DMABase = DefaultDMABase
	}

	if c.AESBase == 0 {
		c.AESBase = DefaultAESBase
	}

	if c.MACBase == 0 {
		c.MACBase = DefaultMACBase
	}

	if c.AXIMBase == 0 {
		c.AXIMBase = DefaultAXIMBase
	}

	return c
}
