// Package mac implements the MAC accelerator used to compute and verify
// both counter-tree node MACs and data-line MACs (spec.md §4.3, §4.6, §6).
// The FNV-style hashing primitive itself is explicitly out of scope for
// this design (spec.md §1 names it by family); hash/fnv is the standard
// library's implementation of exactly that family, used here as the
// required black box rather than a hand-rolled substitute.
package mac

import (
	"fmt"
	"hash"
	"hash/fnv"

	"github.com/coldtrace/memshield/internal/log"
	"github.com/coldtrace/memshield/internal/mmio"
	"github.com/coldtrace/memshield/internal/spm"
)

// Register offsets, relative to the device's bus base address (spec.md §6).
const (
	RegSPMAddr  = 0x00
	RegSPMStart = 0x08
	RegCommand  = 0x10
	RegStatus   = 0x18
	RegStartBit = 0x20
	RegEndBit   = 0x28
	RegResult   = 0x30
)

// COMMAND values.
const (
	CmdInit     = 1
	CmdUpdate   = 2
	CmdFinalize = 4
)

// hardware key mixed into every MAC computation, turning the unkeyed FNV
// hash into the keyed-MAC black box the design calls for (spec.md
// Non-goals: cryptographic soundness of the primitive is not claimed).
var hardwareKey = []byte("memshield-firmware-mac-key")

// MAC is the MAC accelerator.
type MAC struct {
	spm *spm.SPM
	log *log.Logger

	spmAddr  uint64
	buf      [64]byte
	startBit uint64
	endBit   uint64
	h        hash.Hash64
}

// New creates a MAC accelerator reading its 64-byte input from scratch.
func New(scratch *spm.SPM) *MAC {
	return &MAC{spm: scratch, log: log.DefaultLogger()}
}

func (m *MAC) WithLogger(l *log.Logger) {
	m.log = l
}

// ReadReg implements mmio.Device.
func (m *MAC) ReadReg(offset uint64) mmio.Reg {
	switch offset {
	case RegSPMAddr:
		return m.spmAddr
	case RegSPMStart:
		return 0
	case RegCommand:
		return 0
	case RegStatus:
		return 0 // never busy: every operation completes synchronously.
	case RegStartBit:
		return m.startBit
	case RegEndBit:
		return m.endBit
	case RegResult:
		if m.h == nil {
			panic("mac: result read before finalize")
		}

		return m.h.Sum64()
	default:
		panic(fmt.Sprintf("mac: bad register offset %#x", offset))
	}
}

// WriteReg implements mmio.Device.
func (m *MAC) WriteReg(offset uint64, value mmio.Reg) {
	switch offset {
	case RegSPMAddr:
		m.spmAddr = value
	case RegSPMStart:
		if value == 1 {
			m.buf = m.spm.ReadBlock(spm.Slot(m.spmAddr / 64))
		}
	case RegCommand:
		m.command(value)
	case RegStartBit:
		m.startBit = value
	case RegEndBit:
		m.endBit = value
	case RegStatus, RegResult:
		panic(fmt.Sprintf("mac: register %#x is read-only", offset))
	default:
		panic(fmt.Sprintf("mac: bad register offset %#x", offset))
	}
}

func (m *MAC) command(cmd mmio.Reg) {
	switch cmd {
	case CmdInit:
		m.h = fnv.New64a()
		_, _ = m.h.Write(hardwareKey)
	case CmdUpdate:
		if m.h == nil {
			panic("mac: update before init")
		}

		// Bit-addressed per spec.md §9, but every caller in this repo feeds
		// byte-aligned ranges (e.g. CBO = 64 + idx*8); a sub-byte range is
		// rejected rather than silently truncated.
		if m.startBit%8 != 0 || m.endBit%8 != 0 || m.endBit < m.startBit {
			panic("mac: update range must be byte-aligned")
		}

		start, end := m.startBit/8, m.endBit/8
		_, _ = m.h.Write(m.buf[start:end])
	case CmdFinalize:
		if m.h == nil {
			panic("mac: finalize before init")
		}
	default:
		panic(fmt.Sprintf("mac: bad command %#x", cmd))
	}
}
