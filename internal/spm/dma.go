package spm

import (
	"github.com/coldtrace/memshield/internal/dram"
	"github.com/coldtrace/memshield/internal/log"
	"github.com/coldtrace/memshield/internal/mmio"
	"github.com/coldtrace/memshield/internal/proto"
)

// DMA register offsets, relative to the device's bus base address
// (spec.md §6). DataWindowOff and DataWindowLen reserve the range of a
// byte-addressable SPM data window; ReadReg and WriteReg do not serve that
// range and panic on offsets inside it.
const (
	RegDRAMAddr   = 0x00
	RegLocalOff   = 0x08
	RegSize       = 0x10
	RegDirection  = 0x18
	RegStart      = 0x20
	DataWindowOff = 0x1000
	DataWindowLen = 0x10000
)

// Direction selects which way a DMA transfer moves a block.
const (
	DirDRAMToSPM = 0
	DirSPMToDRAM = 1
)

// DMA is the accelerator moving 64-byte blocks between DRAM and the
// scratchpad. It is the only component allowed to move bytes between the
// two stores; the block cache (C1) drives it exclusively through its MMIO
// registers, observing the busy/idle handshake (spec.md §4.1, §5).
type DMA struct {
	dram *dram.DRAM
	spm  *SPM
	log  *log.Logger

	dramAddr  uint64
	localOff  uint64
	size      uint64
	direction uint64
}

// NewDMA creates a DMA accelerator over mem and scratch.
func NewDMA(mem *dram.DRAM, scratch *SPM) *DMA {
	return &DMA{dram: mem, spm: scratch, log: log.DefaultLogger()}
}

func (d *DMA) WithLogger(l *log.Logger) {
	d.log = l
}

// ReadReg implements mmio.Device. START always reads 0: every transfer in
// this simulation completes synchronously within the WriteReg call, so
// there is never an observable busy period -- the accelerator "always
// succeeds" (spec.md §4.1 Failure).
func (d *DMA) ReadReg(offset uint64) mmio.Reg {
	switch offset {
	case RegDRAMAddr:
		return d.dramAddr
	case RegLocalOff:
		return d.localOff
	case RegSize:
		return d.size
	case RegDirection:
		return d.direction
	case RegStart:
		return 0
	default:
		panic("spm: dma: bad register offset")
	}
}

// WriteReg implements mmio.Device. Writing 1 to START performs the
// configured transfer immediately.
func (d *DMA) WriteReg(offset uint64, value mmio.Reg) {
	switch offset {
	case RegDRAMAddr:
		d.dramAddr = value
	case RegLocalOff:
		d.localOff = value
	case RegSize:
		d.size = value
	case RegDirection:
		d.direction = value
	case RegStart:
		if value == 1 {
			d.transfer()
		}
	default:
		panic("spm: dma: bad register offset")
	}
}

func (d *DMA) transfer() {
	slot := Slot(d.localOff / proto.LineSize)

	switch d.direction {
	case DirDRAMToSPM:
		blk, err := d.dram.LoadBlock(d.dramAddr)
		if err != nil {
			panic(err)
		}

		d.spm.WriteBlock(slot, [proto.LineSize]byte(blk))
	case DirSPMToDRAM:
		blk := d.spm.ReadBlock(slot)
		if err := d.dram.StoreBlock(d.dramAddr, dram.Block(blk)); err != nil {
			panic(err)
		}
	default:
		panic("spm: dma: bad direction")
	}

	d.log.Debug("dma transfer",
		log.Uint64("dram_addr", d.dramAddr),
		log.Int("slot", int(slot)),
		log.Uint64("direction", d.direction),
	)
}
