package spm_test

import (
	"testing"

	"github.com/coldtrace/memshield/internal/dram"
	"github.com/coldtrace/memshield/internal/spm"
)

func TestDMATransferDRAMToSPM(t *testing.T) {
	mem := dram.New(4096)
	scratch := spm.New()
	dma := spm.NewDMA(mem, scratch)

	var blk dram.Block
	for i := range blk {
		blk[i] = byte(255 - i)
	}

	if err := mem.StoreBlock(0x40, blk); err != nil {
		t.Fatalf("seed: %v", err)
	}

	dma.WriteReg(spm.RegDRAMAddr, 0x40)
	dma.WriteReg(spm.RegLocalOff, spm.SlotOffset(spm.SlotMAC))
	dma.WriteReg(spm.RegSize, 64)
	dma.WriteReg(spm.RegDirection, spm.DirDRAMToSPM)
	dma.WriteReg(spm.RegStart, 1)

	if busy := dma.ReadReg(spm.RegStart); busy != 0 {
		t.Fatalf("expected idle after synchronous transfer, got %d", busy)
	}

	got := scratch.ReadBlock(spm.SlotMAC)
	if [64]byte(got) != [64]byte(blk) {
		t.Fatal("block not transferred to scratchpad")
	}
}

func TestDMATransferSPMToDRAM(t *testing.T) {
	mem := dram.New(4096)
	scratch := spm.New()
	dma := spm.NewDMA(mem, scratch)

	var blk [64]byte
	for i := range blk {
		blk[i] = byte(i)
	}

	scratch.WriteBlock(spm.SlotData, blk)

	dma.WriteReg(spm.RegDRAMAddr, 0x80)
	dma.WriteReg(spm.RegLocalOff, spm.SlotOffset(spm.SlotData))
	dma.WriteReg(spm.RegSize, 64)
	dma.WriteReg(spm.RegDirection, spm.DirSPMToDRAM)
	dma.WriteReg(spm.RegStart, 1)

	got, err := mem.LoadBlock(0x80)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if [64]byte(got) != blk {
		t.Fatal("block not transferred to dram")
	}
}
