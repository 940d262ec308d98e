package mac_test

import (
	"testing"

	"github.com/coldtrace/memshield/internal/accel/mac"
	"github.com/coldtrace/memshield/internal/spm"
)

func compute(t *testing.T, scratch *spm.SPM, slot spm.Slot, startBit, endBit uint64) uint64 {
	t.Helper()

	dev := mac.New(scratch)
	dev.WriteReg(mac.RegSPMAddr, spm.SlotOffset(slot))
	dev.WriteReg(mac.RegSPMStart, 1)
	dev.WriteReg(mac.RegCommand, mac.CmdInit)
	dev.WriteReg(mac.RegStartBit, startBit)
	dev.WriteReg(mac.RegEndBit, endBit)
	dev.WriteReg(mac.RegCommand, mac.CmdUpdate)
	dev.WriteReg(mac.RegCommand, mac.CmdFinalize)

	return dev.ReadReg(mac.RegResult)
}

func TestMacDeterministic(t *testing.T) {
	scratch := spm.New()

	var blk [64]byte
	for i := range blk {
		blk[i] = byte(i)
	}

	scratch.WriteBlock(spm.SlotData, blk)

	a := compute(t, scratch, spm.SlotData, 0, 512)
	b := compute(t, scratch, spm.SlotData, 0, 512)

	if a != b {
		t.Fatal("expected identical MAC for identical input")
	}
}

func TestMacDiffersOnBitFlip(t *testing.T) {
	scratch := spm.New()

	var blk [64]byte
	scratch.WriteBlock(spm.SlotData, blk)
	before := compute(t, scratch, spm.SlotData, 0, 512)

	blk[10] ^= 0x01
	scratch.WriteBlock(spm.SlotData, blk)
	after := compute(t, scratch, spm.SlotData, 0, 512)

	if before == after {
		t.Fatal("expected MAC to change after single bit flip")
	}
}

func TestMacMultiSegmentUpdate(t *testing.T) {
	scratch := spm.New()

	var nodeBlk [64]byte
	for i := 0; i < 56; i++ {
		nodeBlk[i] = byte(i)
	}

	var rootBlk [64]byte
	rootBlk[0] = 0x42

	scratch.WriteBlock(spm.SlotForLevel(0), nodeBlk)
	scratch.WriteBlock(spm.SlotRoot, rootBlk)

	dev := mac.New(scratch)

	dev.WriteReg(mac.RegSPMAddr, spm.SlotOffset(spm.SlotForLevel(0)))
	dev.WriteReg(mac.RegSPMStart, 1)
	dev.WriteReg(mac.RegCommand, mac.CmdInit)
	dev.WriteReg(mac.RegStartBit, 0)
	dev.WriteReg(mac.RegEndBit, 448)
	dev.WriteReg(mac.RegCommand, mac.CmdUpdate)

	dev.WriteReg(mac.RegSPMAddr, spm.SlotOffset(spm.SlotRoot))
	dev.WriteReg(mac.RegSPMStart, 1)
	dev.WriteReg(mac.RegStartBit, 0)
	dev.WriteReg(mac.RegEndBit, 64)
	dev.WriteReg(mac.RegCommand, mac.CmdUpdate)

	dev.WriteReg(mac.RegCommand, mac.CmdFinalize)

	got := dev.ReadReg(mac.RegResult)
	if got == 0 {
		t.Fatal("expected non-zero MAC result")
	}
}

func TestUnalignedRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unaligned bit range")
		}
	}()

	scratch := spm.New()
	dev := mac.New(scratch)
	dev.WriteReg(mac.RegCommand, mac.CmdInit)
	dev.WriteReg(mac.RegStartBit, 3)
	dev.WriteReg(mac.RegEndBit, 11)
	dev.WriteReg(mac.RegCommand, mac.CmdUpdate)
}
