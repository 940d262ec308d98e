package engine

import (
	"fmt"

	"github.com/coldtrace/memshield/internal/accel/aes"
	"github.com/coldtrace/memshield/internal/accel/axim"
	"github.com/coldtrace/memshield/internal/accel/mac"
	"github.com/coldtrace/memshield/internal/counter"
	"github.com/coldtrace/memshield/internal/proto"
	"github.com/coldtrace/memshield/internal/spm"
)

// leafSlot is the SPM slot caching the deepest tree level's node -- the
// same node spec.md §4.2 also calls the leaf counter block -- kept resident
// through the verify/update walk so the data-MAC driver can read the
// freshly written counter entry straight out of it (spec.md §4.6).
func leafSlot() spm.Slot {
	return spm.SlotForLevel(proto.TreeHeight - 1)
}

// authenticate implements the write path (Authentication, spec.md §4.7): a
// conditional tree verify, the root-downward counter update, the encrypt
// driver, and the data-MAC store, in that order so no state is mutated
// before verification succeeds.
func (e *Engine) authenticate(addr counter.Address, zeroInit bool) error {
	if !zeroInit {
		if err := e.verifyTree(addr); err != nil {
			return err
		}
	}

	if err := e.updateCounters(addr); err != nil {
		return err
	}

	// Write-allocate: bring this request's line into the data slot so a
	// stale dirty line for a different address is safely written back
	// before being overwritten by this request's ciphertext.
	if err := e.cache.Ensure(addr.Addr, spm.SlotData); err != nil {
		return err
	}

	if err := e.encrypt(addr); err != nil {
		return err
	}

	e.cache.MarkDirty(spm.SlotData, addr.Addr)

	return e.storeDataMAC(addr)
}

// verifyTree walks the counter tree root-downward, recomputing and
// comparing each level's stored MAC (spec.md §4.3, component C3).
func (e *Engine) verifyTree(addr counter.Address) error {
	for i := 0; i < proto.TreeHeight; i++ {
		slot := spm.SlotForLevel(i)
		nodeAddr := e.layout.NodeAddr(i, addr.Path)

		if err := e.cache.Ensure(nodeAddr, slot); err != nil {
			return err
		}

		got := e.macOverNode(i, addr, slot)
		stored := e.scratch.ReadWord(spm.SlotOffset(slot) + proto.NodeMACOffset)

		if got != stored {
			return fmt.Errorf("%w: level %d", ErrTreeMacMismatch, i)
		}
	}

	return nil
}

// updateCounters walks the tree root-downward, incrementing the minor
// counter authenticating this request's path at each level (promoting to
// major on overflow), marking every touched slot dirty, and recomputing
// each level's MAC (spec.md §4.4, component C4). The in-SPM root is bumped
// once, unconditionally, ahead of the per-level loop.
func (e *Engine) updateCounters(addr counter.Address) error {
	root := e.scratch.ReadWord(spm.SlotOffset(spm.SlotRoot))
	e.scratch.WriteWord(spm.SlotOffset(spm.SlotRoot), root+1)

	for i := 0; i < proto.TreeHeight; i++ {
		slot := spm.SlotForLevel(i)
		nodeAddr := e.layout.NodeAddr(i, addr.Path)

		if err := e.cache.Ensure(nodeAddr, slot); err != nil {
			return err
		}

		childIdx := int(addr.Path[i] % proto.FanOut)
		bitOff := counter.BitOffsetForChild(childIdx)
		wordOff := spm.SlotOffset(slot) + (bitOff/64)*8

		word := e.scratch.ReadWord(wordOff)
		minor := counter.ExtractByte(word, uint(bitOff%64))
		overflow := minor == 0xFF

		word = counter.ReplaceByte(word, uint(bitOff%64), minor+1)
		e.scratch.WriteWord(wordOff, word)

		if overflow {
			majorOff := spm.SlotOffset(slot)
			e.scratch.WriteWord(majorOff, e.scratch.ReadWord(majorOff)+1)
		}

		e.cache.MarkDirty(slot, nodeAddr)

		nodeMAC := e.macOverNode(i, addr, slot)
		e.scratch.WriteWord(spm.SlotOffset(slot)+proto.NodeMACOffset, nodeMAC)
	}

	return nil
}

// macOverNode computes the MAC authenticating the node resident in slot at
// tree level i: the node's first 448 bits, then its parent entry (the
// in-SPM root for level 0, else 8 bits of the level-(i-1) node).
func (e *Engine) macOverNode(i int, addr counter.Address, slot spm.Slot) uint64 {
	e.store(e.cfg.MACBase+mac.RegSPMAddr, spm.SlotOffset(slot))
	e.store(e.cfg.MACBase+mac.RegSPMStart, 1)
	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdInit)
	e.store(e.cfg.MACBase+mac.RegStartBit, 0)
	e.store(e.cfg.MACBase+mac.RegEndBit, proto.NodeBodySize*8)
	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdUpdate)

	parentOff, isRoot := counter.ParentBitOffset(i, addr.Path)

	if isRoot {
		e.store(e.cfg.MACBase+mac.RegSPMAddr, spm.SlotOffset(spm.SlotRoot))
		e.store(e.cfg.MACBase+mac.RegSPMStart, 1)
		e.store(e.cfg.MACBase+mac.RegStartBit, 0)
		e.store(e.cfg.MACBase+mac.RegEndBit, 64)
	} else {
		parentSlot := spm.SlotForLevel(i - 1)
		e.store(e.cfg.MACBase+mac.RegSPMAddr, spm.SlotOffset(parentSlot))
		e.store(e.cfg.MACBase+mac.RegSPMStart, 1)
		e.store(e.cfg.MACBase+mac.RegStartBit, parentOff)
		e.store(e.cfg.MACBase+mac.RegEndBit, parentOff+8)
	}

	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdUpdate)
	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdFinalize)

	return e.load(e.cfg.MACBase + mac.RegResult)
}

// leafCounterEntry reads the (major, minor) pair authenticating this
// request's line, straight out of the resident leaf-level tree node.
func (e *Engine) leafCounterEntry(addr counter.Address) (major uint64, minor byte) {
	slot := leafSlot()
	major = e.scratch.ReadWord(spm.SlotOffset(slot))

	bitOff := addr.CBO
	word := e.scratch.ReadWord(spm.SlotOffset(slot) + (bitOff/64)*8)
	minor = counter.ExtractByte(word, uint(bitOff%64))

	return major, minor
}

// deriveSeed produces the eight 64-bit AES seed words from the request
// address and the line's counter entry, per the split-by-index scheme
// spec.md §4.5 fixes for determinism across the encrypt and decrypt paths.
func deriveSeed(reqAddr, major uint64, minor byte) [aes.NumInputs]uint64 {
	var seed [aes.NumInputs]uint64

	for k := 0; k < aes.NumInputs; k++ {
		base := reqAddr + 16*uint64(k/2)

		if k%2 == 0 {
			seed[k] = base + major
		} else {
			seed[k] = base + uint64(minor)
		}
	}

	return seed
}

func (e *Engine) launchAES(seed [aes.NumInputs]uint64) {
	for k := 0; k < aes.NumInputs; k++ {
		e.store(e.cfg.AESBase+uint64(k)*8, seed[k])
	}

	e.store(e.cfg.AESBase+aes.RegStart, 1)
}

// encrypt derives the OTP seed from the just-updated counter entry, runs
// the AES accelerator, and commands the AXI manager to XOR its write
// buffer with the OTP and copy the ciphertext into the SPM data slot
// (spec.md §4.5, component C5).
func (e *Engine) encrypt(addr counter.Address) error {
	major, minor := e.leafCounterEntry(addr)
	e.launchAES(deriveSeed(addr.Addr, major, minor))

	// ENCRYPT and WRITE_BACK must be issued as separate commands: the AXI
	// manager always applies WRITE_BACK ahead of ENCRYPT within a single
	// command word, so folding them into one bitmask would copy the stale
	// plaintext buffer before it is XORed with the OTP.
	e.store(e.cfg.AXIMBase+axim.RegSPMAddr, spm.SlotOffset(spm.SlotData))
	e.store(e.cfg.AXIMBase+axim.RegCommand, axim.CmdEncrypt)
	e.store(e.cfg.AXIMBase+axim.RegCommand, axim.CmdWriteBack)

	return nil
}

// decrypt loads the ciphertext line from DRAM into the SPM data slot, then
// commands the AXI manager to copy it into its read buffer and XOR it with
// a freshly derived OTP (spec.md §4.5, component C6). The resulting
// plaintext stays in the AXI manager's read buffer until the dispatcher
// issues READ_RETURN.
func (e *Engine) decrypt(addr counter.Address) error {
	if err := e.cache.Ensure(addr.Addr, spm.SlotData); err != nil {
		return err
	}

	major, minor := e.leafCounterEntry(addr)
	e.launchAES(deriveSeed(addr.Addr, major, minor))

	e.store(e.cfg.AXIMBase+axim.RegSPMAddr, spm.SlotOffset(spm.SlotData))
	e.store(e.cfg.AXIMBase+axim.RegCommand, axim.CmdCopy|axim.CmdDecrypt)

	return nil
}

// macOverLine computes MAC(ciphertext_64B || leaf_minor_byte), the data
// MAC protocol of spec.md §4.6: feed the whole data slot, then the 8-bit
// leaf counter entry at its bit offset within the resident leaf node.
func (e *Engine) macOverLine(addr counter.Address) uint64 {
	e.store(e.cfg.MACBase+mac.RegSPMAddr, spm.SlotOffset(spm.SlotData))
	e.store(e.cfg.MACBase+mac.RegSPMStart, 1)
	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdInit)
	e.store(e.cfg.MACBase+mac.RegStartBit, 0)
	e.store(e.cfg.MACBase+mac.RegEndBit, proto.LineSize*8)
	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdUpdate)

	e.store(e.cfg.MACBase+mac.RegSPMAddr, spm.SlotOffset(leafSlot()))
	e.store(e.cfg.MACBase+mac.RegSPMStart, 1)
	e.store(e.cfg.MACBase+mac.RegStartBit, addr.CBO)
	e.store(e.cfg.MACBase+mac.RegEndBit, addr.CBO+8)
	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdUpdate)

	e.store(e.cfg.MACBase+mac.RegCommand, mac.CmdFinalize)

	return e.load(e.cfg.MACBase + mac.RegResult)
}

// storeDataMAC computes the data MAC for the line now resident in the data
// slot and writes it to the data-MAC block in DRAM via the MAC slot.
func (e *Engine) storeDataMAC(addr counter.Address) error {
	result := e.macOverLine(addr)

	if err := e.cache.Ensure(addr.MB, spm.SlotMAC); err != nil {
		return err
	}

	e.scratch.WriteWord(spm.SlotOffset(spm.SlotMAC)+addr.DMO, result)
	e.cache.MarkDirty(spm.SlotMAC, addr.MB)

	return nil
}

// verifyDataMAC recomputes the data MAC for the line now resident in the
// data slot and compares it to the stored value.
func (e *Engine) verifyDataMAC(addr counter.Address) error {
	result := e.macOverLine(addr)

	if err := e.cache.Ensure(addr.MB, spm.SlotMAC); err != nil {
		return err
	}

	stored := e.scratch.ReadWord(spm.SlotOffset(spm.SlotMAC) + addr.DMO)
	if stored != result {
		return ErrDataMacMismatch
	}

	return nil
}
