package spm

import (
	"fmt"

	"github.com/coldtrace/memshield/internal/log"
	"github.com/coldtrace/memshield/internal/mmio"
	"github.com/coldtrace/memshield/internal/proto"
)

// management word bit layout (spec.md §4.1): tag occupies all bits except
// the bottom six; of those, bit 0 holds valid and bit 1 holds dirty. This
// packing works because block addresses are always 64-byte aligned, so
// their low six bits are already zero.
const (
	validBit = 1 << 0
	dirtyBit = 1 << 1
	tagMask  = ^uint64(0x3f)
)

// packManagementWord is a pure function building a management word from its
// fields, kept separate from the cache so it can be tested in isolation
// (design note: bit-level packing is expressed as pure functions).
func packManagementWord(blockAddr uint64, valid, dirty bool) uint64 {
	word := blockAddr & tagMask

	if valid {
		word |= validBit
	}

	if dirty {
		word |= dirtyBit
	}

	return word
}

// unpackManagementWord is the inverse of packManagementWord.
func unpackManagementWord(word uint64) (tag uint64, valid, dirty bool) {
	return word & tagMask, word&validBit != 0, word&dirtyBit != 0
}

// Cache implements the directly-mapped SPM block cache (component C1): one
// fixed slot per purpose, loaded and evicted through Ensure, driving the DMA
// accelerator exclusively through its MMIO registers and observing its
// busy/idle handshake. Dirty write-back is ordered ahead of the replacement
// fetch.
type Cache struct {
	spm     *SPM
	bus     *mmio.Bus
	dmaBase uint64
	dmaDev  mmio.Device
	log     *log.Logger
}

// NewCache creates a block cache over spm, driving the DMA device dma
// (already mapped on bus at dmaBase) for every DRAM<->SPM transfer.
func NewCache(s *SPM, bus *mmio.Bus, dmaBase uint64, dma *DMA) *Cache {
	return &Cache{spm: s, bus: bus, dmaBase: dmaBase, dmaDev: dma, log: log.DefaultLogger()}
}

func (c *Cache) WithLogger(l *log.Logger) {
	c.log = l
}

func (c *Cache) mgmtOffset(slot Slot) uint64 {
	return SlotOffset(managementSlot) + uint64(managementIndex(slot))*8
}

// TagCheck reports whether slot currently holds blockAddr (a cache hit).
func (c *Cache) TagCheck(slot Slot, blockAddr uint64) bool {
	word := c.spm.ReadWord(c.mgmtOffset(slot))
	tag, valid, _ := unpackManagementWord(word)

	return valid && tag == blockAddr&tagMask
}

// Ensure is the sole entry point for loading a DRAM block into slot: a
// no-op on a hit, a write-back-then-fetch on a dirty miss, and a plain
// fetch on a clean miss. Callers never DMA directly.
func (c *Cache) Ensure(blockAddr uint64, slot Slot) error {
	word := c.spm.ReadWord(c.mgmtOffset(slot))
	tag, valid, dirty := unpackManagementWord(word)

	if valid && tag == blockAddr&tagMask {
		c.log.Debug("spm cache hit", log.Uint64("addr", blockAddr), log.Int("slot", int(slot)))
		return nil
	}

	if valid && dirty {
		c.log.Debug("spm cache evict", log.Uint64("tag", tag), log.Int("slot", int(slot)))

		if err := c.dmaTransfer(slot, tag, DirSPMToDRAM); err != nil {
			return fmt.Errorf("spm: evict slot %d: %w", slot, err)
		}
	}

	if err := c.dmaTransfer(slot, blockAddr, DirDRAMToSPM); err != nil {
		return fmt.Errorf("spm: fetch slot %d: %w", slot, err)
	}

	c.spm.WriteWord(c.mgmtOffset(slot), packManagementWord(blockAddr, true, false))
	c.log.Debug("spm cache fill", log.Uint64("addr", blockAddr), log.Int("slot", int(slot)))

	return nil
}

// MarkDirty marks slot dirty and resident for blockAddr, without touching
// DRAM. Every write path calls this after mutating a cached block so the
// eventual eviction (or an explicit Flush) writes the change back.
func (c *Cache) MarkDirty(slot Slot, blockAddr uint64) {
	c.spm.WriteWord(c.mgmtOffset(slot), packManagementWord(blockAddr, true, true))
}

// Flush writes back every dirty cached slot, used by tooling to force DRAM
// to observe everything the cache currently holds (spec.md §8 property P6).
func (c *Cache) Flush() error {
	for _, slot := range cachedSlots {
		word := c.spm.ReadWord(c.mgmtOffset(slot))
		tag, valid, dirty := unpackManagementWord(word)

		if !valid || !dirty {
			continue
		}

		if err := c.dmaTransfer(slot, tag, DirSPMToDRAM); err != nil {
			return fmt.Errorf("spm: flush slot %d: %w", slot, err)
		}

		c.spm.WriteWord(c.mgmtOffset(slot), packManagementWord(tag, true, false))
	}

	return nil
}

// Invalidate writes back every dirty slot and then clears every cached
// slot's valid bit, forcing the next Ensure for any purpose to fetch fresh
// from DRAM regardless of what address it last held. The firmware core
// calls this once per completed request (spec.md §5 invariant I5: no two
// requests overlap) so that DRAM bytes changed between requests -- by a
// forced flush, a tamper, or a restored snapshot -- are always observed by
// the next one rather than shadowed by a still-valid cache line.
func (c *Cache) Invalidate() error {
	if err := c.Flush(); err != nil {
		return err
	}

	for _, slot := range cachedSlots {
		c.spm.WriteWord(c.mgmtOffset(slot), 0)
	}

	return nil
}

// dmaTransfer drives the DMA accelerator's register handshake: configure
// the four argument registers, write 1 to START, then poll START until it
// reads idle (spec.md §4.1, §5: ordering between commanding an accelerator
// and using anything it owns is enforced by the idle-wait).
func (c *Cache) dmaTransfer(slot Slot, blockAddr uint64, direction uint64) error {
	if err := c.bus.Store(c.dmaBase+RegDRAMAddr, blockAddr); err != nil {
		return err
	}

	if err := c.bus.Store(c.dmaBase+RegLocalOff, SlotOffset(slot)); err != nil {
		return err
	}

	if err := c.bus.Store(c.dmaBase+RegSize, proto.LineSize); err != nil {
		return err
	}

	if err := c.bus.Store(c.dmaBase+RegDirection, direction); err != nil {
		return err
	}

	if err := c.bus.Store(c.dmaBase+RegStart, 1); err != nil {
		return err
	}

	mmio.PollUntilZero(c.dmaDev, RegStart)

	return nil
}
