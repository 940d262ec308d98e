// Package engine assembles the four accelerators behind one memory-mapped
// bus and drives them through the firmware state machine described in
// spec.md §4: the request dispatcher (C8), the counter-tree verifier and
// updater (C3/C4), and the encryption/decryption and data-MAC drivers
// (C5-C7). It is the part of the design that owns no storage of its own --
// DRAM and SPM bytes belong to the dram and spm packages -- and instead
// holds handles to the DRAM, the scratchpad and the devices for its whole
// lifetime, across requests.
package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/coldtrace/memshield/internal/accel/aes"
	"github.com/coldtrace/memshield/internal/accel/axim"
	"github.com/coldtrace/memshield/internal/accel/mac"
	"github.com/coldtrace/memshield/internal/counter"
	"github.com/coldtrace/memshield/internal/dram"
	"github.com/coldtrace/memshield/internal/log"
	"github.com/coldtrace/memshield/internal/mmio"
	"github.com/coldtrace/memshield/internal/spm"
)

// Engine wires the SPM block cache and the four accelerators behind one bus
// and drives the firmware's per-request algorithm.
type Engine struct {
	cfg Config
	log *log.Logger

	dram    *dram.DRAM
	scratch *spm.SPM
	bus     *mmio.Bus
	cache   *spm.Cache

	dmaDev  *spm.DMA
	aesDev  *aes.AES
	macDev  *mac.MAC
	aximDev *axim.AXIM

	layout *counter.Layout
}

// OptionFn customizes an Engine at construction time, before any request is
// processed.
type OptionFn func(*Engine)

// WithLogger overrides the engine's (and every device's) logger.
func WithLogger(l *log.Logger) OptionFn {
	return func(e *Engine) {
		e.log = l
		e.cache.WithLogger(l)
		e.dmaDev.WithLogger(l)
		e.aesDev.WithLogger(l)
		e.macDev.WithLogger(l)
		e.aximDev.WithLogger(l)
		e.bus.WithLogger(l)
	}
}

// New builds an Engine over cfg.DRAM (or a freshly allocated DRAM when that
// is nil) and a fresh scratchpad, mapping all four accelerators onto one bus, ready to process requests.
func New(cfg Config, opts ...OptionFn) (*Engine, error) {
	cfg = cfg.WithDefaultBases()

	layout, err := counter.NewLayout(cfg.Base, cfg.Size, cfg.CtrBase, cfg.MacBase)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	mem := cfg.DRAM
	if mem == nil {
		mem = dram.New(cfg.DRAMSize)
	}

	scratch := spm.New()
	bus := mmio.NewBus()

	dmaDev := spm.NewDMA(mem, scratch)
	bus.Map("dma", cfg.DMABase, 0x20000, dmaDev)

	cache := spm.NewCache(scratch, bus, cfg.DMABase, dmaDev)

	aximDev := axim.New(scratch)
	bus.Map("axim", cfg.AXIMBase, 0x100, aximDev)

	aesDev := aes.New(aximDev)
	bus.Map("aes", cfg.AESBase, 0x100, aesDev)

	macDev := mac.New(scratch)
	bus.Map("mac", cfg.MACBase, 0x100, macDev)

	e := &Engine{
		cfg:     cfg,
		log:     log.DefaultLogger(),
		dram:    mem,
		scratch: scratch,
		bus:     bus,
		cache:   cache,
		dmaDev:  dmaDev,
		aesDev:  aesDev,
		macDev:  macDev,
		aximDev: aximDev,
		layout:  layout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Submit hands a request to the AXI manager's queue, exactly as the LLC
// would (spec.md §5: the queue is mutated externally, under the LLC's own
// discipline, which this engine does not model beyond exposing Submit).
func (e *Engine) Submit(req axim.Request) {
	e.aximDev.Submit(req)
}

// Responses returns the channel of completed request results.
func (e *Engine) Responses() <-chan axim.Response {
	return e.aximDev.Responses()
}

// Flush forces every dirty SPM slot back to DRAM, used by tooling to
// observe property P6 (cache consistency under a forced flush).
func (e *Engine) Flush() error {
	return e.cache.Flush()
}

// DRAM exposes the backing store for snapshot/tamper tooling and tests.
func (e *Engine) DRAM() *dram.DRAM {
	return e.dram
}

// Resolve translates a request address into its tree path and derived
// addresses, for tooling that needs to inspect or corrupt specific DRAM
// regions (snapshot/tamper commands, tests).
func (e *Engine) Resolve(reqAddr uint64) (counter.Address, error) {
	return e.layout.Resolve(reqAddr)
}

// NodeAddr returns the DRAM address of the tree node at level on addr's
// path, for tooling built on top of Resolve.
func (e *Engine) NodeAddr(level int, addr counter.Address) uint64 {
	return e.layout.NodeAddr(level, addr.Path)
}

func (e *Engine) store(addr uint64, value uint64) {
	if err := e.bus.Store(addr, value); err != nil {
		panic(err)
	}
}

func (e *Engine) load(addr uint64) uint64 {
	v, err := e.bus.Load(addr)
	if err != nil {
		panic(err)
	}

	return v
}

// ProcessOne services the request currently at the front of the AXI
// manager's queue, if any, per the dispatcher algorithm of spec.md §4.7. It
// returns false if no request is pending. A dispatch-time rejection
// (RequestOutOfRange) or a verification failure aborts before any state is
// mutated and leaves the queue untouched -- the caller must decide how to
// handle a wedged request, matching the design's "LLC observes a timeout"
// policy for mismatches.
func (e *Engine) ProcessOne() (bool, error) {
	status := e.load(e.cfg.AXIMBase + axim.RegStatus)
	if status&axim.StatusPending == 0 {
		return false, nil
	}

	reqAddr := e.load(e.cfg.AXIMBase + axim.RegReqAddr)
	isWrite := status&axim.StatusIsWrite != 0

	addr, err := e.layout.Resolve(reqAddr)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrRequestOutOfRange, err)
	}

	if err := e.cache.Ensure(addr.CB, spm.SlotLeafCounter); err != nil {
		return false, err
	}

	precheck := e.scratch.ReadBlock(spm.SlotLeafCounter)
	major := binary.LittleEndian.Uint64(precheck[0:8])
	minor := precheck[addr.CBO/8]
	zeroInit := major == 0 && minor == 0

	if isWrite {
		if err := e.authenticate(addr, zeroInit); err != nil {
			return false, err
		}

		e.store(e.cfg.AXIMBase+axim.RegCommand, axim.CmdWriteReturn)

		return true, e.endRequest()
	}

	if zeroInit {
		// Never written: DRAM starts zeroed, so loading the (never-mutated)
		// block directly yields the all-zero line with no decrypt or MAC
		// step required (spec.md §4.7 zero-init policy). This also means a
		// leaf counter block reset to all-zero out of band is indistinguishable
		// from never-written and is served the same way; only non-leaf tree
		// tampering is caught below as ErrTreeMacMismatch.
		if err := e.cache.Ensure(addr.Addr, spm.SlotData); err != nil {
			return false, err
		}

		e.store(e.cfg.AXIMBase+axim.RegSPMAddr, spm.SlotOffset(spm.SlotData))
		e.store(e.cfg.AXIMBase+axim.RegCommand, axim.CmdCopy|axim.CmdReadReturn)

		return true, e.endRequest()
	}

	if err := e.verifyTree(addr); err != nil {
		return false, err
	}

	if err := e.decrypt(addr); err != nil {
		return false, err
	}

	if err := e.verifyDataMAC(addr); err != nil {
		return false, err
	}

	// decrypt already populated the AXI manager's read buffer via COPY +
	// DECRYPT; the final command only needs to release it to the LLC.
	e.store(e.cfg.AXIMBase+axim.RegCommand, axim.CmdReadReturn)

	return true, e.endRequest()
}

// endRequest writes back every dirty SPM slot and invalidates the cache
// (spec.md §5 invariant I5: requests never overlap, so nothing is lost by
// treating each request's working set as transient). Without this, a
// directly-mapped purpose slot that happens to still hold the address just
// served would shadow any DRAM mutation -- a forced flush, a tamper, a
// restored snapshot -- made before the next request touches it.
func (e *Engine) endRequest() error {
	return e.cache.Invalidate()
}
