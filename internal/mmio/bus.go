// Package mmio provides the memory-mapped I/O plumbing shared by every
// accelerator: a 64-bit addressable register contract, a bus that routes
// loads and stores to the device owning an address range, and the
// busy-wait primitive the SPM block cache polls the DMA accelerator through.
//
// The contract is defined entirely by reads and writes of 64-bit registers
// at device-relative offsets plus a busy/idle status bit; it replaces the
// pointer-to-forward-declared-module wiring of a C++ bus with a narrow Go
// interface each accelerator implements directly.
package mmio

import (
	"fmt"

	"github.com/coldtrace/memshield/internal/log"
)

// Reg is the natural register width of every accelerator in the design: a
// 64-bit, 64-bit-aligned memory-mapped word.
type Reg = uint64

// Device is a memory-mapped accelerator. Offset is relative to the device's
// own base address; the Bus is responsible for base-address decoding.
type Device interface {
	// ReadReg returns the value of the register at offset.
	ReadReg(offset uint64) Reg

	// WriteReg stores value to the register at offset.
	WriteReg(offset uint64, value Reg)
}

// Bus maps base addresses to the device that owns that range.
type Bus struct {
	log *log.Logger

	devices []mapping
}

type mapping struct {
	base, size uint64
	dev        Device
	name       string
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{log: log.DefaultLogger()}
}

// WithLogger reconfigures the bus (and is a no-op on the mapped devices,
// which are configured independently).
func (b *Bus) WithLogger(l *log.Logger) {
	b.log = l
}

// Map attaches dev at [base, base+size) on the bus. It is a programming
// error to map overlapping ranges.
func (b *Bus) Map(name string, base, size uint64, dev Device) {
	for _, m := range b.devices {
		if base < m.base+m.size && m.base < base+size {
			panic(fmt.Sprintf("mmio: bus: overlapping map: %s [%#x,%#x) vs %s [%#x,%#x)",
				name, base, base+size, m.name, m.base, m.base+m.size))
		}
	}

	b.devices = append(b.devices, mapping{base: base, size: size, dev: dev, name: name})
}

// ErrNoDevice is returned when an address does not fall into any mapped
// device's range.
var ErrNoDevice = fmt.Errorf("mmio: no device mapped at address")

// Load reads the register at addr, translating to a device-relative offset.
func (b *Bus) Load(addr uint64) (Reg, error) {
	m, ok := b.find(addr)
	if !ok {
		return 0, fmt.Errorf("%w: %#x", ErrNoDevice, addr)
	}

	val := m.dev.ReadReg(addr - m.base)
	b.log.Debug("mmio load", log.String("device", m.name), log.Uint64("addr", addr), log.Uint64("value", val))

	return val, nil
}

// Store writes value to the register at addr.
func (b *Bus) Store(addr uint64, value Reg) error {
	m, ok := b.find(addr)
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNoDevice, addr)
	}

	b.log.Debug("mmio store", log.String("device", m.name), log.Uint64("addr", addr), log.Uint64("value", value))
	m.dev.WriteReg(addr-m.base, value)

	return nil
}

func (b *Bus) find(addr uint64) (mapping, bool) {
	for _, m := range b.devices {
		if addr >= m.base && addr < m.base+m.size {
			return m, true
		}
	}

	return mapping{}, false
}

// PollUntilZero busy-waits on the register at offset until it reads zero.
// The SPM block cache's DMA handshake goes through this primitive: a tight
// polling loop with no yield, mirroring bare-metal driver code that spins on
// a hardware status bit. There is no timeout; a hung accelerator hangs the
// firmware by design (spec §5). The engine does not poll the AES, MAC or AXI
// manager: their start/status/busy registers always read zero, since they
// complete synchronously within the commanding store.
func PollUntilZero(dev Device, offset uint64) {
	for dev.ReadReg(offset) != 0 {
	}
}

// PollUntilZeroBit busy-waits until bit `bit` of the register at offset is
// clear, used for status registers that pack more than one flag (e.g. the
// AXI manager's STATUS register).
func PollUntilZeroBit(dev Device, offset uint64, bit uint) {
	mask := Reg(1) << bit
	for dev.ReadReg(offset)&mask != 0 {
	}
}
