package mmio_test

import (
	"testing"

	"github.com/coldtrace/memshield/internal/mmio"
)

type fakeDevice struct {
	regs map[uint64]mmio.Reg
}

func (f *fakeDevice) ReadReg(offset uint64) mmio.Reg {
	return f.regs[offset]
}

func (f *fakeDevice) WriteReg(offset uint64, value mmio.Reg) {
	if f.regs == nil {
		f.regs = map[uint64]mmio.Reg{}
	}

	f.regs[offset] = value
}

func TestBusLoadStore(t *testing.T) {
	bus := mmio.NewBus()
	dev := &fakeDevice{}
	bus.Map("fake", 0x1000, 0x100, dev)

	if err := bus.Store(0x1008, 42); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := bus.Load(0x1008)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}

	if dev.regs[0x08] != 42 {
		t.Fatalf("device saw offset %#x, want 0x08", 0x08)
	}
}

func TestBusNoDevice(t *testing.T) {
	bus := mmio.NewBus()

	if _, err := bus.Load(0xdead); err == nil {
		t.Fatal("expected error loading unmapped address")
	}

	if err := bus.Store(0xdead, 1); err == nil {
		t.Fatal("expected error storing unmapped address")
	}
}

func TestBusOverlapPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on overlapping map")
		}
	}()

	bus := mmio.NewBus()
	bus.Map("a", 0x0, 0x100, &fakeDevice{})
	bus.Map("b", 0x80, 0x100, &fakeDevice{})
}

func TestPollUntilZero(t *testing.T) {
	dev := &fakeDevice{regs: map[uint64]mmio.Reg{0x0: 3}}

	go func() {
		dev.regs[0x0] = 2
		dev.regs[0x0] = 1
		dev.regs[0x0] = 0
	}()

	dev.regs[0x0] = 0
	mmio.PollUntilZero(dev, 0x0)
}

func TestPollUntilZeroBit(t *testing.T) {
	dev := &fakeDevice{regs: map[uint64]mmio.Reg{0x0: 0}}
	mmio.PollUntilZeroBit(dev, 0x0, 1)
}
