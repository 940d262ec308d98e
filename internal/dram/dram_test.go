package dram_test

import (
	"testing"

	"github.com/coldtrace/memshield/internal/dram"
)

func TestLoadStoreBlockRoundTrip(t *testing.T) {
	d := dram.New(4096)

	var blk dram.Block
	for i := range blk {
		blk[i] = byte(i)
	}

	if err := d.StoreBlock(128, blk); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := d.LoadBlock(128)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got != blk {
		t.Fatalf("got %v, want %v", got, blk)
	}
}

func TestUnalignedBlockRejected(t *testing.T) {
	d := dram.New(4096)

	if _, err := d.LoadBlock(1); err == nil {
		t.Fatal("expected error for unaligned address")
	}
}

func TestOutOfBounds(t *testing.T) {
	d := dram.New(128)

	if _, err := d.LoadBlock(128); err == nil {
		t.Fatal("expected out of bounds error")
	}

	if _, err := d.ReadByte(128); err == nil {
		t.Fatal("expected out of bounds error")
	}
}

func TestByteTamper(t *testing.T) {
	d := dram.New(128)

	if err := d.WriteByte(10, 0xAB); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := d.ReadByte(10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if got != 0xAB {
		t.Fatalf("got %#x, want 0xAB", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	d := dram.New(128)
	_ = d.WriteByte(0, 7)

	snap := d.Snapshot()

	_ = d.WriteByte(0, 9)

	if err := d.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, _ := d.ReadByte(0)
	if got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}
