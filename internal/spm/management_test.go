package spm

import "testing"

func TestPackUnpackManagementWord(t *testing.T) {
	cases := []struct {
		addr         uint64
		valid, dirty bool
	}{
		{0x1000, false, false},
		{0x2040, true, false},
		{0x3fc0, true, true},
		{0, true, true},
	}

	for _, c := range cases {
		word := packManagementWord(c.addr, c.valid, c.dirty)
		tag, valid, dirty := unpackManagementWord(word)

		if tag != c.addr&tagMask {
			t.Errorf("addr %#x: tag = %#x, want %#x", c.addr, tag, c.addr&tagMask)
		}

		if valid != c.valid || dirty != c.dirty {
			t.Errorf("addr %#x: valid=%v dirty=%v, want valid=%v dirty=%v", c.addr, valid, dirty, c.valid, c.dirty)
		}
	}
}

func TestManagementWordIgnoresUnalignedBits(t *testing.T) {
	// A block address always arrives 64-byte aligned; the low six bits
	// carry valid/dirty instead of tag, and must not leak into the tag.
	word := packManagementWord(0x1234, true, true)
	tag, _, _ := unpackManagementWord(word)

	if tag&0x3f != 0 {
		t.Fatalf("tag has low bits set: %#x", tag)
	}
}

func TestSlotForLevel(t *testing.T) {
	want := map[int]Slot{0: 6, 1: 5, 2: 4, 3: 3}

	for i, slot := range want {
		if got := SlotForLevel(i); got != slot {
			t.Errorf("SlotForLevel(%d) = %d, want %d", i, got, slot)
		}
	}
}

func TestSlotForLevelOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range level")
		}
	}()

	SlotForLevel(4)
}
