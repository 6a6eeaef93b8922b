package utils

import "testing"

func TestAlignTo(t *testing.T) {
	tests := []struct {
		val, align, want uint64
	}{
		{0, 4096, 0},
		{1, 4096, 4096},
		{4096, 4096, 4096},
		{4097, 16, 4112},
		{7, 0, 7},
		{7, 1, 7},
	}

	for _, tt := range tests {
		if got := AlignTo(tt.val, tt.align); got != tt.want {
			t.Errorf("AlignTo(%d, %d) = %d, want %d", tt.val, tt.align, got, tt.want)
		}
	}
}

func TestHasSingleBit(t *testing.T) {
	for _, v := range []uint64{1, 2, 4, 4096, 1 << 63} {
		if !HasSingleBit(v) {
			t.Errorf("HasSingleBit(%d) = false", v)
		}
	}
	for _, v := range []uint64{0, 3, 6, 4095} {
		if HasSingleBit(v) {
			t.Errorf("HasSingleBit(%d) = true", v)
		}
	}
}

func TestIntRanges(t *testing.T) {
	tests := []struct {
		name string
		val  int64
		bits int
		want bool
	}{
		{"max 13", 4095, 13, true},
		{"min 13", -4096, 13, true},
		{"over 13", 4096, 13, false},
		{"under 13", -4097, 13, false},
		{"max 32", 1<<31 - 1, 32, true},
		{"over 32", 1 << 31, 32, false},
		{"any 64", -1 << 63, 64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsInt(tt.val, tt.bits); got != tt.want {
				t.Errorf("IsInt(%d, %d) = %v, want %v", tt.val, tt.bits, got, tt.want)
			}
		})
	}

	if !IsUint(0xffff_ffff, 32) || IsUint(1<<32, 32) {
		t.Error("IsUint 32-bit boundary is wrong")
	}
}

func TestBits(t *testing.T) {
	if got := Bits[uint32](0b1011_0000, 7, 4); got != 0b1011 {
		t.Errorf("Bits = %b", got)
	}
	if got := Bit[uint32](0b100, 2); got != 1 {
		t.Errorf("Bit = %d", got)
	}
}

func TestReadWrite(t *testing.T) {
	type pair struct {
		A uint32
		B uint16
	}

	buf := make([]byte, SizeOf[pair]())
	if len(buf) != 6 {
		t.Fatalf("SizeOf = %d, want 6", len(buf))
	}

	Write(buf, pair{A: 0xdeadbeef, B: 0x1234})
	if buf[0] != 0xef || buf[4] != 0x34 {
		t.Errorf("unexpected encoding % x", buf)
	}

	got := Read[pair](buf)
	if got.A != 0xdeadbeef || got.B != 0x1234 {
		t.Errorf("Read = %+v", got)
	}
}

func TestRemoveIf(t *testing.T) {
	got := RemoveIf([]int{1, 2, 3, 4, 5}, func(v int) bool { return v%2 == 0 })
	if len(got) != 3 || got[0] != 1 || got[1] != 3 || got[2] != 5 {
		t.Errorf("RemoveIf = %v", got)
	}
}

func TestMapSet(t *testing.T) {
	s := NewMapSet("a", "b")
	s.Add("c")
	if !s.Contains("a") || !s.Contains("c") || s.Contains("d") || s.Len() != 3 {
		t.Error("MapSet membership is wrong")
	}
}
