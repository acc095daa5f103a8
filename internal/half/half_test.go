package half

import (
	"math"
	"testing"
)

func TestToFloat32(t *testing.T) {
	for _, tc := range []struct {
		h    uint16
		want float32
	}{
		{0x0000, 0},
		{0x3C00, 1},
		{0xC000, -2},
		{0x3800, 0.5},
		{0x7BFF, 65504},
		{0x0001, float32(math.Ldexp(1, -24))},
		{0x0400, float32(math.Ldexp(1, -14))},
	} {
		if got := ToFloat32(tc.h); got != tc.want {
			t.Fatalf("ToFloat32(%#04x) = %v, want %v", tc.h, got, tc.want)
		}
	}

	if !math.IsInf(float64(ToFloat32(0x7C00)), 1) {
		t.Fatal("expected +Inf")
	}
	if !math.IsNaN(float64(ToFloat32(0x7E00))) {
		t.Fatal("expected NaN")
	}
}

func TestFromFloat32RoundTrip(t *testing.T) {
	for h := uint32(0); h < 0x7C00; h++ {
		v := ToFloat32(uint16(h))
		if got := FromFloat32(v); got != uint16(h) {
			t.Fatalf("FromFloat32(%v) = %#04x, want %#04x", v, got, h)
		}
	}
	if got := FromFloat32(1e6); got != 0x7C00 {
		t.Fatalf("overflow: got %#04x", got)
	}
	if got := FromFloat32(-1e-9); got != 0x8000 {
		t.Fatalf("underflow: got %#04x", got)
	}
}
