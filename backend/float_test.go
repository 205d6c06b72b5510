package backend

import (
	"math"
	"testing"
)

func TestF16ExactValues(t *testing.T) {
	cases := map[float32]uint16{
		0:       0x0000,
		1:       0x3c00,
		-2:      0xc000,
		0.5:     0x3800,
		65504:   0x7bff, // largest finite f16
		0.1:     0x2e66,
		1.0 / 3: 0x3555,
	}
	for f, bits := range cases {
		if got := F16FromFloat32(f); got != bits {
			t.Errorf("F16FromFloat32(%v) = %#04x, want %#04x", f, got, bits)
		}
	}
}

func TestF16RoundTripRepresentable(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 0.5, 2048, 65504, 6.103515625e-05} {
		if got := Float32FromF16(F16FromFloat32(f)); got != f {
			t.Errorf("round trip of %v = %v", f, got)
		}
	}
}

func TestF16Overflow(t *testing.T) {
	if got := F16FromFloat32(1e10); got != 0x7c00 {
		t.Errorf("overflow = %#04x, want +inf", got)
	}
	if got := F16FromFloat32(float32(math.Inf(-1))); got != 0xfc00 {
		t.Errorf("-inf = %#04x", got)
	}
	if !math.IsNaN(float64(Float32FromF16(F16FromFloat32(float32(math.NaN()))))) {
		t.Error("NaN lost through conversion")
	}
}

func TestF16Subnormals(t *testing.T) {
	// Smallest positive f16 subnormal is 2^-24.
	tiny := float32(math.Pow(2, -24))
	if got := F16FromFloat32(tiny); got != 0x0001 {
		t.Errorf("2^-24 = %#04x, want 0x0001", got)
	}
	if got := Float32FromF16(0x0001); got != tiny {
		t.Errorf("decode(0x0001) = %v, want %v", got, tiny)
	}
	// Underflow to zero.
	if got := F16FromFloat32(1e-30); got != 0 {
		t.Errorf("1e-30 = %#04x, want 0", got)
	}
}

func TestF16RoundsHalfToEven(t *testing.T) {
	// At magnitude 2048 the f16 spacing is 2: 2049 ties and rounds to the
	// even neighbor 2048.
	if got := Float32FromF16(F16FromFloat32(2049)); got != 2048 {
		t.Errorf("2049 rounds to %v, want 2048", got)
	}
	if got := Float32FromF16(F16FromFloat32(2051)); got != 2052 {
		t.Errorf("2051 rounds to %v, want 2052", got)
	}
}

func TestBF16(t *testing.T) {
	if got := BF16FromFloat32(0.1); got != 0x3dcd {
		t.Errorf("bf16(0.1) = %#04x, want 0x3dcd", got)
	}
	for _, f := range []float32{0, 1, -1, 256, 0.5} {
		if got := Float32FromBF16(BF16FromFloat32(f)); got != f {
			t.Errorf("round trip of %v = %v", f, got)
		}
	}
	if !math.IsNaN(float64(Float32FromBF16(BF16FromFloat32(float32(math.NaN()))))) {
		t.Error("NaN lost through bf16")
	}
}
