package backend

import (
	"math"
	"testing"

	"github.com/frank-ceva/nem/nem"
)

func tensor(elem nem.ElemType, shape []int, data []float64) *Tensor {
	t := NewTensor(elem, shape)
	copy(t.Data, data)
	return t
}

func TestSupportsStableOperators(t *testing.T) {
	var ref Reference
	for _, op := range []string{"gemm", "conv2d", "eltwise", "relu", "softmax",
		"layernorm", "quantize", "dequantize", "cast"} {
		if !ref.Supports(op) {
			t.Errorf("reference backend missing %q", op)
		}
	}
	if ref.Supports("teleport") {
		t.Error("unexpected operator supported")
	}
}

func TestGemm(t *testing.T) {
	a := tensor(nem.F32, []int{2, 2}, []float64{1, 2, 3, 4})
	b := tensor(nem.F32, []int{2, 2}, []float64{5, 6, 7, 8})
	c := NewTensor(nem.F32, []int{2, 2})

	err := Reference{}.Execute("gemm", []*Tensor{a, b}, []*Tensor{c}, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{19, 22, 43, 50}
	for i := range want {
		if c.Data[i] != want[i] {
			t.Errorf("c[%d] = %v, want %v", i, c.Data[i], want[i])
		}
	}
}

func TestGemmTransposeAndBias(t *testing.T) {
	a := tensor(nem.F32, []int{1, 3}, []float64{1, 2, 3})
	b := tensor(nem.F32, []int{2, 3}, []float64{1, 0, 1, 0, 1, 0}) // transposed [3,2]
	bias := tensor(nem.F32, []int{2}, []float64{10, 20})
	c := NewTensor(nem.F32, []int{1, 2})

	err := Reference{}.Execute("gemm", []*Tensor{a, b, bias}, []*Tensor{c},
		map[string]any{"transpose_b": true})
	if err != nil {
		t.Fatal(err)
	}
	// row [1,2,3] . columns [1,0,1] and [0,1,0], plus bias.
	if c.Data[0] != 14 || c.Data[1] != 22 {
		t.Errorf("c = %v, want [14 22]", c.Data)
	}
}

func TestConv2DSlidingWindow(t *testing.T) {
	// 1 channel, 3x3 input, one 2x2 filter of ones: each output is the
	// window sum.
	x := tensor(nem.F32, []int{1, 3, 3}, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	w := tensor(nem.F32, []int{1, 1, 2, 2}, []float64{1, 1, 1, 1})
	y := NewTensor(nem.F32, []int{1, 2, 2})

	err := Reference{}.Execute("conv2d", []*Tensor{x, w}, []*Tensor{y}, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{12, 16, 24, 28}
	for i := range want {
		if y.Data[i] != want[i] {
			t.Errorf("y[%d] = %v, want %v", i, y.Data[i], want[i])
		}
	}
}

func TestEltwise(t *testing.T) {
	a := tensor(nem.I8, []int{4}, []float64{1, -2, 3, 4})
	b := tensor(nem.I8, []int{4}, []float64{5, 6, -7, 8})
	cases := map[string][]float64{
		"add": {6, 4, -4, 12},
		"sub": {-4, -8, 10, -4},
		"mul": {5, -12, -21, 32},
		"max": {5, 6, 3, 8},
	}
	for op, want := range cases {
		c := NewTensor(nem.I8, []int{4})
		err := Reference{}.Execute("eltwise", []*Tensor{a, b}, []*Tensor{c},
			map[string]any{"op": op})
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		for i := range want {
			if c.Data[i] != want[i] {
				t.Errorf("%s[%d] = %v, want %v", op, i, c.Data[i], want[i])
			}
		}
	}

	c := NewTensor(nem.I8, []int{4})
	if err := (Reference{}).Execute("eltwise", []*Tensor{a, b}, []*Tensor{c},
		map[string]any{"op": "xor"}); err == nil {
		t.Error("unknown eltwise op accepted")
	}
}

func TestSoftmax(t *testing.T) {
	x := tensor(nem.F32, []int{2, 3}, []float64{1, 2, 3, 1000, 1000, 1000})
	y := NewTensor(nem.F32, []int{2, 3})
	err := Reference{}.Execute("softmax", []*Tensor{x}, []*Tensor{y},
		map[string]any{"axis": int64(-1)})
	if err != nil {
		t.Fatal(err)
	}
	for r := 0; r < 2; r++ {
		sum := y.Data[r*3] + y.Data[r*3+1] + y.Data[r*3+2]
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %v", r, sum)
		}
	}
	// The shifted form survives large inputs.
	if math.Abs(y.Data[3]-1.0/3) > 1e-12 {
		t.Errorf("uniform row = %v", y.Data[3:])
	}
	if !(y.Data[2] > y.Data[1] && y.Data[1] > y.Data[0]) {
		t.Errorf("row 0 not monotone: %v", y.Data[:3])
	}
}

func TestLayernorm(t *testing.T) {
	x := tensor(nem.F32, []int{1, 4}, []float64{2, 4, 6, 8})
	y := NewTensor(nem.F32, []int{1, 4})
	err := Reference{}.Execute("layernorm", []*Tensor{x}, []*Tensor{y},
		map[string]any{"epsilon": 0.0})
	if err != nil {
		t.Fatal(err)
	}
	mean := 0.0
	for _, v := range y.Data {
		mean += v
	}
	if math.Abs(mean) > 1e-12 {
		t.Errorf("normalized mean = %v", mean)
	}
	variance := 0.0
	for _, v := range y.Data {
		variance += v * v
	}
	if math.Abs(variance/4-1) > 1e-12 {
		t.Errorf("normalized variance = %v", variance/4)
	}
}

func TestQuantizeDequantize(t *testing.T) {
	x := tensor(nem.F32, []int{4}, []float64{0.0, 0.5, 1.0, 100.0})
	q := NewTensor(nem.I8, []int{4})
	err := Reference{}.Execute("quantize", []*Tensor{x}, []*Tensor{q},
		map[string]any{"scale": 0.5, "zero_point": int64(0)})
	if err != nil {
		t.Fatal(err)
	}
	// 100/0.5 = 200 clamps to the i8 maximum.
	want := []float64{0, 1, 2, 127}
	for i := range want {
		if q.Data[i] != want[i] {
			t.Errorf("q[%d] = %v, want %v", i, q.Data[i], want[i])
		}
	}

	back := NewTensor(nem.F32, []int{4})
	err = Reference{}.Execute("dequantize", []*Tensor{q}, []*Tensor{back},
		map[string]any{"scale": 0.5, "zero_point": int64(0)})
	if err != nil {
		t.Fatal(err)
	}
	if back.Data[1] != 0.5 || back.Data[2] != 1.0 {
		t.Errorf("dequantized = %v", back.Data)
	}

	if err := (Reference{}).Execute("quantize", []*Tensor{x}, []*Tensor{q},
		map[string]any{"scale": 0.0}); err == nil {
		t.Error("zero scale accepted")
	}
}

func TestQuantizeRoundsHalfToEven(t *testing.T) {
	x := tensor(nem.F32, []int{2}, []float64{0.5, 1.5})
	q := NewTensor(nem.I8, []int{2})
	err := Reference{}.Execute("quantize", []*Tensor{x}, []*Tensor{q},
		map[string]any{"scale": 1.0, "zero_point": int64(0)})
	if err != nil {
		t.Fatal(err)
	}
	if q.Data[0] != 0 || q.Data[1] != 2 {
		t.Errorf("q = %v, want [0 2]", q.Data)
	}
}

func TestCastClampsIntegers(t *testing.T) {
	x := tensor(nem.F32, []int{3}, []float64{-1000, 2.5, 1000})
	y := NewTensor(nem.I8, []int{3})
	err := Reference{}.Execute("cast", []*Tensor{x}, []*Tensor{y}, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if y.Data[0] != -128 || y.Data[1] != 2 || y.Data[2] != 127 {
		t.Errorf("y = %v", y.Data)
	}
}

func TestUnknownOperatorRejected(t *testing.T) {
	err := Reference{}.Execute("teleport", nil, nil, nil)
	if err == nil {
		t.Error("unknown operator executed")
	}
}
