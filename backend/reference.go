package backend

import (
	"fmt"
	"math"
)

// Reference implements every stable operator with straightforward
// arithmetic: FMA matrix multiplication, sliding-window convolution,
// elementwise maps, per-axis normalization, shift-exp-normalize softmax,
// and scale/zero-point quantization. Accumulation runs in float64.
type Reference struct{}

var referenceOps = map[string]func(in, out []*Tensor, attrs map[string]any) error{
	"gemm":       runGemm,
	"conv2d":     runConv2D,
	"eltwise":    runEltwise,
	"relu":       runRelu,
	"softmax":    runSoftmax,
	"layernorm":  runLayernorm,
	"quantize":   runQuantize,
	"dequantize": runDequantize,
	"cast":       runCast,
}

// Supports reports whether the reference backend implements the operator.
func (Reference) Supports(op string) bool {
	_, ok := referenceOps[op]
	return ok
}

// Execute dispatches one operator instance.
func (Reference) Execute(op string, inputs, outputs []*Tensor, attrs map[string]any) error {
	fn, ok := referenceOps[op]
	if !ok {
		return fmt.Errorf("reference backend does not implement %q", op)
	}
	return fn(inputs, outputs, attrs)
}

func runGemm(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 2 || len(out) < 1 {
		return fmt.Errorf("gemm: need two inputs and one output")
	}
	a, b, c := in[0], in[1], out[0]
	if len(a.Shape) != 2 || len(b.Shape) != 2 || len(c.Shape) != 2 {
		return shapeError("gemm", "operand", a)
	}
	transB := AttrBool(attrs, "transpose_b", false)

	m, k := a.Shape[0], a.Shape[1]
	kb, n := b.Shape[0], b.Shape[1]
	if transB {
		kb, n = b.Shape[1], b.Shape[0]
	}
	if kb != k || c.Shape[0] != m || c.Shape[1] != n {
		return fmt.Errorf("gemm: shapes %v x %v -> %v do not agree", a.Shape, b.Shape, c.Shape)
	}

	var bias *Tensor
	if len(in) > 2 && in[2] != nil {
		bias = in[2]
		if bias.Elems() != n {
			return fmt.Errorf("gemm: bias has %d elements for %d columns", bias.Elems(), n)
		}
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			acc := 0.0
			for p := 0; p < k; p++ {
				bv := 0.0
				if transB {
					bv = b.Data[j*b.Shape[1]+p]
				} else {
					bv = b.Data[p*b.Shape[1]+j]
				}
				acc = math.FMA(a.Data[i*k+p], bv, acc)
			}
			if bias != nil {
				acc += bias.Data[j]
			}
			c.Data[i*n+j] = acc
		}
	}
	return nil
}

func runConv2D(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 2 || len(out) < 1 {
		return fmt.Errorf("conv2d: need input and weights")
	}
	x, w, y := in[0], in[1], out[0]
	if len(x.Shape) != 3 || len(w.Shape) != 4 || len(y.Shape) != 3 {
		return shapeError("conv2d", "operand", x)
	}
	stride := AttrIntList(attrs, "stride", []int64{1, 1})
	pad := AttrIntList(attrs, "padding", []int64{0, 0})
	if len(stride) != 2 || len(pad) != 2 || stride[0] < 1 || stride[1] < 1 {
		return fmt.Errorf("conv2d: malformed stride %v or padding %v", stride, pad)
	}

	cin, h, wd := x.Shape[0], x.Shape[1], x.Shape[2]
	f, wc, kh, kw := w.Shape[0], w.Shape[1], w.Shape[2], w.Shape[3]
	if wc != cin {
		return fmt.Errorf("conv2d: input has %d channels, weights expect %d", cin, wc)
	}
	oh := (h+2*int(pad[0])-kh)/int(stride[0]) + 1
	ow := (wd+2*int(pad[1])-kw)/int(stride[1]) + 1
	if y.Shape[0] != f || y.Shape[1] != oh || y.Shape[2] != ow {
		return fmt.Errorf("conv2d: output shape %v, computed [%d %d %d]", y.Shape, f, oh, ow)
	}

	var bias *Tensor
	if len(in) > 2 && in[2] != nil {
		bias = in[2]
	}

	for of := 0; of < f; of++ {
		for oy := 0; oy < oh; oy++ {
			for ox := 0; ox < ow; ox++ {
				acc := 0.0
				for ic := 0; ic < cin; ic++ {
					for ky := 0; ky < kh; ky++ {
						for kx := 0; kx < kw; kx++ {
							iy := oy*int(stride[0]) + ky - int(pad[0])
							ix := ox*int(stride[1]) + kx - int(pad[1])
							if iy < 0 || iy >= h || ix < 0 || ix >= wd {
								continue
							}
							xv := x.Data[(ic*h+iy)*wd+ix]
							wv := w.Data[((of*cin+ic)*kh+ky)*kw+kx]
							acc = math.FMA(xv, wv, acc)
						}
					}
				}
				if bias != nil {
					acc += bias.Data[of]
				}
				y.Data[(of*oh+oy)*ow+ox] = acc
			}
		}
	}
	return nil
}

func runEltwise(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 2 || len(out) < 1 {
		return fmt.Errorf("eltwise: need two inputs and one output")
	}
	a, b, c := in[0], in[1], out[0]
	if a.Elems() != b.Elems() || a.Elems() != c.Elems() {
		return fmt.Errorf("eltwise: element counts %d, %d, %d differ",
			a.Elems(), b.Elems(), c.Elems())
	}
	op := AttrString(attrs, "op", "")
	var fn func(x, y float64) float64
	switch op {
	case "add":
		fn = func(x, y float64) float64 { return x + y }
	case "sub":
		fn = func(x, y float64) float64 { return x - y }
	case "mul":
		fn = func(x, y float64) float64 { return x * y }
	case "max":
		fn = math.Max
	default:
		return fmt.Errorf("eltwise: unknown op %q", op)
	}
	for i := range c.Data {
		c.Data[i] = fn(a.Data[i], b.Data[i])
	}
	return nil
}

func runRelu(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 1 || len(out) < 1 || in[0].Elems() != out[0].Elems() {
		return fmt.Errorf("relu: mismatched operands")
	}
	for i, v := range in[0].Data {
		out[0].Data[i] = math.Max(0, v)
	}
	return nil
}

// axisRows splits a tensor into rows along the normalization axis. Only
// the innermost axis is supported, which every registry family declares.
func axisRows(t *Tensor, axis int64) (rows, width int, err error) {
	if axis != -1 && int(axis) != len(t.Shape)-1 {
		return 0, 0, fmt.Errorf("normalization supports the innermost axis, got %d", axis)
	}
	width = t.Dim(-1)
	if width == 0 {
		return 0, 0, shapeError("normalize", "input", t)
	}
	return t.Elems() / width, width, nil
}

func runSoftmax(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 1 || len(out) < 1 || in[0].Elems() != out[0].Elems() {
		return fmt.Errorf("softmax: mismatched operands")
	}
	rows, width, err := axisRows(in[0], AttrInt(attrs, "axis", -1))
	if err != nil {
		return err
	}
	for r := 0; r < rows; r++ {
		row := in[0].Data[r*width : (r+1)*width]
		dst := out[0].Data[r*width : (r+1)*width]
		peak := row[0]
		for _, v := range row {
			peak = math.Max(peak, v)
		}
		sum := 0.0
		for i, v := range row {
			dst[i] = math.Exp(v - peak)
			sum += dst[i]
		}
		for i := range dst {
			dst[i] /= sum
		}
	}
	return nil
}

func runLayernorm(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 1 || len(out) < 1 || in[0].Elems() != out[0].Elems() {
		return fmt.Errorf("layernorm: mismatched operands")
	}
	rows, width, err := axisRows(in[0], AttrInt(attrs, "axis", -1))
	if err != nil {
		return err
	}
	eps := AttrFloat(attrs, "epsilon", 1e-5)
	for r := 0; r < rows; r++ {
		row := in[0].Data[r*width : (r+1)*width]
		dst := out[0].Data[r*width : (r+1)*width]
		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(width)
		variance := 0.0
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(width)
		inv := 1 / math.Sqrt(variance+eps)
		for i, v := range row {
			dst[i] = (v - mean) * inv
		}
	}
	return nil
}

func runQuantize(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 1 || len(out) < 1 || in[0].Elems() != out[0].Elems() {
		return fmt.Errorf("quantize: mismatched operands")
	}
	scale := AttrFloat(attrs, "scale", 0)
	if scale == 0 {
		return fmt.Errorf("quantize: scale must be non-zero")
	}
	zero := float64(AttrInt(attrs, "zero_point", 0))
	lo, hi := intRange(out[0])
	for i, v := range in[0].Data {
		q := math.RoundToEven(v/scale) + zero
		out[0].Data[i] = math.Min(math.Max(q, lo), hi)
	}
	return nil
}

func runDequantize(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 1 || len(out) < 1 || in[0].Elems() != out[0].Elems() {
		return fmt.Errorf("dequantize: mismatched operands")
	}
	scale := AttrFloat(attrs, "scale", 0)
	if scale == 0 {
		return fmt.Errorf("dequantize: scale must be non-zero")
	}
	zero := float64(AttrInt(attrs, "zero_point", 0))
	for i, v := range in[0].Data {
		out[0].Data[i] = (v - zero) * scale
	}
	return nil
}

func runCast(in, out []*Tensor, attrs map[string]any) error {
	if len(in) < 1 || len(out) < 1 || in[0].Elems() != out[0].Elems() {
		return fmt.Errorf("cast: mismatched operands")
	}
	if out[0].Elem.IsFloat() {
		copy(out[0].Data, in[0].Data)
		return nil
	}
	lo, hi := intRange(out[0])
	for i, v := range in[0].Data {
		out[0].Data[i] = math.Min(math.Max(math.RoundToEven(v), lo), hi)
	}
	return nil
}

// intRange returns the value range of an integer output tensor.
func intRange(t *Tensor) (lo, hi float64) {
	bits := t.Elem.Bits()
	if t.Elem.IsSigned() {
		return -math.Pow(2, float64(bits-1)), math.Pow(2, float64(bits-1)) - 1
	}
	return 0, math.Pow(2, float64(bits)) - 1
}
