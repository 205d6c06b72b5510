package opcode

import (
	"errors"
	"testing"
)

func TestLoadBuiltinCatalog(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"gemm", "conv2d", "eltwise", "relu", "softmax",
		"layernorm", "quantize", "dequantize", "cast"} {
		op, ok := r.Lookup(name)
		if !ok {
			t.Errorf("missing operator %q", name)
			continue
		}
		if op.Status != "stable" {
			t.Errorf("%s status = %q", name, op.Status)
		}
		if len(op.Outputs()) == 0 {
			t.Errorf("%s has no outputs", name)
		}
	}
	if _, ok := r.Lookup("bogus"); ok {
		t.Error("bogus operator resolved")
	}
}

func TestGemmSignature(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	gemm, _ := r.Lookup("gemm")
	bias, ok := gemm.Operand("bias")
	if !ok || bias.Required || bias.Dir != In {
		t.Errorf("bias spec = %+v", bias)
	}
	tb, ok := gemm.Attribute("transpose_b")
	if !ok || tb.Kind != KindBool || tb.Required {
		t.Errorf("transpose_b spec = %+v", tb)
	}
	if len(gemm.Inputs()) != 3 || len(gemm.Outputs()) != 1 {
		t.Errorf("gemm arity = %d in, %d out", len(gemm.Inputs()), len(gemm.Outputs()))
	}
}

func TestSchemaRejectsBadCategory(t *testing.T) {
	_, err := LoadFrom([]byte(`
opcodes:
  - name: weird
    category: astrology
    status: stable
    forms: [async]
    unit: cstl
    hardware: native
    operands:
      - {name: out0, dir: out, required: true}
    families: [weird]
`))
	var schemaErr *RegistrySchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want RegistrySchemaError", err)
	}
}

func TestSchemaRejectsMissingOutput(t *testing.T) {
	_, err := LoadFrom([]byte(`
opcodes:
  - name: sink
    category: elementwise
    status: stable
    forms: [sync]
    unit: actl
    hardware: native
    operands:
      - {name: in0, dir: in, required: true}
    families: [eltwise]
`))
	var schemaErr *RegistrySchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("err = %v, want RegistrySchemaError", err)
	}
}

func TestCheckFamilies(t *testing.T) {
	r, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	known := map[string]bool{
		"gemm.float": true, "gemm.int8": true,
		"conv2d.float": true, "conv2d.int8": true,
		"eltwise": true, "relu.float": true,
		"softmax.float": true, "layernorm.float": true,
		"quantize.default": true, "dequantize.default": true,
		"cast.default": true,
	}
	if err := r.CheckFamilies(func(f string) bool { return known[f] }); err != nil {
		t.Errorf("full catalog: %v", err)
	}

	delete(known, "cast.default")
	err = r.CheckFamilies(func(f string) bool { return known[f] })
	var refErr *RegistryReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("err = %v, want RegistryReferenceError", err)
	}
	if refErr.Family != "cast.default" {
		t.Errorf("dangling family = %q", refErr.Family)
	}
}
