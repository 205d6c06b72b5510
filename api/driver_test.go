package api_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/frank-ceva/nem/api"
	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/engine"
	valgen "github.com/frank-ceva/nem/util"
)

func sessionFromFile(t *testing.T, path string, opts api.Options) *api.Session {
	t.Helper()
	src, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return api.NewSession(path, string(src), opts)
}

func TestConstantEvaluationScenario(t *testing.T) {
	s := api.NewSession("consts.nem", `
program consts {
    const A = 2
    const B = A * 3
    const C = (B + 1) mod 4
}
`, api.Options{})
	if s.HasErrors() {
		t.Fatalf("diagnostics: %v", s.Diagnostics())
	}
	consts := s.Result().Analysis.Consts
	if consts["A"] != 2 || consts["B"] != 6 || consts["C"] != 3 {
		t.Errorf("consts = %v", consts)
	}
}

func TestForwardReferenceScenario(t *testing.T) {
	s := api.NewSession("fwd.nem", `
program fwd {
    const A = B + 1
    const B = 2
}
`, api.Options{})
	errs := 0
	for _, d := range s.Diagnostics() {
		if d.Severity == diag.Error {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("errors = %d, want 1: %v", errs, s.Diagnostics())
	}
	if err := s.Load(); err == nil {
		t.Error("Load succeeded despite validation errors")
	}
}

func TestTransferByteFidelityScenario(t *testing.T) {
	s := sessionFromFile(t, "testdata/bytecopy.nem", api.Options{})
	if s.HasErrors() {
		t.Fatalf("diagnostics: %v", s.Diagnostics())
	}
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	data := valgen.Fill(256, valgen.MakeIncreasingGen(0))
	if err := s.WriteBuffer("src", 0, data); err != nil {
		t.Fatal(err)
	}
	if err := s.Execute(); err != nil {
		t.Fatal(err)
	}
	out, err := s.ReadBuffer("dst", 0, 256)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("dst differs from src")
	}
}

func pingPongFixture() []byte {
	return valgen.Fill(1024, valgen.MakeAffineGen(31, 7))
}

func TestPingPongScenario(t *testing.T) {
	s := sessionFromFile(t, "testdata/pingpong.nem", api.Options{})
	if s.HasErrors() {
		t.Fatalf("diagnostics: %v", s.Diagnostics())
	}
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.WriteBuffer("src", 0, pingPongFixture()); err != nil {
		t.Fatal(err)
	}
	if err := s.Execute(); err != nil {
		t.Fatal(err)
	}
	out, err := s.ReadBuffer("dst", 0, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, pingPongFixture()) {
		t.Error("output does not equal input after staging")
	}
	for _, active := range s.Engine().MaxActiveIterations() {
		if active > 2 {
			t.Errorf("pipelining bound exceeded: %d iterations active", active)
		}
	}
}

func TestPingPongSeedIndependence(t *testing.T) {
	var want []byte
	for seed := int64(0); seed < 4; seed++ {
		opts := api.Options{}
		if seed > 0 {
			opts.Policy = engine.RandomPolicy(seed)
		}
		s := sessionFromFile(t, "testdata/pingpong.nem", opts)
		if err := s.Load(); err != nil {
			t.Fatal(err)
		}
		if err := s.WriteBuffer("src", 0, pingPongFixture()); err != nil {
			t.Fatal(err)
		}
		if err := s.Execute(); err != nil {
			t.Fatal(err)
		}
		out, err := s.ReadBuffer("dst", 0, 1024)
		if err != nil {
			t.Fatal(err)
		}
		if want == nil {
			want = out
			continue
		}
		if !bytes.Equal(out, want) {
			t.Errorf("seed %d produced different bytes", seed)
		}
	}
}

func TestTypeMismatchScenario(t *testing.T) {
	s := api.NewSession("testdata/badgemm.nem", `
device "gen2.nemdev"

program badgemm {
    buffer a : l2, size = 4096
    let x = region(a, 0, 1024, type = f32, shape = [16, 16])
    let y = region(a, 1024, 1024, type = f32, shape = [16, 16])
    let z = region(a, 2048, 1024, type = f32, shape = [16, 16])
    gemm.sync in(x, y) out(z)
}
`, api.Options{})
	found := false
	for _, d := range s.Diagnostics() {
		if d.Severity != diag.Error {
			continue
		}
		for _, n := range d.Notes {
			if strings.Contains(n.Message, "gemm.float<f16>.no_bias") {
				found = true
			}
		}
	}
	if !found {
		t.Errorf("no nearest-variant suggestion: %v", s.Diagnostics())
	}
}

func TestHazardScenario(t *testing.T) {
	s := api.NewSession("testdata/hazard.nem", `
device "gen2.nemdev"

program hazard {
    buffer src : l3, size = 256
    buffer shared : l2, size = 256
    t1 = transfer.async(region(src, 0, 128), region(shared, 0, 128))
    t2 = transfer.async(region(src, 128, 128), region(shared, 64, 128))
}
`, api.Options{})
	hazards := 0
	for _, d := range s.Diagnostics() {
		if d.Severity == diag.Error && strings.Contains(d.Message, "hazard") {
			hazards++
			if len(d.Notes) == 0 {
				t.Error("hazard lacks the second task position")
			}
		}
	}
	if hazards != 1 {
		t.Errorf("hazard errors = %d, want 1: %v", hazards, s.Diagnostics())
	}
}

func TestQuantizeChain(t *testing.T) {
	s := sessionFromFile(t, "testdata/quantize_chain.nem", api.Options{})
	if s.HasErrors() {
		t.Fatalf("diagnostics: %v", s.Diagnostics())
	}
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	input := make([]byte, 64)
	values := []float32{0, 0.25, 0.5, 1, 2, 3.25, -1, -2.5,
		4, 5.75, 6, 7, 8, 9.25, 10, 11}
	for i, v := range values {
		binary.LittleEndian.PutUint32(input[4*i:], math.Float32bits(v))
	}
	if err := s.WriteBuffer("floats", 0, input); err != nil {
		t.Fatal(err)
	}
	if err := s.Execute(); err != nil {
		t.Fatal(err)
	}

	out, err := s.ReadBuffer("result", 0, 64)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range values {
		got := math.Float32frombits(binary.LittleEndian.Uint32(out[4*i:]))
		// Quantization to i8 with scale 0.25 is exact for multiples of
		// 0.25 in range.
		if got != v {
			t.Errorf("value %d = %v, want %v", i, got, v)
		}
	}
}

func TestReportRendering(t *testing.T) {
	s := sessionFromFile(t, "testdata/bytecopy.nem", api.Options{})
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := s.Execute(); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	s.WriteReport(&buf)
	out := buf.String()
	for _, want := range []string{"gen2", "Allocation ledger", "src", "dst", "Tasks executed: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestMissingDeviceProgramCannotExecute(t *testing.T) {
	s := api.NewSession("nodev.nem", `
program nodev {
    buffer b : l3, size = 64
}
`, api.Options{})
	if s.HasErrors() {
		t.Fatalf("diagnostics: %v", s.Diagnostics())
	}
	if err := s.Load(); err == nil {
		t.Error("Load succeeded without a device")
	}
}
