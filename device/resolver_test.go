package device

import (
	"strings"
	"testing"

	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/family"
	"github.com/frank-ceva/nem/nem"
)

const familiesSrc = `
family gemm.float<T : {f16, bf16}> {
    operand in0 : T
    operand in1 : T
    operand out0 : T
    variant no_bias {
        must = [f16]
        may = [bf16]
        operand bias : absent
    }
}

family conv2d.int8<T : {i8}> {
    operand in0 : T
    operand weights : T
    operand out0 : T
    variant no_bias {
        must = [i8]
        operand bias : absent
    }
}
`

const baseDeviceSrc = `
include "families.nemdev"

device gen2_base {
    spec_version = "1.2"
    topology {
        engines = 1
        l2_size_bytes = 4194304
        per_engine {
            cstl = 2
            l1_size_bytes = 1048576
        }
    }
    unit_characteristics {
        cstl {
            macs_per_cycle = 256
            exotic_vendor_key = 7
        }
    }
    opcode.mandatory {
        gemm.float<f16>.no_bias
        conv2d.int8<i8>.no_bias
    }
}
`

func resolve(t *testing.T, files map[string]string, root string) (*Resolution, *diag.Collector) {
	t.Helper()
	var col diag.Collector
	res := Resolve(root, MapLoader(files), &col)
	return res, &col
}

func TestInheritanceAndEffectiveSet(t *testing.T) {
	files := map[string]string{
		"families.nemdev": familiesSrc,
		"base.nemdev":     baseDeviceSrc,
		"pro.nemdev": `
include "base.nemdev"

device gen2_pro extends gen2_base {
    opcode.extended {
        gemm.float<bf16>.no_bias
    }
}
`,
	}
	res, col := resolve(t, files, "pro.nemdev")
	if col.HasErrors() {
		t.Fatalf("resolution errors: %v", col.Diagnostics())
	}

	pro, ok := res.Device("gen2_pro")
	if !ok {
		t.Fatalf("gen2_pro not resolved; have %v", res.Names())
	}
	if pro.SpecVersion != "1.2" {
		t.Errorf("spec version = %q", pro.SpecVersion)
	}
	if pro.Abstract || pro.Topology == nil {
		t.Fatal("topology not inherited")
	}
	if pro.Topology.Engines != 1 || pro.Topology.L1SizeBytes != 1048576 {
		t.Errorf("topology = %+v", pro.Topology)
	}

	base, _ := res.Device("gen2_base")
	if len(pro.Mandatory) != len(base.Mandatory) {
		t.Errorf("child mandatory = %v, parent = %v",
			SortedRefs(pro.Mandatory), SortedRefs(base.Mandatory))
	}
	if len(pro.Extended) != 1 {
		t.Fatalf("child extended = %v", SortedRefs(pro.Extended))
	}
	if _, ok := pro.Extended["gemm.float<bf16>.no_bias"]; !ok {
		t.Errorf("extended = %v", SortedRefs(pro.Extended))
	}

	// Effective set is the union.
	eff := pro.Effective()
	for _, key := range []struct {
		ref  family.Ref
		want bool
	}{
		{family.Ref{Family: "gemm.float", Args: []nem.ElemType{nem.F16}, Variant: "no_bias"}, true},
		{family.Ref{Family: "gemm.float", Args: []nem.ElemType{nem.BF16}, Variant: "no_bias"}, true},
		{family.Ref{Family: "conv2d.int8", Args: []nem.ElemType{nem.I8}, Variant: "no_bias"}, true},
		{family.Ref{Family: "gemm.float", Args: []nem.ElemType{nem.F32}, Variant: "no_bias"}, false},
	} {
		if eff.Contains(key.ref) != key.want {
			t.Errorf("Contains(%s) = %v, want %v", key.ref.Key(), !key.want, key.want)
		}
	}
}

func TestCharacteristicsMergeAndPassThrough(t *testing.T) {
	files := map[string]string{
		"families.nemdev": familiesSrc,
		"base.nemdev":     baseDeviceSrc,
		"child.nemdev": `
include "base.nemdev"

device child extends gen2_base {
    unit_characteristics {
        cstl {
            macs_per_cycle = 512
        }
        actl {
            lanes = 8
        }
    }
}
`,
	}
	res, col := resolve(t, files, "child.nemdev")
	if col.HasErrors() {
		t.Fatalf("resolution errors: %v", col.Diagnostics())
	}
	child, _ := res.Device("child")
	if got := child.Characteristics["cstl"]["macs_per_cycle"]; got != 512 {
		t.Errorf("override: macs_per_cycle = %d, want 512", got)
	}
	// Unknown keys pass through untouched.
	if got := child.Characteristics["cstl"]["exotic_vendor_key"]; got != 7 {
		t.Errorf("pass-through key = %d, want 7", got)
	}
	if got := child.Characteristics["actl"]["lanes"]; got != 8 {
		t.Errorf("unioned group lanes = %d, want 8", got)
	}
}

func TestChildTopologyReplacesWhole(t *testing.T) {
	files := map[string]string{
		"families.nemdev": familiesSrc,
		"base.nemdev":     baseDeviceSrc,
		"big.nemdev": `
include "base.nemdev"

device big extends gen2_base {
    topology {
        engines = 4
        l2_size_bytes = 8388608
        per_engine {
            cstl = 1
            l1_size_bytes = 2097152
        }
    }
}
`,
	}
	res, col := resolve(t, files, "big.nemdev")
	if col.HasErrors() {
		t.Fatalf("resolution errors: %v", col.Diagnostics())
	}
	big, _ := res.Device("big")
	if big.Topology.Engines != 4 || big.Topology.PerEngineUnits["cstl"] != 1 {
		t.Errorf("topology = %+v", big.Topology)
	}
	// Only the child's per-engine units remain; the parent's cstl = 2 is replaced.
	if len(big.Topology.PerEngineUnits) != 1 {
		t.Errorf("per-engine units = %v", big.Topology.PerEngineUnits)
	}
}

func TestIncludeCycle(t *testing.T) {
	files := map[string]string{
		"a.nemdev": `include "b.nemdev"` + "\n" + familiesSrc,
		"b.nemdev": `include "a.nemdev"`,
	}
	_, col := resolve(t, files, "a.nemdev")
	if !col.HasErrors() {
		t.Fatal("include cycle went undetected")
	}
	found := false
	for _, d := range col.Diagnostics() {
		if strings.Contains(d.Message, "include cycle") {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %v", col.Diagnostics())
	}
}

func TestIncludeDiamondParsesOnce(t *testing.T) {
	files := map[string]string{
		"families.nemdev": familiesSrc,
		"left.nemdev":     `include "families.nemdev"`,
		"right.nemdev":    `include "families.nemdev"`,
		"top.nemdev": `
include "left.nemdev"
include "right.nemdev"

device gen2_base {
    spec_version = "1.2"
    topology {
        engines = 1
        l2_size_bytes = 4194304
        per_engine {
            cstl = 2
            l1_size_bytes = 1048576
        }
    }
    opcode.mandatory {
        gemm.float<f16>.no_bias
        conv2d.int8<i8>.no_bias
    }
}
`,
	}
	res, col := resolve(t, files, "top.nemdev")
	if col.HasErrors() {
		t.Fatalf("diamond include failed: %v", col.Diagnostics())
	}
	// Memoized parsing: the families are not duplicated.
	if _, ok := res.Catalog.Lookup("gemm.float"); !ok {
		t.Error("family missing after diamond include")
	}
}

func TestDeviceCycle(t *testing.T) {
	files := map[string]string{
		"cyc.nemdev": familiesSrc + `
device a extends b {
}
device b extends a {
}
`,
	}
	_, col := resolve(t, files, "cyc.nemdev")
	if !col.HasErrors() {
		t.Fatal("device cycle went undetected")
	}
}

func TestDuplicateDevice(t *testing.T) {
	files := map[string]string{
		"dup.nemdev": familiesSrc + `
device d {
    topology {
        engines = 1
        l2_size_bytes = 1024
        per_engine { cstl = 1
            l1_size_bytes = 512 }
    }
    opcode.mandatory {
        gemm.float<f16>.no_bias
        conv2d.int8<i8>.no_bias
    }
}
device d {
    topology {
        engines = 2
        l2_size_bytes = 1024
        per_engine { cstl = 1
            l1_size_bytes = 512 }
    }
}
`,
	}
	_, col := resolve(t, files, "dup.nemdev")
	if !col.HasErrors() {
		t.Fatal("duplicate device went undetected")
	}
}

func TestMandatoryExtendedDisjoint(t *testing.T) {
	files := map[string]string{
		"overlap.nemdev": familiesSrc + `
device d {
    spec_version = "1.2"
    topology {
        engines = 1
        l2_size_bytes = 1024
        per_engine { cstl = 1
            l1_size_bytes = 512 }
    }
    opcode.mandatory {
        gemm.float<f16>.no_bias
        conv2d.int8<i8>.no_bias
    }
    opcode.extended {
        gemm.float<f16>.no_bias
    }
}
`,
	}
	_, col := resolve(t, files, "overlap.nemdev")
	if !col.HasErrors() {
		t.Fatal("overlapping sets went undetected")
	}
}

func TestMissingMustVariant(t *testing.T) {
	files := map[string]string{
		"thin.nemdev": familiesSrc + `
device d {
    spec_version = "1.2"
    topology {
        engines = 1
        l2_size_bytes = 1024
        per_engine { cstl = 1
            l1_size_bytes = 512 }
    }
    opcode.mandatory {
        gemm.float<f16>.no_bias
    }
}
`,
	}
	_, col := resolve(t, files, "thin.nemdev")
	if !col.HasErrors() {
		t.Fatal("missing MUST variant went undetected")
	}
	found := false
	for _, d := range col.Diagnostics() {
		if strings.Contains(d.Message, "conv2d.int8<i8>.no_bias") {
			found = true
		}
	}
	if !found {
		t.Errorf("diagnostics = %v", col.Diagnostics())
	}
}

func TestAbstractDevice(t *testing.T) {
	files := map[string]string{
		"abs.nemdev": familiesSrc + `
device proto {
    spec_version = "1.2"
    opcode.mandatory {
        gemm.float<f16>.no_bias
        conv2d.int8<i8>.no_bias
    }
}
`,
	}
	res, col := resolve(t, files, "abs.nemdev")
	if col.HasErrors() {
		t.Fatalf("abstract device rejected: %v", col.Diagnostics())
	}
	proto, _ := res.Device("proto")
	if !proto.Abstract {
		t.Error("device with no topology should be abstract")
	}
}
