package engine_test

import (
	"encoding/binary"

	gomock "github.com/golang/mock/gomock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frank-ceva/nem/backend"
	"github.com/frank-ceva/nem/device"
	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/engine"
	"github.com/frank-ceva/nem/opcode"
	"github.com/frank-ceva/nem/parser"
	valgen "github.com/frank-ceva/nem/util"
	"github.com/frank-ceva/nem/validate"
)

const testDeviceSrc = `
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

family eltwise<T : {i8, f16, f32}> {
    operand in0 : T
    operand in1 : T
    operand out0 : T
    variant default {
        must = [i8, f16, f32]
    }
}

device bench {
    spec_version = "1.0"
    topology {
        engines = 2
        l2_size_bytes = 65536
        per_engine {
            cstl = 1
            actl = 1
            l1_size_bytes = 4096
        }
    }
    opcode.mandatory {
        gemm.float<f16>.no_bias
        eltwise.default
    }
}
`

type compiled struct {
	prog *parser.Program
	an   *validate.Analysis
	dev  *device.Config
	reg  *opcode.Registry
	col  *diag.Collector
}

func compile(src string) compiled {
	var col diag.Collector
	doc := parser.Parse("prog.nem", src, &col)
	Expect(col.HasErrors()).To(BeFalse(), "parse: %v", col.Diagnostics())

	res := device.Resolve("bench.nemdev",
		device.MapLoader{"bench.nemdev": testDeviceSrc}, &col)
	Expect(col.HasErrors()).To(BeFalse(), "device: %v", col.Diagnostics())
	dev, ok := res.Device("bench")
	Expect(ok).To(BeTrue())

	reg, err := opcode.Load()
	Expect(err).NotTo(HaveOccurred())

	an := validate.Run(doc.Program, dev, res.Catalog, reg, &col)
	Expect(col.HasErrors()).To(BeFalse(), "validate: %v", col.Diagnostics())
	return compiled{prog: doc.Program, an: an, dev: dev, reg: reg, col: &col}
}

func newEngine(c compiled, opts ...func(engine.Builder) engine.Builder) *engine.Engine {
	b := engine.Builder{}.
		WithDevice(c.dev).
		WithRegistry(c.reg).
		WithBackend(backend.Reference{}).
		WithCollector(c.col)
	for _, opt := range opts {
		b = opt(b)
	}
	e := b.Build()
	Expect(e.Load(c.prog, c.an)).To(Succeed())
	return e
}

func iota256() []byte {
	return valgen.Fill(256, valgen.MakeIncreasingGen(0))
}

var _ = Describe("Engine", func() {
	Context("transfer tasks", func() {
		const copySrc = `
program bytecopy {
    buffer src : l3, size = 256
    buffer dst : l2, size = 256
    transfer.sync(region(src, 0, 256, type = i8, shape = [256]), region(dst, 0, 256, type = i8, shape = [256]))
}
`
		It("copies bytes verbatim between levels", func() {
			c := compile(copySrc)
			e := newEngine(c)
			Expect(e.Memory().WriteBuffer("src", 0, iota256())).To(Succeed())

			Expect(e.Run()).To(Succeed())

			out, err := e.Memory().ReadBuffer("dst", 0, 256)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(iota256()))
		})

		It("executes the memmove form with overlapping ranges", func() {
			c := compile(`
program shift {
    buffer b : l3, size = 256
    transfer.sync(region(b, 0, 128), region(b, 64, 128)) @memmove
}
`)
			e := newEngine(c)
			Expect(e.Memory().WriteBuffer("b", 0, iota256())).To(Succeed())
			Expect(e.Run()).To(Succeed())

			out, err := e.Memory().ReadBuffer("b", 64, 128)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(iota256()[:128]))
		})
	})

	Context("ping-pong pipelining", func() {
		const pingPong = `
program pingpong {
    buffer src : l3, size = 1024
    buffer stage : l1[0], size = 256
    buffer dst : l3, size = 1024
    loop i in [0 .. 7] @max_in_flight(2) {
        t1 = transfer.async(region(src, i * 128, 128), region(stage, (i mod 2) * 128, 128))
        t2 = transfer.async(region(stage, (i mod 2) * 128, 128), region(dst, i * 128, 128)) deps = [t1]
    }
}
`
		fixture := func() []byte {
			return valgen.Fill(1024, valgen.MakeAffineGen(7, 3))
		}

		It("moves every chunk through the scratchpad intact", func() {
			c := compile(pingPong)
			e := newEngine(c)
			Expect(e.Memory().WriteBuffer("src", 0, fixture())).To(Succeed())

			Expect(e.Run()).To(Succeed())

			out, err := e.Memory().ReadBuffer("dst", 0, 1024)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(fixture()))
		})

		It("keeps at most two iterations in flight", func() {
			c := compile(pingPong)
			e := newEngine(c)
			Expect(e.Memory().WriteBuffer("src", 0, fixture())).To(Succeed())
			Expect(e.Run()).To(Succeed())

			for _, active := range e.MaxActiveIterations() {
				Expect(active).To(BeNumerically("<=", 2))
			}
		})

		It("produces identical bytes under any seed", func() {
			want := []byte(nil)
			for _, seed := range []int64{-1, 1, 2, 42, 1234567} {
				c := compile(pingPong)
				e := newEngine(c, func(b engine.Builder) engine.Builder {
					if seed < 0 {
						return b // default source-order policy
					}
					return b.WithPolicy(engine.RandomPolicy(seed))
				})
				Expect(e.Memory().WriteBuffer("src", 0, fixture())).To(Succeed())
				Expect(e.Run()).To(Succeed())
				out, err := e.Memory().ReadBuffer("dst", 0, 1024)
				Expect(err).NotTo(HaveOccurred())
				if want == nil {
					want = out
				} else {
					Expect(out).To(Equal(want), "seed %d diverged", seed)
				}
			}
		})
	})

	Context("determinism", func() {
		It("repeated default-policy runs are byte-identical", func() {
			src := `
program spread {
    buffer a : l3, size = 512
    buffer b : l2, size = 512
    t1 = transfer.async(region(a, 0, 128), region(b, 0, 128))
    t2 = transfer.async(region(a, 128, 128), region(b, 128, 128))
    t3 = transfer.async(region(a, 256, 128), region(b, 256, 128))
    wait(t1, t2, t3)
}
`
			run := func() []byte {
				c := compile(src)
				e := newEngine(c)
				data := make([]byte, 512)
				for i := range data {
					data[i] = byte(i * 13)
				}
				Expect(e.Memory().WriteBuffer("a", 0, data)).To(Succeed())
				Expect(e.Run()).To(Succeed())
				out, err := e.Memory().ReadBuffer("b", 0, 512)
				Expect(err).NotTo(HaveOccurred())
				return out
			}
			Expect(run()).To(Equal(run()))
		})
	})

	Context("compute tasks", func() {
		gemmProgram := `
program matmul {
    buffer a : l2, size = 64
    let x = region(a, 0, 8, type = f16, shape = [2, 2])
    let y = region(a, 8, 8, type = f16, shape = [2, 2])
    let z = region(a, 16, 8, type = f16, shape = [2, 2])
    gemm.sync in(x, y) out(z)
}
`
		putF16 := func(e *engine.Engine, buf string, off int64, vals []float32) {
			data := make([]byte, 2*len(vals))
			for i, v := range vals {
				binary.LittleEndian.PutUint16(data[2*i:], backend.F16FromFloat32(v))
			}
			Expect(e.Memory().WriteBuffer(buf, off, data)).To(Succeed())
		}
		getF16 := func(e *engine.Engine, buf string, off int64, n int) []float32 {
			raw, err := e.Memory().ReadBuffer(buf, off, int64(2*n))
			Expect(err).NotTo(HaveOccurred())
			out := make([]float32, n)
			for i := range out {
				out[i] = backend.Float32FromF16(binary.LittleEndian.Uint16(raw[2*i:]))
			}
			return out
		}

		It("runs matrix multiplication through the reference backend", func() {
			c := compile(gemmProgram)
			e := newEngine(c)
			putF16(e, "a", 0, []float32{1, 2, 3, 4})
			putF16(e, "a", 8, []float32{5, 6, 7, 8})

			Expect(e.Run()).To(Succeed())

			Expect(getF16(e, "a", 16, 4)).To(Equal([]float32{19, 22, 43, 50}))
		})

		It("hands operands and attributes to the backend in registry order", func() {
			ctrl := gomock.NewController(GinkgoT())
			defer ctrl.Finish()

			mock := NewMockBackend(ctrl)
			mock.EXPECT().Supports("gemm").Return(true).AnyTimes()
			mock.EXPECT().
				Execute("gemm", gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(op string, in, out []*backend.Tensor, attrs map[string]any) error {
					Expect(in).To(HaveLen(2))
					Expect(in[0].Shape).To(Equal([]int{2, 2}))
					Expect(out).To(HaveLen(1))
					Expect(attrs).To(HaveKeyWithValue("transpose_b", false))
					return nil
				})

			c := compile(gemmProgram)
			e := newEngine(c, func(b engine.Builder) engine.Builder {
				return b.WithBackend(mock)
			})
			Expect(e.Run()).To(Succeed())
		})

		It("aborts when the backend lacks a stable operator", func() {
			ctrl := gomock.NewController(GinkgoT())
			defer ctrl.Finish()

			mock := NewMockBackend(ctrl)
			mock.EXPECT().Supports("gemm").Return(false).AnyTimes()

			c := compile(gemmProgram)
			e := newEngine(c, func(b engine.Builder) engine.Builder {
				return b.WithBackend(mock)
			})
			Expect(e.Run()).NotTo(Succeed())
		})
	})

	Context("failure semantics", func() {
		It("aborts on allocation overflow", func() {
			var col diag.Collector
			doc := parser.Parse("prog.nem", `
program big {
    buffer huge : l3, size = 4096
}
`, &col)
			res := device.Resolve("bench.nemdev",
				device.MapLoader{"bench.nemdev": testDeviceSrc}, &col)
			dev, _ := res.Device("bench")
			reg, err := opcode.Load()
			Expect(err).NotTo(HaveOccurred())
			an := validate.Run(doc.Program, dev, res.Catalog, reg, &col)
			Expect(col.HasErrors()).To(BeFalse())

			e := engine.Builder{}.
				WithDevice(dev).
				WithRegistry(reg).
				WithBackend(backend.Reference{}).
				WithCollector(&col).
				WithOffChipBytes(1024).
				Build()
			Expect(e.Load(doc.Program, an)).NotTo(Succeed())
			Expect(col.HasErrors()).To(BeTrue())
		})

		It("refuses to execute a program with validation errors", func() {
			var col diag.Collector
			doc := parser.Parse("prog.nem", `
program broken {
    buffer b : l3, size = 0
}
`, &col)
			res := device.Resolve("bench.nemdev",
				device.MapLoader{"bench.nemdev": testDeviceSrc}, &col)
			dev, _ := res.Device("bench")
			reg, err := opcode.Load()
			Expect(err).NotTo(HaveOccurred())
			an := validate.Run(doc.Program, dev, res.Catalog, reg, &col)
			Expect(col.HasErrors()).To(BeTrue())

			e := engine.Builder{}.
				WithDevice(dev).
				WithRegistry(reg).
				WithBackend(backend.Reference{}).
				WithCollector(&col).
				Build()
			Expect(e.Load(doc.Program, an)).NotTo(Succeed())
		})
	})

	Context("bounded stepping", func() {
		It("runs up to N tasks and resumes", func() {
			c := compile(`
program steps {
    buffer a : l3, size = 256
    buffer b : l2, size = 256
    t1 = transfer.async(region(a, 0, 64), region(b, 0, 64))
    t2 = transfer.async(region(a, 64, 64), region(b, 64, 64))
    t3 = transfer.async(region(a, 128, 64), region(b, 128, 64))
}
`)
			e := newEngine(c)
			ran, err := e.RunBounded(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(ran).To(Equal(2))
			Expect(e.ExecutedTasks()).To(Equal(2))

			Expect(e.Run()).To(Succeed())
			Expect(e.ExecutedTasks()).To(Equal(3))
		})
	})
})
