// Package api is the one-call driver over the toolkit layers: it parses a
// program, resolves its device, runs the validation pipeline, and executes
// the result on the reference engine.
package api

import (
	"fmt"
	"path/filepath"

	"github.com/frank-ceva/nem/backend"
	"github.com/frank-ceva/nem/device"
	"github.com/frank-ceva/nem/diag"
	"github.com/frank-ceva/nem/engine"
	"github.com/frank-ceva/nem/opcode"
	"github.com/frank-ceva/nem/parser"
	"github.com/frank-ceva/nem/validate"
)

// Options parameterize a session. The zero value reads device files from
// the file system, runs the reference backend, and schedules in source
// order.
type Options struct {
	Loader       device.Loader
	Backend      backend.Backend
	Policy       engine.Policy
	OffChipBytes int64
	// DeviceName selects a device when the configuration declares several.
	DeviceName string
}

// Result carries everything a caller may inspect after compilation: the
// tree, the resolved device, the analysis side tables, and the registry.
type Result struct {
	Document *parser.Document
	Program  *parser.Program
	Device   *device.Config
	Catalog  *device.Resolution
	Analysis *validate.Analysis
	Registry *opcode.Registry
}

// Session is one compile-and-execute pass over a program source.
type Session struct {
	col  diag.Collector
	opts Options
	res  Result
	eng  *engine.Engine
}

// NewSession parses and validates a program. The session is returned even
// when diagnostics were collected; Load refuses to build the engine until
// they are error-free.
func NewSession(path, src string, opts Options) *Session {
	if opts.Loader == nil {
		opts.Loader = device.FSLoader{}
	}
	if opts.Backend == nil {
		opts.Backend = backend.Reference{}
	}
	s := &Session{opts: opts}
	s.compile(path, src)
	return s
}

func (s *Session) compile(path, src string) {
	doc := parser.Parse(path, src, &s.col)
	s.res.Document = doc
	if doc.Program == nil {
		if !s.col.HasErrors() {
			s.col.Errorf(doc.Loc(), "%q does not contain a program document", path)
		}
		return
	}
	s.res.Program = doc.Program

	reg, err := opcode.Load()
	if err != nil {
		s.col.Errorf(diag.Location{}, "opcode registry: %v", err)
		return
	}
	s.res.Registry = reg

	s.resolveDevice(doc, path)
	if s.res.Catalog != nil {
		if err := reg.CheckFamilies(func(name string) bool {
			_, ok := s.res.Catalog.Catalog.Lookup(name)
			return ok
		}); err != nil {
			// A family the catalog omits only hurts when an operator
			// instance reaches it; surface it without blocking.
			s.col.Warnf(diag.Location{}, "%v", err)
		}
		s.res.Analysis = validate.Run(doc.Program, s.res.Device,
			s.res.Catalog.Catalog, reg, &s.col)
		return
	}
	s.res.Analysis = validate.Run(doc.Program, nil, nil, reg, &s.col)
}

func (s *Session) resolveDevice(doc *parser.Document, path string) {
	dir := doc.Program.Device
	switch {
	case dir == nil:
		if len(doc.Includes) > 0 {
			s.res.Catalog = device.ResolveProgramEnv(doc, path, s.opts.Loader, &s.col)
		}
		return
	case dir.Path != "":
		target := dir.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		s.res.Catalog = device.Resolve(target, s.opts.Loader, &s.col)
	default:
		s.res.Catalog = device.ResolveProgramEnv(doc, path, s.opts.Loader, &s.col)
	}

	name := s.opts.DeviceName
	if name == "" && dir.Inline != nil {
		name = dir.Inline.Name
	}
	if name == "" {
		var concrete []string
		for _, n := range s.res.Catalog.Names() {
			if d, _ := s.res.Catalog.Device(n); d != nil && !d.Abstract {
				concrete = append(concrete, n)
			}
		}
		switch len(concrete) {
		case 0:
			s.col.Errorf(dir.Loc(), "device configuration declares no concrete device")
			return
		case 1:
			name = concrete[0]
		default:
			s.col.Errorf(dir.Loc(),
				"device configuration declares %d devices (%v); select one",
				len(concrete), concrete)
			return
		}
	}
	dev, ok := s.res.Catalog.Device(name)
	if !ok {
		s.col.Errorf(dir.Loc(), "unknown device %q", name)
		return
	}
	if dev.Abstract {
		s.col.Errorf(dir.Loc(), "device %q is abstract and cannot execute programs", name)
		return
	}
	s.res.Device = dev
}

// Result exposes the compilation products.
func (s *Session) Result() *Result { return &s.res }

// Diagnostics returns every diagnostic collected so far.
func (s *Session) Diagnostics() []diag.Diagnostic { return s.col.Diagnostics() }

// HasErrors reports whether any stage collected an error.
func (s *Session) HasErrors() bool { return s.col.HasErrors() }

// Load builds the execution engine: the memory hierarchy and the task
// graph. It refuses when validation collected errors.
func (s *Session) Load() error {
	if s.col.HasErrors() {
		return fmt.Errorf("validation reported %d errors", s.col.ErrorCount())
	}
	if s.res.Device == nil {
		return fmt.Errorf("program names no device; execution needs one")
	}
	b := engine.Builder{}.
		WithDevice(s.res.Device).
		WithRegistry(s.res.Registry).
		WithBackend(s.opts.Backend).
		WithCollector(&s.col).
		WithOffChipBytes(s.opts.OffChipBytes)
	if s.opts.Policy != nil {
		b = b.WithPolicy(s.opts.Policy)
	}
	s.eng = b.Build()
	return s.eng.Load(s.res.Program, s.res.Analysis)
}

// WriteBuffer preloads input bytes into a declared buffer.
func (s *Session) WriteBuffer(name string, offset int64, data []byte) error {
	if s.eng == nil {
		return fmt.Errorf("session not loaded")
	}
	return s.eng.Memory().WriteBuffer(name, offset, data)
}

// ReadBuffer collects output bytes from a declared buffer.
func (s *Session) ReadBuffer(name string, offset, n int64) ([]byte, error) {
	if s.eng == nil {
		return nil, fmt.Errorf("session not loaded")
	}
	return s.eng.Memory().ReadBuffer(name, offset, n)
}

// Execute runs every task to completion, loading first if needed.
func (s *Session) Execute() error {
	if s.eng == nil {
		if err := s.Load(); err != nil {
			return err
		}
	}
	return s.eng.Run()
}

// Engine exposes the loaded engine for stepping and inspection.
func (s *Session) Engine() *engine.Engine { return s.eng }
