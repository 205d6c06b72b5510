package engine

import (
	"fmt"

	"github.com/frank-ceva/nem/backend"
)

// dispatch runs one task atomically. A task never suspends; errors abort
// the whole execution.
func (e *Engine) dispatch(t *rtTask) error {
	switch t.kind {
	case taskTransfer:
		return e.runTransfer(t)
	case taskStore:
		return e.runStore(t)
	case taskCompute:
		return e.runCompute(t)
	case taskWait:
		return e.runWait(t)
	}
	return fmt.Errorf("unknown task kind %d", t.kind)
}

func (e *Engine) runTransfer(t *rtTask) error {
	src, dst := t.reads[0], t.writes[0]
	if t.writeIsReadonly[0] {
		return fmt.Errorf("destination region is readonly")
	}
	if src.hi-src.lo != dst.hi-dst.lo {
		return fmt.Errorf("transfer copies %d bytes into a %d-byte region",
			src.hi-src.lo, dst.hi-dst.lo)
	}
	if src.buffer == dst.buffer && src.lo < dst.hi && dst.lo < src.hi && !t.memmove {
		return fmt.Errorf("source and destination overlap without @memmove")
	}
	data, err := e.mem.ReadBuffer(src.buffer, src.lo, src.hi-src.lo)
	if err != nil {
		return err
	}
	// The full source is read before the destination is written, so the
	// memmove form is safe for any overlap.
	return e.mem.WriteBuffer(dst.buffer, dst.lo, data)
}

// runStore commits a region's content. In the reference execution the
// commitment is indistinguishable from a completed transfer: the bytes are
// read and the bounds enforced, nothing moves.
func (e *Engine) runStore(t *rtTask) error {
	target := t.reads[0]
	_, err := e.mem.ReadBuffer(target.buffer, target.lo, target.hi-target.lo)
	return err
}

func (e *Engine) runCompute(t *rtTask) error {
	if t.op.Status == "stable" && !e.backend.Supports(t.opName) {
		return fmt.Errorf("backend does not support stable operator %q", t.opName)
	}
	if !e.backend.Supports(t.opName) {
		return fmt.Errorf("backend does not support operator %q", t.opName)
	}

	inputs := make([]*backend.Tensor, 0, len(t.reads))
	for i, r := range t.reads {
		if t.readIsWriteonly[i] {
			return fmt.Errorf("input %d reads a writeonly region", i)
		}
		if !r.hasType {
			return fmt.Errorf("input %d has no element type", i)
		}
		in, err := e.readTensor(r)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
	}
	outputs := make([]*backend.Tensor, 0, len(t.writes))
	for i, r := range t.writes {
		if t.writeIsReadonly[i] {
			return fmt.Errorf("output %d writes a readonly region", i)
		}
		if !r.hasType {
			return fmt.Errorf("output %d has no element type", i)
		}
		outputs = append(outputs, backend.NewTensor(r.elem, r.shape))
	}

	if err := e.backend.Execute(t.opName, inputs, outputs, t.attrs); err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	for i, r := range t.writes {
		if err := e.writeTensor(r, outputs[i]); err != nil {
			return err
		}
	}
	return nil
}

// runWait asserts its tokens are satisfied at dispatch. In the cooperative
// model the scheduler only dispatches ready tasks, so the assertion guards
// the scheduler itself.
func (e *Engine) runWait(t *rtTask) error {
	if !e.tokens.AllSatisfied(t.deps) {
		return fmt.Errorf("scheduler invariant violation: wait dispatched with unsatisfied tokens")
	}
	return nil
}
