package engine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/frank-ceva/nem/backend"
	"github.com/frank-ceva/nem/nem"
)

// readTensor constructs a dense tensor over a region: element decoding per
// type, stride resolution, and little-endian sub-byte unpacking (element 0
// occupies the low bits of its byte).
func (e *Engine) readTensor(r *regionRT) (*backend.Tensor, error) {
	raw, err := e.mem.ReadBuffer(r.buffer, r.lo, r.hi-r.lo)
	if err != nil {
		return nil, err
	}
	t := backend.NewTensor(r.elem, r.shape)
	n := t.Elems()
	for i := 0; i < n; i++ {
		lin := r.linearElem(i)
		v, err := decodeElem(raw, r.elem, lin)
		if err != nil {
			return nil, err
		}
		t.Data[i] = v
	}
	return t, nil
}

// writeTensor stores a tensor back through the region view, preserving
// bytes the view does not reach.
func (e *Engine) writeTensor(r *regionRT, t *backend.Tensor) error {
	raw, err := e.mem.ReadBuffer(r.buffer, r.lo, r.hi-r.lo)
	if err != nil {
		return err
	}
	n := t.Elems()
	for i := 0; i < n; i++ {
		lin := r.linearElem(i)
		if err := encodeElem(raw, r.elem, lin, t.Data[i]); err != nil {
			return err
		}
	}
	return e.mem.WriteBuffer(r.buffer, r.lo, raw)
}

// linearElem maps a dense row-major element index to the element position
// the declared strides reach.
func (r *regionRT) linearElem(i int) int64 {
	if len(r.strides) == 0 {
		return int64(i)
	}
	lin := int64(0)
	rest := i
	// Decompose i into row-major coordinates, innermost last.
	for d := len(r.shape) - 1; d >= 0; d-- {
		coord := rest % r.shape[d]
		rest /= r.shape[d]
		lin += int64(coord) * r.strides[d]
	}
	return lin
}

func decodeElem(raw []byte, elem nem.ElemType, lin int64) (float64, error) {
	bitPos := lin * int64(elem.Bits())
	byteOff := bitPos / 8
	if elem.SubByte() {
		if int(byteOff) >= len(raw) {
			return 0, fmt.Errorf("sub-byte element %d outside the view", lin)
		}
		nibble := raw[byteOff] >> (bitPos % 8) & 0xf
		v := int8(nibble)
		if v >= 8 {
			v -= 16
		}
		return float64(v), nil
	}
	width := int64(elem.Bits() / 8)
	if byteOff+width > int64(len(raw)) {
		return 0, fmt.Errorf("element %d outside the view", lin)
	}
	b := raw[byteOff : byteOff+width]
	switch elem {
	case nem.I8:
		return float64(int8(b[0])), nil
	case nem.U8:
		return float64(b[0]), nil
	case nem.I16:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case nem.U16:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case nem.I32:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case nem.U32:
		return float64(binary.LittleEndian.Uint32(b)), nil
	case nem.F16:
		return float64(backend.Float32FromF16(binary.LittleEndian.Uint16(b))), nil
	case nem.BF16:
		return float64(backend.Float32FromBF16(binary.LittleEndian.Uint16(b))), nil
	case nem.F32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	}
	return 0, fmt.Errorf("cannot decode element type %s", elem)
}

func encodeElem(raw []byte, elem nem.ElemType, lin int64, v float64) error {
	bitPos := lin * int64(elem.Bits())
	byteOff := bitPos / 8
	if elem.SubByte() {
		if int(byteOff) >= len(raw) {
			return fmt.Errorf("sub-byte element %d outside the view", lin)
		}
		n := int64(v) & 0xf
		shift := bitPos % 8
		raw[byteOff] = raw[byteOff]&^(0xf<<shift) | byte(n)<<shift
		return nil
	}
	width := int64(elem.Bits() / 8)
	if byteOff+width > int64(len(raw)) {
		return fmt.Errorf("element %d outside the view", lin)
	}
	b := raw[byteOff : byteOff+width]
	switch elem {
	case nem.I8, nem.U8:
		b[0] = byte(int64(v))
	case nem.I16, nem.U16:
		binary.LittleEndian.PutUint16(b, uint16(int64(v)))
	case nem.I32, nem.U32:
		binary.LittleEndian.PutUint32(b, uint32(int64(v)))
	case nem.F16:
		binary.LittleEndian.PutUint16(b, backend.F16FromFloat32(float32(v)))
	case nem.BF16:
		binary.LittleEndian.PutUint16(b, backend.BF16FromFloat32(float32(v)))
	case nem.F32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	default:
		return fmt.Errorf("cannot encode element type %s", elem)
	}
	return nil
}
