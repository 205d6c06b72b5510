package engine

import (
	"fmt"

	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/frank-ceva/nem/device"
	"github.com/frank-ceva/nem/nem"
)

// DefaultOffChipBytes is the modeled main-memory capacity when the caller
// does not override it.
const DefaultOffChipBytes = 64 * mem.MB

// Allocation is one ledger entry of the linear allocator.
type Allocation struct {
	Buffer string
	Space  nem.Space
	Offset int64
	Size   int64
	Align  int64
}

// space is one byte-addressable memory space with a linear allocator.
type space struct {
	id       nem.Space
	storage  *mem.Storage
	capacity int64
	cursor   int64
}

// MemorySystem models the three-level hierarchy: one off-chip space, one
// on-chip shared space, and one scratchpad per engine.
type MemorySystem struct {
	offchip *space
	shared  *space
	scratch []*space

	ledger []Allocation
	bases  map[string]Allocation
}

// NewMemorySystem sizes the spaces from the device topology.
func NewMemorySystem(dev *device.Config, offChipBytes int64) *MemorySystem {
	if offChipBytes <= 0 {
		offChipBytes = int64(DefaultOffChipBytes)
	}
	t := dev.Topology
	ms := &MemorySystem{
		offchip: newSpace(nem.Space{Level: nem.OffChip}, offChipBytes),
		shared:  newSpace(nem.Space{Level: nem.Shared}, t.L2SizeBytes),
		bases:   make(map[string]Allocation),
	}
	for i := 0; i < t.Engines; i++ {
		ms.scratch = append(ms.scratch,
			newSpace(nem.Space{Level: nem.Scratchpad, Engine: i}, t.L1SizeBytes))
	}
	return ms
}

func newSpace(id nem.Space, capacity int64) *space {
	return &space{id: id, storage: mem.NewStorage(uint64(capacity)), capacity: capacity}
}

func (ms *MemorySystem) space(s nem.Space) (*space, error) {
	switch s.Level {
	case nem.OffChip:
		return ms.offchip, nil
	case nem.Shared:
		return ms.shared, nil
	case nem.Scratchpad:
		if s.Engine < 0 || s.Engine >= len(ms.scratch) {
			return nil, fmt.Errorf("no scratchpad for engine %d", s.Engine)
		}
		return ms.scratch[s.Engine], nil
	}
	return nil, fmt.Errorf("unknown memory level %v", s.Level)
}

// Allocate reserves size bytes for a buffer with the requested alignment.
// Allocation is linear; exceeding the declared capacity is an error.
func (ms *MemorySystem) Allocate(buffer string, s nem.Space, size, align int64) (Allocation, error) {
	sp, err := ms.space(s)
	if err != nil {
		return Allocation{}, err
	}
	offset := (sp.cursor + align - 1) / align * align
	if offset+size > sp.capacity {
		return Allocation{}, fmt.Errorf(
			"allocation of %d bytes for %q overflows %s (capacity %d, in use %d)",
			size, buffer, s, sp.capacity, sp.cursor)
	}
	sp.cursor = offset + size
	a := Allocation{Buffer: buffer, Space: s, Offset: offset, Size: size, Align: align}
	ms.ledger = append(ms.ledger, a)
	ms.bases[buffer] = a
	return a, nil
}

// Lookup returns a buffer's allocation.
func (ms *MemorySystem) Lookup(buffer string) (Allocation, bool) {
	a, ok := ms.bases[buffer]
	return a, ok
}

// Ledger returns the allocation bookkeeping in allocation order.
func (ms *MemorySystem) Ledger() []Allocation {
	return append([]Allocation(nil), ms.ledger...)
}

// ReadBuffer copies n bytes starting at offset within a buffer.
func (ms *MemorySystem) ReadBuffer(buffer string, offset, n int64) ([]byte, error) {
	a, ok := ms.bases[buffer]
	if !ok {
		return nil, fmt.Errorf("unknown buffer %q", buffer)
	}
	if offset < 0 || offset+n > a.Size {
		return nil, fmt.Errorf("read [%d, %d) outside buffer %q of %d bytes",
			offset, offset+n, buffer, a.Size)
	}
	sp, err := ms.space(a.Space)
	if err != nil {
		return nil, err
	}
	return sp.storage.Read(uint64(a.Offset+offset), uint64(n))
}

// WriteBuffer stores data at offset within a buffer.
func (ms *MemorySystem) WriteBuffer(buffer string, offset int64, data []byte) error {
	a, ok := ms.bases[buffer]
	if !ok {
		return fmt.Errorf("unknown buffer %q", buffer)
	}
	if offset < 0 || offset+int64(len(data)) > a.Size {
		return fmt.Errorf("write [%d, %d) outside buffer %q of %d bytes",
			offset, offset+int64(len(data)), buffer, a.Size)
	}
	sp, err := ms.space(a.Space)
	if err != nil {
		return err
	}
	return sp.storage.Write(uint64(a.Offset+offset), data)
}
