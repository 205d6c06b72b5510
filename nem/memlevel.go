package nem

import "fmt"

// Level enumerates the memory levels of the hierarchy.
type Level int

const (
	// OffChip is the device-global main memory (l3).
	OffChip Level = iota
	// Shared is the device-global on-chip memory (l2).
	Shared
	// Scratchpad is the engine-indexed on-chip memory (l1). Each engine owns
	// exactly one.
	Scratchpad
)

var levelNames = []string{"l3", "l2", "l1"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level %d", l)
}

// Space identifies one byte-addressable memory space: a level plus, for
// scratchpads, the owning engine.
type Space struct {
	Level  Level
	Engine int // meaningful only for Scratchpad
}

func (s Space) String() string {
	if s.Level == Scratchpad {
		return fmt.Sprintf("l1[%d]", s.Engine)
	}
	return s.Level.String()
}
