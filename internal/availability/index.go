package availability

import (
	"github.com/google/uuid"
)

// Index maps slot keys to a tutor's published slots for O(1) lookups.
// It is rebuilt whenever the tutor's window changes; it holds no shared state.
type Index struct {
	byKey map[SlotKey]Slot
	byID  map[uuid.UUID]Slot
}

// NewSelectionIndex keeps only Available slots.
func NewSelectionIndex(slots []Slot) *Index {
	return newIndex(slots, SlotAvailable)
}

// NewDisplayIndex also keeps Booked slots so they render as taken rather than absent.
func NewDisplayIndex(slots []Slot) *Index {
	return newIndex(slots, SlotAvailable, SlotBooked)
}

func newIndex(slots []Slot, keep ...SlotStatus) *Index {
	ix := &Index{
		byKey: make(map[SlotKey]Slot, len(slots)),
		byID:  make(map[uuid.UUID]Slot, len(slots)),
	}
	for _, s := range slots {
		if !hasStatus(keep, s.Status) {
			continue
		}
		ix.byKey[s.Key()] = s
		ix.byID[s.ID] = s
	}
	return ix
}

func hasStatus(set []SlotStatus, s SlotStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (ix *Index) Get(key SlotKey) (Slot, bool) {
	s, ok := ix.byKey[key]
	return s, ok
}

func (ix *Index) ByID(id uuid.UUID) (Slot, bool) {
	s, ok := ix.byID[id]
	return s, ok
}
