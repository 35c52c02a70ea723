package availability

import (
	"sort"

	"github.com/google/uuid"
)

type Classification string

const (
	Selectable  Classification = "selectable"
	NoSlot      Classification = "no-slot"
	TutorBooked Classification = "tutor-booked"
	LearnerBusy Classification = "learner-busy"
	Started     Classification = "started"
)

// BusyMap is the set of keys a learner already holds through active schedules.
type BusyMap map[SlotKey]struct{}

// NewBusyMap projects the slots bound to a learner's schedules, across all tutors.
func NewBusyMap(slots []Slot) BusyMap {
	busy := make(BusyMap, len(slots))
	for _, s := range slots {
		busy[s.Key()] = struct{}{}
	}
	return busy
}

func (b BusyMap) Has(key SlotKey) bool {
	_, ok := b[key]
	return ok
}

// Keys returns the busy keys in chronological order.
func (b BusyMap) Keys() []SlotKey {
	keys := make([]SlotKey, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date.Before(keys[j].Date)
		}
		return keys[i].Hour < keys[j].Hour
	})
	return keys
}

// Detector classifies candidate slots for one learner against one tutor's index.
// The index must be a display index so tutor-booked slots are told apart from
// slots the tutor never published.
type Detector struct {
	index *Index
	busy  BusyMap
}

func NewDetector(index *Index, busy BusyMap) *Detector {
	if busy == nil {
		busy = BusyMap{}
	}
	return &Detector{index: index, busy: busy}
}

func (d *Detector) Classify(key SlotKey) Classification {
	slot, ok := d.index.Get(key)
	if !ok {
		return NoSlot
	}
	return d.classifySlot(slot)
}

func (d *Detector) ClassifyID(id uuid.UUID) Classification {
	slot, ok := d.index.ByID(id)
	if !ok {
		return NoSlot
	}
	return d.classifySlot(slot)
}

func (d *Detector) classifySlot(slot Slot) Classification {
	if slot.Status != SlotAvailable {
		return TutorBooked
	}
	if d.busy.Has(slot.Key()) {
		return LearnerBusy
	}
	return Selectable
}

// ClassifyIDs returns the classification of every id that is not selectable.
// An empty result means the whole selection can be reserved.
func (d *Detector) ClassifyIDs(ids []uuid.UUID) map[uuid.UUID]Classification {
	rejected := make(map[uuid.UUID]Classification)
	seen := make(map[SlotKey]uuid.UUID, len(ids))
	for _, id := range ids {
		c := d.ClassifyID(id)
		if c != Selectable {
			rejected[id] = c
			continue
		}
		// a repeated id would hold the same hour twice
		slot, _ := d.index.ByID(id)
		if _, dup := seen[slot.Key()]; dup {
			rejected[id] = LearnerBusy
			continue
		}
		seen[slot.Key()] = id
	}
	return rejected
}
