package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotBooked      SlotStatus = "booked"
	SlotUnavailable SlotStatus = "unavailable"
)

// ParseSlotStatus is the only place a raw slot status enters the system.
func ParseSlotStatus(raw string) (SlotStatus, error) {
	switch s := SlotStatus(raw); s {
	case SlotAvailable, SlotBooked, SlotUnavailable:
		return s, nil
	}
	return "", fmt.Errorf("unknown slot status %q", raw)
}

// Slot is a tutor's declared opening on one calendar date for one catalog TimeSlot.
// StartDate and EndDate hold local wall-clock values; their Location is not meaningful.
type Slot struct {
	ID         uuid.UUID
	TutorID    uuid.UUID
	StartDate  time.Time
	EndDate    time.Time
	TimeSlotID int
	Status     SlotStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s Slot) Key() SlotKey {
	return KeyOf(s.StartDate)
}

// WallClock drops the zone of t and keeps its wall-clock reading, so that
// "now" can be compared against stored slot times.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
