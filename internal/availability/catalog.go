package availability

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// TimeSlot is an immutable catalog entry shared by every tutor.
type TimeSlot struct {
	ID        int
	StartTime civil.Time
	EndTime   civil.Time
}

func (t TimeSlot) Hour() int {
	return t.StartTime.Hour
}

func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", t.StartTime.Hour, t.StartTime.Minute, t.EndTime.Hour, t.EndTime.Minute)
}

// On places the slot on a calendar date and returns its wall-clock bounds.
func (t TimeSlot) On(date civil.Date) (start, end time.Time) {
	start = civil.DateTime{Date: date, Time: t.StartTime}.In(time.UTC)
	end = civil.DateTime{Date: date, Time: t.EndTime}.In(time.UTC)
	return start, end
}

// Catalog is the ordered, finite set of hour-aligned time slots.
type Catalog struct {
	slots []TimeSlot
}

const (
	firstTeachingHour = 7
	lastTeachingHour  = 22
)

// DefaultCatalog returns the 07:00-08:00 ... 21:00-22:00 catalog with ids 1..15.
func DefaultCatalog() *Catalog {
	slots := make([]TimeSlot, 0, lastTeachingHour-firstTeachingHour)
	for h := firstTeachingHour; h < lastTeachingHour; h++ {
		slots = append(slots, TimeSlot{
			ID:        h - firstTeachingHour + 1,
			StartTime: civil.Time{Hour: h},
			EndTime:   civil.Time{Hour: h + 1},
		})
	}
	return NewCatalog(slots)
}

func NewCatalog(slots []TimeSlot) *Catalog {
	return &Catalog{slots: append([]TimeSlot(nil), slots...)}
}

func (c *Catalog) Slots() []TimeSlot {
	return append([]TimeSlot(nil), c.slots...)
}
