package availability

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// SlotKey identifies an hour on a local calendar date. Two slots with the same
// key overlap, whichever tutor published them.
type SlotKey struct {
	Date civil.Date
	Hour int
}

// KeyOf derives the key from a wall-clock time without any zone conversion.
// Converting to UTC first would move late-evening sessions onto the wrong date.
func KeyOf(start time.Time) SlotKey {
	return SlotKey{
		Date: civil.Date{Year: start.Year(), Month: start.Month(), Day: start.Day()},
		Hour: start.Hour(),
	}
}

func KeyFor(date civil.Date, ts TimeSlot) SlotKey {
	return SlotKey{Date: date, Hour: ts.Hour()}
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s-%02d", k.Date.String(), k.Hour)
}

// Week is a Monday-started seven day window.
type Week struct {
	Start civil.Date
}

func WeekOf(date civil.Date) Week {
	wd := date.In(time.UTC).Weekday()
	offset := (int(wd) + 6) % 7
	return Week{Start: date.AddDays(-offset)}
}

func (w Week) Days() []civil.Date {
	days := make([]civil.Date, 7)
	for i := range days {
		days[i] = w.Start.AddDays(i)
	}
	return days
}

// Bounds returns the wall-clock [from, to) range covering the week.
func (w Week) Bounds() (from, to time.Time) {
	return w.Start.In(time.UTC), w.Start.AddDays(7).In(time.UTC)
}

func (w Week) Next() Week { return Week{Start: w.Start.AddDays(7)} }
