package availability

import (
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type CellState string

const (
	CellUnavailable CellState = "unavailable"
	CellAvailable   CellState = "available"
	CellBooked      CellState = "booked"
)

type Cell struct {
	Date        civil.Date
	TimeSlot    TimeSlot
	State       CellState
	SlotID      *uuid.UUID
	LearnerBusy bool
}

type GridRow struct {
	TimeSlot TimeSlot
	Cells    []Cell
}

// WeekGrid is the (TimeSlot x date) projection of a tutor's week.
type WeekGrid struct {
	Week Week
	Days []civil.Date
	Rows []GridRow
}

// BuildWeekGrid is a pure projection; busy may be nil when no learner is viewing.
func BuildWeekGrid(catalog *Catalog, week Week, slots []Slot, busy BusyMap) WeekGrid {
	ix := NewDisplayIndex(slots)
	days := week.Days()

	grid := WeekGrid{Week: week, Days: days}
	for _, ts := range catalog.Slots() {
		row := GridRow{TimeSlot: ts, Cells: make([]Cell, 0, len(days))}
		for _, day := range days {
			key := KeyFor(day, ts)
			cell := Cell{Date: day, TimeSlot: ts, State: CellUnavailable, LearnerBusy: busy.Has(key)}
			if s, ok := ix.Get(key); ok {
				id := s.ID
				cell.SlotID = &id
				cell.State = CellAvailable
				if s.Status == SlotBooked {
					cell.State = CellBooked
				}
			}
			row.Cells = append(row.Cells, cell)
		}
		grid.Rows = append(grid.Rows, row)
	}
	return grid
}
