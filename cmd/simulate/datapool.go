package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
)

type subject struct {
	ID      uuid.UUID
	TutorID uuid.UUID
}

type placedBooking struct {
	ID           uuid.UUID
	LearnerEmail string
}

// DataPool holds the ids a run draws from. Slots of hot tutors are shared by
// every worker so that bookings contend for the same rows.
type DataPool struct {
	Learners []string
	Subjects []subject
	slots    map[uuid.UUID][]uuid.UUID
	hot      []subject

	mu       sync.RWMutex
	bookings []placedBooking
}

func (dp *DataPool) SlotCount() int {
	n := 0
	for _, s := range dp.slots {
		n += len(s)
	}
	return n
}

func (dp *DataPool) AddBooking(b placedBooking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) TakeBooking(rng *rand.Rand) (placedBooking, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.bookings) == 0 {
		return placedBooking{}, false
	}
	idx := rng.Intn(len(dp.bookings))
	b := dp.bookings[idx]
	dp.bookings[idx] = dp.bookings[len(dp.bookings)-1]
	dp.bookings = dp.bookings[:len(dp.bookings)-1]
	return b, true
}

// PickSubject prefers a hot tutor half of the time.
func (dp *DataPool) PickSubject(rng *rand.Rand) subject {
	if len(dp.hot) > 0 && rng.Intn(2) == 0 {
		return dp.hot[rng.Intn(len(dp.hot))]
	}
	return dp.Subjects[rng.Intn(len(dp.Subjects))]
}

// PickSlots returns up to n distinct slots of the tutor.
func (dp *DataPool) PickSlots(rng *rand.Rand, tutorID uuid.UUID, n int) []uuid.UUID {
	all := dp.slots[tutorID]
	if len(all) == 0 {
		return nil
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]uuid.UUID, 0, n)
	for _, idx := range rng.Perm(len(all))[:n] {
		out = append(out, all[idx])
	}
	return out
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{slots: make(map[uuid.UUID][]uuid.UUID)}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	now := availability.WallClock(time.Now().In(loc))

	rows, err := pool.Query(ctx, `SELECT email FROM wallets WHERE balance > 0 LIMIT $1`, cfg.LearnerLimit)
	if err != nil {
		return nil, fmt.Errorf("load learners: %w", err)
	}
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Learners = append(dp.Learners, email)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `SELECT id, tutor_id FROM tutor_subjects`)
	if err != nil {
		return nil, fmt.Errorf("load subjects: %w", err)
	}
	for rows.Next() {
		var s subject
		if err := rows.Scan(&s.ID, &s.TutorID); err != nil {
			rows.Close()
			return nil, err
		}
		dp.Subjects = append(dp.Subjects, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT id, tutor_id FROM availability_slots
		WHERE status = 'available' AND start_date > $2
		ORDER BY start_date
		LIMIT $1
	`, cfg.SlotLimit, now)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	for rows.Next() {
		var id, tutorID uuid.UUID
		if err := rows.Scan(&id, &tutorID); err != nil {
			rows.Close()
			return nil, err
		}
		dp.slots[tutorID] = append(dp.slots[tutorID], id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dp.Learners) == 0 {
		return nil, fmt.Errorf("no funded learners loaded")
	}
	if len(dp.Subjects) == 0 || len(dp.slots) == 0 {
		return nil, fmt.Errorf("no tutors with open slots loaded")
	}

	for _, s := range dp.Subjects {
		if len(dp.hot) >= cfg.HotTutors {
			break
		}
		if len(dp.slots[s.TutorID]) > 0 {
			dp.hot = append(dp.hot, s)
		}
	}

	return dp, nil
}
