package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
)

// memStore is an in-memory Repository with the same compare-and-set and
// uniqueness rules as the Postgres schema. Transactions are serialised and
// rolled back by restoring a snapshot.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	subjects  map[uuid.UUID]TutorSubject
	slots     map[uuid.UUID]availability.Slot
	bookings  map[uuid.UUID]Booking
	schedules map[uuid.UUID]Schedule
	requests  map[uuid.UUID]ChangeRequest
	events    []EventLog
}

type memSnapshot struct {
	slots     map[uuid.UUID]availability.Slot
	bookings  map[uuid.UUID]Booking
	schedules map[uuid.UUID]Schedule
	requests  map[uuid.UUID]ChangeRequest
}

func newMemStore() *memStore {
	return &memStore{
		subjects:  make(map[uuid.UUID]TutorSubject),
		slots:     make(map[uuid.UUID]availability.Slot),
		bookings:  make(map[uuid.UUID]Booking),
		schedules: make(map[uuid.UUID]Schedule),
		requests:  make(map[uuid.UUID]ChangeRequest),
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st *memStore) snapshot() memSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return memSnapshot{
		slots:     cloneMap(st.slots),
		bookings:  cloneMap(st.bookings),
		schedules: cloneMap(st.schedules),
		requests:  cloneMap(st.requests),
	}
}

func (st *memStore) restore(s memSnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.slots = s.slots
	st.bookings = s.bookings
	st.schedules = s.schedules
	st.requests = s.requests
}

func (st *memStore) repo() *memRepo {
	return &memRepo{st: st}
}

type memRepo struct {
	st   *memStore
	inTx bool
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	r.st.txMu.Lock()
	defer r.st.txMu.Unlock()

	snap := r.st.snapshot()
	if err := fn(ctx, &memRepo{st: r.st, inTx: true}); err != nil {
		r.st.restore(snap)
		return err
	}
	return nil
}

func (r *memRepo) GetTutorSubject(_ context.Context, id uuid.UUID) (*TutorSubject, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	ts, ok := r.st.subjects[id]
	if !ok {
		return nil, ErrTutorSubjectNotFound
	}
	return &ts, nil
}

func (r *memRepo) GetSlot(_ context.Context, id uuid.UUID) (*availability.Slot, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sl, ok := r.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &sl, nil
}

func (r *memRepo) GetSlotsByIDs(_ context.Context, ids []uuid.UUID) ([]availability.Slot, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []availability.Slot
	for _, id := range ids {
		if sl, ok := r.st.slots[id]; ok {
			out = append(out, sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *memRepo) ListTutorSlots(_ context.Context, tutorID uuid.UUID, from, to time.Time) ([]availability.Slot, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []availability.Slot
	for _, sl := range r.st.slots {
		if sl.TutorID == tutorID && inRange(sl.StartDate, from, to) {
			out = append(out, sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *memRepo) ListLearnerBusySlots(_ context.Context, learnerEmail string, from, to time.Time) ([]availability.Slot, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []availability.Slot
	for _, sc := range r.st.schedules {
		switch sc.Status {
		case SchedulePending, ScheduleUpcoming, ScheduleInProgress, ScheduleProcessing:
		default:
			continue
		}
		if r.st.bookings[sc.BookingID].LearnerEmail != learnerEmail {
			continue
		}
		sl := r.st.slots[sc.AvailabilityID]
		if inRange(sl.StartDate, from, to) {
			out = append(out, sl)
		}
	}
	sortSlots(out)
	return out, nil
}

func (r *memRepo) TransitionSlot(_ context.Context, id uuid.UUID, from, to availability.SlotStatus) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sl, ok := r.st.slots[id]
	if !ok || sl.Status != from {
		return ErrStatusMismatch
	}
	sl.Status = to
	r.st.slots[id] = sl
	return nil
}

func (r *memRepo) CreateBooking(_ context.Context, b *Booking) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	b.CreatedAt, b.UpdatedAt = time.Now(), time.Now()
	r.st.bookings[b.ID] = *b
	return nil
}

func (r *memRepo) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	b, ok := r.st.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	return &b, nil
}

func (r *memRepo) UpdateBookingStatus(_ context.Context, id uuid.UUID, from, to BookingStatus, payment PaymentStatus) (*Booking, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	b, ok := r.st.bookings[id]
	if !ok || b.Status != from {
		return nil, ErrStatusMismatch
	}
	b.Status, b.PaymentStatus = to, payment
	r.st.bookings[id] = b
	return &b, nil
}

func (r *memRepo) liveScheduleOn(slotID, except uuid.UUID) bool {
	for _, sc := range r.st.schedules {
		if sc.ID != except && sc.AvailabilityID == slotID && sc.Status != ScheduleCancelled {
			return true
		}
	}
	return false
}

func (r *memRepo) CreateSchedule(_ context.Context, s *Schedule) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if r.liveScheduleOn(s.AvailabilityID, s.ID) {
		return ErrSlotNoLongerAvailable
	}
	s.CreatedAt, s.UpdatedAt = time.Now(), time.Now()
	r.st.schedules[s.ID] = *s
	return nil
}

func (r *memRepo) detail(sc Schedule) ScheduleDetail {
	return ScheduleDetail{
		Schedule:     sc,
		Slot:         r.st.slots[sc.AvailabilityID],
		LearnerEmail: r.st.bookings[sc.BookingID].LearnerEmail,
	}
}

func (r *memRepo) GetSchedule(_ context.Context, id uuid.UUID) (*ScheduleDetail, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sc, ok := r.st.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	d := r.detail(sc)
	return &d, nil
}

func (r *memRepo) listDetails(keep func(Schedule) bool) []ScheduleDetail {
	var out []ScheduleDetail
	for _, sc := range r.st.schedules {
		if keep(sc) {
			out = append(out, r.detail(sc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.StartDate.Before(out[j].Slot.StartDate) })
	return out
}

func (r *memRepo) ListSchedulesByBooking(_ context.Context, bookingID uuid.UUID) ([]ScheduleDetail, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.listDetails(func(sc Schedule) bool { return sc.BookingID == bookingID }), nil
}

func (r *memRepo) ListSchedulesByLearner(_ context.Context, learnerEmail string) ([]ScheduleDetail, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.listDetails(func(sc Schedule) bool {
		return r.st.bookings[sc.BookingID].LearnerEmail == learnerEmail
	}), nil
}

func (r *memRepo) UpdateScheduleStatus(_ context.Context, id uuid.UUID, from, to ScheduleStatus) (*Schedule, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sc, ok := r.st.schedules[id]
	if !ok || sc.Status != from {
		return nil, ErrStatusMismatch
	}
	sc.Status = to
	r.st.schedules[id] = sc
	return &sc, nil
}

func (r *memRepo) RebindSchedule(_ context.Context, id, availabilityID uuid.UUID) (*Schedule, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sc, ok := r.st.schedules[id]
	if !ok || sc.Status != ScheduleProcessing {
		return nil, ErrStatusMismatch
	}
	if r.liveScheduleOn(availabilityID, id) {
		return nil, ErrSlotNoLongerAvailable
	}
	sc.AvailabilityID = availabilityID
	sc.Status = ScheduleUpcoming
	r.st.schedules[id] = sc
	return &sc, nil
}

func (r *memRepo) SetMeetingReference(_ context.Context, id uuid.UUID, ref string) (*Schedule, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sc, ok := r.st.schedules[id]
	if !ok || sc.Status.Terminal() {
		return nil, ErrStatusMismatch
	}
	sc.MeetingReference = &ref
	r.st.schedules[id] = sc
	return &sc, nil
}

func (r *memRepo) SetAttendanceNote(_ context.Context, id uuid.UUID, note string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	sc, ok := r.st.schedules[id]
	if !ok {
		return ErrScheduleNotFound
	}
	sc.AttendanceNote = &note
	r.st.schedules[id] = sc
	return nil
}

func (r *memRepo) ListStartedSchedules(_ context.Context, now time.Time, limit int) ([]ScheduleDetail, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := r.listDetails(func(sc Schedule) bool {
		if r.st.bookings[sc.BookingID].Status != BookingConfirmed {
			return false
		}
		slot := r.st.slots[sc.AvailabilityID]
		switch sc.Status {
		case ScheduleUpcoming:
			return !slot.StartDate.After(now)
		case ScheduleInProgress:
			return !slot.EndDate.After(now)
		}
		return false
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) CreateChangeRequest(_ context.Context, cr *ChangeRequest) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.requests {
		if existing.ScheduleID == cr.ScheduleID && existing.Status == ChangePending {
			return ErrChangeRequestAlreadyPending
		}
	}
	cr.CreatedAt, cr.UpdatedAt = time.Now(), time.Now()
	r.st.requests[cr.ID] = *cr
	return nil
}

func (r *memRepo) GetChangeRequest(_ context.Context, id uuid.UUID) (*ChangeRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cr, ok := r.st.requests[id]
	if !ok {
		return nil, ErrChangeRequestNotFound
	}
	return &cr, nil
}

func (r *memRepo) GetPendingChangeRequest(_ context.Context, scheduleID uuid.UUID) (*ChangeRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, cr := range r.st.requests {
		if cr.ScheduleID == scheduleID && cr.Status == ChangePending {
			return &cr, nil
		}
	}
	return nil, ErrChangeRequestNotFound
}

func (r *memRepo) ListChangeRequests(_ context.Context, scheduleID uuid.UUID) ([]ChangeRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []ChangeRequest
	for _, cr := range r.st.requests {
		if cr.ScheduleID == scheduleID {
			out = append(out, cr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) UpdateChangeRequestStatus(_ context.Context, id uuid.UUID, from, to ChangeRequestStatus) (*ChangeRequest, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	cr, ok := r.st.requests[id]
	if !ok || cr.Status != from {
		return nil, ErrStatusMismatch
	}
	cr.Status = to
	r.st.requests[id] = cr
	return &cr, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.events = append(r.st.events, ev)
	return nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func sortSlots(slots []availability.Slot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartDate.Before(slots[j].StartDate) })
}
