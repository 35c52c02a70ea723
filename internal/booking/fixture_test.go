package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	"github.com/hackgods/tutoring-reservation-engine/internal/config"
	redisclient "github.com/hackgods/tutoring-reservation-engine/internal/redis"
	"github.com/hackgods/tutoring-reservation-engine/internal/wallet"
)

const (
	learnerEmail = "learner@example.com"
	tutorEmail   = "tutor@example.com"
	unitPrice    = int64(100)
)

type walletEntry struct {
	email  string
	amount int64
	debit  bool
	voided bool
}

// fakeWallet mirrors the ledger rules: one entry per reference, debits
// never overdraw, voiding reverses the entry.
type fakeWallet struct {
	mu       sync.Mutex
	balances map[string]int64
	entries  map[string]*walletEntry

	// debitErr is returned by Debit; applyBeforeErr makes the debit land first,
	// like a timeout after the ledger committed.
	debitErr       error
	applyBeforeErr bool
	onDebit        func()
	credits        int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{balances: make(map[string]int64), entries: make(map[string]*walletEntry)}
}

func (w *fakeWallet) Debit(_ context.Context, email string, amount int64, ref string) error {
	if w.onDebit != nil {
		w.onDebit()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debitErr != nil && !w.applyBeforeErr {
		return w.debitErr
	}
	if _, ok := w.entries[ref]; !ok {
		if w.balances[email] < amount {
			return wallet.ErrInsufficientFunds
		}
		w.balances[email] -= amount
		w.entries[ref] = &walletEntry{email: email, amount: amount, debit: true}
	}
	return w.debitErr
}

func (w *fakeWallet) Credit(_ context.Context, email string, amount int64, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[ref]; ok {
		if e.voided {
			return wallet.ErrEntryVoided
		}
		return nil
	}
	w.credits++
	w.balances[email] += amount
	w.entries[ref] = &walletEntry{email: email, amount: amount}
	return nil
}

func (w *fakeWallet) Void(_ context.Context, ref string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[ref]
	if !ok || e.voided {
		return nil
	}
	e.voided = true
	if e.debit {
		w.balances[e.email] += e.amount
	} else {
		w.balances[e.email] -= e.amount
	}
	return nil
}

func (w *fakeWallet) Balance(_ context.Context, email string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.balances[email]
	if !ok {
		return 0, wallet.ErrWalletNotFound
	}
	return b, nil
}

func (w *fakeWallet) balance(email string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[email]
}

type fakeDisputes struct {
	mu   sync.Mutex
	open map[uuid.UUID]string
}

func (d *fakeDisputes) HasOpenDispute(_ context.Context, scheduleID uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.open[scheduleID]
	return ok, nil
}

func (d *fakeDisputes) FileDispute(_ context.Context, scheduleID uuid.UUID, _ string, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.open[scheduleID]; ok {
		return errors.New("dispute exists")
	}
	d.open[scheduleID] = reason
	return nil
}

type fixture struct {
	t        *testing.T
	svc      *Service
	store    *memStore
	wallet   *fakeWallet
	disputes *fakeDisputes
	subject  TutorSubject
	now      time.Time
}

// fixture clock: Monday 2025-03-03 08:30 local.
var fixtureNow = time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)

func testConfig() config.Config {
	return config.Config{
		LocalTimezone:  "UTC",
		LockTTL:        5 * time.Second,
		LockWait:       2 * time.Second,
		WalletTimeout:  time.Second,
		CompensateTTL:  5 * time.Second,
		RescheduleLead: 12 * time.Hour,
	}
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, testConfig())
}

func newFixtureWithConfig(t *testing.T, cfg config.Config) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		t:        t,
		store:    newMemStore(),
		wallet:   newFakeWallet(),
		disputes: &fakeDisputes{open: make(map[uuid.UUID]string)},
		now:      fixtureNow,
	}
	f.subject = f.addSubject(tutorEmail, unitPrice)

	svc, err := NewService(Deps{
		Repo:     f.store.repo(),
		Locker:   redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait),
		Wallet:   f.wallet,
		Disputes: f.disputes,
		Clock:    func() time.Time { return f.now },
	}, cfg)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addSubject(email string, price int64) TutorSubject {
	ts := TutorSubject{
		ID:         uuid.New(),
		TutorID:    uuid.New(),
		TutorEmail: email,
		Subject:    "Mathematics",
		UnitPrice:  price,
	}
	f.store.subjects[ts.ID] = ts
	return ts
}

func (f *fixture) addSlot(tutorID uuid.UUID, date civil.Date, hour int) uuid.UUID {
	start := time.Date(date.Year, date.Month, date.Day, hour, 0, 0, 0, time.UTC)
	sl := availability.Slot{
		ID:         uuid.New(),
		TutorID:    tutorID,
		StartDate:  start,
		EndDate:    start.Add(time.Hour),
		TimeSlotID: hour - 6,
		Status:     availability.SlotAvailable,
	}
	f.store.slots[sl.ID] = sl
	return sl.ID
}

func (f *fixture) slot(id uuid.UUID) availability.Slot {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.slots[id]
}

func (f *fixture) booking(id uuid.UUID) Booking {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.bookings[id]
}

func (f *fixture) schedule(id uuid.UUID) Schedule {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.schedules[id]
}

func (f *fixture) schedulesOf(bookingID uuid.UUID) []Schedule {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []Schedule
	for _, sc := range f.store.schedules {
		if sc.BookingID == bookingID {
			out = append(out, sc)
		}
	}
	return out
}

func (f *fixture) bookingCount() int {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return len(f.store.bookings)
}

func (f *fixture) fund(email string, amount int64) {
	f.wallet.mu.Lock()
	defer f.wallet.mu.Unlock()
	f.wallet.balances[email] += amount
}

// book creates a confirmed paid booking for learnerEmail on the given slots.
func (f *fixture) book(slotIDs ...uuid.UUID) *BookingResult {
	f.t.Helper()
	f.fund(learnerEmail, unitPrice*int64(len(slotIDs)))
	res, err := f.svc.CreateBooking(context.Background(), CreateBookingInput{
		LearnerEmail:   learnerEmail,
		TutorSubjectID: f.subject.ID,
		SlotIDs:        slotIDs,
	})
	require.NoError(f.t, err)
	return res
}

// next week's Monday and Wednesday relative to the fixture clock
var (
	nextMonday    = civil.Date{Year: 2025, Month: 3, Day: 10}
	nextWednesday = civil.Date{Year: 2025, Month: 3, Day: 12}
)
