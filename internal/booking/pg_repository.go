package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
)

// dbtx is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db dbtx
}

func NewPgRepository(db dbtx) *PgRepository {
	return &PgRepository{db: db}
}

const uniqueViolation = "23505"

const slotColumns = `id, tutor_id, start_date, end_date, time_slot_id, status, created_at, updated_at`

const bookingColumns = `id, learner_email, tutor_subject_id, total_sessions, unit_price, total_amount,
	is_trial, status, payment_status, created_at, updated_at`

const scheduleColumns = `id, booking_id, availability_id, status, meeting_reference, attendance_note, created_at, updated_at`

const changeRequestColumns = `id, schedule_id, requester_email, requested_to_email, old_availability_id,
	new_availability_id, reason, status, created_at, updated_at`

const scheduleDetailSelect = `
	SELECT s.id, s.booking_id, s.availability_id, s.status, s.meeting_reference, s.attendance_note,
	       s.created_at, s.updated_at,
	       a.id, a.tutor_id, a.start_date, a.end_date, a.time_slot_id, a.status, a.created_at, a.updated_at,
	       b.learner_email
	FROM schedules s
	JOIN availability_slots a ON a.id = s.availability_id
	JOIN bookings b ON b.id = s.booking_id`

// Helpers

func scanSlot(row pgx.Row) (*availability.Slot, error) {
	var s availability.Slot
	var status string

	err := row.Scan(
		&s.ID,
		&s.TutorID,
		&s.StartDate,
		&s.EndDate,
		&s.TimeSlotID,
		&status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	if s.Status, err = availability.ParseSlotStatus(status); err != nil {
		return nil, fmt.Errorf("slot %s: %w", s.ID, err)
	}
	return &s, nil
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status, payment string

	err := row.Scan(
		&b.ID,
		&b.LearnerEmail,
		&b.TutorSubjectID,
		&b.TotalSessions,
		&b.UnitPrice,
		&b.TotalAmount,
		&b.IsTrial,
		&status,
		&payment,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if b.Status, err = ParseBookingStatus(status); err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	if b.PaymentStatus, err = ParsePaymentStatus(payment); err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	return &b, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var status string

	err := row.Scan(
		&s.ID,
		&s.BookingID,
		&s.AvailabilityID,
		&status,
		&s.MeetingReference,
		&s.AttendanceNote,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	if s.Status, err = ParseScheduleStatus(status); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	return &s, nil
}

func scanScheduleDetail(row pgx.Row) (*ScheduleDetail, error) {
	var d ScheduleDetail
	var status, slotStatus string

	err := row.Scan(
		&d.ID,
		&d.BookingID,
		&d.AvailabilityID,
		&status,
		&d.MeetingReference,
		&d.AttendanceNote,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.Slot.ID,
		&d.Slot.TutorID,
		&d.Slot.StartDate,
		&d.Slot.EndDate,
		&d.Slot.TimeSlotID,
		&slotStatus,
		&d.Slot.CreatedAt,
		&d.Slot.UpdatedAt,
		&d.LearnerEmail,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	if d.Status, err = ParseScheduleStatus(status); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", d.ID, err)
	}
	if d.Slot.Status, err = availability.ParseSlotStatus(slotStatus); err != nil {
		return nil, fmt.Errorf("slot %s: %w", d.Slot.ID, err)
	}
	return &d, nil
}

func scanChangeRequest(row pgx.Row) (*ChangeRequest, error) {
	var c ChangeRequest
	var status string

	err := row.Scan(
		&c.ID,
		&c.ScheduleID,
		&c.RequesterEmail,
		&c.RequestedToEmail,
		&c.OldAvailabilityID,
		&c.NewAvailabilityID,
		&c.Reason,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChangeRequestNotFound
		}
		return nil, err
	}

	if c.Status, err = ParseChangeRequestStatus(status); err != nil {
		return nil, fmt.Errorf("change request %s: %w", c.ID, err)
	}
	return &c, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// casMiss turns "no row matched the expected status" into ErrStatusMismatch.
func casMiss[T any](v *T, err error) (*T, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStatusMismatch
	}
	return v, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Interface methods

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, &PgRepository{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) GetTutorSubject(ctx context.Context, id uuid.UUID) (*TutorSubject, error) {
	var ts TutorSubject
	err := r.db.QueryRow(ctx, `
		SELECT id, tutor_id, tutor_email, subject, unit_price
		FROM tutor_subjects
		WHERE id = $1
	`, id).Scan(&ts.ID, &ts.TutorID, &ts.TutorEmail, &ts.Subject, &ts.UnitPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTutorSubjectNotFound
		}
		return nil, err
	}
	return &ts, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*availability.Slot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM availability_slots WHERE id = $1`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetSlotsByIDs(ctx context.Context, ids []uuid.UUID) ([]availability.Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = ANY($1)
		ORDER BY start_date
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query slots by id: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListTutorSlots(ctx context.Context, tutorID uuid.UUID, from, to time.Time) ([]availability.Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE tutor_id = $1
		  AND start_date >= $2
		  AND start_date < $3
		ORDER BY start_date
	`, tutorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query tutor slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) ListLearnerBusySlots(ctx context.Context, learnerEmail string, from, to time.Time) ([]availability.Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.tutor_id, a.start_date, a.end_date, a.time_slot_id, a.status, a.created_at, a.updated_at
		FROM schedules s
		JOIN bookings b ON b.id = s.booking_id
		JOIN availability_slots a ON a.id = s.availability_id
		WHERE b.learner_email = $1
		  AND s.status IN ('pending', 'upcoming', 'in_progress', 'processing')
		  AND a.start_date >= $2
		  AND a.start_date < $3
		ORDER BY a.start_date
	`, learnerEmail, from, to)
	if err != nil {
		return nil, fmt.Errorf("query learner busy slots: %w", err)
	}
	return collect(rows, scanSlot)
}

func (r *PgRepository) TransitionSlot(ctx context.Context, id uuid.UUID, from, to availability.SlotStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE availability_slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, to, from)
	if err != nil {
		return fmt.Errorf("transition slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusMismatch
	}
	return nil
}

func (r *PgRepository) CreateBooking(ctx context.Context, b *Booking) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO bookings (id, learner_email, tutor_subject_id, total_sessions, unit_price, total_amount,
		                      is_trial, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		RETURNING created_at, updated_at
	`, b.ID, b.LearnerEmail, b.TutorSubjectID, b.TotalSessions, b.UnitPrice, b.TotalAmount,
		b.IsTrial, b.Status, b.PaymentStatus)
	if err := row.Scan(&b.CreatedAt, &b.UpdatedAt); err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PgRepository) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, payment PaymentStatus) (*Booking, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE bookings
		SET status = $2,
		    payment_status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+bookingColumns, id, to, payment, from)
	v, err := scanBooking(row)
	return casMiss(v, err)
}

func (r *PgRepository) CreateSchedule(ctx context.Context, s *Schedule) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO schedules (id, booking_id, availability_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING created_at, updated_at
	`, s.ID, s.BookingID, s.AvailabilityID, s.Status)
	if err := row.Scan(&s.CreatedAt, &s.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			// another live schedule already holds this slot
			return ErrSlotNoLongerAvailable
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *PgRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*ScheduleDetail, error) {
	row := r.db.QueryRow(ctx, scheduleDetailSelect+` WHERE s.id = $1`, id)
	return scanScheduleDetail(row)
}

func (r *PgRepository) ListSchedulesByBooking(ctx context.Context, bookingID uuid.UUID) ([]ScheduleDetail, error) {
	rows, err := r.db.Query(ctx, scheduleDetailSelect+` WHERE s.booking_id = $1 ORDER BY a.start_date`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("query schedules by booking: %w", err)
	}
	return collect(rows, scanScheduleDetail)
}

func (r *PgRepository) ListSchedulesByLearner(ctx context.Context, learnerEmail string) ([]ScheduleDetail, error) {
	rows, err := r.db.Query(ctx, scheduleDetailSelect+` WHERE b.learner_email = $1 ORDER BY a.start_date`, learnerEmail)
	if err != nil {
		return nil, fmt.Errorf("query schedules by learner: %w", err)
	}
	return collect(rows, scanScheduleDetail)
}

func (r *PgRepository) UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to ScheduleStatus) (*Schedule, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE schedules
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+scheduleColumns, id, to, from)
	v, err := scanSchedule(row)
	return casMiss(v, err)
}

func (r *PgRepository) RebindSchedule(ctx context.Context, id, availabilityID uuid.UUID) (*Schedule, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE schedules
		SET availability_id = $2,
		    status = 'upcoming',
		    updated_at = now()
		WHERE id = $1
		  AND status = 'processing'
		RETURNING `+scheduleColumns, id, availabilityID)
	s, err := scanSchedule(row)
	if isUniqueViolation(err) {
		return nil, ErrSlotNoLongerAvailable
	}
	return casMiss(s, err)
}

func (r *PgRepository) SetMeetingReference(ctx context.Context, id uuid.UUID, ref string) (*Schedule, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE schedules
		SET meeting_reference = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'cancelled')
		RETURNING `+scheduleColumns, id, ref)
	v, err := scanSchedule(row)
	return casMiss(v, err)
}

func (r *PgRepository) SetAttendanceNote(ctx context.Context, id uuid.UUID, note string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE schedules
		SET attendance_note = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, note)
	if err != nil {
		return fmt.Errorf("set attendance note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

func (r *PgRepository) ListStartedSchedules(ctx context.Context, now time.Time, limit int) ([]ScheduleDetail, error) {
	rows, err := r.db.Query(ctx, scheduleDetailSelect+`
		WHERE b.status = 'confirmed'
		  AND a.start_date <= $1
		  AND (s.status = 'upcoming' OR (s.status = 'in_progress' AND a.end_date <= $1))
		ORDER BY a.start_date
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query started schedules: %w", err)
	}
	return collect(rows, scanScheduleDetail)
}

func (r *PgRepository) CreateChangeRequest(ctx context.Context, cr *ChangeRequest) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO schedule_change_requests (id, schedule_id, requester_email, requested_to_email,
		                                      old_availability_id, new_availability_id, reason, status,
		                                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING created_at, updated_at
	`, cr.ID, cr.ScheduleID, cr.RequesterEmail, cr.RequestedToEmail,
		cr.OldAvailabilityID, cr.NewAvailabilityID, cr.Reason, cr.Status)
	if err := row.Scan(&cr.CreatedAt, &cr.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrChangeRequestAlreadyPending
		}
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

func (r *PgRepository) GetChangeRequest(ctx context.Context, id uuid.UUID) (*ChangeRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+changeRequestColumns+` FROM schedule_change_requests WHERE id = $1`, id)
	return scanChangeRequest(row)
}

func (r *PgRepository) GetPendingChangeRequest(ctx context.Context, scheduleID uuid.UUID) (*ChangeRequest, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+changeRequestColumns+`
		FROM schedule_change_requests
		WHERE schedule_id = $1
		  AND status = 'pending'
	`, scheduleID)
	return scanChangeRequest(row)
}

func (r *PgRepository) ListChangeRequests(ctx context.Context, scheduleID uuid.UUID) ([]ChangeRequest, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+changeRequestColumns+`
		FROM schedule_change_requests
		WHERE schedule_id = $1
		ORDER BY created_at DESC
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("query change requests: %w", err)
	}
	return collect(rows, scanChangeRequest)
}

func (r *PgRepository) UpdateChangeRequestStatus(ctx context.Context, id uuid.UUID, from, to ChangeRequestStatus) (*ChangeRequest, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE schedule_change_requests
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+changeRequestColumns, id, to, from)
	v, err := scanChangeRequest(row)
	return casMiss(v, err)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, booking_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.BookingID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
