package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	"github.com/hackgods/tutoring-reservation-engine/internal/config"
	"github.com/hackgods/tutoring-reservation-engine/internal/metrics"
	redisclient "github.com/hackgods/tutoring-reservation-engine/internal/redis"
	"github.com/hackgods/tutoring-reservation-engine/internal/wallet"
)

var tracer = otel.Tracer("tutoring.internal.booking")

const (
	EventBookingCreated     = "BOOKING_CREATED"
	EventBookingConfirmed   = "BOOKING_CONFIRMED"
	EventBookingCompensated = "BOOKING_COMPENSATED"
	EventBookingCancelled   = "BOOKING_CANCELLED"
	EventBookingCompleted   = "BOOKING_COMPLETED"
	EventScheduleStarted    = "SCHEDULE_STARTED"
	EventScheduleElapsed    = "SCHEDULE_ELAPSED"
	EventScheduleCompleted  = "SCHEDULE_COMPLETED"
	EventScheduleCancelled  = "SCHEDULE_CANCELLED"
	EventScheduleDisputed   = "SCHEDULE_DISPUTED"
	EventMeetingAttached    = "MEETING_REFERENCE_ATTACHED"
	EventChangeRequested    = "CHANGE_REQUESTED"
	EventChangeApproved     = "CHANGE_APPROVED"
	EventChangeRejected     = "CHANGE_REJECTED"
	EventChangeCancelled    = "CHANGE_CANCELLED"
)

// Deps are the collaborators of the Service. Catalog, Metrics, Logger and
// Clock are optional.
type Deps struct {
	Repo     Repository
	Locker   redisclient.Locker
	Wallet   wallet.Wallet
	Disputes DisputeRegistry
	Catalog  *availability.Catalog
	Metrics  *metrics.BookingMetrics
	Logger   *zap.Logger
	Clock    func() time.Time
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	wallet   wallet.Wallet
	disputes DisputeRegistry
	catalog  *availability.Catalog
	metrics  *metrics.BookingMetrics
	logger   *zap.Logger
	clock    func() time.Time
	loc      *time.Location
	cfg      config.Config
}

func NewService(deps Deps, cfg config.Config) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	s := &Service{
		repo:     deps.Repo,
		locker:   deps.Locker,
		wallet:   deps.Wallet,
		disputes: deps.Disputes,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		clock:    deps.Clock,
		loc:      loc,
		cfg:      cfg,
	}
	if s.catalog == nil {
		s.catalog = availability.DefaultCatalog()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

func (s *Service) Catalog() *availability.Catalog {
	return s.catalog
}

// now is the current local wall-clock time, comparable with slot times.
func (s *Service) now() time.Time {
	return availability.WallClock(s.clock().In(s.loc))
}

// detached returns a context that survives the caller going away, bounded by
// the compensation budget.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CompensateTTL)
}

func (s *Service) transitionSchedule(ctx context.Context, tx Repository, id uuid.UUID, from, to ScheduleStatus) (*Schedule, error) {
	updated, err := tx.UpdateScheduleStatus(ctx, id, from, to)
	if err != nil {
		return nil, fmt.Errorf("schedule %s %s->%s: %w", id, from, to, err)
	}
	s.metrics.ObserveTransition(string(from), string(to))
	return updated, nil
}

// settleBooking closes a booking once none of its schedules can still run:
// all cancelled means Cancelled, otherwise all completed means Completed.
func (s *Service) settleBooking(ctx context.Context, tx Repository, b *Booking, refunded bool) (*Booking, error) {
	if b.Status != BookingConfirmed {
		return b, nil
	}
	schedules, err := tx.ListSchedulesByBooking(ctx, b.ID)
	if err != nil {
		return nil, fmt.Errorf("list booking schedules: %w", err)
	}

	live, completed := 0, 0
	for _, sc := range schedules {
		switch sc.Status {
		case ScheduleCancelled:
		case ScheduleCompleted:
			live++
			completed++
		default:
			live++
		}
	}

	payment := b.PaymentStatus
	switch {
	case live == 0:
		if refunded {
			payment = PaymentRefunded
		}
		return tx.UpdateBookingStatus(ctx, b.ID, BookingConfirmed, BookingCancelled, payment)
	case completed == live:
		return tx.UpdateBookingStatus(ctx, b.ID, BookingConfirmed, BookingCompleted, payment)
	}
	return b, nil
}

func (s *Service) logEvent(ctx context.Context, bookingID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	id := bookingID
	ev := EventLog{
		EventType: eventType,
		BookingID: &id,
		Payload:   data,
		CreatedAt: time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("booking_id", bookingID.String()),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
