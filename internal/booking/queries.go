package booking

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
)

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*BookingDetail, error) {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	subject, err := s.repo.GetTutorSubject(ctx, b.TutorSubjectID)
	if err != nil {
		return nil, fmt.Errorf("get tutor subject: %w", err)
	}
	schedules, err := s.repo.ListSchedulesByBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return &BookingDetail{Booking: *b, Subject: subject, Schedules: schedules}, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*ScheduleDetail, error) {
	d, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return d, nil
}

func (s *Service) ListLearnerSchedules(ctx context.Context, learnerEmail string) ([]ScheduleDetail, error) {
	if learnerEmail == "" {
		return nil, ErrMissingLearner
	}
	list, err := s.repo.ListSchedulesByLearner(ctx, learnerEmail)
	if err != nil {
		return nil, fmt.Errorf("list learner schedules: %w", err)
	}
	return list, nil
}

func (s *Service) ListChangeRequests(ctx context.Context, scheduleID uuid.UUID) ([]ChangeRequest, error) {
	if _, err := s.repo.GetSchedule(ctx, scheduleID); err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	list, err := s.repo.ListChangeRequests(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return list, nil
}

// TutorWeek renders the tutor's week grid. When learnerEmail is set, cells
// that collide with the learner's sessions are marked busy.
func (s *Service) TutorWeek(ctx context.Context, tutorID uuid.UUID, day civil.Date, learnerEmail string) (availability.WeekGrid, error) {
	week := availability.WeekOf(day)
	from, to := week.Bounds()

	slots, err := s.repo.ListTutorSlots(ctx, tutorID, from, to)
	if err != nil {
		return availability.WeekGrid{}, fmt.Errorf("list tutor slots: %w", err)
	}

	var busy availability.BusyMap
	if learnerEmail != "" {
		learnerSlots, err := s.repo.ListLearnerBusySlots(ctx, learnerEmail, from, to)
		if err != nil {
			return availability.WeekGrid{}, fmt.Errorf("list learner slots: %w", err)
		}
		busy = availability.NewBusyMap(learnerSlots)
	}

	return availability.BuildWeekGrid(s.catalog, week, slots, busy), nil
}

// LearnerBusy lists the hours the learner is already committed to in the week of day.
func (s *Service) LearnerBusy(ctx context.Context, learnerEmail string, day civil.Date) ([]availability.SlotKey, error) {
	if learnerEmail == "" {
		return nil, ErrMissingLearner
	}
	from, to := availability.WeekOf(day).Bounds()
	slots, err := s.repo.ListLearnerBusySlots(ctx, learnerEmail, from, to)
	if err != nil {
		return nil, fmt.Errorf("list learner slots: %w", err)
	}
	return availability.NewBusyMap(slots).Keys(), nil
}

// Today is the current local calendar date.
func (s *Service) Today() civil.Date {
	return civil.DateOf(s.now())
}
