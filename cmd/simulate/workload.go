package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

type bookingRequest struct {
	LearnerEmail   string   `json:"learner_email"`
	TutorSubjectID string   `json:"tutor_subject_id"`
	SlotIDs        []string `json:"slot_ids"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Simulator) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.client.Do(req)
}

func (s *Simulator) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return s.client.Do(req)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	subj := s.pool.PickSubject(rng)
	slots := s.pool.PickSlots(rng, subj.TutorID, 1+rng.Intn(s.config.MaxSessions))
	if len(slots) == 0 {
		return
	}
	learner := s.pool.Learners[rng.Intn(len(s.pool.Learners))]

	req := bookingRequest{LearnerEmail: learner, TutorSubjectID: subj.ID.String()}
	for _, id := range slots {
		req.SlotIDs = append(req.SlotIDs, id.String())
	}

	start := time.Now()
	resp, err := s.post(ctx, "/bookings", req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Booking.Record(latency, outcomeError)
		}
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(body, &created) == nil && created.ID != uuid.Nil {
			s.pool.AddBooking(placedBooking{ID: created.ID, LearnerEmail: learner})
		}
		s.metrics.Booking.Record(latency, outcomeSuccess)
	case http.StatusConflict:
		var e errorBody
		_ = json.Unmarshal(body, &e)
		s.metrics.Booking.Record(latency, outcomeConflict)
		s.metrics.RecordConflict(e.Error)
	case http.StatusPaymentRequired:
		s.metrics.Booking.Record(latency, outcomePayment)
	default:
		s.metrics.Booking.Record(latency, outcomeError)
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.TakeBooking(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.post(ctx, fmt.Sprintf("/bookings/%s/cancel", b.ID), map[string]string{"learner_email": b.LearnerEmail})
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			s.metrics.Cancel.Record(latency, outcomeError)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		s.metrics.Cancel.Record(latency, outcomeSuccess)
	case http.StatusConflict:
		s.metrics.Cancel.Record(latency, outcomeConflict)
	default:
		s.metrics.Cancel.Record(latency, outcomeError)
	}
}

func (s *Simulator) doReadWeek(ctx context.Context, rng *rand.Rand) {
	subj := s.pool.PickSubject(rng)
	learner := s.pool.Learners[rng.Intn(len(s.pool.Learners))]

	path := fmt.Sprintf("/tutors/%s/availability?learner_email=%s", subj.TutorID, url.QueryEscape(learner))
	s.read(ctx, path, &s.metrics.ReadWeek)
}

func (s *Simulator) doListSchedules(ctx context.Context, rng *rand.Rand) {
	learner := s.pool.Learners[rng.Intn(len(s.pool.Learners))]
	s.read(ctx, "/schedules?learner_email="+url.QueryEscape(learner), &s.metrics.ListSchedules)
}

func (s *Simulator) read(ctx context.Context, path string, om *OperationMetrics) {
	start := time.Now()
	resp, err := s.get(ctx, path)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, outcomeError)
		}
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		om.Record(latency, outcomeSuccess)
		return
	}
	om.Record(latency, outcomeError)
}
