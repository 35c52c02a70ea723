package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
)

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomePayment
	outcomeError
)

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Payment   int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomePayment:
		atomic.AddInt64(&om.Payment, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	ReadWeek      OperationMetrics
	ListSchedules OperationMetrics

	conflictMu sync.Mutex
	conflicts  map[string]int
}

func (m *Metrics) RecordConflict(code string) {
	if code == "" {
		code = "unknown"
	}
	m.conflictMu.Lock()
	defer m.conflictMu.Unlock()
	if m.conflicts == nil {
		m.conflicts = make(map[string]int)
	}
	m.conflicts[code]++
}

func (s *Simulator) PrintReport() {
	bold := color.New(color.Bold)

	fmt.Println("\n" + strings.Repeat("=", 80))
	bold.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot tutors: %d\n", len(s.pool.hot))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel booking", &s.metrics.Cancel)
	printOperationReport("Tutor week", &s.metrics.ReadWeek)
	printOperationReport("Learner schedules", &s.metrics.ListSchedules)

	s.metrics.conflictMu.Lock()
	defer s.metrics.conflictMu.Unlock()
	if len(s.metrics.conflicts) > 0 {
		bold.Println("Booking conflicts by reason:")
		codes := make([]string, 0, len(s.metrics.conflicts))
		for code := range s.metrics.conflicts {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			color.Yellow("  %-28s %d", code, s.metrics.conflicts[code])
		}
		fmt.Println()
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	payment := atomic.LoadInt64(&om.Payment)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	color.New(color.Bold).Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	color.Green("  Success: %d (%.1f%%)", success, pct(success))
	if conflict > 0 {
		color.Yellow("  Conflicts: %d (%.1f%%)", conflict, pct(conflict))
	}
	if payment > 0 {
		color.Magenta("  Payment failures: %d (%.1f%%)", payment, pct(payment))
	}
	if failed > 0 {
		color.Red("  Errors: %d (%.1f%%)", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

type violation struct {
	Check  string
	Detail string
}

var invariantChecks = []struct {
	name  string
	query string
}{
	{
		name: "slot held by more than one live schedule",
		query: `
			SELECT availability_id::text, count(*)::text
			FROM schedules WHERE status <> 'cancelled'
			GROUP BY availability_id HAVING count(*) > 1`,
	},
	{
		name: "learner holds two live schedules at the same hour",
		query: `
			SELECT b.learner_email, a.start_date::text
			FROM schedules s
			JOIN availability_slots a ON a.id = s.availability_id
			JOIN bookings b ON b.id = s.booking_id
			WHERE s.status IN ('pending', 'upcoming', 'in_progress', 'processing')
			GROUP BY b.learner_email, a.start_date HAVING count(*) > 1`,
	},
	{
		name: "booked slot without a live schedule",
		query: `
			SELECT a.id::text, a.start_date::text
			FROM availability_slots a
			WHERE a.status = 'booked' AND NOT EXISTS (
				SELECT 1 FROM schedules s WHERE s.availability_id = a.id AND s.status <> 'cancelled')`,
	},
	{
		name: "booking left pending",
		query: `
			SELECT id::text, learner_email FROM bookings
			WHERE status = 'pending' AND created_at < now() - interval '1 minute'`,
	},
}

func checkInvariants(ctx context.Context, pool *pgxpool.Pool) ([]violation, error) {
	var out []violation
	for _, c := range invariantChecks {
		rows, err := pool.Query(ctx, c.query)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		for rows.Next() {
			var a, b string
			if err := rows.Scan(&a, &b); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, violation{Check: c.name, Detail: a + " " + b})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func printInvariants(violations []violation) {
	color.New(color.Bold).Println("Invariants:")
	if len(violations) == 0 {
		color.Green("  all checks passed")
		return
	}
	for _, v := range violations {
		color.Red("  %s: %s", v.Check, v.Detail)
	}
}
