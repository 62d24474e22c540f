package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/birdnet-display/internal/orchestrator"
)

var (
	// ErrNotFound is returned when no run report matches.
	ErrNotFound = errors.New("no run reports")
)

// MemoryStore is a concurrency-safe in-memory history of run reports, used by
// watch mode to answer status queries.
type MemoryStore struct {
	mu sync.RWMutex

	reports []*orchestrator.Report

	// retention configuration
	maxHistory int           // max number of reports kept
	maxAge     time.Duration // optional max age for reports
	now        func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Save appends a report and enforces retention.
func (s *MemoryStore) Save(rep *orchestrator.Report) {
	if rep == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports = append(s.reports, rep)

	// Enforce retention by count.
	if s.maxHistory > 0 && len(s.reports) > s.maxHistory {
		over := len(s.reports) - s.maxHistory
		s.reports = s.reports[over:]
	}

	// Enforce retention by age; the newest report is always kept.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(s.reports)-1; i++ {
			if !s.reports[i].StartedAt.Before(cutoff) {
				break
			}
		}
		s.reports = s.reports[i:]
	}
}

// Latest returns the most recent report.
func (s *MemoryStore) Latest() (*orchestrator.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.reports) == 0 {
		return nil, ErrNotFound
	}
	return s.reports[len(s.reports)-1], nil
}

// Range returns all reports started between from and to (inclusive).
func (s *MemoryStore) Range(from, to time.Time) ([]*orchestrator.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*orchestrator.Report
	for _, rep := range s.reports {
		if !rep.StartedAt.Before(from) && !rep.StartedAt.After(to) {
			result = append(result, rep)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}
