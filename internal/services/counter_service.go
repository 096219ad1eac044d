package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maplewear/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the requested counter cannot increment further due to max bounds.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo       repositories.CounterRepository
	clock      func() time.Time
	configMu   sync.Mutex
	configured map[string]repositories.CounterConfig
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		configured: make(map[string]repositories.CounterConfig),
	}, nil
}

func (s *counterService) Next(ctx context.Context, counterID string, count int64) (int64, error) {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return 0, fmt.Errorf("%w: counter id is required", ErrCounterInvalidInput)
	}
	if count <= 0 {
		count = 1
	}

	value, err := s.repo.Next(ctx, counterID, count)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorInvalidInput:
				return 0, fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
			case repositories.CounterErrorExhausted:
				return 0, fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
			}
		}
		return 0, err
	}
	return value, nil
}

// Configure applies counter bounds once per process; repeat calls with the
// same configuration are elided.
func (s *counterService) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	counterID = strings.TrimSpace(counterID)
	if counterID == "" {
		return fmt.Errorf("%w: counter id is required", ErrCounterInvalidInput)
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if existing, ok := s.configured[counterID]; ok && counterConfigEqual(existing, cfg) {
		return nil
	}
	if err := s.repo.Configure(ctx, counterID, cfg); err != nil {
		return err
	}
	s.configured[counterID] = cfg
	return nil
}

func counterConfigEqual(a, b repositories.CounterConfig) bool {
	if a.Step != b.Step {
		return false
	}
	if (a.MaxValue == nil) != (b.MaxValue == nil) {
		return false
	}
	if a.MaxValue != nil && *a.MaxValue != *b.MaxValue {
		return false
	}
	if (a.InitialValue == nil) != (b.InitialValue == nil) {
		return false
	}
	if a.InitialValue != nil && *a.InitialValue != *b.InitialValue {
		return false
	}
	return true
}
