package services

import (
	"context"
	"errors"
	"testing"

	"github.com/maplewear/api/internal/repositories"
)

type trackingCounterRepo struct {
	nextFn      func(ctx context.Context, counterID string, step int64) (int64, error)
	configureFn func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

func (s *trackingCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (s *trackingCounterRepo) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if s.configureFn != nil {
		return s.configureFn(ctx, counterID, cfg)
	}
	return nil
}

func TestCounterServiceNextValidatesInput(t *testing.T) {
	svc, err := NewCounterService(CounterServiceDeps{Repository: &trackingCounterRepo{}})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	if _, err := svc.Next(context.Background(), "   ", 1); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput, got %v", err)
	}
}

func TestCounterServiceNextDefaultsStep(t *testing.T) {
	var gotStep int64
	svc, err := NewCounterService(CounterServiceDeps{Repository: &trackingCounterRepo{
		nextFn: func(_ context.Context, _ string, step int64) (int64, error) {
			gotStep = step
			return 7, nil
		},
	}})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	value, err := svc.Next(context.Background(), "orders-2025", 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if value != 7 {
		t.Fatalf("expected 7, got %d", value)
	}
	if gotStep != 1 {
		t.Fatalf("expected step defaulted to 1, got %d", gotStep)
	}
}

func TestCounterServiceNextMapsRepositoryCodes(t *testing.T) {
	svc, err := NewCounterService(CounterServiceDeps{Repository: &trackingCounterRepo{
		nextFn: func(context.Context, string, int64) (int64, error) {
			return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "max value reached", nil)
		},
	}})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	if _, err := svc.Next(context.Background(), "orders-2025", 1); !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected ErrCounterExhausted, got %v", err)
	}
}

func TestCounterServiceConfigureElidesRepeats(t *testing.T) {
	calls := 0
	svc, err := NewCounterService(CounterServiceDeps{Repository: &trackingCounterRepo{
		configureFn: func(context.Context, string, repositories.CounterConfig) error {
			calls++
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}

	cfg := repositories.CounterConfig{Step: 1}
	if err := svc.Configure(context.Background(), "orders-2025", cfg); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := svc.Configure(context.Background(), "orders-2025", cfg); err != nil {
		t.Fatalf("Configure repeat: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single repository call, got %d", calls)
	}

	max := int64(999999)
	if err := svc.Configure(context.Background(), "orders-2025", repositories.CounterConfig{Step: 1, MaxValue: &max}); err != nil {
		t.Fatalf("Configure changed bounds: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected repository call for changed config, got %d", calls)
	}
}
