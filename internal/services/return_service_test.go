package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	domain "github.com/maplewear/api/internal/domain"
)

type stubReturnRepo struct {
	createFn      func(context.Context, domain.Return) (domain.Return, error)
	resolveFn     func(context.Context, string, domain.ReturnStatus, string, time.Time) (domain.Return, error)
	findFn        func(context.Context, string) (domain.Return, error)
	listByOrderFn func(context.Context, string) ([]domain.Return, error)
	listByUserFn  func(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Return], error)
}

func (s *stubReturnRepo) Create(ctx context.Context, ret domain.Return) (domain.Return, error) {
	if s.createFn != nil {
		return s.createFn(ctx, ret)
	}
	return ret, nil
}

func (s *stubReturnRepo) Resolve(ctx context.Context, returnID string, status domain.ReturnStatus, resolvedBy string, now time.Time) (domain.Return, error) {
	if s.resolveFn != nil {
		return s.resolveFn(ctx, returnID, status, resolvedBy, now)
	}
	return domain.Return{}, notFoundErr("return not found")
}

func (s *stubReturnRepo) FindByID(ctx context.Context, returnID string) (domain.Return, error) {
	if s.findFn != nil {
		return s.findFn(ctx, returnID)
	}
	return domain.Return{}, notFoundErr("return not found")
}

func (s *stubReturnRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	if s.listByOrderFn != nil {
		return s.listByOrderFn(ctx, orderID)
	}
	return nil, nil
}

func (s *stubReturnRepo) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Return], error) {
	if s.listByUserFn != nil {
		return s.listByUserFn(ctx, userID, pager)
	}
	return domain.CursorPage[domain.Return]{}, nil
}

type captureReturnEvents struct {
	events []ReturnEvent
}

func (c *captureReturnEvents) PublishReturnEvent(_ context.Context, event ReturnEvent) error {
	c.events = append(c.events, event)
	return nil
}

func returnableOrder(now time.Time) domain.Order {
	deliveredAt := now.Add(-24 * time.Hour)
	deadline := deliveredAt.Add(14 * 24 * time.Hour)
	return domain.Order{
		ID: "ord_1", UserID: "user_1", OrderCode: "MW-2025-000001",
		Status:      domain.OrderStatusDelivered,
		DeliveredAt: &deliveredAt,
		Items: []domain.OrderItem{
			{ID: "itm_1", OrderID: "ord_1", VariantID: "var_1", SKU: "TEE-S-RED", Quantity: 1, PriceAtOrder: 2000, ReturnWindowDays: 14, ReturnDeadline: &deadline},
		},
	}
}

func newTestReturnService(t *testing.T, deps ReturnServiceDeps) ReturnService {
	t.Helper()
	if deps.Returns == nil {
		deps.Returns = &stubReturnRepo{}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	svc, err := NewReturnService(deps)
	if err != nil {
		t.Fatalf("NewReturnService: %v", err)
	}
	return svc
}

func TestCanReturnRules(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	svc := newTestReturnService(t, ReturnServiceDeps{Clock: func() time.Time { return now }})
	base := returnableOrder(now)

	if err := svc.CanReturn(base, base.Items[0], now); err != nil {
		t.Fatalf("expected eligible item, got %v", err)
	}

	notDelivered := base
	notDelivered.Status = domain.OrderStatusOutForDelivery
	if err := svc.CanReturn(notDelivered, notDelivered.Items[0], now); !errors.Is(err, ErrReturnNotEligible) {
		t.Fatalf("expected ErrReturnNotEligible before delivery, got %v", err)
	}

	noDeadline := base.Items[0]
	noDeadline.ReturnDeadline = nil
	if err := svc.CanReturn(base, noDeadline, now); !errors.Is(err, ErrReturnNotEligible) {
		t.Fatalf("expected ErrReturnNotEligible without deadline, got %v", err)
	}

	afterWindow := now.Add(31 * 24 * time.Hour)
	if err := svc.CanReturn(base, base.Items[0], afterWindow); !errors.Is(err, ErrReturnNotEligible) {
		t.Fatalf("expected ErrReturnNotEligible past deadline, got %v", err)
	}

	atDeadline := *base.Items[0].ReturnDeadline
	if err := svc.CanReturn(base, base.Items[0], atDeadline); !errors.Is(err, ErrReturnNotEligible) {
		t.Fatalf("expected ErrReturnNotEligible exactly at the deadline, got %v", err)
	}
	if err := svc.CanReturn(base, base.Items[0], atDeadline.Add(-time.Second)); err != nil {
		t.Fatalf("expected eligible just before the deadline, got %v", err)
	}

	withPending := base.Items[0]
	withPending.Returns = []domain.Return{{ID: "ret_1", OrderItemID: "itm_1", Status: domain.ReturnStatusPending}}
	if err := svc.CanReturn(base, withPending, now); !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("expected ErrReturnAlreadyRequested with pending return, got %v", err)
	}

	withResolved := base.Items[0]
	withResolved.Returns = []domain.Return{{ID: "ret_1", OrderItemID: "itm_1", Status: domain.ReturnStatusRefunded}}
	if err := svc.CanReturn(base, withResolved, now); err != nil {
		t.Fatalf("terminal return must not block a new request, got %v", err)
	}
}

func TestRequestReturnHappyPath(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	order := returnableOrder(now)
	var created domain.Return
	returns := &stubReturnRepo{createFn: func(_ context.Context, ret domain.Return) (domain.Return, error) {
		created = ret
		return ret, nil
	}}
	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}
	events := &captureReturnEvents{}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns:     returns,
		Orders:      orders,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "01RETURN" },
		Events:      events,
	})

	ret, err := svc.RequestReturn(ctx, RequestReturnCommand{
		UserID:      "user_1",
		OrderID:     "ord_1",
		OrderItemID: "itm_1",
		Reason:      "  wrong size ",
	})
	if err != nil {
		t.Fatalf("RequestReturn: %v", err)
	}
	if ret.ID != "ret_01RETURN" {
		t.Fatalf("unexpected return id %s", ret.ID)
	}
	if ret.Status != domain.ReturnStatusPending {
		t.Fatalf("expected pending, got %s", ret.Status)
	}
	if created.Reason != "wrong size" {
		t.Fatalf("expected trimmed reason, got %q", created.Reason)
	}
	if len(events.events) != 1 || events.events[0].Type != returnEventRequested {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestRequestReturnStripsMarkupFromReason(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	order := returnableOrder(now)
	var created domain.Return
	returns := &stubReturnRepo{createFn: func(_ context.Context, ret domain.Return) (domain.Return, error) {
		created = ret
		return ret, nil
	}}
	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns: returns,
		Orders:  orders,
		Clock:   func() time.Time { return now },
	})

	_, err := svc.RequestReturn(ctx, RequestReturnCommand{
		UserID:      "user_1",
		OrderID:     "ord_1",
		OrderItemID: "itm_1",
		Reason:      `<script>alert(1)</script>seam came apart`,
	})
	if err != nil {
		t.Fatalf("RequestReturn: %v", err)
	}
	if strings.Contains(created.Reason, "<") || strings.Contains(created.Reason, "alert") {
		t.Fatalf("expected markup stripped, got %q", created.Reason)
	}
	if !strings.Contains(created.Reason, "seam came apart") {
		t.Fatalf("expected customer text preserved, got %q", created.Reason)
	}
}

func TestRequestReturnTruncatesReasonOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	order := returnableOrder(now)
	var created domain.Return
	returns := &stubReturnRepo{createFn: func(_ context.Context, ret domain.Return) (domain.Return, error) {
		created = ret
		return ret, nil
	}}
	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns: returns,
		Orders:  orders,
		Clock:   func() time.Time { return now },
	})

	// 400 three-byte runes: the 1000-byte cap lands mid-rune.
	_, err := svc.RequestReturn(ctx, RequestReturnCommand{
		UserID:      "user_1",
		OrderID:     "ord_1",
		OrderItemID: "itm_1",
		Reason:      strings.Repeat("縫", 400),
	})
	if err != nil {
		t.Fatalf("RequestReturn: %v", err)
	}
	if len(created.Reason) > maxReturnReasonLength {
		t.Fatalf("expected reason capped at %d bytes, got %d", maxReturnReasonLength, len(created.Reason))
	}
	if !utf8.ValidString(created.Reason) {
		t.Fatalf("truncation split a rune: %q", created.Reason[len(created.Reason)-4:])
	}
	if len(created.Reason) != 999 {
		t.Fatalf("expected cut at the previous rune boundary (999 bytes), got %d", len(created.Reason))
	}
}

func TestRequestReturnHidesForeignOrders(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	order := returnableOrder(now)
	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Orders: orders,
		Clock:  func() time.Time { return now },
	})

	_, err := svc.RequestReturn(ctx, RequestReturnCommand{
		UserID:      "user_2",
		OrderID:     "ord_1",
		OrderItemID: "itm_1",
	})
	if !errors.Is(err, ErrReturnNotFound) {
		t.Fatalf("expected ErrReturnNotFound for foreign user, got %v", err)
	}
}

func TestRequestReturnRejectsSecondPendingReturn(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	order := returnableOrder(now)
	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}
	returns := &stubReturnRepo{listByOrderFn: func(context.Context, string) ([]domain.Return, error) {
		return []domain.Return{{ID: "ret_1", OrderID: "ord_1", OrderItemID: "itm_1", Status: domain.ReturnStatusPending}}, nil
	}}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns: returns,
		Orders:  orders,
		Clock:   func() time.Time { return now },
	})

	_, err := svc.RequestReturn(ctx, RequestReturnCommand{
		UserID:      "user_1",
		OrderID:     "ord_1",
		OrderItemID: "itm_1",
	})
	if !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("expected ErrReturnAlreadyRequested, got %v", err)
	}
}

func TestRequestReturnMapsCreateConflict(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	order := returnableOrder(now)
	orders := &stubOrderRepo{findFn: func(context.Context, string) (domain.Order, error) { return order, nil }}
	returns := &stubReturnRepo{createFn: func(context.Context, domain.Return) (domain.Return, error) {
		return domain.Return{}, conflictErr("pending return exists")
	}}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns: returns,
		Orders:  orders,
		Clock:   func() time.Time { return now },
	})

	_, err := svc.RequestReturn(ctx, RequestReturnCommand{
		UserID:      "user_1",
		OrderID:     "ord_1",
		OrderItemID: "itm_1",
	})
	if !errors.Is(err, ErrReturnAlreadyRequested) {
		t.Fatalf("expected ErrReturnAlreadyRequested on repository conflict, got %v", err)
	}
}

func TestResolveReturnRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)

	returns := &stubReturnRepo{resolveFn: func(_ context.Context, returnID string, status domain.ReturnStatus, resolvedBy string, at time.Time) (domain.Return, error) {
		if !at.Equal(now) {
			t.Fatalf("expected resolution at %v, got %v", now, at)
		}
		return domain.Return{
			ID: returnID, OrderID: "ord_1", OrderItemID: "itm_1", UserID: "user_1",
			Status: status, ResolvedBy: resolvedBy, UpdatedAt: at,
		}, nil
	}}
	events := &captureReturnEvents{}

	svc := newTestReturnService(t, ReturnServiceDeps{
		Returns: returns,
		Clock:   func() time.Time { return now },
		Events:  events,
	})

	ret, err := svc.ResolveReturn(ctx, ResolveReturnCommand{
		ReturnID: "ret_1",
		Outcome:  domain.ReturnStatusRefunded,
		ActorID:  "admin_1",
	})
	if err != nil {
		t.Fatalf("ResolveReturn: %v", err)
	}
	if ret.Status != domain.ReturnStatusRefunded || ret.ResolvedBy != "admin_1" {
		t.Fatalf("unexpected resolution %+v", ret)
	}
	if len(events.events) != 1 || events.events[0].Type != returnEventResolved {
		t.Fatalf("unexpected events %+v", events.events)
	}
	if got := events.events[0].Metadata["resolvedBy"]; got != "admin_1" {
		t.Fatalf("expected resolvedBy metadata, got %v", got)
	}
}

func TestResolveReturnRejectsNonTerminalOutcome(t *testing.T) {
	ctx := context.Background()
	svc := newTestReturnService(t, ReturnServiceDeps{})

	_, err := svc.ResolveReturn(ctx, ResolveReturnCommand{
		ReturnID: "ret_1",
		Outcome:  domain.ReturnStatusPending,
	})
	if !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput, got %v", err)
	}
}

func TestResolveReturnAlreadyResolved(t *testing.T) {
	ctx := context.Background()

	returns := &stubReturnRepo{resolveFn: func(context.Context, string, domain.ReturnStatus, string, time.Time) (domain.Return, error) {
		return domain.Return{}, conflictErr("return already terminal")
	}}
	svc := newTestReturnService(t, ReturnServiceDeps{Returns: returns})

	_, err := svc.ResolveReturn(ctx, ResolveReturnCommand{
		ReturnID: "ret_1",
		Outcome:  domain.ReturnStatusRejected,
	})
	if !errors.Is(err, ErrReturnAlreadyResolved) {
		t.Fatalf("expected ErrReturnAlreadyResolved, got %v", err)
	}
}

func TestGetReturnOwnership(t *testing.T) {
	ctx := context.Background()

	returns := &stubReturnRepo{findFn: func(context.Context, string) (domain.Return, error) {
		return domain.Return{ID: "ret_1", UserID: "user_1", Status: domain.ReturnStatusPending}, nil
	}}
	svc := newTestReturnService(t, ReturnServiceDeps{Returns: returns})

	if _, err := svc.GetReturn(ctx, "ret_1", ReturnReadOptions{UserID: "user_1"}); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if _, err := svc.GetReturn(ctx, "ret_1", ReturnReadOptions{UserID: "user_2"}); !errors.Is(err, ErrReturnNotFound) {
		t.Fatalf("expected ErrReturnNotFound for foreign user, got %v", err)
	}
	if _, err := svc.GetReturn(ctx, "ret_1", ReturnReadOptions{Admin: true}); err != nil {
		t.Fatalf("admin read failed: %v", err)
	}
}
