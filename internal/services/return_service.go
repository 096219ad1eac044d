package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/maplewear/api/internal/domain"
	"github.com/maplewear/api/internal/repositories"
)

const (
	returnEventRequested = "return.requested"
	returnEventResolved  = "return.resolved"

	returnIDPrefix = "ret_"

	maxReturnReasonLength = 1000
)

var (
	// ErrReturnInvalidInput signals malformed return commands.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return or its order item could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnNotEligible is returned when the item fails the eligibility rules.
	ErrReturnNotEligible = errors.New("return: not eligible")
	// ErrReturnAlreadyRequested is returned when a non-terminal return already
	// exists for the order item.
	ErrReturnAlreadyRequested = errors.New("return: already requested")
	// ErrReturnAlreadyResolved is returned when resolving a terminal return.
	ErrReturnAlreadyResolved = errors.New("return: already resolved")
)

// ReturnServiceDeps bundles collaborators for the return service.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRepository
	Orders      repositories.OrderRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      ReturnEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns  repositories.ReturnRepository
	orders   repositories.OrderRepository
	clock    func() time.Time
	newID    func() string
	events   ReturnEventPublisher
	logger   func(context.Context, string, map[string]any)
	sanitize *bluemonday.Policy
}

// NewReturnService wires dependencies into a concrete ReturnService implementation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("return service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &returnService{
		returns: deps.Returns,
		orders:  deps.Orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		events:   deps.Events,
		logger:   logger,
		sanitize: bluemonday.StrictPolicy(),
	}, nil
}

// CanReturn applies the eligibility rules for one order item: the order must
// be delivered, the item's return deadline must not have passed, and no
// non-terminal return may exist for the item.
func (s *returnService) CanReturn(order Order, item OrderItem, now time.Time) error {
	if domain.NormalizeOrderStatus(order.Status) != domain.OrderStatusDelivered {
		return fmt.Errorf("%w: order %s is not delivered", ErrReturnNotEligible, order.ID)
	}
	if item.ReturnDeadline == nil {
		return fmt.Errorf("%w: item %s has no return deadline", ErrReturnNotEligible, item.ID)
	}
	// The window is half-open: the deadline instant itself is already closed.
	if !now.Before(*item.ReturnDeadline) {
		return fmt.Errorf("%w: return window for item %s closed at %s", ErrReturnNotEligible, item.ID, item.ReturnDeadline.Format(time.RFC3339))
	}
	if active := item.ActiveReturn(); active != nil {
		return fmt.Errorf("%w: return %s is pending for item %s", ErrReturnAlreadyRequested, active.ID, item.ID)
	}
	return nil
}

// RequestReturn opens a return for one delivered order item. The repository
// create runs transactionally against the pending-return index, so two
// concurrent requests for the same item admit exactly one.
func (s *returnService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Return, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Return{}, fmt.Errorf("%w: user id is required", ErrReturnInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Return{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	itemID := strings.TrimSpace(cmd.OrderItemID)
	if itemID == "" {
		return Return{}, fmt.Errorf("%w: order item id is required", ErrReturnInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Return{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Return{}, fmt.Errorf("%w: order %s", ErrReturnNotFound, orderID)
	}

	item, ok := findOrderItem(order, itemID)
	if !ok {
		return Return{}, fmt.Errorf("%w: item %s on order %s", ErrReturnNotFound, itemID, orderID)
	}

	// Returns already recorded for the item may not be embedded on the
	// order document, so consult the return store as well.
	existing, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return Return{}, s.mapRepositoryError(err)
	}
	for _, r := range existing {
		if r.OrderItemID == itemID && !r.Status.Terminal() {
			return Return{}, fmt.Errorf("%w: return %s is pending for item %s", ErrReturnAlreadyRequested, r.ID, itemID)
		}
	}

	now := s.now()
	if err := s.CanReturn(order, item, now); err != nil {
		return Return{}, err
	}

	reason := s.sanitizeReason(cmd.Reason)
	ret := Return{
		ID:          returnIDPrefix + s.newID(),
		OrderID:     orderID,
		OrderItemID: itemID,
		UserID:      userID,
		Reason:      reason,
		Status:      domain.ReturnStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.returns.Create(ctx, ret)
	if err != nil {
		if isRepoConflict(err) {
			return Return{}, fmt.Errorf("%w: item %s", ErrReturnAlreadyRequested, itemID)
		}
		return Return{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, ReturnEvent{
		Type:        returnEventRequested,
		ReturnID:    created.ID,
		OrderID:     created.OrderID,
		OrderItemID: created.OrderItemID,
		UserID:      created.UserID,
		Status:      created.Status,
		OccurredAt:  now.Unix(),
	})

	return created, nil
}

// ResolveReturn records the operator decision. Only pending returns resolve;
// a second resolution attempt surfaces as already resolved.
func (s *returnService) ResolveReturn(ctx context.Context, cmd ResolveReturnCommand) (Return, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return Return{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	outcome := cmd.Outcome
	if !outcome.Terminal() {
		return Return{}, fmt.Errorf("%w: outcome must be %s or %s", ErrReturnInvalidInput, domain.ReturnStatusRefunded, domain.ReturnStatusRejected)
	}

	now := s.now()
	resolved, err := s.returns.Resolve(ctx, returnID, outcome, strings.TrimSpace(cmd.ActorID), now)
	if err != nil {
		if isRepoConflict(err) {
			return Return{}, fmt.Errorf("%w: %s", ErrReturnAlreadyResolved, returnID)
		}
		return Return{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, ReturnEvent{
		Type:        returnEventResolved,
		ReturnID:    resolved.ID,
		OrderID:     resolved.OrderID,
		OrderItemID: resolved.OrderItemID,
		UserID:      resolved.UserID,
		Status:      resolved.Status,
		OccurredAt:  now.Unix(),
		Metadata:    map[string]any{"resolvedBy": resolved.ResolvedBy},
	})

	return resolved, nil
}

func (s *returnService) GetReturn(ctx context.Context, returnID string, opts ReturnReadOptions) (Return, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return Return{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}

	ret, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return Return{}, s.mapRepositoryError(err)
	}
	if !opts.Admin && ret.UserID != strings.TrimSpace(opts.UserID) {
		return Return{}, fmt.Errorf("%w: %s", ErrReturnNotFound, returnID)
	}
	return ret, nil
}

func (s *returnService) ListReturnsByOrder(ctx context.Context, orderID string) ([]Return, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	items, err := s.returns.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return items, nil
}

func (s *returnService) ListReturnsByUser(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Return], error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CursorPage[Return]{}, fmt.Errorf("%w: user id is required", ErrReturnInvalidInput)
	}
	page, err := s.returns.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Return]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// sanitizeReason strips markup from free-form customer text and bounds its
// length before persistence.
func (s *returnService) sanitizeReason(reason string) string {
	cleaned := strings.TrimSpace(s.sanitize.Sanitize(reason))
	if len(cleaned) > maxReturnReasonLength {
		cut := maxReturnReasonLength
		// Back up to a rune boundary so multibyte text never splits.
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
	}
	return cleaned
}

func (s *returnService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReturnNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReturnAlreadyRequested, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("return: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *returnService) now() time.Time {
	return s.clock()
}

func (s *returnService) publishEvent(ctx context.Context, event ReturnEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishReturnEvent(ctx, event); err != nil {
		s.logger(ctx, "return.event.publish.failed", map[string]any{
			"type":   event.Type,
			"return": event.ReturnID,
			"error":  err.Error(),
		})
	}
}

func findOrderItem(order Order, itemID string) (OrderItem, bool) {
	for _, item := range order.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return OrderItem{}, false
}
