package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplewear/api/internal/domain"
	pfirestore "github.com/maplewear/api/internal/platform/firestore"
)

const (
	returnCollection = "returns"

	defaultReturnPageSize = 20
	maxReturnPageSize     = 100
)

// ReturnRepository persists return requests in their own collection, keyed
// by return ID and queried by order or user.
type ReturnRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[returnDocument]
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[returnDocument](provider, returnCollection, nil, nil)
	return &ReturnRepository{provider: provider, base: base}, nil
}

// Create inserts a pending return. The transaction queries existing returns
// for the order item first, so at most one non-terminal return can ever
// exist per item even under concurrent submissions.
func (r *ReturnRepository) Create(ctx context.Context, ret domain.Return) (domain.Return, error) {
	if r == nil || r.provider == nil {
		return domain.Return{}, errors.New("return repository not initialised")
	}
	returnID := strings.TrimSpace(ret.ID)
	if returnID == "" {
		return domain.Return{}, pfirestore.WrapError("returns.create", errors.New("return id is required"))
	}
	orderItemID := strings.TrimSpace(ret.OrderItemID)
	if orderItemID == "" {
		return domain.Return{}, pfirestore.WrapError("returns.create", errors.New("order item id is required"))
	}

	doc := newReturnDocument(ret)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		query := client.Collection(returnCollection).
			Where("orderItemRef", "==", orderItemID).
			Where("status", "==", string(domain.ReturnStatusPending)).
			Limit(1)
		iter := tx.Documents(query)
		defer iter.Stop()
		if _, err := iter.Next(); err == nil {
			return status.Error(codes.AlreadyExists, fmt.Sprintf("order item %s already has a pending return", orderItemID))
		} else if !errors.Is(err, iterator.Done) {
			return err
		}

		ref, err := r.base.DocumentRef(ctx, returnID)
		if err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	if err != nil {
		return domain.Return{}, pfirestore.WrapError("returns.create", err)
	}
	return doc.toDomain(returnID), nil
}

// Resolve moves a pending return into a terminal status. Already-terminal
// returns surface as a conflict.
func (r *ReturnRepository) Resolve(ctx context.Context, returnID string, toStatus domain.ReturnStatus, resolvedBy string, now time.Time) (domain.Return, error) {
	if r == nil || r.provider == nil {
		return domain.Return{}, errors.New("return repository not initialised")
	}
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.Return{}, pfirestore.WrapError("returns.resolve", errors.New("return id is required"))
	}
	if !toStatus.Terminal() {
		return domain.Return{}, pfirestore.WrapError("returns.resolve", fmt.Errorf("status %s is not terminal", toStatus))
	}

	now = now.UTC()
	var resolved returnDocument
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, returnID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc returnDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode return %s: %w", returnID, err)
		}
		if domain.ReturnStatus(doc.Status).Terminal() {
			return status.Error(codes.FailedPrecondition, fmt.Sprintf("return %s is already %s", returnID, doc.Status))
		}
		doc.Status = string(toStatus)
		doc.ResolvedBy = strings.TrimSpace(resolvedBy)
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		resolved = doc
		return nil
	})
	if err != nil {
		return domain.Return{}, pfirestore.WrapError("returns.resolve", err)
	}
	return resolved.toDomain(returnID), nil
}

// FindByID fetches a single return document.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.Return, error) {
	if r == nil || r.base == nil {
		return domain.Return{}, errors.New("return repository not initialised")
	}
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.Return{}, pfirestore.WrapError("returns.get", errors.New("return id is required"))
	}
	doc, err := r.base.Get(ctx, returnID)
	if err != nil {
		return domain.Return{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByOrder returns all returns belonging to an order, oldest first.
func (r *ReturnRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Return, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("return repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pfirestore.WrapError("returns.listByOrder", errors.New("order id is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderRef", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	returns := make([]domain.Return, 0, len(docs))
	for _, doc := range docs {
		returns = append(returns, doc.Data.toDomain(doc.ID))
	}
	return returns, nil
}

// ListByUser pages a user's returns, newest first.
func (r *ReturnRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Return], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Return]{}, errors.New("return repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Return]{}, pfirestore.WrapError("returns.listByUser", errors.New("user id is required"))
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = defaultReturnPageSize
	}
	if pageSize > maxReturnPageSize {
		pageSize = maxReturnPageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userRef", "==", userID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if token := strings.TrimSpace(pager.PageToken); token != "" {
			if decoded, err := decodeOrderPageToken(token); err == nil {
				q = q.StartAfter(decoded.CreatedAt, decoded.ID)
			}
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Return]{}, err
	}

	returns := make([]domain.Return, 0, len(docs))
	for _, doc := range docs {
		returns = append(returns, doc.Data.toDomain(doc.ID))
	}
	hasMore := len(returns) > pageSize
	if hasMore {
		returns = returns[:pageSize]
	}
	var nextToken string
	if hasMore && len(returns) > 0 {
		last := returns[len(returns)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Return]{}, pfirestore.WrapError("returns.listByUser", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Return]{Items: returns, NextPageToken: nextToken}, nil
}

// Document mapping ----------------------------------------------------------

type returnDocument struct {
	OrderRef     string    `firestore:"orderRef"`
	OrderItemRef string    `firestore:"orderItemRef"`
	UserRef      string    `firestore:"userRef"`
	Reason       string    `firestore:"reason"`
	Status       string    `firestore:"status"`
	ResolvedBy   string    `firestore:"resolvedBy,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func newReturnDocument(ret domain.Return) returnDocument {
	return returnDocument{
		OrderRef:     strings.TrimSpace(ret.OrderID),
		OrderItemRef: strings.TrimSpace(ret.OrderItemID),
		UserRef:      strings.TrimSpace(ret.UserID),
		Reason:       strings.TrimSpace(ret.Reason),
		Status:       string(ret.Status),
		ResolvedBy:   strings.TrimSpace(ret.ResolvedBy),
		CreatedAt:    ret.CreatedAt.UTC(),
		UpdatedAt:    ret.UpdatedAt.UTC(),
	}
}

func (d returnDocument) toDomain(id string) domain.Return {
	return domain.Return{
		ID:          id,
		OrderID:     strings.TrimSpace(d.OrderRef),
		OrderItemID: strings.TrimSpace(d.OrderItemRef),
		UserID:      strings.TrimSpace(d.UserRef),
		Reason:      d.Reason,
		Status:      domain.ReturnStatus(strings.TrimSpace(d.Status)),
		ResolvedBy:  strings.TrimSpace(d.ResolvedBy),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
