package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplewear/api/internal/domain"
	pfirestore "github.com/maplewear/api/internal/platform/firestore"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts within Firestore, one document per user.
type CartRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[cartDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil, nil)
	return &CartRepository{provider: provider, base: base}, nil
}

// GetCart fetches the cart document for the user.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, pfirestore.WrapError("carts.get", errors.New("user id is required"))
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpsertCart writes the cart document. With a non-nil expectedUpdatedAt the
// write runs in a transaction that re-reads the document and aborts with a
// conflict when another writer got there first, which keeps two concurrent
// tabs from clobbering each other.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdatedAt *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID := strings.TrimSpace(cart.UserID)
	if userID == "" {
		userID = strings.TrimSpace(cart.ID)
	}
	if userID == "" {
		return domain.Cart{}, pfirestore.WrapError("carts.upsert", errors.New("cart user id is required"))
	}

	now := cart.UpdatedAt.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	doc := newCartDocument(cart, createdAt, now)

	if expectedUpdatedAt == nil || expectedUpdatedAt.IsZero() {
		if _, err := r.base.Set(ctx, userID, doc); err != nil {
			return domain.Cart{}, err
		}
		return doc.toDomain(userID), nil
	}

	expected := expectedUpdatedAt.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return status.Error(codes.FailedPrecondition, fmt.Sprintf("cart %s changed concurrently", userID))
			}
			return err
		}
		var current cartDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode cart %s: %w", userID, err)
		}
		if !current.UpdatedAt.Equal(expected) {
			return status.Error(codes.FailedPrecondition, fmt.Sprintf("cart %s changed concurrently", userID))
		}
		doc.CreatedAt = current.CreatedAt
		return tx.Set(ref, doc)
	})
	if err != nil {
		return domain.Cart{}, pfirestore.WrapError("carts.upsert", err)
	}
	return doc.toDomain(userID), nil
}

// ClearCart deletes the cart document; deleting an absent cart is a no-op.
func (r *CartRepository) ClearCart(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return pfirestore.WrapError("carts.clear", errors.New("user id is required"))
	}
	ref, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return pfirestore.WrapError("carts.clear", err)
	}
	return nil
}

// Document mapping ----------------------------------------------------------

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	VariantRef string    `firestore:"variantRef"`
	ProductRef string    `firestore:"productRef"`
	SKU        string    `firestore:"sku"`
	Quantity   int64     `firestore:"qty"`
	AddedAt    time.Time `firestore:"addedAt"`
}

func newCartDocument(cart domain.Cart, createdAt, updatedAt time.Time) cartDocument {
	items := make([]cartItemDocument, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = cartItemDocument{
			VariantRef: strings.TrimSpace(item.VariantID),
			ProductRef: strings.TrimSpace(item.ProductID),
			SKU:        strings.TrimSpace(item.SKU),
			Quantity:   item.Quantity,
			AddedAt:    item.AddedAt.UTC(),
		}
	}
	return cartDocument{
		Items:     items,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

func (d cartDocument) toDomain(userID string) domain.Cart {
	items := make([]domain.CartItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.CartItem{
			VariantID: strings.TrimSpace(item.VariantRef),
			ProductID: strings.TrimSpace(item.ProductRef),
			SKU:       strings.TrimSpace(item.SKU),
			Quantity:  item.Quantity,
			AddedAt:   item.AddedAt,
		}
	}
	return domain.Cart{
		ID:        userID,
		UserID:    userID,
		Items:     items,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
