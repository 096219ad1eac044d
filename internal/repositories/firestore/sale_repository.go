package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/maplewear/api/internal/domain"
	pfirestore "github.com/maplewear/api/internal/platform/firestore"
	"github.com/maplewear/api/internal/repositories"
)

const (
	saleCollection = "sales"

	defaultSalePageSize = 50
	maxSalePageSize     = 200
)

// SaleRepository reads sale definitions for price resolution.
type SaleRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[saleDocument]
}

// NewSaleRepository constructs a Firestore-backed sale repository.
func NewSaleRepository(provider *pfirestore.Provider) (*SaleRepository, error) {
	if provider == nil {
		return nil, errors.New("sale repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[saleDocument](provider, saleCollection, nil, nil)
	return &SaleRepository{provider: provider, base: base}, nil
}

// FindByID fetches a single sale document.
func (r *SaleRepository) FindByID(ctx context.Context, saleID string) (domain.Sale, error) {
	if r == nil || r.base == nil {
		return domain.Sale{}, errors.New("sale repository not initialised")
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, pfirestore.WrapError("sales.get", errors.New("sale id is required"))
	}
	doc, err := r.base.Get(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListActiveAt returns every active sale whose window covers the instant,
// ordered by StartsAt then ID. Firestore only supports one range field per
// query, so the EndsAt bound filters server-side and StartsAt client-side.
func (r *SaleRepository) ListActiveAt(ctx context.Context, at time.Time) ([]domain.Sale, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("sale repository not initialised")
	}
	at = at.UTC()

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.
			Where("status", "==", string(domain.SaleStatusActive)).
			Where("endsAt", ">", at).
			OrderBy("endsAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, len(docs))
	for _, doc := range docs {
		sale := doc.Data.toDomain(doc.ID)
		if sale.StartsAt.After(at) {
			continue
		}
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(i, j int) bool {
		if sales[i].StartsAt.Equal(sales[j].StartsAt) {
			return sales[i].ID < sales[j].ID
		}
		return sales[i].StartsAt.Before(sales[j].StartsAt)
	})
	return sales, nil
}

// List pages sales ordered by start time, newest first.
func (r *SaleRepository) List(ctx context.Context, filter repositories.SaleListFilter) (domain.CursorPage[domain.Sale], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Sale]{}, errors.New("sale repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultSalePageSize
	}
	if pageSize > maxSalePageSize {
		pageSize = maxSalePageSize
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if len(filter.Status) > 0 {
			q = q.Where("status", "in", filter.Status)
		}
		if filter.DateRange.From != nil {
			q = q.Where("startsAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("startsAt", "<=", filter.DateRange.To.UTC())
		}
		return q.OrderBy("startsAt", firestore.Desc).Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Sale]{}, err
	}

	sales := make([]domain.Sale, 0, len(docs))
	for _, doc := range docs {
		sales = append(sales, doc.Data.toDomain(doc.ID))
	}
	if len(sales) > pageSize {
		sales = sales[:pageSize]
	}
	return domain.CursorPage[domain.Sale]{Items: sales}, nil
}

// Document mapping ----------------------------------------------------------

type saleDocument struct {
	Name      string    `firestore:"name"`
	Type      string    `firestore:"type"`
	Value     int64     `firestore:"value"`
	StartsAt  time.Time `firestore:"startsAt"`
	EndsAt    time.Time `firestore:"endsAt"`
	Status    string    `firestore:"status"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d saleDocument) toDomain(id string) domain.Sale {
	return domain.Sale{
		ID:        id,
		Name:      strings.TrimSpace(d.Name),
		Type:      domain.SaleType(strings.TrimSpace(d.Type)),
		Value:     d.Value,
		StartsAt:  d.StartsAt,
		EndsAt:    d.EndsAt,
		Status:    domain.SaleStatus(strings.TrimSpace(d.Status)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
