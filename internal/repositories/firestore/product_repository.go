package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/maplewear/api/internal/domain"
	pfirestore "github.com/maplewear/api/internal/platform/firestore"
	"github.com/maplewear/api/internal/repositories"
)

const (
	productCollection = "products"

	defaultProductPageSize = 50
	maxProductPageSize     = 200
)

// ProductRepository reads catalog product documents. Writes happen through
// the seller-facing management system, never through this API.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{provider: provider, base: base}, nil
}

// FindByID fetches a single product document.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, pfirestore.WrapError("products.get", errors.New("product id is required"))
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySlug resolves a product by its unique slug.
func (r *ProductRepository) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return domain.Product{}, pfirestore.WrapError("products.findBySlug", errors.New("slug is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("slug", "==", slug).Limit(2)
	})
	if err != nil {
		return domain.Product{}, err
	}
	switch len(docs) {
	case 0:
		return domain.Product{}, pfirestore.WrapError("products.findBySlug", status.Error(codes.NotFound, fmt.Sprintf("product with slug %s not found", slug)))
	case 1:
		return docs[0].Data.toDomain(docs[0].ID), nil
	default:
		return domain.Product{}, pfirestore.WrapError("products.findBySlug", status.Error(codes.Aborted, fmt.Sprintf("slug %s is not unique", slug)))
	}
}

// List pages products ordered by slug.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultProductPageSize
	}
	if pageSize > maxProductPageSize {
		pageSize = maxProductPageSize
	}

	var startAfter string
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeProductPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		startAfter = decoded.Slug
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if category := strings.TrimSpace(filter.CategoryID); category != "" {
			q = q.Where("categoryRef", "==", category)
		}
		if brand := strings.TrimSpace(filter.BrandID); brand != "" {
			q = q.Where("brandRef", "==", brand)
		}
		q = q.OrderBy("slug", firestore.Asc)
		if startAfter != "" {
			q = q.StartAfter(startAfter)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, doc.Data.toDomain(doc.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		encoded, err := encodeProductPageToken(productPageToken{Slug: products[len(products)-1].Slug})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

// Document mapping ----------------------------------------------------------

type productDocument struct {
	Name             string                  `firestore:"name"`
	Slug             string                  `firestore:"slug"`
	CategoryRef      string                  `firestore:"categoryRef,omitempty"`
	BrandRef         string                  `firestore:"brandRef,omitempty"`
	Description      string                  `firestore:"description,omitempty"`
	Options          []productOptionDocument `firestore:"options"`
	ReturnWindowDays int                     `firestore:"returnWindowDays"`
	Metadata         map[string]any          `firestore:"metadata,omitempty"`
	CreatedAt        time.Time               `firestore:"createdAt"`
	UpdatedAt        time.Time               `firestore:"updatedAt"`
}

type productOptionDocument struct {
	ID     string                `firestore:"id"`
	Name   string                `firestore:"name"`
	Values []optionValueDocument `firestore:"values"`
}

type optionValueDocument struct {
	ID    string `firestore:"id"`
	Value string `firestore:"value"`
}

func (d productDocument) toDomain(id string) domain.Product {
	options := make([]domain.ProductOption, len(d.Options))
	for i, opt := range d.Options {
		values := make([]domain.OptionValue, len(opt.Values))
		for j, val := range opt.Values {
			values[j] = domain.OptionValue{ID: strings.TrimSpace(val.ID), Value: val.Value}
		}
		options[i] = domain.ProductOption{
			ID:     strings.TrimSpace(opt.ID),
			Name:   strings.TrimSpace(opt.Name),
			Values: values,
		}
	}
	return domain.Product{
		ID:               id,
		Name:             strings.TrimSpace(d.Name),
		Slug:             strings.TrimSpace(d.Slug),
		CategoryID:       strings.TrimSpace(d.CategoryRef),
		BrandID:          strings.TrimSpace(d.BrandRef),
		Description:      d.Description,
		Options:          options,
		ReturnWindowDays: d.ReturnWindowDays,
		Metadata:         d.Metadata,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

type productPageToken struct {
	Slug string
}

func encodeProductPageToken(token productPageToken) (string, error) {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(token); err != nil {
		return "", fmt.Errorf("encode product page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeProductPageToken(encoded string) (*productPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode product page token: %w", err)
	}
	var token productPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode product page token json: %w", err)
	}
	return &token, nil
}
