package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
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
	variantCollection = "variants"
)

// VariantRepository reads variant documents and owns the transactional stock
// ledger backing checkout.
type VariantRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[variantDocument]
}

// NewVariantRepository constructs a Firestore-backed variant repository.
func NewVariantRepository(provider *pfirestore.Provider) (*VariantRepository, error) {
	if provider == nil {
		return nil, errors.New("variant repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[variantDocument](provider, variantCollection, nil, nil)
	return &VariantRepository{provider: provider, base: base}, nil
}

// FindByID fetches a single variant document.
func (r *VariantRepository) FindByID(ctx context.Context, variantID string) (domain.Variant, error) {
	if r == nil || r.base == nil {
		return domain.Variant{}, errors.New("variant repository not initialised")
	}
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return domain.Variant{}, pfirestore.WrapError("variants.get", errors.New("variant id is required"))
	}
	doc, err := r.base.Get(ctx, variantID)
	if err != nil {
		return domain.Variant{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindBySKU fetches the variant carrying the given SKU. SKUs are unique by
// catalog contract; duplicates surface as a conflict.
func (r *VariantRepository) FindBySKU(ctx context.Context, sku string) (domain.Variant, error) {
	if r == nil || r.base == nil {
		return domain.Variant{}, errors.New("variant repository not initialised")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Variant{}, pfirestore.WrapError("variants.findBySku", errors.New("sku is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sku", "==", sku).Limit(2)
	})
	if err != nil {
		return domain.Variant{}, err
	}
	switch len(docs) {
	case 0:
		return domain.Variant{}, pfirestore.WrapError("variants.findBySku", status.Error(codes.NotFound, fmt.Sprintf("variant with sku %s not found", sku)))
	case 1:
		return docs[0].Data.toDomain(docs[0].ID), nil
	default:
		return domain.Variant{}, pfirestore.WrapError("variants.findBySku", status.Error(codes.Aborted, fmt.Sprintf("sku %s is not unique", sku)))
	}
}

// ListByProduct returns all variants of a product ordered by SKU.
func (r *VariantRepository) ListByProduct(ctx context.Context, productID string) ([]domain.Variant, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("variant repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, pfirestore.WrapError("variants.listByProduct", errors.New("product id is required"))
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productRef", "==", productID).OrderBy("sku", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	variants := make([]domain.Variant, 0, len(docs))
	for _, doc := range docs {
		variants = append(variants, doc.Data.toDomain(doc.ID))
	}
	return variants, nil
}

// ListByIDs fetches the given variants, failing if any is missing.
func (r *VariantRepository) ListByIDs(ctx context.Context, variantIDs []string) ([]domain.Variant, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("variant repository not initialised")
	}
	variants := make([]domain.Variant, 0, len(variantIDs))
	for _, id := range variantIDs {
		variant, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}
	return variants, nil
}

// DecrementStock removes the requested quantities inside a single
// transaction. Every line is checked before any write, so either the whole
// order's stock is taken or none of it is. Insufficient stock reports the
// offending SKUs through a StockError.
func (r *VariantRepository) DecrementStock(ctx context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
	return r.adjustStock(ctx, "variants.decrementStock", req, false)
}

// RestoreStock adds the quantities back, used by cancellation and checkout
// compensation paths.
func (r *VariantRepository) RestoreStock(ctx context.Context, req repositories.StockAdjustmentRequest) (repositories.StockAdjustmentResult, error) {
	return r.adjustStock(ctx, "variants.restoreStock", req, true)
}

func (r *VariantRepository) adjustStock(ctx context.Context, op string, req repositories.StockAdjustmentRequest, restore bool) (repositories.StockAdjustmentResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockAdjustmentResult{}, errors.New("variant repository not initialised")
	}
	lines, err := normaliseStockLines(req.Lines)
	if err != nil {
		return repositories.StockAdjustmentResult{}, err
	}

	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result := repositories.StockAdjustmentResult{Remaining: make(map[string]int64, len(lines))}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type pendingWrite struct {
			ref *firestore.DocumentRef
			doc variantDocument
		}

		writes := make([]pendingWrite, 0, len(lines))
		var short []string
		for _, line := range lines {
			ref, err := r.base.DocumentRef(ctx, line.VariantID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewStockError(repositories.StockErrorVariantNotFound, fmt.Sprintf("variant %s not found", line.VariantID), err)
				}
				return err
			}
			var doc variantDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode variant %s: %w", line.VariantID, err)
			}

			if restore {
				doc.Stock += line.Quantity
			} else {
				if doc.Stock < line.Quantity {
					sku := doc.SKU
					if sku == "" {
						sku = line.SKU
					}
					short = append(short, sku)
					continue
				}
				doc.Stock -= line.Quantity
			}
			doc.UpdatedAt = now
			writes = append(writes, pendingWrite{ref: ref, doc: doc})
			result.Remaining[line.VariantID] = doc.Stock
		}

		if len(short) > 0 {
			stockErr := repositories.NewStockError(repositories.StockErrorInsufficient, fmt.Sprintf("insufficient stock for %s", strings.Join(short, ", ")), nil)
			stockErr.SKUs = short
			return stockErr
		}

		for _, write := range writes {
			if err := tx.Set(write.ref, write.doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return repositories.StockAdjustmentResult{}, wrapStockError(op, err)
	}
	return result, nil
}

func normaliseStockLines(lines []repositories.StockLine) ([]repositories.StockLine, error) {
	if len(lines) == 0 {
		return nil, repositories.NewStockError(repositories.StockErrorUnknown, "stock adjustment: at least one line is required", nil)
	}

	merged := make(map[string]repositories.StockLine, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.VariantID)
		if id == "" {
			return nil, repositories.NewStockError(repositories.StockErrorUnknown, "stock adjustment: variant id is required", nil)
		}
		if line.Quantity <= 0 {
			return nil, repositories.NewStockError(repositories.StockErrorUnknown, fmt.Sprintf("stock adjustment: quantity for %s must be > 0", id), nil)
		}
		entry := merged[id]
		entry.VariantID = id
		entry.SKU = strings.TrimSpace(line.SKU)
		entry.Quantity += line.Quantity
		merged[id] = entry
	}

	out := make([]repositories.StockLine, 0, len(merged))
	for _, line := range merged {
		out = append(out, line)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

// Document mapping ----------------------------------------------------------

type variantDocument struct {
	ProductRef string                    `firestore:"productRef"`
	SKU        string                    `firestore:"sku"`
	Price      int64                     `firestore:"price"`
	Stock      int64                     `firestore:"stock"`
	Selections []optionSelectionDocument `firestore:"selections"`
	Images     []variantImageDocument    `firestore:"images,omitempty"`
	CreatedAt  time.Time                 `firestore:"createdAt"`
	UpdatedAt  time.Time                 `firestore:"updatedAt"`
}

type optionSelectionDocument struct {
	OptionRef string `firestore:"optionRef"`
	ValueRef  string `firestore:"valueRef"`
}

type variantImageDocument struct {
	URL      string `firestore:"url"`
	AltText  string `firestore:"altText,omitempty"`
	Position int    `firestore:"position"`
}

func (d variantDocument) toDomain(id string) domain.Variant {
	selections := make([]domain.OptionSelection, len(d.Selections))
	for i, sel := range d.Selections {
		selections[i] = domain.OptionSelection{
			OptionID: strings.TrimSpace(sel.OptionRef),
			ValueID:  strings.TrimSpace(sel.ValueRef),
		}
	}
	sort.Slice(selections, func(i, j int) bool { return selections[i].OptionID < selections[j].OptionID })

	images := make([]domain.VariantImage, len(d.Images))
	for i, img := range d.Images {
		images[i] = domain.VariantImage{
			URL:      strings.TrimSpace(img.URL),
			AltText:  strings.TrimSpace(img.AltText),
			Position: img.Position,
		}
	}

	return domain.Variant{
		ID:         id,
		ProductID:  strings.TrimSpace(d.ProductRef),
		SKU:        strings.TrimSpace(d.SKU),
		Price:      d.Price,
		Stock:      d.Stock,
		Selections: selections,
		Images:     images,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
