package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	pfirestore "github.com/maplewear/api/internal/platform/firestore"
	"github.com/maplewear/api/internal/repositories"
)

const firestorePingTimeout = 1500 * time.Millisecond

// Registry wires every Firestore-backed repository behind the
// repositories.Registry interface so the service layer receives one
// dependency instead of seven.
type Registry struct {
	provider *pfirestore.Provider

	products *ProductRepository
	variants *VariantRepository
	sales    *SaleRepository
	carts    *CartRepository
	orders   *OrderRepository
	returns  *ReturnRepository
	counters *CounterRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	extraChecks []repositories.DependencyCheck
}

// WithHealthChecks appends dependency probes beyond the built-in Firestore
// ping, e.g. Secret Manager or Pub/Sub reachability.
func WithHealthChecks(checks ...repositories.DependencyCheck) RegistryOption {
	return func(cfg *registryConfig) {
		for _, check := range checks {
			if check.Check != nil {
				cfg.extraChecks = append(cfg.extraChecks, check)
			}
		}
	}
}

// NewRegistry constructs every repository eagerly so wiring failures surface
// at startup rather than on the first request.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore: provider is required")
	}

	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore: product repository: %w", err)
	}
	variants, err := NewVariantRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore: variant repository: %w", err)
	}
	sales, err := NewSaleRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore: sale repository: %w", err)
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore: cart repository: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore: order repository: %w", err)
	}
	returns, err := NewReturnRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore: return repository: %w", err)
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("firestore: counter repository: %w", err)
	}

	checks := make([]repositories.DependencyCheck, 0, 1+len(cfg.extraChecks))
	checks = append(checks, repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: firestorePingTimeout,
		Check:   firestorePing(provider),
	})
	checks = append(checks, cfg.extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("firestore: health repository: %w", err)
	}

	return &Registry{
		provider: provider,
		products: products,
		variants: variants,
		sales:    sales,
		carts:    carts,
		orders:   orders,
		returns:  returns,
		counters: counters,
		health:   health,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Variants() repositories.VariantRepository { return r.variants }
func (r *Registry) Sales() repositories.SaleRepository       { return r.sales }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Returns() repositories.ReturnRepository   { return r.returns }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx executes fn inside a Firestore transaction. Repositories invoked
// from fn still perform their own document-level transactions; this boundary
// exists for callers that need cross-repository atomicity.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

func firestorePing(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
