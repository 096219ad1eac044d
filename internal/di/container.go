package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maplewear/api/internal/platform/config"
	"github.com/maplewear/api/internal/repositories"
	"github.com/maplewear/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Pricing  services.PricingService
	Cart     services.CartService
	Orders   services.OrderService
	Returns  services.ReturnService
	Counters services.CounterService
	System   services.SystemService
}

// Deps carries runtime collaborators that are constructed outside the
// container: event publishers, build metadata, and the structured logger.
type Deps struct {
	OrderEvents  services.OrderEventPublisher
	ReturnEvents services.ReturnEventPublisher
	StockEvents  services.StockEventPublisher
	Build        services.BuildInfo
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore-backed
// repositories, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	logger := deps.Logger

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Variants: reg.Variants(),
		Sales:    reg.Sales(),
		Now:      time.Now,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{
		Variants: reg.Variants(),
		Sales:    reg.Sales(),
		Catalog:  catalogSvc,
		Now:      time.Now,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}
	svc.Pricing = pricingSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Variants: reg.Variants(),
		Products: reg.Products(),
		Pricing:  pricingSvc,
		Now:      time.Now,
		Logger:   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	cancelOFD := cfg.Features.CancelOutForDelivery
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:                   reg.Orders(),
		Variants:                 reg.Variants(),
		Products:                 reg.Products(),
		Counters:                 reg.Counters(),
		Cart:                     cartSvc,
		CancelOutForDelivery:     &cancelOFD,
		ReturnWindowFallbackDays: cfg.Features.ReturnWindowFallbackDays,
		UnitOfWork:               reg,
		Clock:                    time.Now,
		Events:                   deps.OrderEvents,
		StockEvents:              deps.StockEvents,
		Logger:                   logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
		Returns: reg.Returns(),
		Orders:  reg.Orders(),
		Clock:   time.Now,
		Events:  deps.ReturnEvents,
		Logger:  logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}
	svc.Returns = returnSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
