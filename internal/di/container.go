package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/northwear/api/internal/platform/config"
	"github.com/northwear/api/internal/repositories"
	"github.com/northwear/api/internal/services"
)

// Infrastructure carries the runtime adapters that live outside the repository
// registry: the payment gateway, event publishers, the mail queue, and the
// signed URL client.
type Infrastructure struct {
	Payments     services.PaymentGateway
	OrderEvents  services.OrderEventPublisher
	StockEvents  services.StockEventPublisher
	Mailer       services.OrderMailer
	UploadSigner services.UploadURLSigner
	MediaCopier  services.ObjectCopier
	Build        services.BuildInfo
	Logger       *zap.Logger
}

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Pricing     services.PricingService
	Discounts   services.DiscountService
	Cart        services.CartService
	Checkout    services.CheckoutService
	Orders      services.OrderService
	Catalog     services.CatalogService
	Inventory   services.InventoryService
	Media       services.MediaService
	Maintenance services.MaintenanceService
	Counters    services.CounterService
	System      services.SystemService
	Audit       services.AuditLogService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
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

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	pricingSvc, err := services.NewPricingService(services.PricingServiceDeps{Clock: time.Now})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}
	svc.Pricing = pricingSvc

	discountSvc, err := services.NewDiscountService(services.DiscountServiceDeps{
		DiscountCodes: reg.DiscountCodes(),
		Audit:         auditSvc,
		Clock:         time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build discount service: %w", err)
	}
	svc.Discounts = discountSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:   reg.Products(),
		Categories: reg.Categories(),
		Pricing:    pricingSvc,
		Audit:      auditSvc,
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Events:   infra.StockEvents,
		Audit:    auditSvc,
		Clock:    time.Now,
		Logger:   eventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:     reg.Carts(),
		Products:  reg.Products(),
		Pricing:   pricingSvc,
		Discounts: discountSvc,
		Clock:     time.Now,
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

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:         reg.Carts(),
		Products:      reg.Products(),
		Orders:        reg.Orders(),
		DiscountCodes: reg.DiscountCodes(),
		Pricing:       pricingSvc,
		Discounts:     discountSvc,
		Counters:      counterSvc,
		Payments:      infra.Payments,
		OrderEvents:   infra.OrderEvents,
		Clock:         time.Now,
		Logger:        eventLogger(logger.Named("checkout")),
		SessionTTL:    cfg.Checkout.SessionTTL,
		Currency:      cfg.Checkout.Currency,
		Rates: services.ShippingRates{
			FreeThreshold: cfg.Shipping.FreeThreshold,
			Locker:        cfg.Shipping.Locker,
			Courier:       cfg.Shipping.Courier,
		},
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Mailer:      infra.Mailer,
		OrderEvents: infra.OrderEvents,
		Audit:       auditSvc,
		Clock:       time.Now,
		Logger:      eventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	maintenanceSvc, err := services.NewMaintenanceService(services.MaintenanceServiceDeps{
		Orders:      reg.Orders(),
		Products:    reg.Products(),
		OrderEvents: infra.OrderEvents,
		Clock:       time.Now,
		Logger:      eventLogger(logger.Named("maintenance")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build maintenance service: %w", err)
	}
	svc.Maintenance = maintenanceSvc

	if infra.UploadSigner != nil {
		mediaSvc, err := services.NewMediaService(services.MediaServiceDeps{
			Signer:        infra.UploadSigner,
			Copier:        infra.MediaCopier,
			Bucket:        cfg.Storage.MediaBucket,
			PublicBaseURL: cfg.Storage.PublicBaseURL,
			Logger:        eventLogger(logger.Named("media")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build media service: %w", err)
		}
		svc.Media = mediaSvc
	}

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            infra.Build,
		Audit:            auditSvc,
		Counters:         counterSvc,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
