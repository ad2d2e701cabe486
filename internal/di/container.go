package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mallkit/api/internal/platform/config"
	"github.com/mallkit/api/internal/repositories"
	"github.com/mallkit/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders        services.OrderService
	Returns       services.ReturnService
	BankTransfers services.BankTransferService
	Payments      services.PaymentService
	Banking       services.BankingService
	Audit         services.AuditLogService
	System        services.SystemService
}

// Infrastructure carries cross-cutting collaborators the container cannot build
// on its own. Zero values fall back to service defaults (wall clock, ULIDs,
// no-op event publishing).
type Infrastructure struct {
	Events      services.LifecycleEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
	AuditLogger services.AuditLogger
	Clock       func() time.Time
	IDGenerator func() string
	Build       services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring will provide real
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

func buildServices(ctx context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	if reg == nil {
		return svc, nil
	}

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	if auditRepo := reg.AuditLogs(); auditRepo != nil {
		auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
			Repository:  auditRepo,
			Clock:       clock,
			IDGenerator: infra.IDGenerator,
			Logger:      infra.AuditLogger,
			HashSalt:    cfg.Audit.HashSalt,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build audit log service: %w", err)
		}
		svc.Audit = auditSvc
	}

	ordersRepo := reg.Orders()
	if ordersRepo != nil && reg.Returns() != nil && reg.Counters() != nil {
		orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
			Orders:      ordersRepo,
			Returns:     reg.Returns(),
			Payments:    reg.PaymentTransactions(),
			Counters:    reg.Counters(),
			UnitOfWork:  reg,
			Audit:       svc.Audit,
			Clock:       clock,
			IDGenerator: infra.IDGenerator,
			Events:      infra.Events,
			Logger:      infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build order service: %w", err)
		}
		svc.Orders = orderSvc
	}

	if returnsRepo := reg.Returns(); returnsRepo != nil && ordersRepo != nil {
		returnSvc, err := services.NewReturnService(services.ReturnServiceDeps{
			Returns:     returnsRepo,
			Orders:      ordersRepo,
			UnitOfWork:  reg,
			Audit:       svc.Audit,
			Clock:       clock,
			IDGenerator: infra.IDGenerator,
			Events:      infra.Events,
			Logger:      infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build return service: %w", err)
		}
		svc.Returns = returnSvc
	}

	if transfersRepo := reg.BankTransfers(); transfersRepo != nil && ordersRepo != nil &&
		reg.PaymentTransactions() != nil && reg.Stocks() != nil && reg.BankingSettings() != nil {
		transferSvc, err := services.NewBankTransferService(services.BankTransferServiceDeps{
			Transfers:   transfersRepo,
			Orders:      ordersRepo,
			Payments:    reg.PaymentTransactions(),
			Stocks:      reg.Stocks(),
			Banking:     reg.BankingSettings(),
			UnitOfWork:  reg,
			Audit:       svc.Audit,
			Clock:       clock,
			IDGenerator: infra.IDGenerator,
			Events:      infra.Events,
			Logger:      infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build bank transfer service: %w", err)
		}
		svc.BankTransfers = transferSvc
	}

	if paymentsRepo := reg.PaymentTransactions(); paymentsRepo != nil && ordersRepo != nil && reg.Stocks() != nil {
		paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
			Orders:      ordersRepo,
			Payments:    paymentsRepo,
			Stocks:      reg.Stocks(),
			UnitOfWork:  reg,
			Audit:       svc.Audit,
			Clock:       clock,
			IDGenerator: infra.IDGenerator,
			Events:      infra.Events,
			Logger:      infra.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment service: %w", err)
		}
		svc.Payments = paymentSvc
	}

	if settingsRepo := reg.BankingSettings(); settingsRepo != nil {
		bankingSvc, err := services.NewBankingService(services.BankingServiceDeps{
			Settings: settingsRepo,
			Audit:    svc.Audit,
			Clock:    clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build banking service: %w", err)
		}
		svc.Banking = bankingSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
