package di

import (
	"github.com/vietstay/payment-service/internal/handler"
	"github.com/vietstay/payment-service/internal/provider"
	"github.com/vietstay/payment-service/internal/repository"
	"github.com/vietstay/payment-service/internal/service"
	"github.com/vietstay/payment-service/pkg/config"
	"github.com/vietstay/payment-service/pkg/database"
	"github.com/vietstay/payment-service/pkg/kafka"
	"github.com/vietstay/payment-service/pkg/redis"
)

// Container holds all dependencies for the payment service
type Container struct {
	// Infrastructure
	DB       *database.PostgresDB
	Redis    *redis.Client
	Producer *kafka.Producer

	// Providers
	Providers *provider.Registry

	// Repositories
	Orders      repository.OrderRepository
	Bookings    repository.BookingRepository
	Events      repository.WebhookEventRepository
	Idempotency repository.IdempotencyStore
	Tx          repository.TxManager

	// Services
	PaymentService        service.PaymentService
	ReconciliationService *service.ReconciliationService

	// Handlers
	HealthHandler  *handler.HealthHandler
	PaymentHandler *handler.PaymentHandler
	WebhookHandler *handler.WebhookHandler
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Config        *config.Config
	DB            *database.PostgresDB
	Redis         *redis.Client
	KafkaProducer *kafka.Producer
	ServiceConfig *service.PaymentServiceConfig
}

// newRegistry wires the provider adapters that have credentials configured.
// Banking needs no gateway credentials and is always available.
func newRegistry(cfg *config.Config) *provider.Registry {
	var providers []provider.Provider

	if cfg.MoMo.PartnerCode != "" {
		providers = append(providers, provider.NewMoMo(provider.MoMoConfig{
			PartnerCode: cfg.MoMo.PartnerCode,
			AccessKey:   cfg.MoMo.AccessKey,
			SecretKey:   cfg.MoMo.SecretKey,
			Endpoint:    cfg.MoMo.Endpoint,
			RedirectURL: cfg.MoMo.RedirectURL,
			IPNURL:      cfg.MoMo.IPNURL,
		}))
	}
	if cfg.VNPay.TmnCode != "" {
		providers = append(providers, provider.NewVNPay(provider.VNPayConfig{
			TmnCode:    cfg.VNPay.TmnCode,
			HashSecret: cfg.VNPay.HashSecret,
			PayURL:     cfg.VNPay.PayURL,
			ReturnURL:  cfg.VNPay.ReturnURL,
		}))
	}
	if cfg.ZaloPay.AppID != 0 {
		providers = append(providers, provider.NewZaloPay(provider.ZaloPayConfig{
			AppID:       cfg.ZaloPay.AppID,
			Key1:        cfg.ZaloPay.Key1,
			Key2:        cfg.ZaloPay.Key2,
			Endpoint:    cfg.ZaloPay.Endpoint,
			CallbackURL: cfg.ZaloPay.CallbackURL,
		}))
	}
	providers = append(providers, provider.NewBanking(provider.BankingConfig{
		CodePrefix:    cfg.Banking.CodePrefix,
		BankName:      cfg.Banking.BankName,
		AccountNumber: cfg.Banking.AccountNumber,
		AccountName:   cfg.Banking.AccountName,
	}))

	return provider.NewRegistry(providers...)
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Producer: cfg.KafkaProducer,
	}

	c.Providers = newRegistry(cfg.Config)

	c.Orders = repository.NewPostgresOrderRepository(cfg.DB)
	c.Bookings = repository.NewPostgresBookingRepository(cfg.DB)
	c.Events = repository.NewPostgresWebhookEventRepository(cfg.DB)
	c.Idempotency = repository.NewPostgresIdempotencyStore(cfg.DB)
	c.Tx = repository.NewPgxTxManager(cfg.DB)

	c.PaymentService = service.NewPaymentService(
		c.Orders, c.Bookings, c.Providers, c.Producer, cfg.ServiceConfig,
	)
	c.ReconciliationService = service.NewReconciliationService(
		c.Orders, c.Bookings, c.Idempotency, c.Tx, c.Producer,
	)

	c.HealthHandler = handler.NewHealthHandler(c.DB, c.Redis)
	c.PaymentHandler = handler.NewPaymentHandler(
		c.PaymentService,
		cfg.Config.Banking.BankName,
		cfg.Config.Banking.AccountNumber,
		cfg.Config.Banking.AccountName,
	)
	c.WebhookHandler = handler.NewWebhookHandler(c.Providers, c.ReconciliationService, c.Events)

	return c
}
