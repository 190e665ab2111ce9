// Package app assembles the engine from configuration. Both binaries build
// the same graph; only what they run on top of it differs.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-engine/internal/config"
	"github.com/unclebandit/campaign-engine/internal/content"
	"github.com/unclebandit/campaign-engine/internal/controller"
	"github.com/unclebandit/campaign-engine/internal/db"
	"github.com/unclebandit/campaign-engine/internal/handler"
	"github.com/unclebandit/campaign-engine/internal/lock"
	"github.com/unclebandit/campaign-engine/internal/provider"
	"github.com/unclebandit/campaign-engine/internal/queue"
	"github.com/unclebandit/campaign-engine/internal/repository"
	"github.com/unclebandit/campaign-engine/internal/repository/memstore"
	"github.com/unclebandit/campaign-engine/internal/service"
)

// Repositories is the storage backend chosen by storage.driver.
type Repositories struct {
	Campaigns   repository.CampaignRepositoryInterface
	Sends       repository.CampaignSendRepositoryInterface
	Contacts    repository.ContactRepositoryInterface
	Accounts    repository.AccountRepositoryInterface
	Automations repository.AutomationRepositoryInterface
}

type App struct {
	Config     *config.Config
	Log        *zap.Logger
	Repos      Repositories
	Queue      queue.Queue
	Providers  provider.Registry
	Campaigns  *service.CampaignService
	Reconciler *service.Reconciler
	Scheduler  *service.AutomationScheduler
	Completion *service.CompletionWorker

	closers []func() error
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", zap.Error(err))
		}
	}
}

// Build opens storage, the queue and the providers and wires the services.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.openQueue(); err != nil {
		a.Close()
		return nil, err
	}

	var awsCfg aws.Config
	if provider.NeedsAWS(cfg) {
		awsCfg, err = provider.LoadAWS(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Providers = provider.Build(cfg, awsCfg, log)

	ledger := &service.Ledger{
		Accounts: a.Repos.Accounts,
		Price:    service.NewPricing(cfg.Pricing),
		Log:      log,
	}
	templates := service.NewTemplateService()
	dispatcher := &service.Dispatcher{
		Sends:     a.Repos.Sends,
		Providers: a.Providers,
		Ledger:    ledger,
		Templates: templates,
		Log:       log,
	}
	if cfg.Media.CompositorURL != "" {
		dispatcher.Compositor = content.NewHTTPCompositor(cfg.Media.CompositorURL, cfg.Media.CompositorTimeout)
	}

	a.Campaigns = &service.CampaignService{
		CampaignRepo: a.Repos.Campaigns,
		ContactRepo:  a.Repos.Contacts,
		AccountRepo:  a.Repos.Accounts,
		Resolver: &service.RecipientResolver{
			Contacts:      a.Repos.Contacts,
			Sends:         a.Repos.Sends,
			DefaultRegion: cfg.SMS.DefaultRegion,
			Log:           log,
		},
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Templates:  templates,
		Queue:      a.Queue,
		Dispatch: service.ChannelConfig{
			BatchSize:   cfg.Dispatch.BatchSize,
			BatchDelay:  cfg.Dispatch.BatchDelay,
			SendTimeout: cfg.Dispatch.SendTimeout,
			Tracking:    service.TrackingLinks{BaseURL: cfg.Tracking.BaseURL, Secret: cfg.Tracking.Secret},
		},
		Log: log,
	}

	a.Reconciler = &service.Reconciler{
		Sends:     a.Repos.Sends,
		Campaigns: a.Repos.Campaigns,
		Contacts:  a.Repos.Contacts,
		Log:       log,
	}
	a.Completion = service.NewCompletionWorker(a.Repos.Accounts, a.Providers, log)

	var generator content.Generator = content.PromptGenerator{}
	var media content.MediaGenerator
	if cfg.OpenAI.APIKey != "" {
		generator = content.NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, log)
		if cfg.Media.Bucket != "" {
			media = content.NewOpenAIMediaGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.ImageModel, awsCfg, cfg.Media.Bucket, cfg.Media.PublicURL)
		}
	}
	a.Scheduler = &service.AutomationScheduler{
		Automations:   a.Repos.Automations,
		Ledger:        ledger,
		Generator:     generator,
		Media:         media,
		Locker:        locker,
		LockTTL:       cfg.Scheduler.LockTTL,
		WindowMinutes: cfg.Scheduler.WindowMinutes,
		Log:           log,
	}
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	if a.Config.Storage.Driver == "memory" {
		store := memstore.New()
		a.Repos = Repositories{
			Campaigns:   store.Campaigns,
			Sends:       store.Sends,
			Contacts:    store.Contacts,
			Accounts:    store.Accounts,
			Automations: store.Automations,
		}
		a.Log.Warn("using in-memory storage; data is lost on restart")
		return nil
	}

	conn, err := db.Open(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn.Close)
	if a.Config.Database.AutoMigrate {
		if err := db.Migrate(ctx, conn); err != nil {
			return err
		}
		a.Log.Info("database schema applied")
	}
	a.Repos = PostgresRepositories(conn)
	return nil
}

// PostgresRepositories wraps one connection pool in every repository.
func PostgresRepositories(conn *sql.DB) Repositories {
	return Repositories{
		Campaigns:   &repository.CampaignRepository{DB: conn},
		Sends:       &repository.CampaignSendRepository{DB: conn},
		Contacts:    &repository.ContactRepository{DB: conn},
		Accounts:    &repository.AccountRepository{DB: conn},
		Automations: &repository.AutomationRepository{DB: conn},
	}
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	client, err := db.NewRedis(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		a.Log.Info("no redis configured, scheduler lock is process-local")
		return lock.NewLocalLocker(), nil
	}
	a.closers = append(a.closers, client.Close)
	return lock.NewRedisLocker(client), nil
}

func (a *App) openQueue() error {
	if a.Config.Queue.Driver == "amqp" {
		q, err := queue.DialAMQP(a.Config.Queue.AMQPURL, a.Config.Queue.MaxRetries, a.Log)
		if err != nil {
			return fmt.Errorf("queue: %w", err)
		}
		a.closers = append(a.closers, q.Close)
		a.Queue = q
		return nil
	}
	a.Queue = queue.NewInMemoryQueue(a.Log, a.Config.Queue.MaxRetries)
	return nil
}

// StartConsumers subscribes the tracking and completion handlers.
func (a *App) StartConsumers() error {
	if err := a.Reconciler.Subscribe(a.Queue); err != nil {
		return fmt.Errorf("subscribe tracking events: %w", err)
	}
	if err := a.Completion.Subscribe(a.Queue); err != nil {
		return fmt.Errorf("subscribe campaign completions: %w", err)
	}
	return nil
}

// Router builds the HTTP surface over the wired services.
func (a *App) Router() http.Handler {
	return handler.NewRouter(handler.Routes{
		Campaigns:      handler.NewCampaignHandler(a.Campaigns, a.Log),
		CampaignSends:  controller.NewCampaignController(a.Campaigns, a.Log),
		Tracking:       &controller.TrackingController{Queue: a.Queue, Secret: a.Config.Tracking.Secret, Log: a.Log},
		Webhooks:       &controller.WebhookController{Reconciler: a.Reconciler, Log: a.Log},
		Automations:    &controller.AutomationController{Scheduler: a.Scheduler, Secret: a.Config.Scheduler.Secret, Log: a.Log},
		AllowedOrigins: a.Config.Server.AllowedOrigins,
	})
}
