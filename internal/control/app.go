// Package control wires configuration, storage, authentication and the
// execution pipeline into a runnable application.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/invoker/internal/auth"
	"github.com/vietddude/invoker/internal/core/config"
	"github.com/vietddude/invoker/internal/core/domain"
	"github.com/vietddude/invoker/internal/core/request"
	"github.com/vietddude/invoker/internal/core/worker"
	"github.com/vietddude/invoker/internal/health"
	"github.com/vietddude/invoker/internal/infra/storage"
	"github.com/vietddude/invoker/internal/infra/storage/memory"
	"github.com/vietddude/invoker/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/invoker/internal/infra/storage/redis"
	"github.com/vietddude/invoker/internal/infra/transport"
	"github.com/vietddude/invoker/internal/logsink"
	"github.com/vietddude/invoker/internal/pipeline"
)

// DefaultServiceTimeout bounds a single HTTP round trip when a service does
// not configure one.
const DefaultServiceTimeout = 30 * time.Second

// ErrUnknownService is returned for a service missing from the configuration.
var ErrUnknownService = errors.New("unknown service")

// Persister is satisfied by every audit repository.
var _ pipeline.Persister = (storage.AuditRepository)(nil)

// App is the main application struct that owns every component.
type App struct {
	cfg          *config.AppConfig
	repo         storage.AuditRepository
	db           *postgres.DB
	executor     *pipeline.Executor
	coord        *auth.Coordinator[auth.Credentials, auth.Token]
	requesters   map[string]*transport.HTTPRequester
	services     map[string]request.Config
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	log          *slog.Logger
}

// Option configures an App.
type Option func(*options)

type options struct {
	repo     storage.AuditRepository
	executor []pipeline.Option
}

// WithRepository overrides storage selection.
func WithRepository(repo storage.AuditRepository) Option {
	return func(o *options) { o.repo = repo }
}

// WithExecutorOptions passes extra options to the execution pipeline.
func WithExecutorOptions(opts ...pipeline.Option) Option {
	return func(o *options) { o.executor = append(o.executor, opts...) }
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:        cfg,
		requesters: make(map[string]*transport.HTTPRequester),
		services:   make(map[string]request.Config),
		log:        slog.Default(),
	}

	// 1. Initialize Storage
	if o.repo != nil {
		a.repo = o.repo
	} else if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	// 2. Initialize Auth Coordinator
	if cfg.Auth.Enabled() {
		tokenRequester := transport.NewHTTPRequester("auth", DefaultServiceTimeout)
		a.requesters["auth"] = tokenRequester

		coordOpts := []auth.Option{auth.WithLogger(a.log.With("component", "auth"))}
		if cfg.Auth.Timeout > 0 {
			coordOpts = append(coordOpts, auth.WithTimeout(cfg.Auth.Timeout))
		}
		a.coord = auth.NewCoordinator[auth.Credentials, auth.Token](auth.NewTokenDelegate(tokenRequester), coordOpts...)
	}

	// 3. Initialize Pipeline
	sink := logsink.NewSlogSink(a.log)
	execOpts := append([]pipeline.Option{
		pipeline.WithSink(sink),
		pipeline.WithPersister(a.repo),
		pipeline.WithLogger(a.log),
	}, o.executor...)
	a.executor = pipeline.NewExecutor(execOpts...)

	// 4. Initialize Services
	resolver := cfg.Resolver()
	for _, svc := range cfg.Services {
		rc, err := a.buildService(svc, resolver)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("service %s: %w", svc.Name, err)
		}
		a.services[svc.Name] = rc
		sink.Route(svc.Name, a.log.With("module", svc.Module, "group", svc.Group))
		a.log.Debug("Service configured",
			"service", svc.Name,
			"url", rc.URL,
			"retries", rc.Behavior.Retries,
			"sleep", rc.Behavior.Sleep,
			"auth", svc.Auth,
		)
	}

	// 5. Initialize Pruner
	if cfg.Audit.Retention > 0 {
		if rr, ok := a.repo.(storage.RetentionRepository); ok {
			a.pruner = worker.NewPruner(cfg.Audit.Retention, rr)
		} else {
			a.log.Info("Audit retention is handled by the storage backend", "retention", cfg.Audit.Retention)
		}
	}

	// 6. Initialize Health Monitor
	monitors := make(map[string]*transport.Monitor, len(a.requesters))
	for name, r := range a.requesters {
		monitors[name] = r.Monitor
	}
	var loginCache func() int
	if a.coord != nil {
		loginCache = a.coord.Len
	}
	a.healthMon = health.NewMonitor(a.repo, monitors, loginCache)
	a.healthServer = health.NewServer(a.healthMon, cfg.Server.Port)

	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch {
	case a.cfg.Database.URL != "":
		db, err := postgres.NewDB(ctx, a.cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return err
		}
		a.db = db
		a.repo = postgres.NewAuditRepo(db)
		a.log.Info("Using PostgreSQL storage")
	case a.cfg.Redis.URL != "":
		client, err := redisstore.NewClient(a.cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to init redis: %w", err)
		}
		redisCfg := a.cfg.Redis
		if redisCfg.TTL == 0 {
			redisCfg.TTL = a.cfg.Audit.Retention
		}
		a.repo = redisstore.NewAuditRepo(client, redisCfg)
		a.log.Info("Using Redis storage")
	default:
		a.repo = memory.NewMemoryStorage()
		a.log.Info("Using Memory storage")
	}
	return nil
}

func (a *App) buildService(svc config.ServiceConfig, resolver request.Resolver) (request.Config, error) {
	behavior, err := resolver.Resolve(svc.Options, svc.Module, svc.Group)
	if err != nil {
		return request.Config{}, err
	}

	timeout := svc.Timeout
	if timeout <= 0 {
		timeout = DefaultServiceTimeout
	}
	httpRequester := transport.NewHTTPRequester(svc.Name, timeout)
	a.requesters[svc.Name] = httpRequester

	var requester request.Requester = httpRequester
	if svc.Auth {
		if a.coord == nil {
			return request.Config{}, fmt.Errorf("auth requested but no identity service configured")
		}
		requester = auth.NewAuthorizedRequester(requester, a.coord, a.cfg.Auth.Credentials, auth.BearerHeaders)
	}

	return request.New(svc.Name,
		request.WithModule(svc.Module),
		request.WithGroup(svc.Group),
		request.WithVerb(svc.Verb),
		request.WithURL(svc.URL),
		request.WithQuery(svc.Query),
		request.WithHeaders(svc.Headers...),
		request.WithBehavior(behavior),
		request.WithRequester(requester),
	), nil
}

// Services returns the configured service names in order.
func (a *App) Services() []string {
	names := make([]string, 0, len(a.services))
	for name := range a.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns the request configuration of a service with updates
// applied.
func (a *App) Config(service string, updates ...request.Update) (request.Config, error) {
	rc, ok := a.services[service]
	if !ok {
		return request.Config{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return rc.With(updates...), nil
}

// Call runs one logical call against a configured service.
func (a *App) Call(ctx context.Context, service string, updates ...request.Update) (any, error) {
	rc, err := a.Config(service, updates...)
	if err != nil {
		return nil, err
	}
	return a.executor.Call(ctx, rc)
}

// Invoke runs one logical call and returns its full outcome.
func (a *App) Invoke(ctx context.Context, service string, updates ...request.Update) (pipeline.Outcome, error) {
	rc, err := a.Config(service, updates...)
	if err != nil {
		return nil, err
	}
	return a.executor.Run(ctx, rc), nil
}

// History loads the recorded attempts and error chain of a call. The chain
// is nil when the call never failed.
func (a *App) History(ctx context.Context, callID string) ([]domain.Attempt, *domain.ErrorChain, error) {
	attempts, err := a.repo.ListAttempts(ctx, callID)
	if err != nil {
		return nil, nil, err
	}
	chain, err := storage.LoadChain(ctx, a.repo, callID)
	if errors.Is(err, storage.ErrCallNotFound) {
		if len(attempts) == 0 {
			return nil, nil, err
		}
		return attempts, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return attempts, chain, nil
}

// Start launches background components and returns immediately.
func (a *App) Start(ctx context.Context) {
	if a.coord != nil {
		go func() {
			if err := a.coord.Start(ctx); err != nil {
				a.log.Error("Auth coordinator failed", "error", err)
			}
		}()
	}
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
	if a.pruner != nil {
		go a.pruner.Start(ctx)
	}
}

// Serve runs the background components and the health server until ctx is
// cancelled.
func (a *App) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.coord != nil {
		g.Go(func() error { return a.coord.Start(gctx) })
	}
	if a.db != nil {
		a.db.StartMetricsCollector(gctx)
	}
	if a.pruner != nil {
		g.Go(func() error {
			a.pruner.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		a.log.Info("Health server listening", "port", a.cfg.Server.Port)
		return a.healthServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.healthServer.Stop(shutdownCtx)
	})

	return g.Wait()
}

// Close releases storage and transport resources.
func (a *App) Close() error {
	for _, r := range a.requesters {
		_ = r.Close()
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.log.Warn("Failed to close storage", "error", err)
			return err
		}
	}
	return nil
}
