// Package app wires the assistant server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-assistant/internal/agent"
	"github.com/xenking/kart-assistant/internal/chat"
	"github.com/xenking/kart-assistant/internal/conversation"
	"github.com/xenking/kart-assistant/internal/domain/catalog"
	"github.com/xenking/kart-assistant/internal/domain/commerce"
	"github.com/xenking/kart-assistant/internal/domain/weather"
	"github.com/xenking/kart-assistant/internal/events"
	"github.com/xenking/kart-assistant/internal/handler"
	"github.com/xenking/kart-assistant/internal/llm"
	"github.com/xenking/kart-assistant/internal/storage/memory"
	"github.com/xenking/kart-assistant/internal/storage/postgres"
	"github.com/xenking/kart-assistant/internal/storage/seed"
	"github.com/xenking/kart-assistant/internal/tools"
	"github.com/xenking/kart-assistant/pkg/health"
	"github.com/xenking/kart-assistant/pkg/httpmiddleware"
)

// store is a commerce store that can be health checked.
type store interface {
	commerce.Store
	health.Pinger
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("model", cfg.Model.Name),
	)

	st, closeStore, err := openStore(ctx, lg, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	var shopOpts []commerce.Option
	if cfg.Events.AMQPURL != "" {
		pub, conn, err := events.Dial(cfg.Events.AMQPURL)
		if err != nil {
			return errors.Wrap(err, "connect to amqp")
		}
		defer func() {
			_ = pub.Close()
			_ = conn.Close()
		}()
		shopOpts = append(shopOpts, commerce.WithPublisher(pub))
		lg.Info("Publishing order events", zap.String("exchange", events.Exchange))
	}
	shop := commerce.NewService(st, shopOpts...)

	registry, err := tools.NewShopRegistry(shop, weather.Simulated{})
	if err != nil {
		return errors.Wrap(err, "create tool registry")
	}

	model, err := llm.NewOpenAI(llm.Config{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Name,
		Timeout: cfg.Model.Timeout,
	},
		llm.WithTracerProvider(m.TracerProvider()),
		llm.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create model client")
	}

	assistant, err := agent.New(model, registry,
		agent.Config{MaxIterations: cfg.Agent.MaxIterations},
		agent.WithTracerProvider(m.TracerProvider()),
		agent.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create agent")
	}
	chatSvc := chat.NewService(assistant, conversation.NewMemoryStore())

	// Health check service.
	healthSvc := health.New()
	healthSvc.Add(health.Check{Name: "store", Kind: health.Readiness, Timeout: 5 * time.Second, Func: health.PingCheck(st)})
	healthSvc.Add(health.Check{Name: "goroutines", Kind: health.Liveness, Func: health.GoroutineCountCheck(10000)})
	healthSvc.Add(health.Check{Name: "gc", Kind: health.Liveness, Func: health.GCMaxPauseCheck(time.Second)})

	// Rate limiters: per client IP for every route, per user for chat turns.
	ipLimiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})
	userLimiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.ChatMax,
		Window: cfg.RateLimit.ChatWindow,
	})

	api := handler.New(chatSvc, handler.WithUserLimiter(userLimiter))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveHandler)
	mux.HandleFunc("/readyz", healthSvc.ReadyHandler)
	mux.Handle("/api/", api.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// A chat turn may take several model round trips.
		WriteTimeout:   cfg.Model.Timeout*time.Duration(cfg.Agent.MaxIterations) + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins: cfg.CORS.Origins,
					AllowHeaders: []string{"Content-Type", httpmiddleware.HeaderRequestID},
					MaxAge:       86400,
				}),
				httpmiddleware.RateLimit(ipLimiter, nil),
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.LogRequests(),
			),
			"kart-assistant",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		ipLimiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		userLimiter.Run(gctx)
		return nil
	})

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	healthSvc.SetReady(true)

	return g.Wait()
}

// openStore opens the configured commerce store. The returned func releases
// it.
func openStore(ctx context.Context, lg *zap.Logger, cfg StorageConfig) (store, func(), error) {
	switch cfg.Driver {
	case DriverMemory:
		products, err := loadCatalog(cfg.SeedFile)
		if err != nil {
			return nil, nil, errors.Wrap(err, "load catalog")
		}
		lg.Info("Using in-memory store", zap.Int("products", len(products)))
		return memory.New(products...), func() {}, nil
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, cfg.DatabaseURL, lg); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewStore(pool), pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func loadCatalog(path string) ([]catalog.Product, error) {
	if path == "" {
		return seed.Default()
	}
	return seed.Load(path)
}
