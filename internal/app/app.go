package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-pay/internal/bkash"
	"github.com/xenking/storefront-pay/internal/checkout"
	"github.com/xenking/storefront-pay/internal/domain/order"
	"github.com/xenking/storefront-pay/internal/handler"
	"github.com/xenking/storefront-pay/internal/sweeper"
	"github.com/xenking/storefront-pay/pkg/health"
	"github.com/xenking/storefront-pay/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the sweeper, and
// handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))

	backend, err := OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close(context.Background())

	healthSvc := health.New()
	healthSvc.AddReadinessCheck(cfg.Store, 5*time.Second, backend.Ping)
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	locks := OpenLocks(ctx, cfg)
	defer func() { _ = locks.Close() }()
	if locks.Ping != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, locks.Ping)
	}

	api, err := newAPI(ctx, cfg, backend, locks, healthSvc, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		// Callbacks wait on the gateway execute call.
		WriteTimeout:   cfg.BKash.Timeout + 10*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
		Addr:           cfg.Addr,
		Handler:        api,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sw := sweeper.New(backend.Payments(), backend.Registrations(), locks, cfg.SweeperSettings())
		return sw.Run(gCtx)
	})

	g.Go(func() error {
		healthSvc.Start(gCtx, 10*time.Second)
		healthSvc.SetReady(true)

		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	// Graceful shutdown: flip readiness, let the balancer drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}

// newAPI wires the payment services and returns the HTTP handler serving
// the API and the probes.
func newAPI(
	ctx context.Context,
	cfg *Config,
	backend *Backend,
	locker checkout.Locker,
	healthSvc *health.Health,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (http.Handler, error) {
	gateway := bkash.NewClient(cfg.BKash, backend.Tokens, bkash.Options{
		TracerProvider: tp,
		MeterProvider:  mp,
	})

	checkoutCfg, err := cfg.CheckoutSettings()
	if err != nil {
		return nil, err
	}
	checkoutSvc, err := checkout.NewService(checkoutCfg, backend, gateway, locker, checkout.Options{
		MeterProvider: mp,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create checkout service")
	}
	orderSvc := order.NewService(backend.Orders())

	h := handler.New(handler.Config{
		ProductsAPIKey: cfg.ProductsAPIKey,
		AdminAPIKey:    cfg.AdminAPIKey,
	}, checkoutSvc, orderSvc, backend.Products())

	gin.SetMode(gin.ReleaseMode)
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", otelhttp.NewHandler(h.Engine(), "api",
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(mp),
	))

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   func(r *http.Request) bool { return unlimited(r.URL.Path) },
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(isProbe),
	), nil
}

func isProbe(path string) bool {
	return path == "/livez" || path == "/readyz"
}

// unlimited reports paths exempt from rate limiting: probes and gateway
// callbacks, which arrive through the buyer's browser after a redirect.
func unlimited(path string) bool {
	return isProbe(path) ||
		path == checkout.CheckoutCallbackPath ||
		path == checkout.RegistrationCallbackPath
}
