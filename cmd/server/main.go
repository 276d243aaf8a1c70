package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/mcules/homeprice/internal/activity"
	"github.com/mcules/homeprice/internal/api"
	"github.com/mcules/homeprice/internal/artifacts"
	"github.com/mcules/homeprice/internal/auth"
	"github.com/mcules/homeprice/internal/config"
	"github.com/mcules/homeprice/internal/estimator"
	"github.com/mcules/homeprice/internal/history"
	"github.com/mcules/homeprice/internal/httpx"
	"github.com/mcules/homeprice/internal/logx"
	"github.com/mcules/homeprice/internal/metrics"
	"github.com/mcules/homeprice/internal/prediction"
	"github.com/mcules/homeprice/internal/reloader"
	"github.com/mcules/homeprice/internal/rpc"
	"github.com/mcules/homeprice/internal/ui"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logx.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	store, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	activityLog := activity.New(cfg.ActivitySize)
	collectors := metrics.NewCollectors()
	latency := metrics.NewLatencyTracker(0.2)

	// Artifacts are optional at startup. Requests and the reloader retry until they load.
	est := estimator.New(func() (*artifacts.Set, error) {
		return artifacts.Load(cfg.ColumnsPath, cfg.ModelPath, cfg.ModelSHA256)
	}, log, activityLog)
	if err := est.Reload(); err != nil {
		log.WithFields(logrus.Fields{
			"columns_path": cfg.ColumnsPath,
			"model_path":   cfg.ModelPath,
		}).Warn("starting without model artifacts")
	}
	collectors.SetArtifactsLoaded(est.Loaded())

	svc := &prediction.Service{
		Estimator: est,
		History:   store,
		Metrics:   collectors,
		Activity:  activityLog,
		Log:       log,
	}

	rl := &reloader.Reloader{Target: est, Interval: cfg.ArtifactRetryInterval, Log: log}
	go rl.Run(ctx)

	// One limiter and one authenticator for both transports, so switching ports
	// neither bypasses auth nor doubles a client's budget.
	limiter := httpx.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	var authenticator *auth.Authenticator
	if cfg.RequireAPIKey {
		authenticator = auth.NewAuthenticator(store, log, activityLog)
	}

	// gRPC.
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	interceptors := []grpc.UnaryServerInterceptor{
		rpc.UnaryLogging(log),
		rpc.UnaryRateLimit(limiter, rpc.PredictMethod),
	}
	if authenticator != nil {
		interceptors = append(interceptors, rpc.UnaryAuth(authenticator, rpc.PredictMethod))
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	rpc.RegisterPriceEstimatorServer(grpcServer, rpc.NewServer(svc, log))

	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC listening")
		if err := grpcServer.Serve(grpcLis); err != nil {
			log.WithError(err).Error("grpc serve")
		}
	}()

	// HTTP (UI + API on the same port).
	mux := http.NewServeMux()

	uiHandler, err := ui.NewHandler(svc, store, activityLog, log)
	if err != nil {
		return err
	}
	uiHandler.RequireAPIKey = cfg.RequireAPIKey
	uiHandler.Register(mux)

	opts := api.Options{
		Limiter: limiter,
		Metrics: collectors,
	}
	if authenticator != nil {
		opts.Protect = authenticator.Middleware
	}
	api.NewHandler(svc, store, latency, log).Register(mux, opts)

	mux.Handle("/metrics", collectors.Handler())

	handler := httpx.Logging(log, httpx.Recover(log, httpx.CORS{AllowOrigin: cfg.CORSAllowOrigin}.Wrap(mux)))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":            cfg.HTTPAddr,
			"require_api_key": cfg.RequireAPIKey,
		}).Info("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		grpcServer.Stop()
		return err
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcDone := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(grpcDone)
	}()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	select {
	case <-grpcDone:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	return nil
}
