// gostore-cart/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/norun9/gostore-cart/cart"
	"github.com/norun9/gostore-cart/cartstore"
	"github.com/norun9/gostore-cart/metrics"
	"github.com/norun9/gostore-cart/services"
)

var log = logrus.WithField("component", "main")

func main() {
	configureLogging("info")
	loadDotEnv()

	cfg := configFromEnv(os.Getenv)
	if err := rootCmd(&cfg).Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func rootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "gostore-cart",
		Short: "Shopping cart daemon backed by a persistent key-value store",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.normalize(); err != nil {
				return err
			}
			configureLogging(cfg.LogLevel)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cfg.bindFlags(root)

	root.AddCommand(serveCmd(cfg), dumpCmd(cfg), clearCmd(cfg))
	return root
}

// configureLogging sets up the standard logrus logger every package logs through.
func configureLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "severity",
			logrus.FieldKeyMsg:   "message",
		},
		TimestampFormat: time.RFC3339Nano,
	})
	logrus.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logrus.SetLevel(lvl)
	}
}

func serveCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the cart over gRPC until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", ":"+cfg.Port)
			if err != nil {
				return fmt.Errorf("failed to listen on port %s: %w", cfg.Port, err)
			}
			metricsLis, err := net.Listen("tcp", ":"+cfg.MetricsPort)
			if err != nil {
				_ = lis.Close()
				return fmt.Errorf("failed to listen on port %s: %w", cfg.MetricsPort, err)
			}
			return serve(ctx, *cfg, lis, metricsLis)
		},
	}
	cfg.bindServeFlags(cmd)
	return cmd
}

// serve runs the daemon on the given listeners until ctx is done, then shuts down
// and closes the cart, flushing pending writes.
func serve(ctx context.Context, cfg Config, lis, metricsLis net.Listener) error {
	// The servers close their listeners on shutdown; this covers failed startups.
	defer lis.Close()
	defer metricsLis.Close()

	tp, err := initTracerProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("error shutting down tracer provider")
		}
	}()

	mp, err := initMeterProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("error shutting down meter provider")
		}
	}()

	engine, err := cartstore.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.WithError(err).Warn("error closing storage engine")
		}
	}()
	log.WithField("backend", cfg.Storage.Backend).Info("storage engine initialized")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(reg)

	store := cart.NewStore(ctx, engine, cart.WithPersistHook(recorder.ObservePersist))
	updates, _ := store.Subscribe()
	go recorder.Watch(updates)

	grpcServer := grpc.NewServer(append(
		services.ProviderOptions(store),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)...)
	services.RegisterCartService(grpcServer, services.NewCartServiceServer(recorder))
	healthpb.RegisterHealthServer(grpcServer, services.NewHealthCheckService(engine, store))
	reflection.Register(grpcServer)

	httpServer := &http.Server{
		Handler: metrics.Handler(reg, func() bool {
			return store.State() == cart.Loaded && engine.Ping(ctx)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		log.Infof("cart gRPC server listening on %s", lis.Addr())
		errc <- grpcServer.Serve(lis)
	}()
	go func() {
		log.Infof("metrics server listening on %s", metricsLis.Addr())
		if err := httpServer.Serve(metricsLis); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, initiating graceful shutdown...")
	case serveErr = <-errc:
		log.WithError(serveErr).Error("server stopped unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	stopGRPC(shutdownCtx, grpcServer)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("error shutting down metrics server")
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("cart closed with unwritten changes")
		serveErr = errors.Join(serveErr, err)
	}
	log.Info("shutdown complete")
	return serveErr
}

// stopGRPC waits for in-flight RPCs until ctx is done, then closes the remaining ones.
func stopGRPC(ctx context.Context, srv *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		log.Warn("graceful stop timed out, closing open streams")
		srv.Stop()
		<-stopped
	}
}

func dumpCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the persisted cart",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := cartstore.New(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer engine.Close()

			raw, ok, err := engine.Get(cmd.Context(), cart.StorageKey)
			if err != nil {
				return err
			}
			if !ok {
				raw = "[]"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), raw)
			return err
		},
	}
}

func clearCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every key of the configured storage engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := cartstore.New(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.Clear(cmd.Context()); err != nil {
				return err
			}
			log.WithField("backend", cfg.Storage.Backend).Info("storage cleared")
			return nil
		},
	}
}
