package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"storyforge/backend/pkg/config"
	"storyforge/backend/pkg/di"
	"storyforge/backend/pkg/router"
	"storyforge/backend/shared/observability"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the gRPC health service",
	Long: `Start the StoryForge servers.

The HTTP server exposes the /api routes, /health and /metrics. A gRPC
server on GRPC_PORT serves the standard health checking protocol.
Both stop gracefully on SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "run schema migration before serving")
}

func serve(ctx context.Context) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	log.Info("Starting application", "version", rootCmd.Version, "env", cfg.Server.Env)

	if cfg.Features.EnableTracing {
		shutdownTracing, err := observability.SetupTracing(serviceName)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(sctx)
		}()
	}

	meterProvider, err := observability.SetupPrometheusMetrics(serviceName)
	if err != nil {
		return err
	}
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()

	db, err := config.NewDB(ctx, cfg)
	if err != nil {
		return err
	}
	if autoMigrate {
		if err := migrate(db); err != nil {
			return err
		}
	}

	container, err := di.New(db, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize dependency container: %w", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.LogError(err, "Failed to release resources")
		}
	}()
	container.Health.Start(ctx)

	r := router.New(container)
	if cfg.Features.OpenAPISchemaPath != "" {
		if err := r.AddOpenAPIValidation(cfg.Features.OpenAPISchemaPath); err != nil {
			log.LogError(err, "OpenAPI validation disabled", "schema", cfg.Features.OpenAPISchemaPath)
		}
	}
	r.SetupRoutes()
	go r.RateLimiter.RunCleanup(ctx)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, container.Health.GRPCServer("storyforge.v1.Chat"))
	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	errCh := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	})
	wg.Go(func() {
		log.Info("gRPC health server starting", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		log.LogError(runErr, "Server failed")
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	grpcSrv.GracefulStop()
	wg.Wait()

	log.Info("Server exited gracefully")
	return runErr
}
