package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-hr-clearance/internal/client"
	"github.com/pesio-ai/be-hr-clearance/internal/config"
	"github.com/pesio-ai/be-hr-clearance/internal/database"
	"github.com/pesio-ai/be-hr-clearance/internal/handler"
	"github.com/pesio-ai/be-hr-clearance/internal/logger"
	"github.com/pesio-ai/be-hr-clearance/internal/metrics"
	"github.com/pesio-ai/be-hr-clearance/internal/repository"
	"github.com/pesio-ai/be-hr-clearance/internal/service"
	"github.com/pesio-ai/be-hr-clearance/internal/workflow"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Database.Driver).
		Msg("Starting Clearance Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load the step catalog
	catalog, err := workflow.LoadCatalogFile(cfg.Workflow.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Workflow.CatalogPath).Msg("Failed to load step catalog")
	}
	log.Info().Int("steps", catalog.Len()).Msg("Step catalog loaded")

	// Initialize store
	var store repository.Store
	switch cfg.Database.Driver {
	case config.StoreDriverPostgres:
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Database connection established")
		store = repository.NewPostgresStore(db)
	default:
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Event publisher
	var publisher client.EventPublisher = client.NoopPublisher{}
	if cfg.NATS.Enabled() {
		natsPublisher, closeNATS, err := client.ConnectNATS(ctx, client.NATSConfig{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ClientName:    cfg.Service.Name,
		}, m, log.WithComponent("events").Logger)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("Failed to connect to NATS")
		}
		defer closeNATS()
		publisher = natsPublisher
		log.Info().Str("stream", cfg.NATS.Stream).Msg("Event publishing enabled")
	}

	// Initialize services
	engine := workflow.NewEngine(catalog)
	clearanceService := service.NewClearanceService(store, engine, publisher, m, log)

	// HTTP server
	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Disabled)
	if cfg.Auth.Disabled {
		log.Warn().Msg("Authentication disabled; identity is taken from request headers")
	}
	router := handler.NewRouter(handler.NewHTTPHandler(clearanceService, log), handler.RouterConfig{
		Auth:     auth,
		Health:   store,
		Gatherer: reg,
		Timeout:  cfg.Server.RequestTimeout,
		Log:      log,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.LoggingInterceptor(log.WithComponent("grpc").Logger),
		handler.AuthInterceptor(auth),
	))
	handler.RegisterClearanceServer(grpcServer, handler.NewGRPCHandler(clearanceService, log.Logger))
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
