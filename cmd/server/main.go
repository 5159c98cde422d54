package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"liquidreader/internal/api"
	"liquidreader/internal/book"
	"liquidreader/internal/config"
	"liquidreader/internal/health"
	"liquidreader/internal/logging"
	"liquidreader/internal/progress"
	"liquidreader/internal/session"
	"liquidreader/internal/storage"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/dev.example.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting liquidreader server",
		zap.String("version", version),
		zap.String("config", *configPath))

	// Storage adapter for raw book files
	storageAdapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		logger.Fatal("failed to create storage adapter", zap.Error(err))
	}
	defer storageAdapter.Close()
	logger.Info("storage adapter initialized", zap.String("adapter", cfg.Storage.Adapter))

	// Book metadata repository
	bookRepo, err := book.NewRepository(cfg.Repository, storageAdapter)
	if err != nil {
		logger.Fatal("failed to create book repository", zap.Error(err))
	}
	defer bookRepo.Close()
	logger.Info("book repository initialized", zap.String("backend", cfg.Repository.Backend))

	// Reading sessions talk to the progress store through a gateway: the
	// local repository for self-hosted deployments, or the HTTP client
	// when a remote backend owns the shelf.
	var gateway progress.Gateway
	switch cfg.Gateway.Mode {
	case "remote":
		sessionCtx := progress.NewSessionContext(cfg.Gateway.Token)
		gateway = progress.NewHTTPGateway(cfg.Gateway.BaseURL, sessionCtx)
		logger.Info("progress gateway initialized",
			zap.String("mode", "remote"),
			zap.String("base_url", cfg.Gateway.BaseURL))
	default:
		gateway = progress.NewLocalGateway(bookRepo)
		logger.Info("progress gateway initialized", zap.String("mode", "local"))
	}

	sessionManager := session.NewManager(gateway, storageAdapter, cfg.Reader, cfg.Server.PublicBaseURL, logger)
	defer sessionManager.Shutdown()

	// Health checks
	healthHandler := health.NewHandler(version)
	healthHandler.Register("storage", health.StorageCheck(storageAdapter))
	healthHandler.Register("repository", health.RepositoryCheck(bookRepo))

	// Routes
	mux := http.NewServeMux()

	mux.HandleFunc("/health/live", healthHandler.LivenessHandler())
	mux.HandleFunc("/health/ready", healthHandler.ReadinessHandler())
	mux.HandleFunc("/health", healthHandler.HealthHandler())

	bookHandler := api.NewBookHandler(bookRepo, storageAdapter, logger)
	sessionHandler := api.NewSessionHandler(sessionManager, logger)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/v1/books", bookHandler.ListBooks)
	apiMux.HandleFunc("/api/v1/books/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if strings.HasSuffix(path, "/progress") {
			bookHandler.SaveProgress(w, r)
		} else if r.Method == http.MethodDelete {
			bookHandler.DeleteBook(w, r)
		} else {
			bookHandler.GetBook(w, r)
		}
	})
	apiMux.HandleFunc("/api/v1/sessions", sessionHandler.OpenSession)
	apiMux.HandleFunc("/api/v1/sessions/", sessionHandler.Route)
	apiMux.HandleFunc("/uploads/", bookHandler.ServeFile)

	mux.Handle("/api/v1/", api.RequireToken(cfg.Auth.Token, apiMux))
	mux.Handle("/uploads/", api.RequireToken(cfg.Auth.Token, apiMux))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
