package main

import (
	"context"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/tradejournal/backend/src/config"
	"github.com/username/tradejournal/backend/src/database"
	"github.com/username/tradejournal/backend/src/handlers"
	"github.com/username/tradejournal/backend/src/logger"
	"github.com/username/tradejournal/backend/src/services"
	"github.com/username/tradejournal/backend/src/sessions"
	"github.com/username/tradejournal/backend/src/storage"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Trade journal backend server starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	db, err := database.InitDB(config.Cfg.DatabasePath)
	if err != nil {
		logger.L.Error("Failed to initialize database", "error", err)
		stdlog.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	fileStore, err := storage.NewDiskFileStore(config.Cfg.UploadDir)
	if err != nil {
		logger.L.Error("Failed to initialize file store", "error", err)
		stdlog.Fatalf("Failed to initialize file store: %v", err)
	}

	logger.L.Info("Initializing session registry...")
	registry := sessions.NewRegistry(sessions.NewSQLiteStore(db), fileStore, config.Cfg.SessionTTL)
	if err := registry.LoadActive(context.Background()); err != nil {
		logger.L.Error("Failed to recover session records", "error", err)
		stdlog.Fatalf("Failed to recover session records: %v", err)
	}

	cleaner := sessions.NewCleaner(registry, config.Cfg.CleanupInterval)
	cleaner.Start()

	parseCache := cache.New(config.Cfg.SessionTTL, 2*config.Cfg.SessionTTL)
	tradeStore := services.NewSQLiteTradeStore(db)
	importService := services.NewImportService(registry, fileStore, tradeStore, parseCache, config.Cfg.AllowReexecute)
	importHandler := handlers.NewImportHandler(importService)

	logger.L.Info("Configuring routes...")
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Trade journal backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(handlers.AuthMiddleware(config.Cfg.JWTSecret))

		r.Post("/import/sessions", importHandler.HandleCreateSession)
		r.Get("/import/sessions/{sessionID}", importHandler.HandleGetSession)
		r.Delete("/import/sessions/{sessionID}", importHandler.HandleDeleteSession)
		r.Post("/import/sessions/{sessionID}/preview", importHandler.HandlePreview)
		r.Post("/import/sessions/{sessionID}/execute", importHandler.HandleExecute)
		r.Get("/trades", importHandler.HandleListTrades)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.L.Info("Server starting", "address", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.Error("Failed to start server", "error", err)
			stdlog.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	logger.L.Info("Shutdown signal received, draining...")

	drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(drainCtx); err != nil {
		logger.L.Error("Server shutdown failed", "error", err)
	}

	cleaner.Stop()
	logger.L.Info("Server stopped gracefully.")
}
