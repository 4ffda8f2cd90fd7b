// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/portal-dispatch/internal/app"
	"github.com/unclebandit/portal-dispatch/internal/config"
	"github.com/unclebandit/portal-dispatch/internal/controller"
	"github.com/unclebandit/portal-dispatch/internal/db"
	"github.com/unclebandit/portal-dispatch/internal/handler"
	"github.com/unclebandit/portal-dispatch/internal/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		panic("load config: " + err.Error())
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("init logger: " + err.Error())
	}
	defer log.Sync()

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to DB", zap.Error(err))
	}
	defer conn.Close()

	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	q, err := app.DialQueue(cfg.AMQP, log)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer q.Close()

	svc, err := app.Build(cfg, log, conn, rdb, q)
	if err != nil {
		log.Fatal("Failed to build services", zap.Error(err))
	}

	campaignController := &controller.CampaignController{
		Exclusions: svc.Exclusions,
		Recipients: svc.Resolver,
		Status:     svc.Orchestrator,
		Progress:   svc.Auditor,
		Log:        log.Named("operator"),
	}
	trackingHandler := handler.NewTrackingHandler(svc.Tracking, log.Named("track"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Public tracking pixel
	trackingHandler.Routes(r)

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(controller.RequireToken(cfg.Server.APIToken))
		r.Use(controller.Workspace)
		campaignController.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Server running", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}
