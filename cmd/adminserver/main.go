// Command adminserver exposes the admin HTTP surface: PUT/GET on an
// organization's webhook configuration, and document delete. It shares
// its object graph with cmd/worker via internal/app but runs no queue
// consumers itself.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/analytiq-hub/doc-router-sub001/internal/adminapi"
	"github.com/analytiq-hub/doc-router-sub001/internal/app"
	"github.com/analytiq-hub/doc-router-sub001/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, "adminserver", cfg)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	log := a.Log

	router := mux.NewRouter()
	router.HandleFunc("/health", a.Health.Handler("adminserver")).Methods(http.MethodGet)
	router.HandleFunc("/readyz", a.Probe.ReadinessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/livez", a.Probe.LivenessHandler()).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler := adminapi.New(a.WebhookCfg, a.Pipeline, log)
	handler.Register(router)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("adminserver starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("adminserver shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Warn("shutdown")
	}
}
