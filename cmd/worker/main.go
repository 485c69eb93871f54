// Command worker runs the queue consumers that advance documents through
// ocr -> llm -> kb_index and deliver webhooks, plus the background sweeps
// that recover stuck messages and re-drive due webhook retries.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/analytiq-hub/doc-router-sub001/internal/app"
	"github.com/analytiq-hub/doc-router-sub001/internal/config"
	"github.com/analytiq-hub/doc-router-sub001/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, "worker", cfg)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	log := a.Log

	var wg sync.WaitGroup

	consumers := []struct {
		queue   string
		handler func(context.Context, json.RawMessage) error
	}{
		{pipeline.QueueOCR, a.Pipeline.HandleOCR},
		{pipeline.QueueLLM, a.Pipeline.HandleLLM},
		{pipeline.QueueKBIndex, a.Pipeline.HandleKBIndex},
		{pipeline.QueueWebhook, a.Pipeline.HandleWebhook},
	}

	for _, c := range consumers {
		wg.Add(1)
		go runConsumer(ctx, &wg, a, c.queue, c.handler)
	}

	wg.Add(1)
	go runRecoverySweep(ctx, &wg, a)

	wg.Add(1)
	go runSchedulerSweep(ctx, &wg, a)

	healthServer := startHealthServer(ctx, a)

	log.Info("worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("worker shutting down")
	cancel()

	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = healthServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(cfg.Webhook.ShutdownGrace):
		log.Warn("worker: shutdown grace period elapsed, exiting with workers still draining")
	}
}

// startHealthServer serves /health and /metrics on the worker's own port
// so it can be scraped/probed independently of the admin server. A
// HealthPort of 0 disables it.
func startHealthServer(ctx context.Context, a *app.App) *http.Server {
	if a.Config.Worker.HealthPort <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/health", a.Health.Handler("worker"))
	mux.HandleFunc("/readyz", a.Probe.ReadinessHandler())
	mux.HandleFunc("/livez", a.Probe.LivenessHandler())
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Worker.HealthPort),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Log.WithContext(ctx).WithField("error", err).Error("worker health server")
		}
	}()
	return server
}

// runConsumer repeatedly claims a message from queueName via long-poll
// RecvWithTimeout, runs handler, and always completes it. The queue
// itself never auto-fails a message (spec.md §4.2); a handler is its
// own error firewall — every failure branch it owns resolves into
// document/delivery state, so any error reaching here is logged and the
// message is still marked completed rather than dead-lettered, per
// spec.md §4.4's "a handler exception never propagates past the message
// boundary."
func runConsumer(ctx context.Context, wg *sync.WaitGroup, a *app.App, queueName string, handler func(context.Context, json.RawMessage) error) {
	defer wg.Done()
	log := a.Log.WithContext(ctx).WithField("queue", queueName)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := a.Queue.RecvWithTimeout(ctx, queueName, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithField("error", err).Error("recv")
			continue
		}
		if msg == nil {
			continue
		}

		if handleErr := handler(ctx, msg.Payload); handleErr != nil {
			log.WithField("msg_id", msg.ID).WithField("error", handleErr).Error("handler returned an error despite being its own error firewall")
		}
		if err := a.Queue.Complete(ctx, msg.ID, "completed"); err != nil {
			log.WithField("msg_id", msg.ID).WithField("error", err).Error("complete")
		}
	}
}

// runRecoverySweep periodically sweeps messages stuck in "processing"
// (worker crashed mid-handle) back to "pending" across every queue.
func runRecoverySweep(ctx context.Context, wg *sync.WaitGroup, a *app.App) {
	defer wg.Done()
	log := a.Log.WithContext(ctx)
	interval := a.Config.Queue.RecoverySweep
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	queues := []string{pipeline.QueueOCR, pipeline.QueueLLM, pipeline.QueueKBIndex, pipeline.QueueWebhook}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, qn := range queues {
				n, err := a.Queue.RecoverStale(ctx, qn, a.Config.Queue.VisibilityTimeout)
				if err != nil {
					log.WithField("queue", qn).WithField("error", err).Error("recover stale")
					continue
				}
				if n > 0 {
					log.WithField("queue", qn).WithField("recovered", n).Info("recovered stale messages")
				}
			}
		}
	}
}

// runSchedulerSweep picks up webhook deliveries whose next_attempt_at has
// come due and re-enqueues them, covering the case where a delivery's
// retry was scheduled but the worker that would have woken for it was
// never running (e.g. after a restart).
func runSchedulerSweep(ctx context.Context, wg *sync.WaitGroup, a *app.App) {
	defer wg.Done()
	log := a.Log.WithContext(ctx)
	interval := a.Config.Webhook.SchedulerSweep
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := a.Deliveries.DueForRetry(ctx, 100)
			if err != nil {
				log.WithField("error", err).Error("due for retry")
				continue
			}
			for _, d := range due {
				if _, err := a.Queue.Send(ctx, pipeline.QueueWebhook, pipeline.WebhookMessage{DeliveryID: d.ID}); err != nil {
					log.WithField("delivery_id", d.ID).WithField("error", err).Error("re-enqueue due delivery")
				}
			}
		}
	}
}
