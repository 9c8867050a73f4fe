package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mutter0815/liftsmail/internal/transport"
	"github.com/Mutter0815/liftsmail/pkg/config"
	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
	"github.com/Mutter0815/liftsmail/pkg/rmq"
	"github.com/Mutter0815/liftsmail/services/sender-worker/worker"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadWorker()
	cfg := config.Worker

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mailer, err := transport.NewMailer(ctx, cfg.Mailer, cfg.SES)
	if err != nil {
		logx.L().Fatalw("mailer_init_error", "mailer", cfg.Mailer, "error", err)
	}

	cons, err := rmq.NewConsumer(cfg.RMQURL, cfg.Queue, cfg.Prefetch)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer func() {
		if err := cons.Close(); err != nil {
			logx.L().Warnw("rmq_consumer_close_error", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	msrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logx.L().Infow("metrics_listen_start", "addr", cfg.MetricsAddr)
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Errorw("metrics_server_error", "error", err)
		}
	}()

	lim := rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	w := worker.New(cons, mailer, lim)
	logx.L().Infow("worker_config", "queue", cfg.Queue, "prefetch", cfg.Prefetch, "rate", cfg.RatePerSec, "mailer", cfg.Mailer)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.L().Errorw("worker_error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = msrv.Shutdown(shutdownCtx)
	logx.L().Infow("sender-worker stopped gracefully")
}
