package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mutter0815/liftsmail/internal/distlock"
	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/internal/recurrence"
	"github.com/Mutter0815/liftsmail/internal/render"
	"github.com/Mutter0815/liftsmail/internal/store"
	"github.com/Mutter0815/liftsmail/internal/transport"
	"github.com/Mutter0815/liftsmail/pkg/config"
	"github.com/Mutter0815/liftsmail/pkg/db"
	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/metrics"
	"github.com/Mutter0815/liftsmail/pkg/rmq"
	"github.com/Mutter0815/liftsmail/services/scheduler-beat/beat"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadBeat()
	cfg := config.Beat

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer sqlDB.Close()
	st := store.New(sqlDB)

	pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
	if err != nil {
		logx.L().Fatalw("rmq_init_error", "error", err)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logx.L().Warnw("rmq_publisher_close_error", "error", err)
		}
	}()

	compiler, err := recurrence.LoadCompiler(cfg.Timezone)
	if err != nil {
		logx.L().Fatalw("timezone_error", "timezone", cfg.Timezone, "error", err)
	}
	pipeline := mailing.NewPipeline(render.New(), compiler, transport.NewQueueSink(pub), st, mailing.DefaultEnv())

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logx.L().Fatalw("redis_ping_error", "addr", cfg.RedisAddr, "error", err)
	}
	lock, err := distlock.NewRedisLock(rdb, "scheduler-beat", cfg.LockTTL)
	if err != nil {
		logx.L().Fatalw("lock_init_error", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	msrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logx.L().Infow("metrics_listen_start", "addr", cfg.MetricsAddr)
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Errorw("metrics_server_error", "error", err)
		}
	}()

	b := beat.New(st, pipeline, lock, cfg.PollInterval, cfg.LockTTL)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logx.L().Errorw("beat_error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = msrv.Shutdown(shutdownCtx)
	logx.L().Infow("scheduler-beat stopped gracefully")
}
