package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mutter0815/liftsmail/internal/auth"
	"github.com/Mutter0815/liftsmail/internal/mailing"
	"github.com/Mutter0815/liftsmail/internal/recurrence"
	"github.com/Mutter0815/liftsmail/internal/render"
	"github.com/Mutter0815/liftsmail/internal/store"
	"github.com/Mutter0815/liftsmail/internal/transport"
	"github.com/Mutter0815/liftsmail/pkg/config"
	"github.com/Mutter0815/liftsmail/pkg/db"
	"github.com/Mutter0815/liftsmail/pkg/logx"
	"github.com/Mutter0815/liftsmail/pkg/rmq"
	"github.com/Mutter0815/liftsmail/services/mail-api/server"
)

func main() {
	logx.Init()
	defer logx.Sync()

	config.MustLoadAPI()
	cfg := config.API

	sqlDB, err := db.Open(cfg.DBDSN)
	if err != nil {
		logx.L().Fatalw("db_open_error", "error", err)
	}
	defer func() {
		if err := sqlDB.Close(); err != nil {
			logx.L().Warnw("db_close_error", "error", err)
		} else {
			logx.L().Infow("db_closed")
		}
	}()
	st := store.New(sqlDB)

	compiler, err := recurrence.LoadCompiler(cfg.Timezone)
	if err != nil {
		logx.L().Fatalw("timezone_error", "timezone", cfg.Timezone, "error", err)
	}

	mode, err := transport.ParseMode(cfg.TransportMode)
	if err != nil {
		logx.L().Fatalw("transport_mode_error", "error", err)
	}

	var sink transport.Sink
	switch mode {
	case transport.ModeQueued:
		pub, err := rmq.NewPublisher(cfg.RMQURL, cfg.Queue)
		if err != nil {
			logx.L().Fatalw("rmq_init_error", "error", err)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				logx.L().Warnw("rmq_publisher_close_error", "error", err)
			} else {
				logx.L().Infow("rmq_publisher_closed")
			}
		}()
		sink, err = transport.NewSink(mode, pub, nil)
		if err != nil {
			logx.L().Fatalw("sink_init_error", "error", err)
		}
	case transport.ModeInline:
		mailer, err := transport.NewMailer(context.Background(), cfg.Mailer, cfg.SES)
		if err != nil {
			logx.L().Fatalw("mailer_init_error", "mailer", cfg.Mailer, "error", err)
		}
		sink, err = transport.NewSink(mode, nil, mailer)
		if err != nil {
			logx.L().Fatalw("sink_init_error", "error", err)
		}
	}

	env := mailing.DefaultEnv()
	renderer := render.New()
	validator := mailing.NewValidator(st, compiler.Location(), env)
	pipeline := mailing.NewPipeline(renderer, compiler, sink, st, env)

	h := server.NewHandlers(st, validator, pipeline, renderer)
	srv := server.NewHTTPServer(":"+cfg.Port, h, auth.NewTokens(cfg.JWTSecret, 0))

	go func() {
		logx.L().Infow("api_listen_start", "addr", ":"+cfg.Port, "transport", mode, "timezone", cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.L().Fatalw("http_server_error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logx.L().Infow("signal_received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logx.L().Errorw("server_shutdown_error", "error", err)
	} else {
		logx.L().Infow("server_shutdown_success")
	}

	logx.L().Infow("mail-api stopped gracefully")
}
