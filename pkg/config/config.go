package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/Mutter0815/liftsmail/pkg/logx"
)

type SESConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	From      string
}

type APIConfig struct {
	Port          string
	DBDSN         string
	RMQURL        string
	Queue         string
	JWTSecret     string
	Timezone      string
	TransportMode string // queued | inline
	Mailer        string // ses | log
	SES           SESConfig
}

type WorkerConfig struct {
	RMQURL      string
	Queue       string
	Prefetch    int
	RatePerSec  float64
	Burst       int
	Mailer      string
	MetricsAddr string
	SES         SESConfig
}

type BeatConfig struct {
	DBDSN        string
	RMQURL       string
	Queue        string
	RedisAddr    string
	Timezone     string
	PollInterval time.Duration
	LockTTL      time.Duration
	MetricsAddr  string
}

var (
	API    APIConfig
	Worker WorkerConfig
	Beat   BeatConfig
)

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("QUEUE", "send_jobs")
	v.SetDefault("TIMEZONE", "Africa/Lagos")
	v.SetDefault("TRANSPORT_MODE", "queued")
	v.SetDefault("MAILER", "log")
	v.SetDefault("SES_REGION", "us-east-1")
	v.SetDefault("RMQ_PREFETCH", 10)
	v.SetDefault("SEND_RATE", 20.0)
	v.SetDefault("SEND_BURST", 5)
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("BEAT_POLL_INTERVAL", "30s")
	v.SetDefault("BEAT_LOCK_TTL", "25s")
	v.SetDefault("BEAT_METRICS_ADDR", ":9091")
	return v
}

func mustString(v *viper.Viper, k string) string {
	s := v.GetString(k)
	if s == "" {
		logx.L().Fatalw("config_missing", "key", k)
	}
	return s
}

func sesFrom(v *viper.Viper) SESConfig {
	return SESConfig{
		Region:    v.GetString("SES_REGION"),
		AccessKey: v.GetString("SES_ACCESS_KEY"),
		SecretKey: v.GetString("SES_SECRET_KEY"),
		From:      v.GetString("MAIL_FROM"),
	}
}

func MustLoadAPI() {
	v := newViper()
	API = APIConfig{
		Port:          v.GetString("PORT"),
		DBDSN:         mustString(v, "DB_DSN"),
		RMQURL:        v.GetString("RMQ_URL"),
		Queue:         v.GetString("QUEUE"),
		JWTSecret:     mustString(v, "JWT_SECRET"),
		Timezone:      v.GetString("TIMEZONE"),
		TransportMode: v.GetString("TRANSPORT_MODE"),
		Mailer:        v.GetString("MAILER"),
		SES:           sesFrom(v),
	}
	if API.TransportMode == "queued" && API.RMQURL == "" {
		logx.L().Fatalw("config_missing", "key", "RMQ_URL", "transport_mode", API.TransportMode)
	}
}

func MustLoadWorker() {
	v := newViper()
	Worker = WorkerConfig{
		RMQURL:      mustString(v, "RMQ_URL"),
		Queue:       v.GetString("QUEUE"),
		Prefetch:    v.GetInt("RMQ_PREFETCH"),
		RatePerSec:  v.GetFloat64("SEND_RATE"),
		Burst:       v.GetInt("SEND_BURST"),
		Mailer:      v.GetString("MAILER"),
		MetricsAddr: v.GetString("METRICS_ADDR"),
		SES:         sesFrom(v),
	}
}

func MustLoadBeat() {
	v := newViper()
	Beat = BeatConfig{
		DBDSN:        mustString(v, "DB_DSN"),
		RMQURL:       mustString(v, "RMQ_URL"),
		Queue:        v.GetString("QUEUE"),
		RedisAddr:    v.GetString("REDIS_ADDR"),
		Timezone:     v.GetString("TIMEZONE"),
		PollInterval: v.GetDuration("BEAT_POLL_INTERVAL"),
		LockTTL:      v.GetDuration("BEAT_LOCK_TTL"),
		MetricsAddr:  v.GetString("BEAT_METRICS_ADDR"),
	}
}

// MustLoadDSN is used by the migrate tool, which needs nothing else.
func MustLoadDSN() string {
	return mustString(newViper(), "DB_DSN")
}

// MustLoadTokens returns the signing secret and lifetime for issued tokens.
func MustLoadTokens() (string, time.Duration) {
	v := newViper()
	v.SetDefault("JWT_TTL", "720h")
	return mustString(v, "JWT_SECRET"), v.GetDuration("JWT_TTL")
}
