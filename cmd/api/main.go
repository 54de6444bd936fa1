package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relaysms/contact-gateway/internal/auth"
	"github.com/relaysms/contact-gateway/internal/carrier"
	"github.com/relaysms/contact-gateway/internal/config"
	"github.com/relaysms/contact-gateway/internal/dispatch"
	"github.com/relaysms/contact-gateway/internal/handlers"
	"github.com/relaysms/contact-gateway/internal/phone"
	"github.com/relaysms/contact-gateway/internal/pipeline"
	"github.com/relaysms/contact-gateway/internal/ratelimit"
	"github.com/relaysms/contact-gateway/internal/realtime"
	"github.com/relaysms/contact-gateway/internal/repository"
	xhttp "github.com/relaysms/contact-gateway/pkg/http"
	"github.com/relaysms/contact-gateway/pkg/logger"
	"github.com/relaysms/contact-gateway/pkg/pg"
	"github.com/relaysms/contact-gateway/pkg/prom"
	"github.com/relaysms/contact-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	if config.Get().AppDebugMetricsAddr != "" {
		if err := prom.Create(config.Get().AppDebugMetricsAddr, config.Get().AppEnv, config.Get().PromNamespace); err != nil {
			logger.Error("failed creating metrics system", "error", err)
		} else {
			go prom.ListenAndServer(config.Get().AppDebugMetricsAddr, config.Get().AppDebugMetricsURI)
		}
	}

	// repositories
	messageRepo := repository.NewMessageRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	contactRepo := repository.NewContactRepository(db)

	// realtime hub + notifier
	hub := realtime.NewHub()
	notifier := realtime.NewNotifier(hub)

	// carrier client. No base url means simulated mode.
	var carrierClient carrier.Client
	if baseURL := config.Get().CarrierBaseURL; baseURL != "" {
		carrierClient, err = carrier.NewHTTPClient(&carrier.Config{
			BaseURL: baseURL,
			Timeout: config.Get().CarrierTimeout,
		})
		if err != nil {
			logger.Error("failed creating carrier client", "error", err)
			return
		}
	} else {
		logger.Warn("no carrier configured, dispatching in simulated mode")
	}

	normalizer := phone.NewNormalizer(config.Get().DefaultCountryCode)
	limiter := ratelimit.NewLimiter(redisAdap, config.Get().RateLimitPerHour, time.Hour)

	dispatcher := dispatch.NewDispatcher(normalizer, limiter, carrierClient, recipientRepo, notifier, dispatch.Config{
		BasePrice:      config.Get().SMSBasePrice,
		IntlMultiplier: config.Get().SMSIntlMultiplier,
		FromNumber:     config.Get().CarrierFromNumber,
	})
	defer dispatcher.Close()

	bulk := dispatch.NewBulkDispatcher(dispatcher, dispatch.BulkConfig{
		BatchSize:  config.Get().BulkBatchSize,
		BatchDelay: config.Get().BulkBatchDelay,
	})

	pipe := pipeline.NewPipeline(messageRepo, recipientRepo, contactRepo, bulk, notifier, db, normalizer)

	// scheduled sends
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go pipeline.NewScheduler(pipe, config.Get().SchedulerInterval).Run(schedCtx)

	// v1 handlers
	verifier := auth.NewVerifier(config.Get().AuthTokenSecret)
	messageHandler := handlers.NewMessageHandler(pipe, verifier)
	healthHandler := handlers.NewHealthHandler(nil)
	var allowedOrigins []string
	for _, origin := range strings.Split(config.Get().WSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins = append(allowedOrigins, origin)
		}
	}
	wsHandler := handlers.NewWSHandler(hub, verifier, allowedOrigins)

	g := s.Router.Group("/api/v1")
	handlers.RegisterMessageRoutes(g, messageHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)
	handlers.RegisterWSRoutes(g, wsHandler)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()
	logger.Info("gateway started",
		"addr", config.Get().HttpListenAddr,
		"version", version, "commit", commit, "built", date)

	<-c
	stopScheduler()
	s.Shutdown()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
