package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"wisefido-checkin/internal/classifier"
	"wisefido-checkin/internal/common/database"
	"wisefido-checkin/internal/common/logger"
	commonmqtt "wisefido-checkin/internal/common/mqtt"
	rediscommon "wisefido-checkin/internal/common/redis"
	"wisefido-checkin/internal/config"
	"wisefido-checkin/internal/consumer"
	httpapi "wisefido-checkin/internal/http"
	"wisefido-checkin/internal/metrics"
	"wisefido-checkin/internal/provider"
	"wisefido-checkin/internal/publisher"
	"wisefido-checkin/internal/repository"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-checkin")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	mc := metrics.NewCollector()

	// 1. session store: Postgres, or in-memory for local runs
	var db *sql.DB
	var sessions repository.SessionStore
	if cfg.DBEnabled {
		db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		sessions = repository.NewPostgresSessionStore(db, log)
		log.Info("DB enabled for wisefido-checkin", zap.String("host", cfg.Database.Host))
	} else {
		sessions = repository.NewMemorySessionStore()
		log.Warn("DB disabled, sessions are kept in memory only")
	}

	// 2. optional Redis: scheduler heartbeat + event stream
	var kv store.KV = store.NewMemoryKV()
	var sinks []publisher.EventSink
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rediscommon.Ping(pingCtx, redisClient)
		cancel()
		if err != nil {
			log.Warn("Redis enabled but unreachable, using in-memory heartbeat and no event stream", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		} else {
			kv = store.NewRedisKV(redisClient)
			sinks = append(sinks, publisher.NewRedisStreamSink(redisClient, cfg.EventStream.Name, cfg.EventStream.MaxLen))
			log.Info("Redis enabled", zap.String("addr", cfg.Redis.Addr), zap.String("stream", cfg.EventStream.Name))
		}
	}

	// 3. optional MQTT: retained per-session status
	var mqttClient *commonmqtt.Client
	if cfg.MQTTEnabled {
		mqttClient, err = commonmqtt.NewClient(&cfg.MQTT, log)
		if err != nil {
			log.Warn("MQTT enabled but connection failed, status topics disabled", zap.Error(err))
		} else {
			sinks = append(sinks, publisher.NewMQTTStatusSink(mqttClient, cfg.MQTTTopic, cfg.MQTT.QoS))
		}
	}

	// 4. voice/SMS provider
	var notifier provider.NotificationProvider
	switch cfg.Provider.Kind {
	case config.ProviderTwilio:
		notifier = provider.NewTwilioProvider(provider.TwilioOptions{
			APIBaseURL:        cfg.Provider.APIBaseURL,
			AccountSID:        cfg.Provider.AccountSID,
			AuthToken:         cfg.Provider.AuthToken,
			FromNumber:        cfg.Provider.FromNumber,
			CallbackBaseURL:   cfg.PublicBaseURL,
			MessagesPerSecond: cfg.Provider.MessagesPerSecond,
			Timeout:           cfg.Provider.Timeout,
		}, log)
	default:
		notifier = provider.NewLogProvider(log)
	}

	// 5. distress classifier
	var cls classifier.DistressClassifier = classifier.NopClassifier{}
	if cfg.Classifier.Endpoint != "" {
		cls = classifier.NewHTTPClassifier(classifier.Options{
			Endpoint:      cfg.Classifier.Endpoint,
			APIKey:        cfg.Classifier.APIKey,
			Model:         cfg.Classifier.Model,
			Timeout:       cfg.Classifier.Timeout,
			FailurePolicy: cfg.Classifier.FailurePolicy,
		}, log)
	} else {
		log.Warn("No classifier endpoint configured, ambiguous transcripts complete without escalation")
	}

	// 6. services
	events := service.NewEventRecorder(sessions, log, sinks...)
	ladder := service.NewEscalationLadder(notifier, events, mc, cfg.PublicBaseURL, log)
	controller := service.NewSessionController(sessions, events, cls, ladder, mc, cfg.Classifier.Threshold, log)
	svc := service.NewSessionService(sessions, controller, ladder, kv, log)

	if redisClient != nil {
		svc.AddCheck("redis", func(ctx context.Context) error { return rediscommon.Ping(ctx, redisClient) })
	}
	if mqttClient != nil {
		svc.AddCheck("mqtt", func(context.Context) error {
			if !mqttClient.IsConnected() {
				return fmt.Errorf("not connected")
			}
			return nil
		})
	}
	svc.SetSetting("provider", cfg.Provider.Kind)
	svc.SetSetting("classifier_failure_policy", cfg.Classifier.FailurePolicy)
	svc.SetSetting("classifier_threshold", strconv.FormatFloat(cfg.Classifier.Threshold, 'f', -1, 64))
	svc.SetSetting("scheduler_poll_interval", cfg.Scheduler.PollInterval.String())
	svc.SetSetting("scheduler_concurrency", strconv.Itoa(cfg.Scheduler.Concurrency))
	svc.SetSetting("scheduler_max_attempts", strconv.Itoa(cfg.Scheduler.MaxAttempts))
	svc.SetSetting("active_grace_period", cfg.Scheduler.ActiveGracePeriod.String())

	// 7. HTTP
	router := httpapi.NewRouter(log)
	router.RegisterSessionRoutes(httpapi.NewSessionHandler(svc, log))
	router.RegisterCallbackRoutes(httpapi.NewCallbackHandler(controller, cfg.PublicBaseURL, log))
	router.RegisterAdminRoutes(httpapi.NewAdminHandler(svc, log), cfg.Admin.Token)
	router.RegisterOpsRoutes(func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}, mc.Handler())
	if cfg.Admin.Token == "" {
		log.Warn("ADMIN_TOKEN not set, admin routes are open")
	}

	srv := service.NewServer(cfg.HTTP, router, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := consumer.NewDueSessionPoller(cfg.Scheduler, sessions, controller, notifier, kv, mc, log)
	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		_ = poller.Start(ctx)
	}()

	// Run returns after ctx is done and in-flight requests drained, or on listener failure
	if err := srv.Run(ctx); err != nil {
		log.Error("HTTP server failed", zap.Error(err))
	}
	log.Info("Shutting down")
	stop()

	select {
	case <-pollerDone:
	case <-time.After(cfg.HTTP.ShutdownTimeout):
		log.Warn("Scheduler did not stop in time")
	}

	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = rediscommon.Close(redisClient)
	}
	_ = database.Close(db)
}
