package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"weatherview/internal/cache"
	"weatherview/internal/config"
	"weatherview/internal/geo"
	"weatherview/internal/httpapi"
	"weatherview/internal/mqtt"
	"weatherview/internal/observability"
	"weatherview/internal/owm"
	"weatherview/internal/realtime"
	"weatherview/internal/view"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
)

const serviceName = "weatherview"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	shutdownObs, promHandler, tracer, err := observability.SetupObservability(serviceName, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("observability setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownObs()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var maintenance []func()
	var store cache.Store
	switch {
	case cfg.GeocodeCacheTTL <= 0:
		slog.Info("geocode cache disabled")
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			slog.Warn("redis unreachable, geocode lookups will miss until it recovers", "addr", cfg.RedisAddr, "error", err)
		}
		pingCancel()
		store = cache.NewRedis(rdb, serviceName+":", cfg.GeocodeCacheTTL)
		slog.Info("geocode cache using redis", "addr", cfg.RedisAddr, "ttl", cfg.GeocodeCacheTTL)
	default:
		mem := cache.New(cfg.GeocodeCacheTTL)
		store = mem
		maintenance = append(maintenance, func() { mem.Sweep() })
	}

	owmClient := owm.New(cfg.OWMConfig(store))
	if cfg.OpenWeatherAPIKey == "" {
		slog.Warn("OPENWEATHER_API_KEY is empty; upstream requests will be rejected")
	}

	hub := realtime.NewHub()
	listeners := view.Listeners{hub}
	var announcer *mqtt.BackgroundAnnouncer
	if cfg.MQTTBrokerURL != "" {
		mq, err := mqtt.Connect(cfg.MQTTBrokerURL)
		if err != nil {
			slog.Error("mqtt connect failed, background events disabled", "error", err)
		} else {
			defer mq.Close()
			announcer = mqtt.NewBackgroundAnnouncer(mq, cfg.MQTTTopicPrefix)
			listeners = append(listeners, announcer)
			go announcer.Run(ctx)
		}
	}

	views := view.NewRegistry(owmClient, view.Options{
		GeolocationTimeout: cfg.GeolocationTimeout,
		Location:           cfg.Location,
		Listener:           listeners,
	}, cfg.ViewIdleTTL)
	views.OnRemove = func(id string) {
		hub.CloseView(id)
		if announcer != nil {
			announcer.Forget(id)
		}
	}
	go views.RunEviction(ctx, time.Minute, maintenance...)

	var ipLocator *geo.IPLocator
	if cfg.GeoIPBaseURL != "" {
		ipLocator = &geo.IPLocator{BaseURL: cfg.GeoIPBaseURL, HTTPClient: &http.Client{Timeout: cfg.GeolocationTimeout}}
	}

	srv := httpapi.NewServer(httpapi.Options{
		Views:     views,
		Weather:   owmClient,
		Hub:       hub,
		IPLocator: ipLocator,
		Location:  cfg.Location,
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(observability.MetricsAndTracingMiddleware(tracer, serviceName))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Trace-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promHandler)

	r.Route("/api", srv.RegisterRoutes)

	// No WriteTimeout: the view WebSocket stream is long-lived.
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("weatherview started", "port", cfg.Port, "units", cfg.Units, "idle_ttl", cfg.ViewIdleTTL)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	case "pretty":
		h = tint.NewHandler(os.Stdout, &tint.Options{Level: lvl, TimeFormat: time.Kitchen})
	default:
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(h).With("service", serviceName))
}
