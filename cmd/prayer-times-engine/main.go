package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpapi "github.com/i474232898/prayer-times-engine/internal/api/http"
	"github.com/i474232898/prayer-times-engine/internal/config"
	"github.com/i474232898/prayer-times-engine/internal/location"
	"github.com/i474232898/prayer-times-engine/internal/notify"
	"github.com/i474232898/prayer-times-engine/internal/prayer"
	"github.com/i474232898/prayer-times-engine/internal/prayer/providers"
	"github.com/i474232898/prayer-times-engine/internal/qibla"
	"github.com/i474232898/prayer-times-engine/internal/scheduler"
	"github.com/i474232898/prayer-times-engine/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown LOG_LEVEL; using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Time-set cache: Redis when configured, in-memory otherwise.
	var cache prayer.Cache = store.NewMemoryCache()
	if cfg.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := store.NewRedisCache(pingCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; using in-memory cache")
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	// Prayer service with resilience (backoff + circuit breaker) behind the cache.
	aladhan := providers.NewAladhanProvider(httpClient, cfg.AladhanBaseURL)
	source := prayer.NewTimeSource(aladhan,
		prayer.WithCache(cache, cfg.CacheTTL, cfg.GeohashPrecision),
		prayer.WithSourceClock(func() time.Time { return time.Now().In(cfg.Location) }),
	)

	// Location: client-reported fixes first, then any headless fallback.
	device := location.NewDeviceProvider(nil)
	locator := location.Chain{device}
	if cfg.StaticCoordinate != nil {
		locator = append(locator, location.NewStaticProvider(*cfg.StaticCoordinate))
	}
	if cfg.GeocoderEnabled() {
		locator = append(locator, location.NewGeocoderProvider(cfg.GeocoderAPIKey, cfg.City, cfg.Country))
	}

	// Notification sinks.
	sink := notify.Multi{notify.LogSink{}}
	if cfg.MQTTBrokerURL != "" {
		ms, err := notify.NewMQTTSink(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopic)
		if err != nil {
			log.Warn().Err(err).Str("broker", cfg.MQTTBrokerURL).Msg("mqtt unavailable; notifications are log-only")
		} else {
			defer ms.Close()
			sink = append(sink, ms)
		}
	}

	// In-memory snapshot history with configured retention.
	history := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)
	qiblaEngine := qibla.NewEngine()

	engine := prayer.NewEngine(source, locator, sink,
		prayer.WithClock(prayer.SystemClock(cfg.Location)),
		prayer.WithMethod(cfg.PrayerMethod),
		prayer.WithLocationOptions(cfg.LocationOptions),
		prayer.WithHistory(history, cfg.GeohashPrecision),
		prayer.WithCommitHook(func(s prayer.Snapshot) {
			if s.Coordinate == nil {
				return
			}
			if err := qiblaEngine.SetCoordinate(*s.Coordinate); err != nil {
				log.Warn().Err(err).Msg("qibla: keeping previous bearing")
			}
		}),
	)
	defer engine.Close()

	// Scheduler for the countdown tick and the daily refresh.
	sched := scheduler.New(engine, cfg.TickInterval, cfg.DailyRefreshAt, cfg.Location)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "prayer-times-engine",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.LocationOptions.Timeout + cfg.HTTPTimeout + 5*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "prayer-times-engine",
			"state":   engine.State(),
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Engine:    engine,
		Qibla:     qiblaEngine,
		Device:    device,
		History:   history,
		Precision: cfg.GeohashPrecision,
		Now:       func() time.Time { return time.Now().In(cfg.Location) },
	})

	// Start server with graceful shutdown
	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()
	log.Info().Str("port", cfg.Port).Str("timezone", cfg.Location.String()).Msg("prayer-times-engine started")

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
}
