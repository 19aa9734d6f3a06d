package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"secret-lounge/internal/bot"
	"secret-lounge/internal/cache"
	"secret-lounge/internal/core/services"
	"secret-lounge/internal/log"
	"secret-lounge/internal/metrics"
	"secret-lounge/internal/pkg/config"
	"secret-lounge/internal/server"
	"secret-lounge/internal/storage/sqlite"
	"secret-lounge/internal/telegram"
)

// exchangeCleanupInterval — период очистки просроченных запросов обмена контактами.
const exchangeCleanupInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("application run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// run инкапсулирует всю логику инициализации и запуска приложения.
func run() error {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	flag.Parse()

	// 1. Загрузка конфигурации
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Логгер еще не инициализирован, выводим в stderr
		_, _ = fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Инициализация логгера с маскировкой токена
	logger, err := log.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format, cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	// 3. Валидация конфигурации (после инициализации логгера)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Хранилище
	store, err := sqlite.Open(cfg.Storage.Path,
		sqlite.WithLogger(logger),
		sqlite.WithBusyTimeout(cfg.Storage.BusyTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	// 5. Telegram Bot API
	if err := tgbotapi.SetLogger(log.NewTGBotAPIAdapter(logger)); err != nil {
		return fmt.Errorf("failed to set bot api logger: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to create bot api: %w", err)
	}
	logger.Info("authorized on account", slog.String("username", api.Self.UserName))

	// 6. Сервисы
	m := metrics.New()
	transport := telegram.NewTransport(api, telegram.WithLogger(logger))
	registry := services.NewRegistry(store, cfg.Relay.MaxNameWidth, logger)
	admission := services.NewAdmission(registry, store, transport,
		services.WithAdmissionLogger(logger),
		services.WithAdmissionMetrics(m),
	)
	relay := services.NewRelay(admission, registry, store, transport,
		services.WithFanoutWorkers(cfg.Relay.FanoutWorkers),
		services.WithModeratorMarker(cfg.Relay.ModeratorMarker),
		services.WithRelayLogger(logger),
		services.WithRelayMetrics(m),
	)
	if err := admission.Bootstrap(ctx, cfg.Bot.Moderators); err != nil {
		return fmt.Errorf("failed to bootstrap moderators: %w", err)
	}

	exchange := cache.NewExchangeStore()
	exchange.StartCleanupTicker(ctx, exchangeCleanupInterval)

	b := bot.NewBot(cfg, api, transport, bot.Services{
		Admission: admission,
		Relay:     relay,
		Registry:  registry,
	}, exchange, logger)

	// 7. Служебный HTTP-сервер
	var srv *server.Server
	serverDone := make(chan struct{})
	if cfg.Ops.Enabled {
		srv = server.New(cfg, store, store, m.Handler(), logger)
		go func() {
			defer close(serverDone)
			logger.Info("starting ops server", slog.String("addr", cfg.Address()))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server error", slog.String("error", err.Error()))
			}
		}()
	} else {
		close(serverDone)
	}

	// 8. Бот работает до сигнала завершения и дожидается начатых обработчиков
	logger.Info("bot started")
	b.Start(ctx)
	logger.Info("bot stopped, shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Ops.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server forced to shutdown", slog.String("error", err.Error()))
		}
	}
	<-serverDone

	logger.Info("application exited gracefully")
	return nil
}
