// Package config предоставляет управление конфигурацией приложения
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Переменные окружения, которые переопределяют значения из файла.
const (
	EnvBotToken  = "LOUNGE_BOT_TOKEN"
	EnvDBPath    = "LOUNGE_DB_PATH"
	EnvLogLevel  = "LOUNGE_LOG_LEVEL"
	EnvLogFormat = "LOUNGE_LOG_FORMAT"
	EnvOpsPort   = "LOUNGE_OPS_PORT"
)

// ColumnWidths определяет ширину колонок для текстового списка участников.
type ColumnWidths struct {
	Name int `yaml:"name"`
	Role int `yaml:"role"`
}

// Bot содержит конфигурацию Telegram-бота
type Bot struct {
	Token                string       `yaml:"token"`
	PollTimeoutSeconds   int          `yaml:"poll_timeout_seconds"`
	MaxConcurrentUpdates int          `yaml:"max_concurrent_updates"`
	TextsDir             string       `yaml:"texts_dir"`
	Moderators           []int64      `yaml:"moderators"`
	RosterExcelThreshold int          `yaml:"roster_excel_threshold"`
	Render               ColumnWidths `yaml:"render"`
}

// Storage содержит конфигурацию базы данных
type Storage struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// Relay содержит конфигурацию рассылки
type Relay struct {
	FanoutWorkers   int    `yaml:"fanout_workers"`
	ModeratorMarker string `yaml:"moderator_marker"`
	MaxNameWidth    int    `yaml:"max_name_width"`
}

// Ops содержит конфигурацию служебного HTTP-сервера
type Ops struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Exchange содержит конфигурацию обмена контактами
type Exchange struct {
	RequestTTL time.Duration `yaml:"request_ttl"`
}

// Logging содержит конфигурацию логирования
type Logging struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Config содержит конфигурацию приложения
type Config struct {
	Bot      Bot      `yaml:"bot"`
	Storage  Storage  `yaml:"storage"`
	Relay    Relay    `yaml:"relay"`
	Ops      Ops      `yaml:"ops"`
	Exchange Exchange `yaml:"exchange"`
	Logging  Logging  `yaml:"logging"`
}

// defaultConfig возвращает конфигурацию со значениями по умолчанию.
func defaultConfig() *Config {
	return &Config{
		Bot: Bot{
			PollTimeoutSeconds:   DefaultPollTimeoutSeconds,
			MaxConcurrentUpdates: DefaultMaxConcurrentUpdates,
			TextsDir:             DefaultTextsDir,
			RosterExcelThreshold: DefaultRosterExcelThreshold,
			Render: ColumnWidths{
				Name: DefaultNameColumnWidth,
				Role: DefaultRoleColumnWidth,
			},
		},
		Storage: Storage{
			Path:        DefaultDBPath,
			BusyTimeout: DefaultBusyTimeout,
		},
		Relay: Relay{
			FanoutWorkers:   DefaultFanoutWorkers,
			ModeratorMarker: DefaultModeratorMarker,
			MaxNameWidth:    DefaultMaxNameWidth,
		},
		Ops: Ops{
			Enabled:         true,
			Host:            DefaultOpsHost,
			Port:            DefaultOpsPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Exchange: Exchange{
			RequestTTL: DefaultExchangeTTL,
		},
		Logging: Logging{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// LoadConfig загружает конфигурацию: значения по умолчанию, затем YAML-файл
// (если он существует), затем переменные окружения и .env файл.
func LoadConfig(path string) (*Config, error) {
	// Отсутствие .env файла не ошибка.
	_ = godotenv.Load()

	cfg := defaultConfig()
	if path != "" {
		if err := loadFromYAML(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromYAML накладывает значения из YAML-файла на cfg.
func loadFromYAML(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// applyEnv переопределяет значения переменными окружения.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvBotToken); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvOpsPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvOpsPort, err)
		}
		cfg.Ops.Port = port
	}
	return nil
}

// Address возвращает адрес служебного сервера в формате "host:port"
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Ops.Host, c.Ops.Port)
}

// Validate проверяет, являются ли значения конфигурации допустимыми
func (c *Config) Validate() error {
	if c.Bot.Token == "" || c.Bot.Token == "YOUR_TELEGRAM_BOT_TOKEN" {
		return fmt.Errorf("bot.token is not configured")
	}
	if c.Bot.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("bot.poll_timeout_seconds must be positive")
	}
	if c.Bot.MaxConcurrentUpdates <= 0 {
		return fmt.Errorf("bot.max_concurrent_updates must be positive")
	}
	for i, id := range c.Bot.Moderators {
		if id <= 0 {
			return fmt.Errorf("bot.moderators[%d] must be a positive user id", i)
		}
	}
	if c.Bot.RosterExcelThreshold <= 0 {
		return fmt.Errorf("bot.roster_excel_threshold must be positive")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path cannot be empty")
	}
	if c.Storage.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout must not be negative")
	}

	if c.Relay.FanoutWorkers <= 0 {
		return fmt.Errorf("relay.fanout_workers must be positive")
	}
	if c.Relay.MaxNameWidth <= 0 {
		return fmt.Errorf("relay.max_name_width must be positive")
	}

	if c.Ops.Enabled {
		if c.Ops.Port <= 0 || c.Ops.Port > 65535 {
			return fmt.Errorf("ops.port must be a valid port number (1-65535)")
		}
		if c.Ops.ShutdownTimeout <= 0 {
			return fmt.Errorf("ops.shutdown_timeout must be positive")
		}
	}

	if c.Exchange.RequestTTL <= 0 {
		return fmt.Errorf("exchange.request_ttl must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
