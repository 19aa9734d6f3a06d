package config

import "time"

// Default values for configuration.
const (
	// Bot defaults
	DefaultPollTimeoutSeconds   = 60
	DefaultMaxConcurrentUpdates = 32
	DefaultTextsDir             = "texts"
	DefaultRosterExcelThreshold = 50
	DefaultNameColumnWidth      = 24
	DefaultRoleColumnWidth      = 10

	// Storage defaults
	DefaultDBPath      = "lounge.db"
	DefaultBusyTimeout = 5 * time.Second

	// Relay defaults
	DefaultFanoutWorkers   = 8
	DefaultModeratorMarker = " ★"
	DefaultMaxNameWidth    = 32

	// Ops server defaults
	DefaultOpsHost         = "127.0.0.1"
	DefaultOpsPort         = 8080
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 15 * time.Second

	// Exchange defaults
	DefaultExchangeTTL = 24 * time.Hour

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)
