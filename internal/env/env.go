package env

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// Config holds all runtime configuration resolved from the environment.
type Config struct {
	ServerPort int  `env:"SERVER_PORT" envDefault:"8080"`
	DebugMode  bool `env:"DEBUG_MODE" envDefault:"false"`

	// エミュレータのメモリブリッジ
	DeviceBridgeURL     string        `env:"DEVICE_BRIDGE_URL" envDefault:"http://127.0.0.1:5001"`
	DeviceBridgeTimeout time.Duration `env:"DEVICE_BRIDGE_TIMEOUT" envDefault:"5s"`
	AddressTablePath    string        `env:"ADDRESS_TABLE_PATH"`

	// ギフトイベントのポーリング元
	GiftSourceURL    string        `env:"GIFT_SOURCE_URL" envDefault:"http://127.0.0.1:5002"`
	GiftSourceTag    string        `env:"GIFT_SOURCE_TAG" envDefault:"tiktok"`
	GiftPollInterval time.Duration `env:"GIFT_POLL_INTERVAL" envDefault:"2s"`

	GiftCatalogPath string `env:"GIFT_CATALOG_PATH"`

	// killPlayer の連打ガード
	KillCooldown time.Duration `env:"KILL_COOLDOWN" envDefault:"60s"`
	KillDeferMin time.Duration `env:"KILL_DEFER_MIN" envDefault:"45s"`
	KillDeferMax time.Duration `env:"KILL_DEFER_MAX" envDefault:"300s"`
}

// Value is the process-wide configuration, populated by LoadEnv.
var Value Config

// LoadEnv reads .env (if present) and parses the environment into Value.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}
	if err := env.Parse(&Value); err != nil {
		logger.Fatal("Failed to parse environment", zap.Error(err))
	}
	if Value.KillDeferMax < Value.KillDeferMin {
		logger.Warn("KILL_DEFER_MAX is below KILL_DEFER_MIN, clamping",
			zap.Duration("min", Value.KillDeferMin),
			zap.Duration("max", Value.KillDeferMax))
		Value.KillDeferMax = Value.KillDeferMin
	}
}
