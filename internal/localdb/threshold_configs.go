package localdb

import (
	"encoding/json"
	"fmt"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// LoadThresholdConfigs returns all threshold configs keyed by their key.
func LoadThresholdConfigs() (map[string]types.ThresholdConfig, error) {
	db := GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Query(`SELECT key, kind, target, action FROM threshold_configs`)
	if err != nil {
		logger.Error("Failed to load threshold configs", zap.Error(err))
		return nil, fmt.Errorf("failed to load threshold configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[string]types.ThresholdConfig)
	for rows.Next() {
		var key, kind, actionJSON string
		var target int
		if err := rows.Scan(&key, &kind, &target, &actionJSON); err != nil {
			return nil, fmt.Errorf("failed to scan threshold config: %w", err)
		}

		var action types.ActionDescriptor
		if err := json.Unmarshal([]byte(actionJSON), &action); err != nil {
			logger.Warn("Invalid action JSON in threshold config, skipping",
				zap.String("key", key), zap.Error(err))
			continue
		}

		configs[key] = types.ThresholdConfig{
			Key:    key,
			Kind:   types.ThresholdKind(kind),
			Target: target,
			Action: action,
		}
	}
	return configs, rows.Err()
}

// SaveThresholdConfig validates and upserts one threshold config.
// The value kind is only valid under the reserved aggregate key, which
// also guarantees at most one aggregate config exists.
func SaveThresholdConfig(cfg types.ThresholdConfig) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if cfg.Target <= 0 {
		return fmt.Errorf("threshold target must be positive: got %d", cfg.Target)
	}
	switch cfg.Kind {
	case types.ThresholdKindValue:
		if cfg.Key != types.AggregateKey {
			return fmt.Errorf("value threshold must use the reserved key %q", types.AggregateKey)
		}
	case types.ThresholdKindCount:
		if cfg.Key == types.AggregateKey {
			return fmt.Errorf("count threshold must not use the reserved key %q", types.AggregateKey)
		}
	default:
		return fmt.Errorf("unknown threshold kind: %q", cfg.Kind)
	}

	actionJSON, err := json.Marshal(cfg.Action)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO threshold_configs (key, kind, target, action, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			target = excluded.target,
			action = excluded.action,
			updated_at = CURRENT_TIMESTAMP`,
		cfg.Key, string(cfg.Kind), cfg.Target, string(actionJSON),
	)
	if err != nil {
		logger.Error("Failed to save threshold config", zap.Error(err), zap.String("key", cfg.Key))
		return fmt.Errorf("failed to save threshold config: %w", err)
	}
	return nil
}

// DeleteThresholdConfig removes the config for a key.
func DeleteThresholdConfig(key string) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := db.Exec(`DELETE FROM threshold_configs WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete threshold config: %w", err)
	}
	return nil
}
