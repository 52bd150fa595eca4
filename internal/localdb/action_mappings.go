package localdb

import (
	"encoding/json"
	"fmt"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// GetActionMappings returns all gift name → action mappings, keyed by
// canonical gift name.
func GetActionMappings() (map[string]types.ActionDescriptor, error) {
	db := GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Query(`SELECT gift_name, action_kind, action_name, params, description FROM action_mappings`)
	if err != nil {
		logger.Error("Failed to load action mappings", zap.Error(err))
		return nil, fmt.Errorf("failed to load action mappings: %w", err)
	}
	defer rows.Close()

	mappings := make(map[string]types.ActionDescriptor)
	for rows.Next() {
		var giftName, kind, name, paramsJSON, description string
		if err := rows.Scan(&giftName, &kind, &name, &paramsJSON, &description); err != nil {
			return nil, fmt.Errorf("failed to scan action mapping: %w", err)
		}

		var params []types.ActionParam
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			// 不正なパラメータは空扱いにして続行する
			logger.Warn("Invalid params JSON in action mapping, ignoring params",
				zap.String("gift_name", giftName), zap.Error(err))
			params = nil
		}

		mappings[giftName] = types.ActionDescriptor{
			Kind:        types.ActionKind(kind),
			Name:        name,
			Params:      params,
			Description: description,
		}
	}
	return mappings, rows.Err()
}

// SetActionMapping inserts or replaces the mapping for a gift name.
func SetActionMapping(giftName string, action types.ActionDescriptor) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	paramsJSON, err := json.Marshal(action.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO action_mappings (gift_name, action_kind, action_name, params, description, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(gift_name) DO UPDATE SET
			action_kind = excluded.action_kind,
			action_name = excluded.action_name,
			params = excluded.params,
			description = excluded.description,
			updated_at = CURRENT_TIMESTAMP`,
		giftName, string(action.Kind), action.Name, string(paramsJSON), action.Description,
	)
	if err != nil {
		logger.Error("Failed to save action mapping", zap.Error(err), zap.String("gift_name", giftName))
		return fmt.Errorf("failed to save action mapping: %w", err)
	}
	return nil
}

// DeleteActionMapping removes the mapping for a gift name.
func DeleteActionMapping(giftName string) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := db.Exec(`DELETE FROM action_mappings WHERE gift_name = ?`, giftName)
	if err != nil {
		return fmt.Errorf("failed to delete action mapping: %w", err)
	}
	return nil
}
