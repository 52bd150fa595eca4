package localdb

import (
	"fmt"

	"github.com/nantokaworks/gift-relay/internal/types"
)

// ListNameOverrides returns all rename entries.
func ListNameOverrides() ([]types.NameOverride, error) {
	db := GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Query(`SELECT coin_value, original_name, override_name FROM name_overrides ORDER BY coin_value, original_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list name overrides: %w", err)
	}
	defer rows.Close()

	var overrides []types.NameOverride
	for rows.Next() {
		var o types.NameOverride
		if err := rows.Scan(&o.CoinValue, &o.OriginalName, &o.OverrideName); err != nil {
			return nil, fmt.Errorf("failed to scan name override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// SetNameOverride inserts or replaces one rename entry.
func SetNameOverride(o types.NameOverride) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	if o.OriginalName == "" || o.OverrideName == "" {
		return fmt.Errorf("name override requires both original and override names")
	}

	_, err := db.Exec(
		`INSERT INTO name_overrides (coin_value, original_name, override_name, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(coin_value, original_name) DO UPDATE SET
			override_name = excluded.override_name,
			updated_at = CURRENT_TIMESTAMP`,
		o.CoinValue, o.OriginalName, o.OverrideName,
	)
	if err != nil {
		return fmt.Errorf("failed to save name override: %w", err)
	}
	return nil
}

// DeleteNameOverride removes one rename entry.
func DeleteNameOverride(coinValue int, originalName string) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := db.Exec(`DELETE FROM name_overrides WHERE coin_value = ? AND original_name = ?`, coinValue, originalName)
	if err != nil {
		return fmt.Errorf("failed to delete name override: %w", err)
	}
	return nil
}
