package localdb

import (
	"fmt"
	"time"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// LeaseRecord is the persisted form of one restoration lease. Rows
// outlive the process so that items disabled before a crash can still be
// restored on the next start.
type LeaseRecord struct {
	ItemKey       string    `json:"itemKey"`
	OriginalValue int       `json:"originalValue"`
	AbilityValue  *int      `json:"abilityValue,omitempty"` // nil = item has no ability bit
	SlotValue     int       `json:"slotValue"`
	DisplayName   string    `json:"displayName"`
	LeaseStart    time.Time `json:"leaseStart"`
	LeaseExpiry   time.Time `json:"leaseExpiry"`
}

// InsertLease records a new lease. Fails if one already exists for the
// item; callers check for conflicts before the disabling write.
func InsertLease(rec LeaseRecord) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	_, err := db.Exec(
		`INSERT INTO restoration_leases (item_key, original_value, ability_value, slot_value, display_name, lease_start, lease_expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ItemKey, rec.OriginalValue, rec.AbilityValue, rec.SlotValue, rec.DisplayName,
		rec.LeaseStart.UTC(), rec.LeaseExpiry.UTC(),
	)
	if err != nil {
		logger.Error("Failed to insert lease", zap.Error(err), zap.String("item_key", rec.ItemKey))
		return fmt.Errorf("failed to insert lease: %w", err)
	}
	return nil
}

// DeleteLease removes the lease row for an item.
func DeleteLease(itemKey string) error {
	db := GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	_, err := db.Exec(`DELETE FROM restoration_leases WHERE item_key = ?`, itemKey)
	if err != nil {
		return fmt.Errorf("failed to delete lease: %w", err)
	}
	return nil
}

// ListLeases returns every persisted lease.
func ListLeases() ([]LeaseRecord, error) {
	db := GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.Query(
		`SELECT item_key, original_value, ability_value, slot_value, display_name, lease_start, lease_expiry
		FROM restoration_leases ORDER BY lease_expiry`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	var leases []LeaseRecord
	for rows.Next() {
		var rec LeaseRecord
		if err := rows.Scan(&rec.ItemKey, &rec.OriginalValue, &rec.AbilityValue, &rec.SlotValue,
			&rec.DisplayName, &rec.LeaseStart, &rec.LeaseExpiry); err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		leases = append(leases, rec)
	}
	return leases, rows.Err()
}
