// Package restoration implements lease-based temporary disabling of
// inventory items with guaranteed eventual restoration. Liveness is
// state-based: every lease is persisted, and RestoreAll at process start
// force-releases whatever a crash left behind, because timers do not
// survive a restart.
package restoration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nantokaworks/gift-relay/internal/devicememory"
	"github.com/nantokaworks/gift-relay/internal/localdb"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// DeviceMemory is the device client surface the manager needs.
type DeviceMemory interface {
	ReadBytes(ctx context.Context, addr uint32, length int) ([]byte, error)
	WriteBytes(ctx context.Context, addr uint32, data []byte) error
}

// AlreadyLeasedError reports an acquire conflict with the time left on
// the existing lease. Returned as a value, never panicked.
type AlreadyLeasedError struct {
	ItemKey   string
	Remaining time.Duration
}

func (e *AlreadyLeasedError) Error() string {
	return fmt.Sprintf("item %q is already leased for another %s", e.ItemKey, e.Remaining.Round(time.Second))
}

// LeaseInfo is a read-only view of one active lease. Remaining time is
// computed from the wall clock, never from timer internals.
type LeaseInfo struct {
	ItemKey     string    `json:"itemKey"`
	DisplayName string    `json:"displayName"`
	Expiry      time.Time `json:"expiry"`
	RemainingS  int       `json:"remainingSeconds"`
}

type activeLease struct {
	rec   localdb.LeaseRecord
	timer *time.Timer
}

// Manager owns the per-item lease map. Acquire and release are atomic
// with respect to each other.
type Manager struct {
	mu     sync.Mutex
	dev    DeviceMemory
	table  *devicememory.AddressTable
	leases map[string]*activeLease

	now func() time.Time
}

func NewManager(dev DeviceMemory, table *devicememory.AddressTable) *Manager {
	return &Manager{
		dev:    dev,
		table:  table,
		leases: make(map[string]*activeLease),
		now:    time.Now,
	}
}

// Acquire disables an item for the duration and records a lease that
// guarantees restoration. Acquiring an item whose live value is already
// the absent sentinel succeeds as a no-op without creating a lease. Any
// failure during the disabling writes aborts the whole operation; no
// partial lease is ever recorded.
func (m *Manager) Acquire(ctx context.Context, itemKey string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lease, ok := m.leases[itemKey]; ok {
		remaining := lease.rec.LeaseExpiry.Sub(m.now())
		if remaining < 0 {
			// 期限は過ぎたがタイマーがまだ発火していない瞬間
			remaining = 0
		}
		return &AlreadyLeasedError{
			ItemKey:   itemKey,
			Remaining: remaining,
		}
	}

	slot, ok := m.table.Item(itemKey)
	if !ok {
		return fmt.Errorf("unknown item %q", itemKey)
	}

	current, err := m.dev.ReadBytes(ctx, slot.ValueAddr, 1)
	if err != nil {
		return fmt.Errorf("failed to read item %q: %w", itemKey, err)
	}
	if current[0] == slot.AbsentValue {
		// 既に持っていないアイテムは無効化する必要がない
		logger.Info("Item already absent, nothing to disable", zap.String("item", itemKey))
		return nil
	}

	var abilityValue *int
	if slot.HasAbility() {
		ability, err := m.dev.ReadBytes(ctx, slot.AbilityAddr, 1)
		if err != nil {
			return fmt.Errorf("failed to read ability byte for %q: %w", itemKey, err)
		}
		v := int(ability[0])
		abilityValue = &v
	}

	equipped, err := m.dev.ReadBytes(ctx, m.table.EquippedSlotAddr, 1)
	if err != nil {
		return fmt.Errorf("failed to read equipped slot: %w", err)
	}

	if err := m.dev.WriteBytes(ctx, slot.ValueAddr, []byte{slot.AbsentValue}); err != nil {
		return fmt.Errorf("failed to disable item %q: %w", itemKey, err)
	}
	if equipped[0] == slot.ItemID {
		if err := m.dev.WriteBytes(ctx, m.table.EquippedSlotAddr, []byte{0}); err != nil {
			return fmt.Errorf("failed to clear equipped slot for %q: %w", itemKey, err)
		}
	}
	if abilityValue != nil {
		cleared := byte(*abilityValue) &^ slot.AbilityMask
		if err := m.dev.WriteBytes(ctx, slot.AbilityAddr, []byte{cleared}); err != nil {
			return fmt.Errorf("failed to clear ability bit for %q: %w", itemKey, err)
		}
	}

	start := m.now()
	rec := localdb.LeaseRecord{
		ItemKey:       itemKey,
		OriginalValue: int(current[0]),
		AbilityValue:  abilityValue,
		SlotValue:     int(equipped[0]),
		DisplayName:   slot.DisplayName,
		LeaseStart:    start,
		LeaseExpiry:   start.Add(duration),
	}
	if err := localdb.InsertLease(rec); err != nil {
		return fmt.Errorf("failed to persist lease for %q: %w", itemKey, err)
	}

	lease := &activeLease{rec: rec}
	lease.timer = time.AfterFunc(duration, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Release(ctx, itemKey); err != nil {
			logger.Error("Lease expiry release failed", zap.String("item", itemKey), zap.Error(err))
		}
	})
	m.leases[itemKey] = lease

	logger.Info("Item disabled",
		zap.String("item", itemKey),
		zap.Duration("duration", duration),
		zap.Int("original_value", rec.OriginalValue))
	return nil
}

// Release restores the item and clears the lease. Restoration is
// best-effort: a failed write is logged and returned, but the lease
// bookkeeping is cleared regardless so an item can never be stuck in
// "leased" forever. The equipped-slot snapshot is deliberately not
// restored; the player's current selection stands.
func (m *Manager) Release(ctx context.Context, itemKey string) error {
	m.mu.Lock()
	lease, ok := m.leases[itemKey]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	lease.timer.Stop()
	delete(m.leases, itemKey)
	m.mu.Unlock()

	err := m.restoreRecord(ctx, lease.rec)

	if dbErr := localdb.DeleteLease(itemKey); dbErr != nil {
		logger.Error("Failed to delete lease record", zap.String("item", itemKey), zap.Error(dbErr))
	}

	if err != nil {
		logger.Error("Item restoration failed", zap.String("item", itemKey), zap.Error(err))
		return err
	}
	logger.Info("Item restored", zap.String("item", itemKey))
	return nil
}

// Cancel releases before natural expiry.
func (m *Manager) Cancel(ctx context.Context, itemKey string) error {
	return m.Release(ctx, itemKey)
}

func (m *Manager) restoreRecord(ctx context.Context, rec localdb.LeaseRecord) error {
	slot, ok := m.table.Item(rec.ItemKey)
	if !ok {
		return fmt.Errorf("unknown item %q in lease record", rec.ItemKey)
	}

	if err := m.dev.WriteBytes(ctx, slot.ValueAddr, []byte{byte(rec.OriginalValue)}); err != nil {
		return fmt.Errorf("failed to restore item %q: %w", rec.ItemKey, err)
	}
	if rec.AbilityValue != nil {
		if err := m.dev.WriteBytes(ctx, slot.AbilityAddr, []byte{byte(*rec.AbilityValue)}); err != nil {
			return fmt.Errorf("failed to restore ability byte for %q: %w", rec.ItemKey, err)
		}
	}
	return nil
}

// ListActive returns a snapshot of all active leases.
func (m *Manager) ListActive() []LeaseInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	infos := make([]LeaseInfo, 0, len(m.leases))
	for _, lease := range m.leases {
		remaining := lease.rec.LeaseExpiry.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		infos = append(infos, LeaseInfo{
			ItemKey:     lease.rec.ItemKey,
			DisplayName: lease.rec.DisplayName,
			Expiry:      lease.rec.LeaseExpiry,
			RemainingS:  int(remaining / time.Second),
		})
	}
	return infos
}

// RestoreAll releases every lease, active or orphaned. This is both the
// explicit "restore everything" operation and the mandatory
// crash-recovery pass at process start: a persisted record whose timer
// died with the old process is forcibly released, because the system
// must err toward returning items rather than risk one staying missing.
func (m *Manager) RestoreAll(ctx context.Context) error {
	records, err := localdb.ListLeases()
	if err != nil {
		return fmt.Errorf("failed to list leases: %w", err)
	}

	var firstErr error
	for _, rec := range records {
		m.mu.Lock()
		if lease, ok := m.leases[rec.ItemKey]; ok {
			lease.timer.Stop()
			delete(m.leases, rec.ItemKey)
		}
		m.mu.Unlock()

		if err := m.restoreRecord(ctx, rec); err != nil {
			logger.Error("Forced restoration failed", zap.String("item", rec.ItemKey), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := localdb.DeleteLease(rec.ItemKey); err != nil {
			logger.Error("Failed to delete lease record", zap.String("item", rec.ItemKey), zap.Error(err))
		}
	}

	if len(records) > 0 {
		logger.Info("Restore-all completed", zap.Int("leases", len(records)))
	}
	return firstErr
}
