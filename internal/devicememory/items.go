package devicememory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// ItemSlot describes where one inventory item lives in device memory.
// AbsentValue is the sentinel written while the item is disabled.
type ItemSlot struct {
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	ItemID      byte   `json:"itemId"` // value stored in the equipped slot when selected
	ValueAddr   uint32 `json:"valueAddr"`
	AbsentValue byte   `json:"absentValue"`
	AbilityAddr uint32 `json:"abilityAddr,omitempty"`
	AbilityMask byte   `json:"abilityMask,omitempty"` // 0 = item has no ability bit
}

// HasAbility reports whether this item carries an ability bit that must
// be cleared while disabled.
func (s ItemSlot) HasAbility() bool {
	return s.AbilityMask != 0
}

// Control describes one named writable location used by provider
// operations. On is written to activate, Off to deactivate (timed
// operations only).
type Control struct {
	Addr uint32 `json:"addr"`
	On   []byte `json:"on"`
	Off  []byte `json:"off,omitempty"`
}

// AddressTable is the loaded byte-layout knowledge for one game. All
// address semantics stay in this data file, out of the code.
type AddressTable struct {
	Items            map[string]ItemSlot `json:"items"`
	EquippedSlotAddr uint32              `json:"equippedSlotAddr"`
	Controls         map[string]Control  `json:"controls"`
}

// Item returns the slot for an item key.
func (t *AddressTable) Item(key string) (ItemSlot, bool) {
	slot, ok := t.Items[key]
	return slot, ok
}

// Control returns the control entry for an operation name.
func (t *AddressTable) Control(name string) (Control, bool) {
	c, ok := t.Controls[name]
	return c, ok
}

// LoadAddressTable reads the address table JSON. An empty path yields an
// empty table; every item or control lookup will then miss, which
// downstream code reports as a dispatch failure rather than a crash.
func LoadAddressTable(path string) (*AddressTable, error) {
	if path == "" {
		logger.Warn("No address table configured, device operations will be unavailable")
		return &AddressTable{
			Items:    map[string]ItemSlot{},
			Controls: map[string]Control{},
		}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read address table: %w", err)
	}

	var table AddressTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse address table: %w", err)
	}
	if table.Items == nil {
		table.Items = map[string]ItemSlot{}
	}
	if table.Controls == nil {
		table.Controls = map[string]Control{}
	}

	logger.Info("Address table loaded",
		zap.String("path", path),
		zap.Int("items", len(table.Items)),
		zap.Int("controls", len(table.Controls)))
	return &table, nil
}
