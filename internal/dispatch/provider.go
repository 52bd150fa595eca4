package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nantokaworks/gift-relay/internal/devicememory"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// MemoryAccess is the slice of the device client the providers need.
type MemoryAccess interface {
	ReadBytes(ctx context.Context, addr uint32, length int) ([]byte, error)
	WriteBytes(ctx context.Context, addr uint32, data []byte) error
}

// Provider implements a named set of device operations. Capability is
// declared by a static action set, not discovered by reflection.
type Provider interface {
	Name() string
	Has(action string) bool
	InvokeNoArg(ctx context.Context, action string) error
	InvokeTimed(ctx context.Context, action string, seconds int) error
	InvokeGeneric(ctx context.Context, action string, value string, repeat int) error
}

// deviceProvider executes operations by writing control entries from the
// address table. The basic and extended providers differ only in which
// actions they claim.
type deviceProvider struct {
	name    string
	actions map[string]struct{}
	dev     MemoryAccess
	table   *devicememory.AddressTable

	// テストで差し替えるためのタイマー
	schedule func(d time.Duration, f func())
}

// NewBasicProvider covers the operations every supported game exposes.
func NewBasicProvider(dev MemoryAccess, table *devicememory.AddressTable) Provider {
	return newDeviceProvider("basic", dev, table,
		"killPlayer", "healPlayer", "giveCoins")
}

// NewExtendedProvider covers operations only some cores implement. It is
// consulted before the basic provider.
func NewExtendedProvider(dev MemoryAccess, table *devicememory.AddressTable) Provider {
	return newDeviceProvider("extended", dev, table,
		"togglePause", "levelUpTeam", "invertControls", "slowMotion", "setEncounterRate")
}

func newDeviceProvider(name string, dev MemoryAccess, table *devicememory.AddressTable, actions ...string) *deviceProvider {
	set := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return &deviceProvider{
		name:     name,
		actions:  set,
		dev:      dev,
		table:    table,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

func (p *deviceProvider) Name() string { return p.name }

func (p *deviceProvider) Has(action string) bool {
	_, ok := p.actions[action]
	return ok
}

func (p *deviceProvider) control(action string) (devicememory.Control, error) {
	ctrl, ok := p.table.Control(action)
	if !ok {
		return devicememory.Control{}, fmt.Errorf("no control entry for action %q", action)
	}
	return ctrl, nil
}

func (p *deviceProvider) InvokeNoArg(ctx context.Context, action string) error {
	ctrl, err := p.control(action)
	if err != nil {
		return err
	}
	return p.dev.WriteBytes(ctx, ctrl.Addr, ctrl.On)
}

// InvokeTimed activates the control now and writes the off bytes back
// after the duration. The revert runs on its own timer and only logs on
// failure; the original call has long since returned.
func (p *deviceProvider) InvokeTimed(ctx context.Context, action string, seconds int) error {
	ctrl, err := p.control(action)
	if err != nil {
		return err
	}
	if len(ctrl.Off) == 0 {
		return fmt.Errorf("control %q has no off bytes for timed invocation", action)
	}
	if err := p.dev.WriteBytes(ctx, ctrl.Addr, ctrl.On); err != nil {
		return err
	}

	p.schedule(time.Duration(seconds)*time.Second, func() {
		revertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.dev.WriteBytes(revertCtx, ctrl.Addr, ctrl.Off); err != nil {
			logger.Error("Failed to revert timed action",
				zap.String("action", action), zap.Error(err))
		}
	})
	return nil
}

// InvokeGeneric adds value × repeat (or just repeat when no value was
// supplied) to the byte behind the control address, clamped to 0..255.
func (p *deviceProvider) InvokeGeneric(ctx context.Context, action string, value string, repeat int) error {
	ctrl, err := p.control(action)
	if err != nil {
		return err
	}

	delta := repeat
	if value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("action %q param is not a number: %q", action, value)
		}
		delta = n * repeat
	}

	current, err := p.dev.ReadBytes(ctx, ctrl.Addr, 1)
	if err != nil {
		return err
	}

	next := int(current[0]) + delta
	if next > 255 {
		next = 255
	}
	if next < 0 {
		next = 0
	}
	return p.dev.WriteBytes(ctx, ctrl.Addr, []byte{byte(next)})
}
