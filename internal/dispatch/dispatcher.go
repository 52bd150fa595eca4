// Package dispatch resolves configured actions against an ordered list
// of capability providers and invokes them with the right shape. Device
// communication failures are categorized and logged here; they never
// propagate into threshold or lease state.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nantokaworks/gift-relay/internal/devicememory"
	"github.com/nantokaworks/gift-relay/internal/restoration"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// 引数なしで呼ぶ操作
var noParamActions = map[string]struct{}{
	"healPlayer":  {},
	"levelUpTeam": {},
	"togglePause": {},
}

// 秒数つきで呼ぶ操作
var timedActions = map[string]struct{}{
	"invertControls": {},
	"slowMotion":     {},
}

const defaultTimedSeconds = 60

// ギフト連打でブリッジを飽和させないための小休止
const settlingDelay = 50 * time.Millisecond

// ItemDisabler is the restoration manager surface the dispatcher needs.
type ItemDisabler interface {
	Acquire(ctx context.Context, itemKey string, duration time.Duration) error
}

// ScriptRunner executes a named user script for an event.
type ScriptRunner interface {
	Run(ctx context.Context, name string, ev *types.GiftEvent) error
}

// Dispatcher routes ActionDescriptors to providers, scripts, the
// restoration manager, or the kill queue.
type Dispatcher struct {
	providers   []Provider // 解決順（extended → basic）
	restoration ItemDisabler
	scripts     ScriptRunner
	kill        *KillQueue

	sleep func(time.Duration) // テストで settling delay を無効化する
}

func NewDispatcher(providers []Provider, disabler ItemDisabler, scripts ScriptRunner, kill *KillQueue) *Dispatcher {
	return &Dispatcher{
		providers:   providers,
		restoration: disabler,
		scripts:     scripts,
		kill:        kill,
		sleep:       time.Sleep,
	}
}

// Dispatch runs one action for one event. The returned error is a
// configuration-level dispatch failure (unknown action, missing params);
// device communication errors are absorbed and logged so the pipeline
// keeps flowing.
func (d *Dispatcher) Dispatch(ctx context.Context, action types.ActionDescriptor, ev *types.GiftEvent) error {
	d.sleep(settlingDelay)

	if action.Kind == types.ActionKindScript {
		return d.runScript(ctx, action, ev)
	}

	switch action.Name {
	case "disableItem":
		return d.disableItem(ctx, action)
	case "killPlayer":
		return d.requestKill(action)
	}

	provider, err := d.resolve(action.Name)
	if err != nil {
		return err
	}
	return d.invoke(ctx, provider, action, ev)
}

// resolve walks the provider list in order and returns the first one
// claiming the action.
func (d *Dispatcher) resolve(name string) (Provider, error) {
	for _, p := range d.providers {
		if p.Has(name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no provider implements action %q", name)
}

func (d *Dispatcher) invoke(ctx context.Context, provider Provider, action types.ActionDescriptor, ev *types.GiftEvent) error {
	var err error
	if _, ok := noParamActions[action.Name]; ok {
		err = provider.InvokeNoArg(ctx, action.Name)
	} else if _, ok := timedActions[action.Name]; ok {
		seconds := defaultTimedSeconds
		if v, ok := action.Param("duration"); ok {
			if n, convErr := strconv.Atoi(v); convErr == nil && n > 0 {
				seconds = n
			}
		}
		err = provider.InvokeTimed(ctx, action.Name, seconds)
	} else {
		repeat := 1
		if ev != nil && ev.Amount > 0 {
			repeat = ev.Amount
		}
		value, _ := action.FirstParam()
		err = provider.InvokeGeneric(ctx, action.Name, value, repeat)
	}

	if err != nil {
		d.logInvocationFailure(provider, action, err)
	}
	return nil
}

func (d *Dispatcher) logInvocationFailure(provider Provider, action types.ActionDescriptor, err error) {
	var devErr *devicememory.DeviceError
	if errors.As(err, &devErr) {
		logger.Warn("Device communication failed during dispatch",
			zap.String("action", action.Name),
			zap.String("provider", provider.Name()),
			zap.String("category", string(devErr.Category)),
			zap.Error(err))
		return
	}
	logger.Warn("Action invocation failed",
		zap.String("action", action.Name),
		zap.String("provider", provider.Name()),
		zap.Error(err))
}

func (d *Dispatcher) disableItem(ctx context.Context, action types.ActionDescriptor) error {
	if d.restoration == nil {
		return fmt.Errorf("disableItem is not available: no restoration manager")
	}

	itemName, ok := action.Param("itemName")
	if !ok || itemName == "" {
		return fmt.Errorf("disableItem requires an itemName param")
	}
	durationStr, ok := action.Param("duration")
	if !ok {
		return fmt.Errorf("disableItem requires a duration param")
	}
	seconds, err := strconv.Atoi(durationStr)
	if err != nil || seconds <= 0 {
		return fmt.Errorf("disableItem duration must be a positive number of seconds: %q", durationStr)
	}

	err = d.restoration.Acquire(ctx, itemName, time.Duration(seconds)*time.Second)
	if err != nil {
		var leased *restoration.AlreadyLeasedError
		if errors.As(err, &leased) {
			// 二重無効化は握りつぶす。残り時間だけ記録する。
			logger.Info("Item already disabled, ignoring request",
				zap.String("item", itemName),
				zap.Duration("remaining", leased.Remaining))
			return nil
		}
		logger.Warn("Failed to disable item",
			zap.String("item", itemName), zap.Error(err))
	}
	return nil
}

func (d *Dispatcher) requestKill(action types.ActionDescriptor) error {
	provider, err := d.resolve(action.Name)
	if err != nil {
		return err
	}
	if d.kill == nil {
		return fmt.Errorf("killPlayer is not available: no kill queue")
	}

	immediate := d.kill.Request(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return provider.InvokeNoArg(ctx, "killPlayer")
	})
	logger.Info("Kill request accepted", zap.Bool("immediate", immediate))
	return nil
}

func (d *Dispatcher) runScript(ctx context.Context, action types.ActionDescriptor, ev *types.GiftEvent) error {
	if d.scripts == nil {
		return fmt.Errorf("script action %q is not available: no script engine", action.Name)
	}
	if err := d.scripts.Run(ctx, action.Name, ev); err != nil {
		logger.Warn("Script execution failed",
			zap.String("script", action.Name), zap.Error(err))
	}
	return nil
}
