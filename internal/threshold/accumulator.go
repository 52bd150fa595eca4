// Package threshold implements the dual-mode gift accumulator: per-gift
// event counters and one aggregate coin-value total, both with
// fire-and-reset semantics.
package threshold

import (
	"sort"
	"sync"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// FireFunc is invoked when a counter reaches its target. The accumulator
// does not wait for or inspect the outcome; the counter is already reset
// when the call is made.
type FireFunc func(cfg types.ThresholdConfig, ev *types.GiftEvent)

// Accumulator owns all running counters for one session.
type Accumulator struct {
	mu       sync.Mutex
	configs  map[string]types.ThresholdConfig
	counters map[string]int
	fire     FireFunc
}

func NewAccumulator(configs map[string]types.ThresholdConfig, fire FireFunc) *Accumulator {
	if configs == nil {
		configs = map[string]types.ThresholdConfig{}
	}
	return &Accumulator{
		configs:  configs,
		counters: make(map[string]int),
		fire:     fire,
	}
}

// HasCountConfig reports whether a count threshold exists for a gift name.
func (a *Accumulator) HasCountConfig(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg, ok := a.configs[name]
	return ok && cfg.Kind == types.ThresholdKindCount
}

// AddCount applies one count-kind increment for a gift name. The delta is
// always 1 per event, regardless of the event's amount.
func (a *Accumulator) AddCount(name string, ev *types.GiftEvent) {
	a.add(name, types.ThresholdKindCount, 1, ev)
}

// AddValue applies one value-kind increment of coins × amount to the
// aggregate total. Called once per event with a known coin value,
// independent of action mappings.
func (a *Accumulator) AddValue(coins, amount int, ev *types.GiftEvent) {
	if coins <= 0 || amount <= 0 {
		return
	}
	a.add(types.AggregateKey, types.ThresholdKindValue, coins*amount, ev)
}

func (a *Accumulator) add(key string, kind types.ThresholdKind, delta int, ev *types.GiftEvent) {
	a.mu.Lock()
	cfg, ok := a.configs[key]
	if !ok || cfg.Kind != kind || cfg.Target <= 0 {
		a.mu.Unlock()
		return
	}

	a.counters[key] += delta
	current := a.counters[key]
	fired := current >= cfg.Target
	if fired {
		// 目標超過分は持ち越さない
		a.counters[key] = 0
	}
	a.mu.Unlock()

	if !fired {
		return
	}

	logger.Info("Threshold reached",
		zap.String("key", key),
		zap.String("kind", string(kind)),
		zap.Int("current", current),
		zap.Int("target", cfg.Target),
		zap.String("action", cfg.Action.Name))

	// 発火はリセット後。ディスパッチ結果はカウンタに影響しない。
	if a.fire != nil {
		a.fire(cfg, ev)
	}
}

// Status returns a read-only snapshot of every configured counter,
// sorted by key for stable output. Never mutates state.
func (a *Accumulator) Status() []types.ThresholdStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	statuses := make([]types.ThresholdStatus, 0, len(a.configs))
	for key, cfg := range a.configs {
		statuses = append(statuses, types.ThresholdStatus{
			Key:               key,
			Current:           a.counters[key],
			Target:            cfg.Target,
			ActionDescription: cfg.Action.Description,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}
