package dispatch

import (
	"math/rand"
	"sync"
	"time"

	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"go.uber.org/zap"
)

// KillQueue rate-limits the one irreversible action. A request runs
// immediately when nothing is in flight and the cooldown window has
// passed; otherwise it is queued with an independent randomized timer.
// Multiple timers may become eligible at once, so every dequeue/execute
// goes through the single gate in Request.
type KillQueue struct {
	mu       sync.Mutex
	cooldown time.Duration
	deferMin time.Duration
	deferMax time.Duration

	active  bool
	lastRun time.Time
	pending []func() error

	// テストで差し替えるためのフック
	now       func() time.Time
	schedule  func(d time.Duration, f func())
	randDelay func() time.Duration
}

func NewKillQueue(cooldown, deferMin, deferMax time.Duration) *KillQueue {
	if deferMax < deferMin {
		deferMax = deferMin
	}
	q := &KillQueue{
		cooldown: cooldown,
		deferMin: deferMin,
		deferMax: deferMax,
		now:      time.Now,
		schedule: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
	q.randDelay = func() time.Duration {
		span := q.deferMax - q.deferMin
		if span <= 0 {
			return q.deferMin
		}
		return q.deferMin + time.Duration(rand.Int63n(int64(span)))
	}
	return q
}

// Request executes invoke now if the gate is open, or enqueues it with a
// randomized deferral timer. Returns true when the execution happened
// immediately. A queued request has no cancellation path; it will
// eventually execute.
func (q *KillQueue) Request(invoke func() error) bool {
	q.mu.Lock()
	now := q.now()
	withinCooldown := !q.lastRun.IsZero() && now.Sub(q.lastRun) < q.cooldown
	if q.active || withinCooldown {
		q.pending = append(q.pending, invoke)
		delay := q.randDelay()
		q.mu.Unlock()

		logger.Info("Kill request deferred",
			zap.Duration("delay", delay),
			zap.Bool("within_cooldown", withinCooldown))
		q.schedule(delay, q.deferredFire)
		return false
	}

	q.active = true
	q.mu.Unlock()

	if err := invoke(); err != nil {
		logger.Warn("Kill execution failed", zap.Error(err))
	}

	q.mu.Lock()
	q.lastRun = q.now()
	q.active = false
	q.mu.Unlock()
	return true
}

// deferredFire takes the front of the queue and pushes it back through
// the gate. If the gate is still closed the request re-queues itself
// with a fresh random delay, so it is never lost.
func (q *KillQueue) deferredFire() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	invoke := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	q.Request(invoke)
}

// PendingCount returns the number of queued requests.
func (q *KillQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
