package gifts

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/threshold"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// Sink receives observability records. Implementations must never block
// or fail the pipeline.
type Sink interface {
	PublishActivity(rec types.ActivityRecord)
	PublishThresholds(statuses []types.ThresholdStatus)
}

// ActionDispatcher runs one configured action for one event.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, action types.ActionDescriptor, ev *types.GiftEvent) error
}

// SessionConfig wires a session's collaborators.
type SessionConfig struct {
	SourceTag   string
	Normalizer  *Normalizer
	Resolver    *Resolver
	Accumulator *threshold.Accumulator
	Mappings    map[string]types.ActionDescriptor
	Dispatcher  ActionDispatcher
	Sink        Sink
}

// Session owns all mutable pipeline state for one polling session: the
// seen-id set, the threshold counters, and the session start instant
// used to fence off replayed history. Create at session start, drop at
// session end.
type Session struct {
	ID        string
	startedAt time.Time

	norm       *Normalizer
	dedup      *Deduper
	resolver   *Resolver
	acc        *threshold.Accumulator
	mappings   map[string]types.ActionDescriptor
	dispatcher ActionDispatcher
	sink       Sink

	now func() time.Time
}

func NewSession(cfg SessionConfig) *Session {
	norm := cfg.Normalizer
	if norm == nil {
		norm = NewNormalizer(cfg.SourceTag)
	}
	mappings := cfg.Mappings
	if mappings == nil {
		mappings = map[string]types.ActionDescriptor{}
	}

	s := &Session{
		ID:         uuid.NewString(),
		norm:       norm,
		dedup:      NewDeduper(),
		resolver:   cfg.Resolver,
		acc:        cfg.Accumulator,
		mappings:   mappings,
		dispatcher: cfg.Dispatcher,
		sink:       cfg.Sink,
		now:        time.Now,
	}
	s.startedAt = s.now()

	logger.Info("Gift session started",
		zap.String("session_id", s.ID),
		zap.String("source", cfg.SourceTag))
	return s
}

// ProcessBatch runs one poll batch through the pipeline. Events older
// than the session start are discarded so a reconnect never replays
// history; the rest are sorted ascending by timestamp and processed
// strictly one at a time. Nothing thrown by a single event stops the
// batch.
func (s *Session) ProcessBatch(ctx context.Context, raws [][]byte) {
	events := make([]*types.GiftEvent, 0, len(raws))
	for _, raw := range raws {
		ev := s.norm.Normalize(raw)
		if ev == nil {
			continue
		}
		if ev.Timestamp.Before(s.startedAt) {
			logger.Debug("Discarding event from before session start",
				zap.String("event_id", ev.ID),
				zap.Time("timestamp", ev.Timestamp))
			continue
		}
		events = append(events, ev)
	}

	// トランスポートの順序は信用せず、タイムスタンプ順で処理する
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	for _, ev := range events {
		s.processEvent(ctx, ev)
	}

	if s.sink != nil && s.acc != nil {
		s.sink.PublishThresholds(s.acc.Status())
	}
}

func (s *Session) processEvent(ctx context.Context, ev *types.GiftEvent) {
	if !s.dedup.Observe(ev.ID) {
		// 重複はエラーではない
		logger.Debug("Duplicate event absorbed", zap.String("event_id", ev.ID))
		return
	}

	canonical := s.resolver.CanonicalName(ev.GiftName)
	ev.CoinValue = s.resolver.CoinValue(canonical)

	if s.sink != nil {
		s.sink.PublishActivity(types.ActivityRecord{
			GiftName:    ev.GiftName,
			Amount:      ev.Amount,
			DisplayName: ev.DisplayName,
			Source:      ev.SourceTag,
			Timestamp:   ev.Timestamp,
			CoinValue:   ev.CoinValue,
		})
	}

	// 集計しきい値はマッピングの有無に関係なく加算する
	if s.acc != nil {
		s.acc.AddValue(ev.CoinValue, ev.Amount, ev)
	}

	// カウントしきい値もマッピングの有無に関係なく加算する。
	// 設定が自前のアクションを持つので、到達時の発火はアキュムレータ側で行われる。
	if s.acc != nil && s.acc.HasCountConfig(canonical) {
		s.acc.AddCount(canonical, ev)
		return
	}

	action, mapped := s.mappings[canonical]
	if !mapped {
		logger.Debug("Gift has no action mapping",
			zap.String("gift", canonical),
			zap.Int("coins", ev.CoinValue))
		return
	}

	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, action, ev); err != nil {
		logger.Warn("Dispatch failed",
			zap.String("gift", canonical),
			zap.String("action", action.Name),
			zap.Error(err))
	}
}

// StartedAt returns the session fence instant.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}
