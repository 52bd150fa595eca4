// Package gifts implements the event pipeline: normalization,
// deduplication, name/coin resolution, and the per-session orchestration
// of threshold accumulation and action dispatch.
package gifts

import (
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/gift-relay/internal/shared/logger"
	"github.com/nantokaworks/gift-relay/internal/types"
	"go.uber.org/zap"
)

// rawEvent is the vendor payload shape. Everything is optional; the
// normalizer decides what is usable.
type rawEvent struct {
	Type    string `json:"type"`
	EventID string `json:"eventId"`
	User    struct {
		UniqueID string `json:"uniqueId"`
		Nickname string `json:"nickname"`
	} `json:"user"`
	Gift struct {
		Name        string `json:"name"`
		RepeatCount int    `json:"repeatCount"`
	} `json:"gift"`
	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

// Normalizer canonicalizes raw vendor payloads into GiftEvents.
type Normalizer struct {
	sourceTag string

	now   func() time.Time
	newID func() (string, error)
}

func NewNormalizer(sourceTag string) *Normalizer {
	return &Normalizer{
		sourceTag: sourceTag,
		now:       time.Now,
		newID:     func() (string, error) { return gonanoid.New() },
	}
}

// Normalize returns the canonical event, or nil for non-gift or
// malformed payloads. Bad input is logged as a warning, never an error.
func (n *Normalizer) Normalize(raw []byte) *types.GiftEvent {
	var payload rawEvent
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.Warn("Dropping malformed event payload", zap.Error(err))
		return nil
	}

	if payload.Type != "gift" {
		logger.Warn("Dropping non-gift event", zap.String("type", payload.Type))
		return nil
	}
	if payload.Gift.Name == "" || payload.User.UniqueID == "" {
		logger.Warn("Dropping gift event with missing fields",
			zap.String("gift_name", payload.Gift.Name),
			zap.String("username", payload.User.UniqueID))
		return nil
	}

	amount := payload.Gift.RepeatCount
	if amount < 1 {
		amount = 1
	}

	timestamp := n.now()
	if payload.Timestamp > 0 {
		timestamp = time.UnixMilli(payload.Timestamp)
	}

	displayName := payload.User.Nickname
	if displayName == "" {
		displayName = payload.User.UniqueID
	}

	return &types.GiftEvent{
		ID:          n.eventID(payload, timestamp),
		SourceTag:   n.sourceTag,
		Username:    payload.User.UniqueID,
		DisplayName: displayName,
		GiftName:    payload.Gift.Name,
		Amount:      amount,
		Timestamp:   timestamp,
	}
}

// eventID uses the vendor id when present, otherwise synthesizes one
// unique within the session from identity, gift and time.
func (n *Normalizer) eventID(payload rawEvent, timestamp time.Time) string {
	if payload.EventID != "" {
		return fmt.Sprintf("%s:%s:%s", n.sourceTag, payload.User.UniqueID, payload.EventID)
	}

	suffix, err := n.newID()
	if err != nil {
		// nanoidが失敗することはまず無いが、フォールバックしておく
		suffix = fmt.Sprintf("%d", timestamp.UnixNano())
	}
	return fmt.Sprintf("%s:%s:%s:%d-%s",
		n.sourceTag, payload.User.UniqueID, payload.Gift.Name, timestamp.UnixMilli(), suffix)
}
