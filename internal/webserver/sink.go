package webserver

import (
	"github.com/nantokaworks/gift-relay/internal/types"
)

// WSSink publishes pipeline observability records over the WebSocket
// hub. Fire-and-forget by construction: BroadcastWSMessage drops on a
// full buffer instead of blocking.
type WSSink struct{}

func NewWSSink() *WSSink {
	return &WSSink{}
}

func (s *WSSink) PublishActivity(rec types.ActivityRecord) {
	BroadcastWSMessage("gift_activity", rec)
}

func (s *WSSink) PublishThresholds(statuses []types.ThresholdStatus) {
	BroadcastWSMessage("threshold_status", statuses)
}
