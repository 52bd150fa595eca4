package types

import "time"

// GiftEvent is a normalized record of one externally-sourced gift
// occurrence. Immutable once constructed.
type GiftEvent struct {
	ID          string    `json:"id"`
	SourceTag   string    `json:"source"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	GiftName    string    `json:"giftName"`
	Amount      int       `json:"amount"`
	CoinValue   int       `json:"coinValue"`
	Timestamp   time.Time `json:"timestamp"`
}

// ActivityRecord is the per-event observability payload. Fire-and-forget;
// publishing must never block or fail the pipeline.
type ActivityRecord struct {
	GiftName    string    `json:"giftName"`
	Amount      int       `json:"amount"`
	DisplayName string    `json:"displayName"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	CoinValue   int       `json:"coinValue"`
}

// NameOverride is one cosmetic rename entry. The (CoinValue, OriginalName)
// pair identifies the gift; OverrideName is the display name shown to the
// user. Override names must stay unique for reverse lookup to be
// unambiguous; last write wins if that is violated.
type NameOverride struct {
	CoinValue    int    `json:"coinValue"`
	OriginalName string `json:"originalName"`
	OverrideName string `json:"overrideName"`
}
