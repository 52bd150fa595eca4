package gifts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nantokaworks/gift-relay/internal/giftcatalog"
	"github.com/nantokaworks/gift-relay/internal/threshold"
	"github.com/nantokaworks/gift-relay/internal/types"
)

type dispatchedAction struct {
	action types.ActionDescriptor
	ev     *types.GiftEvent
}

type fakeDispatcher struct {
	calls []dispatchedAction
}

func (f *fakeDispatcher) Dispatch(_ context.Context, action types.ActionDescriptor, ev *types.GiftEvent) error {
	f.calls = append(f.calls, dispatchedAction{action: action, ev: ev})
	return nil
}

type fakeSink struct {
	activities []types.ActivityRecord
	snapshots  int
}

func (f *fakeSink) PublishActivity(rec types.ActivityRecord) {
	f.activities = append(f.activities, rec)
}
func (f *fakeSink) PublishThresholds(_ []types.ThresholdStatus) { f.snapshots++ }

type sessionFixture struct {
	session    *Session
	dispatcher *fakeDispatcher
	sink       *fakeSink
	acc        *threshold.Accumulator
}

func newFixture(t *testing.T, catalog *giftcatalog.Catalog, overrides []types.NameOverride,
	configs []types.ThresholdConfig, mappings map[string]types.ActionDescriptor) *sessionFixture {
	t.Helper()

	dispatcher := &fakeDispatcher{}
	sink := &fakeSink{}

	cfgMap := make(map[string]types.ThresholdConfig, len(configs))
	for _, cfg := range configs {
		cfgMap[cfg.Key] = cfg
	}
	acc := threshold.NewAccumulator(cfgMap, func(cfg types.ThresholdConfig, ev *types.GiftEvent) {
		_ = dispatcher.Dispatch(context.Background(), cfg.Action, ev)
	})

	session := NewSession(SessionConfig{
		SourceTag:   "test",
		Resolver:    NewResolver(catalog, overrides),
		Accumulator: acc,
		Mappings:    mappings,
		Dispatcher:  dispatcher,
		Sink:        sink,
	})
	return &sessionFixture{session: session, dispatcher: dispatcher, sink: sink, acc: acc}
}

func rawGift(eventID, user, gift string, amount int, ts time.Time) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"gift","eventId":%q,"user":{"uniqueId":%q},"gift":{"name":%q,"repeatCount":%d},"timestamp":%d}`,
		eventID, user, gift, amount, ts.UnixMilli()))
}

func TestProcessBatch_OrdersByTimestamp(t *testing.T) {
	f := newFixture(t, testCatalog(), nil, nil, nil)

	base := time.Now().Add(time.Minute)
	t1, t2, t3 := base, base.Add(time.Second), base.Add(2*time.Second)

	// トランスポートは t3,t1,t2 の順で返してくる
	f.session.ProcessBatch(context.Background(), [][]byte{
		rawGift("e3", "alice", "Rose", 1, t3),
		rawGift("e1", "alice", "Rose", 1, t1),
		rawGift("e2", "alice", "Rose", 1, t2),
	})

	if len(f.sink.activities) != 3 {
		t.Fatalf("unexpected activity count: got=%d want=3", len(f.sink.activities))
	}
	for i, want := range []time.Time{t1, t2, t3} {
		got := f.sink.activities[i].Timestamp
		if got.UnixMilli() != want.UnixMilli() {
			t.Fatalf("activity %d out of order: got=%v want=%v", i, got, want)
		}
	}
}

func TestProcessBatch_DiscardsEventsBeforeSessionStart(t *testing.T) {
	f := newFixture(t, testCatalog(), nil, nil, nil)

	// セッション開始より前のイベントは再接続時のリプレイとして破棄
	f.session.ProcessBatch(context.Background(), [][]byte{
		rawGift("old", "alice", "Rose", 1, f.session.StartedAt().Add(-time.Hour)),
	})

	if len(f.sink.activities) != 0 {
		t.Fatalf("stale event must not be processed: got=%d activities", len(f.sink.activities))
	}
}

func TestProcessBatch_DuplicateEventIsAbsorbed(t *testing.T) {
	mappings := map[string]types.ActionDescriptor{
		"Rose": {Kind: types.ActionKindOperation, Name: "healPlayer"},
	}
	f := newFixture(t, testCatalog(), nil, nil, mappings)

	ts := time.Now().Add(time.Minute)
	raw := rawGift("dup-1", "alice", "Rose", 1, ts)

	f.session.ProcessBatch(context.Background(), [][]byte{raw, raw})
	f.session.ProcessBatch(context.Background(), [][]byte{raw})

	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("duplicate id must dispatch exactly once: got=%d", len(f.dispatcher.calls))
	}
	if len(f.sink.activities) != 1 {
		t.Fatalf("duplicate id must report exactly once: got=%d", len(f.sink.activities))
	}
}

func TestProcessBatch_DuplicateIncrementsThresholdOnce(t *testing.T) {
	mappings := map[string]types.ActionDescriptor{
		"Rose": {Kind: types.ActionKindOperation, Name: "healPlayer"},
	}
	configs := []types.ThresholdConfig{
		{Key: "Rose", Kind: types.ThresholdKindCount, Target: 3,
			Action: types.ActionDescriptor{Name: "healPlayer"}},
	}
	f := newFixture(t, testCatalog(), nil, configs, mappings)

	ts := time.Now().Add(time.Minute)
	raw := rawGift("dup-1", "alice", "Rose", 1, ts)
	f.session.ProcessBatch(context.Background(), [][]byte{raw, raw})

	statuses := f.acc.Status()
	if statuses[0].Current != 1 {
		t.Fatalf("duplicate must increment once: got=%d want=1", statuses[0].Current)
	}
}

func TestProcessBatch_CountThreshold(t *testing.T) {
	mappings := map[string]types.ActionDescriptor{
		"Rose": {Kind: types.ActionKindOperation, Name: "giveCoins"},
	}
	configs := []types.ThresholdConfig{
		{Key: "Rose", Kind: types.ThresholdKindCount, Target: 3,
			Action: types.ActionDescriptor{Name: "levelUpTeam"}},
	}
	f := newFixture(t, testCatalog(), nil, configs, mappings)

	base := time.Now().Add(time.Minute)
	batch := [][]byte{}
	for i := 0; i < 4; i++ {
		batch = append(batch, rawGift(fmt.Sprintf("e%d", i), "alice", "Rose", 1, base.Add(time.Duration(i)*time.Second)))
	}
	f.session.ProcessBatch(context.Background(), batch)

	// 3通でしきい値発火が1回だけ、4通目は新しいカウント1
	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("unexpected dispatch count: got=%d want=1", len(f.dispatcher.calls))
	}
	if f.dispatcher.calls[0].action.Name != "levelUpTeam" {
		t.Fatalf("threshold must fire its own action: got=%q", f.dispatcher.calls[0].action.Name)
	}
	if got := f.acc.Status()[0].Current; got != 1 {
		t.Fatalf("counter after fire: got=%d want=1", got)
	}
}

func TestProcessBatch_CountThresholdWithoutMapping(t *testing.T) {
	// マッピングのないギフトもカウントしきい値には参加する
	configs := []types.ThresholdConfig{
		{Key: "Rose", Kind: types.ThresholdKindCount, Target: 2,
			Action: types.ActionDescriptor{Name: "healPlayer"}},
	}
	f := newFixture(t, testCatalog(), nil, configs, nil)

	base := time.Now().Add(time.Minute)
	f.session.ProcessBatch(context.Background(), [][]byte{
		rawGift("e1", "alice", "Rose", 1, base),
		rawGift("e2", "bob", "Rose", 1, base.Add(time.Second)),
	})

	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("unexpected dispatch count: got=%d want=1", len(f.dispatcher.calls))
	}
	if f.dispatcher.calls[0].action.Name != "healPlayer" {
		t.Fatalf("threshold must fire its configured action: got=%q", f.dispatcher.calls[0].action.Name)
	}
}

func TestProcessBatch_ValueThresholdIndependentOfMappings(t *testing.T) {
	catalog := giftcatalog.New([]giftcatalog.Bucket{
		{Coins: 200, Names: []string{"Cap"}},
	})
	configs := []types.ThresholdConfig{
		{Key: types.AggregateKey, Kind: types.ThresholdKindValue, Target: 500,
			Action: types.ActionDescriptor{Name: "slowMotion"}},
	}
	// Cap にはアクションマッピングがない
	f := newFixture(t, catalog, nil, configs, nil)

	base := time.Now().Add(time.Minute)
	f.session.ProcessBatch(context.Background(), [][]byte{
		rawGift("v1", "alice", "Cap", 1, base),
		rawGift("v2", "bob", "Cap", 1, base.Add(time.Second)),
		rawGift("v3", "carol", "Cap", 1, base.Add(2*time.Second)),
	})

	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("aggregate threshold should fire once: got=%d", len(f.dispatcher.calls))
	}
	if f.dispatcher.calls[0].action.Name != "slowMotion" {
		t.Fatalf("unexpected action: got=%q", f.dispatcher.calls[0].action.Name)
	}
	if got := f.acc.Status()[0].Current; got != 0 {
		t.Fatalf("aggregate total after fire: got=%d want=0", got)
	}
}

func TestProcessBatch_NameOverrideRoundTrip(t *testing.T) {
	overrides := []types.NameOverride{
		{CoinValue: 1000, OriginalName: "Galaxy", OverrideName: "Supernova"},
	}
	mappings := map[string]types.ActionDescriptor{
		"Galaxy": {Kind: types.ActionKindOperation, Name: "togglePause"},
	}
	f := newFixture(t, testCatalog(), overrides, nil, mappings)

	f.session.ProcessBatch(context.Background(), [][]byte{
		rawGift("g1", "alice", "Supernova", 1, time.Now().Add(time.Minute)),
	})

	// 表示名で届いても元名に紐づくマッピングが発火する
	if len(f.dispatcher.calls) != 1 {
		t.Fatalf("renamed gift must still dispatch: got=%d", len(f.dispatcher.calls))
	}
	if f.dispatcher.calls[0].action.Name != "togglePause" {
		t.Fatalf("unexpected action: got=%q", f.dispatcher.calls[0].action.Name)
	}
	if f.sink.activities[0].CoinValue != 1000 {
		t.Fatalf("coin value must resolve via canonical name: got=%d want=1000", f.sink.activities[0].CoinValue)
	}
}

func TestProcessBatch_PublishesThresholdSnapshotPerPoll(t *testing.T) {
	f := newFixture(t, testCatalog(), nil, nil, nil)

	f.session.ProcessBatch(context.Background(), nil)
	f.session.ProcessBatch(context.Background(), nil)

	if f.sink.snapshots != 2 {
		t.Fatalf("one snapshot per poll expected: got=%d want=2", f.sink.snapshots)
	}
}
