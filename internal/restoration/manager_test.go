package restoration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nantokaworks/gift-relay/internal/devicememory"
	"github.com/nantokaworks/gift-relay/internal/localdb"
)

const (
	bootsValueAddr   = 0x100
	bootsAbilityAddr = 0x200
	equippedSlotAddr = 0x300
	bootsItemID      = 0x07
	bootsAbilityMask = 0x04
)

type fakeDevice struct {
	mem        map[uint32]byte
	failWrites bool
	failReads  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{mem: make(map[uint32]byte)}
}

func (d *fakeDevice) ReadBytes(_ context.Context, addr uint32, length int) ([]byte, error) {
	if d.failReads {
		return nil, errors.New("read failed")
	}
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = d.mem[addr+uint32(i)]
	}
	return out, nil
}

func (d *fakeDevice) WriteBytes(_ context.Context, addr uint32, data []byte) error {
	if d.failWrites {
		return errors.New("write failed")
	}
	for i, b := range data {
		d.mem[addr+uint32(i)] = b
	}
	return nil
}

func testTable() *devicememory.AddressTable {
	return &devicememory.AddressTable{
		EquippedSlotAddr: equippedSlotAddr,
		Items: map[string]devicememory.ItemSlot{
			"boots": {
				Key:         "boots",
				DisplayName: "Running Boots",
				ItemID:      bootsItemID,
				ValueAddr:   bootsValueAddr,
				AbsentValue: 0,
				AbilityAddr: bootsAbilityAddr,
				AbilityMask: bootsAbilityMask,
			},
			"rod": {
				Key:         "rod",
				DisplayName: "Fishing Rod",
				ItemID:      0x09,
				ValueAddr:   0x110,
				AbsentValue: 0,
			},
		},
	}
}

func setupLeaseDB(t *testing.T) {
	t.Helper()
	if localdb.DBClient != nil {
		_ = localdb.DBClient.Close()
		localdb.DBClient = nil
	}
	dbPath := filepath.Join(t.TempDir(), "local.db")
	db, err := localdb.SetupDB(dbPath)
	if err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
		localdb.DBClient = nil
	})
}

func TestAcquireAndRelease(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 1
	dev.mem[bootsAbilityAddr] = 0xFF
	dev.mem[equippedSlotAddr] = bootsItemID

	m := NewManager(dev, testTable())
	ctx := context.Background()

	if err := m.Acquire(ctx, "boots", 30*time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if dev.mem[bootsValueAddr] != 0 {
		t.Fatalf("item value not disabled: got=%d want=0", dev.mem[bootsValueAddr])
	}
	if dev.mem[equippedSlotAddr] != 0 {
		t.Fatalf("equipped slot not cleared: got=%d want=0", dev.mem[equippedSlotAddr])
	}
	if dev.mem[bootsAbilityAddr] != 0xFF&^byte(bootsAbilityMask) {
		t.Fatalf("ability bit not cleared: got=%#x", dev.mem[bootsAbilityAddr])
	}

	active := m.ListActive()
	if len(active) != 1 || active[0].ItemKey != "boots" {
		t.Fatalf("unexpected active leases: %+v", active)
	}
	if active[0].RemainingS < 28 || active[0].RemainingS > 30 {
		t.Fatalf("unexpected remaining seconds: got=%d", active[0].RemainingS)
	}

	if err := m.Release(ctx, "boots"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if dev.mem[bootsValueAddr] != 1 {
		t.Fatalf("item value not restored: got=%d want=1", dev.mem[bootsValueAddr])
	}
	if dev.mem[bootsAbilityAddr] != 0xFF {
		t.Fatalf("ability byte not restored: got=%#x want=0xff", dev.mem[bootsAbilityAddr])
	}
	// 装備スロットは意図的に復元しない
	if dev.mem[equippedSlotAddr] != 0 {
		t.Fatalf("equipped slot must stay as the player left it: got=%d", dev.mem[equippedSlotAddr])
	}
	if len(m.ListActive()) != 0 {
		t.Fatal("lease should be cleared after release")
	}

	records, err := localdb.ListLeases()
	if err != nil {
		t.Fatalf("ListLeases failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("lease row should be deleted: %+v", records)
	}
}

func TestAcquire_AlreadyLeased(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 1

	m := NewManager(dev, testTable())
	ctx := context.Background()

	if err := m.Acquire(ctx, "boots", 30*time.Second); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	err := m.Acquire(ctx, "boots", 30*time.Second)
	var leased *AlreadyLeasedError
	if !errors.As(err, &leased) {
		t.Fatalf("expected AlreadyLeasedError, got %v", err)
	}
	if leased.Remaining <= 0 || leased.Remaining > 30*time.Second {
		t.Fatalf("unexpected remaining: got=%v", leased.Remaining)
	}
}

func TestAcquire_ExpiredLeaseReportsZeroRemaining(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 1

	m := NewManager(dev, testTable())
	base := time.Now()
	m.now = func() time.Time { return base }

	if err := m.Acquire(context.Background(), "boots", time.Hour); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// 期限は過ぎているがタイマーはまだ発火していない
	m.now = func() time.Time { return base.Add(2 * time.Hour) }

	err := m.Acquire(context.Background(), "boots", time.Hour)
	var leased *AlreadyLeasedError
	if !errors.As(err, &leased) {
		t.Fatalf("expected AlreadyLeasedError, got %v", err)
	}
	if leased.Remaining != 0 {
		t.Fatalf("remaining must be clamped to zero: got=%v", leased.Remaining)
	}
}

func TestAcquire_AbsentItemIsNoOp(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 0 // 既に持っていない

	m := NewManager(dev, testTable())
	if err := m.Acquire(context.Background(), "boots", 30*time.Second); err != nil {
		t.Fatalf("Acquire on absent item must succeed as no-op: %v", err)
	}
	if len(m.ListActive()) != 0 {
		t.Fatal("no lease may be created for an absent item")
	}

	records, _ := localdb.ListLeases()
	if len(records) != 0 {
		t.Fatalf("no lease row may be created: %+v", records)
	}
}

func TestAcquire_UnknownItem(t *testing.T) {
	setupLeaseDB(t)
	m := NewManager(newFakeDevice(), testTable())
	if err := m.Acquire(context.Background(), "jetpack", time.Second); err == nil {
		t.Fatal("unknown item must fail")
	}
}

func TestAcquire_WriteFailureLeavesNoLease(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 1
	dev.failWrites = true

	m := NewManager(dev, testTable())
	if err := m.Acquire(context.Background(), "boots", 30*time.Second); err == nil {
		t.Fatal("failed disabling write must abort the acquire")
	}
	if len(m.ListActive()) != 0 {
		t.Fatal("no partial lease may be recorded")
	}
	records, _ := localdb.ListLeases()
	if len(records) != 0 {
		t.Fatalf("no partial lease row may be recorded: %+v", records)
	}
}

func TestCancel_BeforeExpiry(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 1
	dev.mem[bootsAbilityAddr] = 0xFF

	m := NewManager(dev, testTable())
	ctx := context.Background()
	if err := m.Acquire(ctx, "boots", time.Hour); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if err := m.Cancel(ctx, "boots"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	if dev.mem[bootsValueAddr] != 1 {
		t.Fatalf("item value not restored on cancel: got=%d want=1", dev.mem[bootsValueAddr])
	}
	if dev.mem[bootsAbilityAddr] != 0xFF {
		t.Fatalf("ability byte not restored on cancel: got=%#x want=0xff", dev.mem[bootsAbilityAddr])
	}
	if len(m.ListActive()) != 0 {
		t.Fatal("lease should be cleared after cancel")
	}
	records, _ := localdb.ListLeases()
	if len(records) != 0 {
		t.Fatalf("lease row should be deleted: %+v", records)
	}

	// 解放済みのリースに対するキャンセルは何もしない
	if err := m.Cancel(ctx, "boots"); err != nil {
		t.Fatalf("cancel of a released lease must be a no-op: %v", err)
	}
}

func TestRelease_ExpiryTimerRestores(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[0x110] = 5

	m := NewManager(dev, testTable())
	if err := m.Acquire(context.Background(), "rod", 30*time.Millisecond); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if dev.mem[0x110] == 5 && len(m.ListActive()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("item not restored after expiry: value=%d leases=%d", dev.mem[0x110], len(m.ListActive()))
}

func TestRelease_FailureStillClearsBookkeeping(t *testing.T) {
	setupLeaseDB(t)
	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 1

	m := NewManager(dev, testTable())
	ctx := context.Background()
	if err := m.Acquire(ctx, "boots", time.Hour); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	dev.failWrites = true
	if err := m.Release(ctx, "boots"); err == nil {
		t.Fatal("failed restore write should surface an error")
	}

	// 失敗してもリース簿記は消える（永遠にleasedで詰まらせない）
	if len(m.ListActive()) != 0 {
		t.Fatal("bookkeeping must be cleared even when restoration fails")
	}
	records, _ := localdb.ListLeases()
	if len(records) != 0 {
		t.Fatalf("lease row must be cleared: %+v", records)
	}
}

func TestRestoreAll_CrashRecovery(t *testing.T) {
	setupLeaseDB(t)

	// 前プロセスが残したリース行を再現する（タイマーは死んでいる）
	original := 3
	err := localdb.InsertLease(localdb.LeaseRecord{
		ItemKey:       "boots",
		OriginalValue: original,
		SlotValue:     int(bootsItemID),
		DisplayName:   "Running Boots",
		LeaseStart:    time.Now().Add(-time.Hour),
		LeaseExpiry:   time.Now().Add(-30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("InsertLease failed: %v", err)
	}

	dev := newFakeDevice()
	dev.mem[bootsValueAddr] = 0 // 無効化されたまま

	m := NewManager(dev, testTable())
	if err := m.RestoreAll(context.Background()); err != nil {
		t.Fatalf("RestoreAll failed: %v", err)
	}

	if dev.mem[bootsValueAddr] != byte(original) {
		t.Fatalf("item not force-restored: got=%d want=%d", dev.mem[bootsValueAddr], original)
	}
	records, _ := localdb.ListLeases()
	if len(records) != 0 {
		t.Fatalf("orphaned lease row must be deleted: %+v", records)
	}
}
