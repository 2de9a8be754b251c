package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	// Check file exists
	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SetValue("k", "v"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	defer db.Close()
	if v, ok, _ := db.GetValue("k"); !ok || v != "v" {
		t.Errorf("GetValue() = %q, %v after reopen", v, ok)
	}
}

// ─── Key-Value ──────────────────────────────────────────────────────────────

func TestKeyValue(t *testing.T) {
	db := newTestDB(t)

	if _, ok, err := db.GetValue("missing"); err != nil || ok {
		t.Errorf("GetValue(missing) = %v, %v", ok, err)
	}
	if err := db.SetValue("a", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetValue("a", "2"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := db.GetValue("a"); v != "2" {
		t.Errorf("GetValue(a) = %q, want 2", v)
	}
	if err := db.DeleteValue("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.GetValue("a"); ok {
		t.Error("value should be deleted")
	}
}

// ─── Lock State ─────────────────────────────────────────────────────────────

func sampleState() domain.LockState {
	at := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	reason := "EMERGENCY at 83.0°C"
	expiry := at.Add(10 * time.Second)
	return domain.LockState{
		IsLocked: false,
		ClusterConfigs: map[int]domain.ClusterLockConfig{
			0: {ClusterID: 0, MinFreqKHz: 1_000_000, MaxFreqKHz: 1_200_000, LastAppliedAt: at},
			2: {ClusterID: 2, MinFreqKHz: 1_400_000, MaxFreqKHz: 2_000_000,
				TemporarilyUnlocked: true, UnlockReason: &reason, UnlockExpiry: &expiry, LastAppliedAt: at},
		},
		PolicyType:      domain.PolicySmart,
		ThermalPolicy:   "Balanced",
		LastTemperature: 83.5,
		LastUpdateAt:    at,
		OriginalFrequencies: map[int]domain.OriginalFrequencyBackup{
			0: {ClusterID: 0, MinFreqKHz: 300_000, MaxFreqKHz: 1_800_000, Governor: "schedutil", CapturedAt: at},
			2: {ClusterID: 2, MinFreqKHz: 844_000, MaxFreqKHz: 3_000_000, Governor: "schedutil", CapturedAt: at},
		},
		ThermalOverrideActive: true,
		RetryCount:            2,
		LastRetryAt:           at.Add(-time.Minute),
	}
}

func TestLockState_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	want := sampleState()

	if err := db.SaveLockState(want); err != nil {
		t.Fatalf("SaveLockState() error: %v", err)
	}
	got, ok, err := db.LoadLockState()
	if err != nil || !ok {
		t.Fatalf("LoadLockState() = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch\n got: %+v\nwant: %+v", got, want)
	}
}

func TestLockState_NeverSaved(t *testing.T) {
	db := newTestDB(t)
	got, ok, err := db.LoadLockState()
	if err != nil {
		t.Fatalf("LoadLockState() error: %v", err)
	}
	if ok {
		t.Error("ok should be false before any save")
	}
	if got.IsLocked || got.ClusterConfigs == nil {
		t.Errorf("expected empty state, got %+v", got)
	}
}

func TestLockState_Overwrite(t *testing.T) {
	db := newTestDB(t)
	if err := db.SaveLockState(sampleState()); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveLockState(domain.EmptyLockState()); err != nil {
		t.Fatal(err)
	}
	got, _, _ := db.LoadLockState()
	if got.SessionActive() || len(got.ClusterConfigs) != 0 {
		t.Errorf("state not overwritten: %+v", got)
	}
}

func TestLockState_Corrupted(t *testing.T) {
	db := newTestDB(t)
	if err := db.SetValue(stateKey, "{not json"); err != nil {
		t.Fatal(err)
	}
	_, _, err := db.LoadLockState()
	if !errors.Is(err, domain.ErrStateCorrupted) {
		t.Errorf("error = %v, want ErrStateCorrupted", err)
	}
	if err := db.ClearLockState(); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := db.LoadLockState(); ok || err != nil {
		t.Errorf("after clear: ok=%v err=%v", ok, err)
	}
}

// ─── Event Journal ──────────────────────────────────────────────────────────

func event(id string, typ domain.ThermalEventType, at time.Time) domain.ThermalEvent {
	return domain.ThermalEvent{
		ID:               id,
		Type:             typ,
		Temperature:      83,
		Policy:           "Balanced",
		Message:          "test",
		Timestamp:        at,
		AffectedClusters: []int{0, 1},
		Notify:           true,
	}
}

func TestAppendEvent_KeepsNotifyFlag(t *testing.T) {
	db := newTestDB(t)
	quiet := event("quiet", domain.EventWarning, time.Now())
	quiet.Notify = false
	if err := db.AppendEvent(quiet); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendEvent(event("loud", domain.EventWarning, time.Now())); err != nil {
		t.Fatal(err)
	}
	got, err := db.RecentEvents(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got[0].Notify || got[1].Notify {
		t.Errorf("notify flags = %+v", got)
	}
}

func TestAppendEvent_RecentNewestFirst(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	types := []domain.ThermalEventType{domain.EventWarning, domain.EventEmergency, domain.EventCritical}
	for i, typ := range types {
		if err := db.AppendEvent(event(string(rune('a'+i)), typ, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("AppendEvent() error: %v", err)
		}
	}

	got, err := db.RecentEvents(2)
	if err != nil {
		t.Fatalf("RecentEvents() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Type != domain.EventCritical || got[1].Type != domain.EventEmergency {
		t.Errorf("order = %s, %s", got[0].Type, got[1].Type)
	}
	if !reflect.DeepEqual(got[0], event("c", domain.EventCritical, base.Add(2*time.Second))) {
		t.Errorf("event mismatch: %+v", got[0])
	}
}

func TestAppendEvent_DuplicateIgnored(t *testing.T) {
	db := newTestDB(t)
	ev := event("dup", domain.EventWarning, time.Now())
	if err := db.AppendEvent(ev); err != nil {
		t.Fatal(err)
	}
	if err := db.AppendEvent(ev); err != nil {
		t.Fatalf("duplicate AppendEvent() error: %v", err)
	}
	if n, _ := db.CountEvents(); n != 1 {
		t.Errorf("CountEvents() = %d, want 1", n)
	}
}

func TestEventsSince(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	db.AppendEvent(event("old", domain.EventWarning, base.Add(-time.Hour)))
	db.AppendEvent(event("w", domain.EventWarning, base))
	db.AppendEvent(event("c", domain.EventCritical, base.Add(time.Second)))

	all, err := db.EventsSince(base, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "w" {
		t.Errorf("EventsSince(all) = %+v", all)
	}
	crit, _ := db.EventsSince(base, domain.EventCritical)
	if len(crit) != 1 || crit[0].ID != "c" {
		t.Errorf("EventsSince(CRITICAL) = %+v", crit)
	}
}

func TestPruneEvents(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 10; i++ {
		db.AppendEvent(event(string(rune('a'+i)), domain.EventWarning, time.Now()))
	}
	deleted, err := db.PruneEvents(3)
	if err != nil {
		t.Fatalf("PruneEvents() error: %v", err)
	}
	if deleted != 7 {
		t.Errorf("deleted = %d, want 7", deleted)
	}
	got, _ := db.RecentEvents(100)
	if len(got) != 3 || got[0].ID != "j" {
		t.Errorf("remaining = %+v", got)
	}
}

func TestAppendEvent_NilClusters(t *testing.T) {
	db := newTestDB(t)
	ev := event("n", domain.EventRestoreSafe, time.Now())
	ev.AffectedClusters = nil
	if err := db.AppendEvent(ev); err != nil {
		t.Fatal(err)
	}
	got, _ := db.RecentEvents(1)
	if len(got) != 1 || len(got[0].AffectedClusters) != 0 {
		t.Errorf("got %+v", got)
	}
}
