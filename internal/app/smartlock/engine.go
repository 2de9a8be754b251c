// Package smartlock implements the thermally-aware CPU frequency locker.
//
// The Engine pins cluster frequency ranges through the capability ports,
// and for SMART sessions runs a monitoring loop that classifies the CPU
// temperature against the active thermal policy:
//
//	UNLOCKED → LOCKED_MANUAL
//	UNLOCKED → LOCKED_SMART_NORMAL ⇄ LOCKED_SMART_WARNING
//	LOCKED_SMART_* → THERMAL_OVERRIDE_ACTIVE   (emergency/critical action)
//	THERMAL_OVERRIDE_ACTIVE → LOCKED_SMART_NORMAL (auto-restore succeeded)
//	any → UNLOCKED                              (Unlock)
//
// The state is derived from domain.LockState; there is no separate enum.
//
// # Thread Safety
//
// All mutations (Lock, Unlock, Retry, monitoring actions, restores) are
// serialized by a single operation mutex. Status and the streams read
// snapshots and never block on capability I/O.
package smartlock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xtrakernel/freqlockd/internal/app/lockstate"
	"github.com/xtrakernel/freqlockd/internal/domain"
	"github.com/xtrakernel/freqlockd/internal/infra/catalog"
	"github.com/xtrakernel/freqlockd/internal/infra/metrics"
)

// RetryWindow is the period over which MaxRetriesPerHour is counted.
const RetryWindow = time.Hour

// Config controls engine timing.
type Config struct {
	TickInterval time.Duration    // Poll cadence of the monitoring loop (default: 1s)
	ErrorBackoff time.Duration    // Wait after a failed tick (default: 5 × TickInterval)
	Now          func() time.Time // Injectable clock for testing
}

// DefaultConfig returns production timing.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		ErrorBackoff: 5 * time.Second,
		Now:          time.Now,
	}
}

// Ports groups the capability interfaces the engine drives.
type Ports struct {
	Temperature domain.TemperatureReader
	Discovery   domain.ClusterDiscovery
	Controller  domain.ClusterController
}

// Engine owns the lock state and the background monitoring work.
// Only one Engine should exist per process.
type Engine struct {
	ports   Ports
	catalog *catalog.Catalog
	store   *lockstate.Store
	events  *lockstate.Events
	cfg     Config

	opMu          sync.Mutex // serializes every state mutation
	lastWarningAt time.Time  // guarded by opMu

	taskMu        sync.Mutex // guards the fields below
	monitorCancel context.CancelFunc
	restoreCancel context.CancelFunc
	restoreGen    uint64
	closed        bool
	wg            sync.WaitGroup
}

// New creates an engine. A nil catalog means the built-in presets.
func New(ports Ports, cat *catalog.Catalog, cfg Config) *Engine {
	if cat == nil {
		cat = catalog.Default()
	}
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * cfg.TickInterval
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	return &Engine{
		ports:   ports,
		catalog: cat,
		store:   lockstate.NewStore(),
		events:  lockstate.NewEvents(lockstate.DefaultEventBuffer),
		cfg:     cfg,
	}
}

// Catalog returns the policy catalog the engine resolves names against.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// State returns a snapshot of the lock state.
func (e *Engine) State() domain.LockState { return e.store.Snapshot() }

// States streams lock state snapshots; the current value is replayed first.
func (e *Engine) States(ctx context.Context) <-chan domain.LockState {
	return e.store.Subscribe(ctx)
}

// Events streams thermal events published after the call.
func (e *Engine) Events(ctx context.Context) <-chan domain.ThermalEvent {
	return e.events.Subscribe(ctx)
}

// DroppedEvents reports event deliveries skipped for slow subscribers.
func (e *Engine) DroppedEvents() int64 { return e.events.Dropped() }

// ─── Lock ───────────────────────────────────────────────────────────────────

// Lock applies per-cluster frequency locks. configs is keyed by cluster id.
// An empty thermalPolicy selects the policy recommended for policyType.
func (e *Engine) Lock(ctx context.Context, configs map[int]domain.ClusterLockConfig,
	policyType domain.PolicyType, thermalPolicy string) domain.Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	res := e.guard(ctx, func(ctx context.Context) domain.Result {
		return e.lockLocked(ctx, configs, policyType, thermalPolicy, false)
	})
	metrics.LockOperations.WithLabelValues("lock", string(res.Kind)).Inc()
	return res
}

// lockLocked does the work of Lock. reentry skips the MANUAL double-lock
// guard (auto-restore and user retries). Caller holds opMu.
func (e *Engine) lockLocked(ctx context.Context, configs map[int]domain.ClusterLockConfig,
	policyType domain.PolicyType, policyName string, reentry bool) domain.Result {
	prev := e.store.Snapshot()

	if !reentry && prev.IsLocked && policyType == domain.PolicyManual {
		return domain.AlreadyLocked()
	}

	if err := validateConfigs(configs); err != nil {
		return domain.ErrorResult("invalid lock request", err)
	}
	if _, err := domain.ParsePolicyType(string(policyType)); err != nil || policyType == "" {
		return domain.ErrorResult("invalid lock request",
			fmt.Errorf("%w: policy type %q", domain.ErrInvalidConfig, policyType))
	}
	policy, err := e.resolvePolicy(policyType, policyName)
	if err != nil {
		return domain.ErrorResult("invalid lock request", err)
	}

	temp := prev.LastTemperature
	tempRead := false
	if policyType == domain.PolicySmart {
		t, err := e.ports.Temperature.CurrentCPUTemperature(ctx)
		if err != nil {
			return domain.ErrorResult("read cpu temperature", err)
		}
		temp, tempRead = t, true
		if temp >= policy.CriticalThreshold {
			log.Printf("[smartlock] refusing SMART lock: %.1f°C >= critical %.1f°C (%s)",
				temp, policy.CriticalThreshold, policy.Name)
			return domain.ThermalOverrideActivated(temp, policy.Name)
		}
	}

	// Backup before mutate: every requested cluster's live settings are
	// captured before the first write. Backups from a still-active session
	// are kept so a restore never overwrites the pre-session values.
	snaps, err := e.ports.Discovery.DetectClusters(ctx)
	if err != nil {
		return domain.ErrorResult("detect cpu clusters", err)
	}
	now := e.cfg.Now()
	live := indexSnapshots(snaps)
	backups := make(map[int]domain.OriginalFrequencyBackup, len(configs))
	for id := range configs {
		if prev.SessionActive() {
			if b, ok := prev.OriginalFrequencies[id]; ok {
				backups[id] = b
				continue
			}
		}
		if s, ok := live[id]; ok {
			backups[id] = domain.OriginalFrequencyBackup{
				ClusterID:  id,
				MinFreqKHz: s.CurrentMinKHz,
				MaxFreqKHz: s.CurrentMaxKHz,
				Governor:   s.Governor,
				CapturedAt: now,
			}
		} else {
			log.Printf("[smartlock] cluster %d not discovered, no backup captured", id)
		}
	}

	// Each cluster is independent: keep going through failures.
	var succeeded, failed []int
	var errs []error
	applied := make(map[int]domain.ClusterLockConfig, len(configs))
	for _, id := range domain.SortedKeys(configs) {
		cfg := configs[id]
		cfg.TemporarilyUnlocked = false
		cfg.UnlockReason = nil
		cfg.UnlockExpiry = nil
		if err := e.ports.Controller.LockCluster(ctx, id, cfg.MinFreqKHz, cfg.MaxFreqKHz); err != nil {
			log.Printf("[smartlock] lock cluster %d (%d-%d kHz) failed: %v", id, cfg.MinFreqKHz, cfg.MaxFreqKHz, err)
			metrics.ClusterWriteFailures.WithLabelValues("lock").Inc()
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("cluster %d: %w", id, err))
		} else {
			cfg.LastAppliedAt = now
			succeeded = append(succeeded, id)
		}
		applied[id] = cfg
	}

	ok := len(succeeded) > 0 && len(failed) == 0
	keepOverride := prev.ThermalOverrideActive && !ok && policyType == domain.PolicySmart
	next := e.store.Update(func(s *domain.LockState) {
		*s = domain.LockState{
			IsLocked:              len(succeeded) > 0,
			ClusterConfigs:        applied,
			PolicyType:            policyType,
			ThermalPolicy:         policy.Name,
			LastTemperature:       temp,
			LastUpdateAt:          now,
			ThermalOverrideActive: keepOverride,
			OriginalFrequencies:   backups,
			RetryCount:            prev.RetryCount,
			LastRetryAt:           prev.LastRetryAt,
		}
		if !s.SessionActive() {
			s.OriginalFrequencies = map[int]domain.OriginalFrequencyBackup{}
		}
	})

	switch {
	case policyType == domain.PolicySmart && len(succeeded) > 0:
		e.startMonitoring()
	case policyType == domain.PolicySmart && next.SessionActive():
		// Override still pending: the running loop keeps supervising.
	default:
		e.stopTasks()
	}

	switch {
	case len(succeeded) == 0:
		return domain.ErrorResult("failed to lock any cluster", errors.Join(errs...))
	case len(failed) == 0:
		if tempRead && temp >= policy.WarningThreshold {
			return domain.SuccessWithWarning(fmt.Sprintf(
				"locked at %.1f°C, already above the %s warning threshold of %.1f°C",
				temp, policy.Name, policy.WarningThreshold))
		}
		return domain.Success()
	default:
		return domain.PartialSuccess(succeeded, failed)
	}
}

// ─── Unlock ─────────────────────────────────────────────────────────────────

// Unlock restores every backed-up cluster and resets the state. A session
// suspended by a thermal override counts as locked.
func (e *Engine) Unlock(ctx context.Context) domain.Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	res := e.guard(ctx, e.unlockLocked)
	metrics.LockOperations.WithLabelValues("unlock", string(res.Kind)).Inc()
	return res
}

func (e *Engine) unlockLocked(ctx context.Context) domain.Result {
	st := e.store.Snapshot()
	if !st.SessionActive() {
		return domain.NotLocked()
	}

	e.stopTasks()
	succeeded, failed := e.restoreClusters(ctx, st)

	// The reset happens regardless of partial failure; the discarded
	// backups are logged so the original values are not silently lost.
	for _, id := range failed {
		if b, ok := st.OriginalFrequencies[id]; ok {
			log.Printf("[smartlock] discarding backup for unrestored cluster %d: %d-%d kHz governor=%s",
				id, b.MinFreqKHz, b.MaxFreqKHz, b.Governor)
		}
	}
	e.store.Update(func(s *domain.LockState) {
		temp := s.LastTemperature
		*s = domain.EmptyLockState()
		s.LastTemperature = temp
		s.LastUpdateAt = e.cfg.Now()
	})

	if len(failed) == 0 {
		return domain.Success()
	}
	return domain.PartialSuccess(succeeded, failed)
}

// restoreClusters writes back every backup, resets configured clusters that
// have no backup to hardware limits, then restores governors best-effort.
// Returns per-cluster outcomes; governor restores do not affect them.
func (e *Engine) restoreClusters(ctx context.Context, st domain.LockState) (succeeded, failed []int) {
	for _, id := range domain.SortedKeys(st.OriginalFrequencies) {
		b := st.OriginalFrequencies[id]
		if err := e.ports.Controller.RestoreCluster(ctx, id, b.MinFreqKHz, b.MaxFreqKHz); err != nil {
			log.Printf("[smartlock] restore cluster %d failed: %v", id, err)
			metrics.ClusterWriteFailures.WithLabelValues("restore").Inc()
			failed = append(failed, id)
			continue
		}
		succeeded = append(succeeded, id)
	}
	for _, id := range st.ClusterIDs() {
		if _, ok := st.OriginalFrequencies[id]; ok {
			continue
		}
		if err := e.ports.Controller.UnlockCluster(ctx, id); err != nil {
			log.Printf("[smartlock] reset cluster %d to hardware limits failed: %v", id, err)
			metrics.ClusterWriteFailures.WithLabelValues("unlock").Inc()
			failed = append(failed, id)
			continue
		}
		succeeded = append(succeeded, id)
	}

	if len(succeeded) == 0 {
		return succeeded, failed
	}
	snaps, err := e.ports.Discovery.DetectClusters(ctx)
	if err != nil {
		log.Printf("[smartlock] governor check skipped: %v", err)
		return succeeded, failed
	}
	live := indexSnapshots(snaps)
	for _, id := range succeeded {
		b, ok := st.OriginalFrequencies[id]
		if !ok || b.Governor == "" {
			continue
		}
		if s, found := live[id]; found && s.Governor == b.Governor {
			continue
		}
		if err := e.ports.Controller.SetGovernor(ctx, id, b.Governor); err != nil {
			log.Printf("[smartlock] restore governor %q on cluster %d failed: %v", b.Governor, id, err)
			metrics.ClusterWriteFailures.WithLabelValues("governor").Inc()
		}
	}
	return succeeded, failed
}

// ─── Retry Budget ───────────────────────────────────────────────────────────

// CanRetry reports whether a user-initiated retry is within budget.
func (e *Engine) CanRetry() bool {
	return e.canRetry(e.store.Snapshot())
}

func (e *Engine) canRetry(st domain.LockState) bool {
	if e.cfg.Now().Sub(st.LastRetryAt) > RetryWindow {
		return true
	}
	return st.RetryCount < e.policyFor(st).Behavior.MaxRetriesPerHour
}

// Retry re-applies the last requested lock after a failure, partial failure
// or thermal override. It spends one unit of the hourly retry budget.
func (e *Engine) Retry(ctx context.Context) domain.Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	res := e.guard(ctx, e.retryLocked)
	metrics.LockOperations.WithLabelValues("retry", string(res.Kind)).Inc()
	return res
}

func (e *Engine) retryLocked(ctx context.Context) domain.Result {
	st := e.store.Snapshot()
	if len(st.ClusterConfigs) == 0 {
		return domain.NotLocked()
	}
	if !e.canRetry(st) {
		return domain.RetryExceeded(st.RetryCount, st.LastRetryAt.Add(RetryWindow))
	}

	now := e.cfg.Now()
	st = e.store.Update(func(s *domain.LockState) {
		if now.Sub(s.LastRetryAt) > RetryWindow {
			s.RetryCount = 0
		}
		s.RetryCount++
		s.LastRetryAt = now
	})
	log.Printf("[smartlock] retry %d of %s lock (%s)", st.RetryCount, st.PolicyType, st.ThermalPolicy)
	return e.lockLocked(ctx, st.ClusterConfigs, st.PolicyType, st.ThermalPolicy, true)
}

// ─── Status & Lifecycle ─────────────────────────────────────────────────────

// Status projects the current state for display. Never blocks on I/O.
func (e *Engine) Status() domain.LockStatus {
	st := e.store.Snapshot()
	return domain.NewLockStatus(st, e.canRetry(st))
}

// RestoreFromPersistedState loads a state saved by a previous process and
// resumes supervision of an active SMART session.
func (e *Engine) RestoreFromPersistedState(ctx context.Context, st domain.LockState) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.store.Replace(st)
	if st.PolicyType == domain.PolicySmart && st.SessionActive() {
		log.Printf("[smartlock] resuming thermal monitoring (%s, %d clusters, override=%v)",
			st.ThermalPolicy, len(st.ClusterConfigs), st.ThermalOverrideActive)
		e.startMonitoring()
	}
}

// Cleanup cancels the monitoring loop and any pending restore, and waits for
// them to exit. The engine starts no background work afterwards.
func (e *Engine) Cleanup() {
	e.taskMu.Lock()
	e.closed = true
	if e.monitorCancel != nil {
		e.monitorCancel()
		e.monitorCancel = nil
	}
	if e.restoreCancel != nil {
		e.restoreCancel()
		e.restoreCancel = nil
	}
	e.taskMu.Unlock()
	e.wg.Wait()
}

// Monitoring reports whether a monitoring loop is running.
func (e *Engine) Monitoring() bool {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	return e.monitorCancel != nil
}

// RestorePending reports whether an auto-restore is scheduled.
func (e *Engine) RestorePending() bool {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	return e.restoreCancel != nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// guard runs op only if ctx is still live, and detaches op from ctx so a
// caller that goes away midway cannot abort hardware writes after the state
// decision was made. Caller holds opMu.
func (e *Engine) guard(ctx context.Context, op func(context.Context) domain.Result) domain.Result {
	if err := ctx.Err(); err != nil {
		return domain.ErrorResult("request cancelled before any change", err)
	}
	return op(context.WithoutCancel(ctx))
}

func (e *Engine) resolvePolicy(pt domain.PolicyType, name string) (domain.ThermalPolicy, error) {
	if name == "" {
		return e.catalog.RecommendedFor(pt), nil
	}
	p, ok := e.catalog.ByName(name)
	if !ok {
		return domain.ThermalPolicy{}, fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, name)
	}
	return p, nil
}

// policyFor returns the state's active policy, falling back to the default
// when the persisted name is no longer in the catalog.
func (e *Engine) policyFor(st domain.LockState) domain.ThermalPolicy {
	if p, ok := e.catalog.ByName(st.ThermalPolicy); ok {
		return p
	}
	return e.catalog.Default()
}

func (e *Engine) emit(typ domain.ThermalEventType, temp float64, policy, msg string, st domain.LockState) {
	ev := domain.ThermalEvent{
		ID:               uuid.New().String(),
		Type:             typ,
		Temperature:      temp,
		Policy:           policy,
		Message:          msg,
		Timestamp:        e.cfg.Now(),
		AffectedClusters: st.ClusterIDs(),
		Notify:           true,
	}
	if p, ok := e.catalog.ByName(policy); ok {
		ev.Notify = p.Behavior.NotifyUser
	}
	metrics.ThermalEvents.WithLabelValues(string(typ)).Inc()
	e.events.Publish(ev)
}

func validateConfigs(configs map[int]domain.ClusterLockConfig) error {
	if len(configs) == 0 {
		return fmt.Errorf("%w: no clusters requested", domain.ErrInvalidConfig)
	}
	for id, c := range configs {
		if c.ClusterID != id {
			return fmt.Errorf("%w: key %d holds config for cluster %d", domain.ErrInvalidConfig, id, c.ClusterID)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func indexSnapshots(snaps []domain.ClusterSnapshot) map[int]domain.ClusterSnapshot {
	m := make(map[int]domain.ClusterSnapshot, len(snaps))
	for _, s := range snaps {
		m[s.ClusterID] = s
	}
	return m
}
