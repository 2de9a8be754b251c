package smartlock

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/xtrakernel/freqlockd/internal/domain"
	"github.com/xtrakernel/freqlockd/internal/infra/metrics"
)

// ─── Task Management ────────────────────────────────────────────────────────

// startMonitoring replaces any running loop with a fresh one.
// Caller holds opMu.
func (e *Engine) startMonitoring() {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	if e.closed {
		return
	}
	if e.monitorCancel != nil {
		e.monitorCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.monitorCancel = cancel
	e.wg.Add(1)
	go e.monitor(ctx)
}

// stopTasks cancels the loop and any pending restore without waiting.
// A cancelled task that is already blocked on opMu re-checks its context
// once it gets the lock and leaves the state alone.
func (e *Engine) stopTasks() {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	if e.monitorCancel != nil {
		e.monitorCancel()
		e.monitorCancel = nil
	}
	if e.restoreCancel != nil {
		e.restoreCancel()
		e.restoreCancel = nil
	}
}

func (e *Engine) cancelRestore() {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	if e.restoreCancel != nil {
		e.restoreCancel()
		e.restoreCancel = nil
	}
}

// ─── Monitoring Loop ────────────────────────────────────────────────────────

// monitor polls the temperature until the session ends or ctx is cancelled.
// A failing tick is logged and followed by ErrorBackoff instead of the
// normal interval.
func (e *Engine) monitor(ctx context.Context) {
	defer e.wg.Done()
	log.Printf("[smartlock] thermal monitoring started (every %s)", e.cfg.TickInterval)
	defer log.Printf("[smartlock] thermal monitoring stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		start := time.Now()
		active, err := e.safeTick(ctx)
		metrics.MonitorTickLatency.Observe(time.Since(start).Seconds())
		metrics.MonitorTicks.Inc()
		if !active {
			e.clearMonitor(ctx)
			return
		}

		wait := e.cfg.TickInterval
		if err != nil {
			metrics.MonitorTickErrors.Inc()
			log.Printf("[smartlock] monitor tick failed, backing off %s: %v", e.cfg.ErrorBackoff, err)
			wait = e.cfg.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

// clearMonitor drops the cancel func of a loop that ended on its own.
func (e *Engine) clearMonitor(ctx context.Context) {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	if ctx.Err() == nil && e.monitorCancel != nil {
		e.monitorCancel()
		e.monitorCancel = nil
	}
}

// safeTick runs one tick, converting a panic into an error so the loop
// survives a misbehaving capability.
func (e *Engine) safeTick(ctx context.Context) (active bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			active, err = true, fmt.Errorf("tick panic: %v", r)
		}
	}()
	return e.tick(ctx)
}

// tick samples the temperature and acts on its classification. Returns
// false once there is no SMART session left to supervise.
func (e *Engine) tick(ctx context.Context) (bool, error) {
	if !e.supervising(e.store.Snapshot()) {
		return false, nil
	}

	temp, err := e.ports.Temperature.CurrentCPUTemperature(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return true, fmt.Errorf("read cpu temperature: %w", err)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	if ctx.Err() != nil {
		return false, nil
	}

	st := e.store.Update(func(s *domain.LockState) {
		s.LastTemperature = temp
		s.LastUpdateAt = e.cfg.Now()
	})
	metrics.Temperature.Set(temp)
	if !e.supervising(st) {
		return false, nil
	}

	policy := e.policyFor(st)
	if temp > policy.RestoreThreshold {
		// Eligibility must hold for the whole restore delay.
		e.cancelRestore()
	}

	// Actions run to completion once decided, even if the loop is cancelled.
	actCtx := context.WithoutCancel(ctx)

	switch sev := policy.Classify(temp); {
	case sev == domain.SeverityCritical:
		e.escalate(actCtx, st, policy, temp, domain.EventCritical, policy.Behavior.ActionOnCritical)
	case sev == domain.SeverityEmergency && !st.ThermalOverrideActive:
		e.escalate(actCtx, st, policy, temp, domain.EventEmergency, policy.Behavior.ActionOnEmergency)
	case sev == domain.SeverityWarning:
		e.warn(st, policy, temp)
	case temp <= policy.RestoreThreshold && st.ThermalOverrideActive:
		e.scheduleRestore(policy)
	}
	return true, nil
}

// supervising reports whether st is a SMART session the loop should watch.
func (e *Engine) supervising(st domain.LockState) bool {
	return st.PolicyType == domain.PolicySmart && st.SessionActive()
}

// ─── Thermal Actions ────────────────────────────────────────────────────────

func (e *Engine) warn(st domain.LockState, policy domain.ThermalPolicy, temp float64) {
	now := e.cfg.Now()
	if !e.lastWarningAt.IsZero() && now.Sub(e.lastWarningAt) < policy.WarningCooldown {
		return
	}
	e.lastWarningAt = now
	log.Printf("[smartlock] WARNING: %.1f°C >= %.1f°C (%s)", temp, policy.WarningThreshold, policy.Name)
	e.emit(domain.EventWarning, temp, policy.Name,
		fmt.Sprintf("CPU at %.1f°C, above the %.1f°C warning threshold", temp, policy.WarningThreshold), st)
}

// escalate runs an emergency or critical action and marks the override.
// Caller holds opMu.
func (e *Engine) escalate(ctx context.Context, st domain.LockState, policy domain.ThermalPolicy,
	temp float64, typ domain.ThermalEventType, action domain.ThermalAction) {
	log.Printf("[smartlock] %s: %.1f°C (%s), action=%s", typ, temp, policy.Name, action)
	metrics.ThermalActions.WithLabelValues(string(action)).Inc()

	switch action {
	case domain.ActionUnlockAll:
		e.releaseLocks(ctx, st)
	case domain.ActionUnlockAndGovernorPowersave:
		e.releaseLocks(ctx, st)
		e.forceGovernor(ctx, domain.PowersaveGovernor)
	case domain.ActionEmergencyShutdown:
		log.Printf("[smartlock] %s requested; no shutdown hook is installed", action)
	case domain.ActionNone:
	}

	now := e.cfg.Now()
	reason := fmt.Sprintf("%s at %.1f°C", typ, temp)
	expiry := now.Add(policy.RestoreDelay)
	released := action == domain.ActionUnlockAll || action == domain.ActionUnlockAndGovernorPowersave
	next := e.store.Update(func(s *domain.LockState) {
		s.ThermalOverrideActive = true
		s.LastUpdateAt = now
		if !released {
			return
		}
		s.IsLocked = false
		for id, c := range s.ClusterConfigs {
			r, x := reason, expiry
			c.TemporarilyUnlocked = true
			c.UnlockReason = &r
			c.UnlockExpiry = &x
			s.ClusterConfigs[id] = c
		}
	})

	e.emit(typ, temp, policy.Name,
		fmt.Sprintf("CPU at %.1f°C, %s threshold reached; action %s", temp, typ, action), next)
}

// releaseLocks returns every backed-up cluster to its original settings while
// keeping the backups for the later restore.
func (e *Engine) releaseLocks(ctx context.Context, st domain.LockState) {
	if !st.IsLocked {
		return
	}
	_, failed := e.restoreClusters(ctx, st)
	if len(failed) > 0 {
		log.Printf("[smartlock] thermal unlock left clusters %v locked", failed)
	}
}

func (e *Engine) forceGovernor(ctx context.Context, governor string) {
	snaps, err := e.ports.Discovery.DetectClusters(ctx)
	if err != nil {
		log.Printf("[smartlock] cannot force %s governor: %v", governor, err)
		return
	}
	for _, s := range snaps {
		if s.Governor == governor {
			continue
		}
		if err := e.ports.Controller.SetGovernor(ctx, s.ClusterID, governor); err != nil {
			log.Printf("[smartlock] set %s governor on cluster %d failed: %v", governor, s.ClusterID, err)
			metrics.ClusterWriteFailures.WithLabelValues("governor").Inc()
		}
	}
}

// ─── Auto Restore ───────────────────────────────────────────────────────────

// scheduleRestore arms a single delayed restore. An already pending restore
// is left running so the delay measures continuous eligibility.
// Caller holds opMu.
func (e *Engine) scheduleRestore(policy domain.ThermalPolicy) {
	if !policy.Behavior.AutoRestoreEnabled {
		return
	}
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	if e.closed || e.restoreCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.restoreGen++
	e.restoreCancel = cancel
	e.wg.Add(1)
	go e.runRestore(ctx, e.restoreGen, policy.RestoreDelay)
	log.Printf("[smartlock] auto-restore scheduled in %s (%s)", policy.RestoreDelay, policy.Name)
}

func (e *Engine) runRestore(ctx context.Context, gen uint64, delay time.Duration) {
	defer e.wg.Done()
	defer func() {
		e.taskMu.Lock()
		if e.restoreGen == gen && e.restoreCancel != nil {
			e.restoreCancel()
			e.restoreCancel = nil
		}
		e.taskMu.Unlock()
	}()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	st := e.store.Snapshot()
	if !st.ThermalOverrideActive || !e.supervising(st) {
		return
	}

	actCtx := context.WithoutCancel(ctx)
	res := e.lockLocked(actCtx, st.ClusterConfigs, st.PolicyType, st.ThermalPolicy, true)
	next := e.store.Snapshot()
	if res.OK() {
		metrics.RestoreAttempts.WithLabelValues("safe").Inc()
		log.Printf("[smartlock] auto-restore succeeded at %.1f°C", next.LastTemperature)
		e.emit(domain.EventRestoreSafe, next.LastTemperature, next.ThermalPolicy,
			fmt.Sprintf("temperature back to %.1f°C, frequency locks restored", next.LastTemperature), next)
		return
	}

	metrics.RestoreAttempts.WithLabelValues("failed").Inc()
	log.Printf("[smartlock] auto-restore failed: %s", res)
	e.emit(domain.EventRestoreFailed, next.LastTemperature, st.ThermalPolicy,
		fmt.Sprintf("auto-restore failed: %s", res), next)
}
