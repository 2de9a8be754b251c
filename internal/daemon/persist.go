package daemon

import (
	"context"
	"log"
	"time"

	"github.com/xtrakernel/freqlockd/internal/domain"
	"github.com/xtrakernel/freqlockd/internal/infra/metrics"
)

// ─── State Persistence ──────────────────────────────────────────────────────

// persistStates saves every committed lock state until states is closed.
// Only the latest state matters, so a slow write simply skips intermediates.
func persistStates(states <-chan domain.LockState, repo domain.LockStateRepository) {
	for st := range states {
		publishGauges(st)
		if err := repo.SaveLockState(st); err != nil {
			metrics.PersistFailures.WithLabelValues("state").Inc()
			log.Printf("[daemon] persist lock state failed: %v", err)
		}
	}
}

func publishGauges(st domain.LockState) {
	metrics.Locked.Set(boolGauge(st.IsLocked))
	metrics.OverrideActive.Set(boolGauge(st.ThermalOverrideActive))
	metrics.ClustersConfigured.Set(float64(len(st.ClusterConfigs)))
	metrics.RetryCount.Set(float64(st.RetryCount))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// loadState returns the persisted state, or an empty state when nothing was
// saved or the saved copy cannot be decoded.
func loadState(repo domain.LockStateRepository) domain.LockState {
	st, ok, err := repo.LoadLockState()
	if err != nil {
		log.Printf("[daemon] discarding persisted lock state: %v", err)
		if err := repo.ClearLockState(); err != nil {
			log.Printf("[daemon] clear persisted lock state failed: %v", err)
		}
		return domain.EmptyLockState()
	}
	if !ok {
		return domain.EmptyLockState()
	}
	return st
}

// ─── Event Journal ──────────────────────────────────────────────────────────

// journalEvents appends every thermal event to the journal until events is
// closed. dropped reports the broadcaster's skipped deliveries.
func journalEvents(events <-chan domain.ThermalEvent, journal domain.ThermalEventJournal, dropped func() int64) {
	for ev := range events {
		if err := journal.AppendEvent(ev); err != nil {
			metrics.PersistFailures.WithLabelValues("event").Inc()
			log.Printf("[daemon] journal %s event failed: %v", ev.Type, err)
		}
		if dropped != nil {
			metrics.EventsDropped.Set(float64(dropped()))
		}
	}
}

// EventPruner trims the journal to its newest entries.
type EventPruner interface {
	PruneEvents(keep int) (int64, error)
}

// pruneEvents trims the journal every interval until ctx is done.
func pruneEvents(ctx context.Context, p EventPruner, keep int, every time.Duration) {
	if keep <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.PruneEvents(keep)
			if err != nil {
				metrics.PersistFailures.WithLabelValues("prune").Inc()
				log.Printf("[daemon] prune event journal failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[daemon] pruned %d thermal events (keeping %d)", n, keep)
			}
		}
	}
}
