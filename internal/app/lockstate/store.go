// Package lockstate holds the authoritative lock state and the thermal
// event stream.
//
// State is level-triggered: subscribers always receive the latest snapshot
// and intermediate snapshots may be coalesced for slow readers. Events are
// edge-triggered and fire-and-forget: they are never replayed, and a
// subscriber whose buffer is full misses the event.
package lockstate

import (
	"context"
	"sync"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// Store is the single source of truth for domain.LockState.
// Thread-safe; writes are serialized, reads are snapshots.
type Store struct {
	mu    sync.RWMutex
	state domain.LockState

	subMu  sync.Mutex
	subs   map[int]chan domain.LockState
	nextID int
}

// NewStore creates a store holding the empty, unlocked state.
func NewStore() *Store {
	return &Store{
		state: domain.EmptyLockState(),
		subs:  make(map[int]chan domain.LockState),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() domain.LockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Update applies fn to a copy of the state, commits it, and notifies
// subscribers. Returns the committed snapshot.
func (s *Store) Update(fn func(*domain.LockState)) domain.LockState {
	// subMu is taken first so notifications leave in commit order.
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	next := s.state.Clone()
	fn(&next)
	if next.ClusterConfigs == nil {
		next.ClusterConfigs = map[int]domain.ClusterLockConfig{}
	}
	if next.OriginalFrequencies == nil {
		next.OriginalFrequencies = map[int]domain.OriginalFrequencyBackup{}
	}
	s.state = next
	s.mu.Unlock()

	for _, ch := range s.subs {
		offerLatest(ch, next.Clone())
	}
	return next.Clone()
}

// Replace commits state wholesale.
func (s *Store) Replace(state domain.LockState) domain.LockState {
	return s.Update(func(ls *domain.LockState) { *ls = state.Clone() })
}

// Subscribe returns a channel that immediately receives the current state and
// then every committed state. The channel is closed when ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan domain.LockState {
	ch := make(chan domain.LockState, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	// Replay under subMu so a concurrent notify cannot slip in between.
	offerLatest(ch, s.Snapshot())
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live state subscriptions.
func (s *Store) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// offerLatest puts v into a 1-slot channel, replacing any unread value.
func offerLatest(ch chan domain.LockState, v domain.LockState) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
