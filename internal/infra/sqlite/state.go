package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// stateKey is the kv_state key holding the JSON-encoded lock state.
const stateKey = "cpu_lock_state"

// SaveLockState persists the full lock state, replacing the previous one.
func (d *DB) SaveLockState(state domain.LockState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode lock state: %w", err)
	}
	if err := d.SetValue(stateKey, string(data)); err != nil {
		return fmt.Errorf("save lock state: %w", err)
	}
	return nil
}

// LoadLockState returns the persisted lock state. ok is false when nothing
// was ever saved. A value that no longer decodes yields ErrStateCorrupted.
func (d *DB) LoadLockState() (domain.LockState, bool, error) {
	raw, ok, err := d.GetValue(stateKey)
	if err != nil {
		return domain.LockState{}, false, fmt.Errorf("load lock state: %w", err)
	}
	if !ok {
		return domain.EmptyLockState(), false, nil
	}

	state := domain.EmptyLockState()
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return domain.EmptyLockState(), false, fmt.Errorf("%w: %v", domain.ErrStateCorrupted, err)
	}
	if state.ClusterConfigs == nil {
		state.ClusterConfigs = map[int]domain.ClusterLockConfig{}
	}
	if state.OriginalFrequencies == nil {
		state.OriginalFrequencies = map[int]domain.OriginalFrequencyBackup{}
	}
	return state, true, nil
}

// ClearLockState forgets the persisted lock state.
func (d *DB) ClearLockState() error {
	return d.DeleteValue(stateKey)
}
