package domain

import "context"

// ─── Capability Ports ───────────────────────────────────────────────────────
// These interfaces define the boundary to the privileged capability layer.
// Infrastructure implements them (infra/sysfs); the smartlock engine depends
// on them. Any call may block on I/O and may fail.

// TemperatureReader reads the CPU temperature in °C.
type TemperatureReader interface {
	CurrentCPUTemperature(ctx context.Context) (float64, error)
}

// ClusterDiscovery enumerates CPU clusters and their live settings.
type ClusterDiscovery interface {
	DetectClusters(ctx context.Context) ([]ClusterSnapshot, error)
}

// ClusterController mutates cluster frequency limits and governors.
type ClusterController interface {
	// LockCluster pins the cluster to [minKHz, maxKHz].
	LockCluster(ctx context.Context, clusterID, minKHz, maxKHz int) error

	// RestoreCluster writes back a previously captured range.
	RestoreCluster(ctx context.Context, clusterID, minKHz, maxKHz int) error

	// UnlockCluster resets the cluster to its hardware limits.
	UnlockCluster(ctx context.Context, clusterID int) error

	// SetGovernor switches the cluster's scaling governor.
	SetGovernor(ctx context.Context, clusterID int, governor string) error
}

// ─── Persistence ────────────────────────────────────────────────────────────

// LockStateRepository persists the lock state across restarts.
// Implemented by infra/sqlite.DB.
type LockStateRepository interface {
	SaveLockState(state LockState) error
	LoadLockState() (LockState, bool, error)
	ClearLockState() error
}

// ThermalEventJournal keeps a bounded history of thermal events.
type ThermalEventJournal interface {
	AppendEvent(ev ThermalEvent) error
	RecentEvents(limit int) ([]ThermalEvent, error)
}
