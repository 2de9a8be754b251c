package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xtrakernel/freqlockd/internal/domain"
)

// ─── Thermal Event Journal ──────────────────────────────────────────────────

// AppendEvent records a thermal event. Re-appending the same ID is a no-op.
func (d *DB) AppendEvent(ev domain.ThermalEvent) error {
	clusters, err := json.Marshal(ev.AffectedClusters)
	if err != nil {
		return fmt.Errorf("encode clusters: %w", err)
	}
	if ev.AffectedClusters == nil {
		clusters = []byte("[]")
	}
	_, err = d.db.Exec(
		`INSERT INTO thermal_events (id, type, temperature, policy, message, clusters, notify, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.Temperature, ev.Policy, ev.Message,
		string(clusters), ev.Notify, ev.Timestamp.UnixNano(),
	)
	return err
}

// RecentEvents returns up to limit events, newest first.
func (d *DB) RecentEvents(limit int) ([]domain.ThermalEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(
		`SELECT id, type, temperature, policy, message, clusters, notify, created_at
		 FROM thermal_events ORDER BY seq DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// EventsSince returns events of the given type (any type when empty)
// recorded at or after since, oldest first.
func (d *DB) EventsSince(since time.Time, typ domain.ThermalEventType) ([]domain.ThermalEvent, error) {
	rows, err := d.db.Query(
		`SELECT id, type, temperature, policy, message, clusters, notify, created_at
		 FROM thermal_events
		 WHERE created_at >= ? AND (? = '' OR type = ?)
		 ORDER BY seq ASC`,
		since.UnixNano(), string(typ), string(typ),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the number of journaled events.
func (d *DB) CountEvents() (int, error) {
	var n int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM thermal_events`).Scan(&n)
	return n, err
}

// PruneEvents keeps the newest keep events and deletes the rest.
// Returns the number of deleted events.
func (d *DB) PruneEvents(keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := d.db.Exec(
		`DELETE FROM thermal_events WHERE seq NOT IN (
			SELECT seq FROM thermal_events ORDER BY seq DESC LIMIT ?
		)`, keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]domain.ThermalEvent, error) {
	var events []domain.ThermalEvent
	for rows.Next() {
		var ev domain.ThermalEvent
		var typ, clusters string
		var created int64
		if err := rows.Scan(&ev.ID, &typ, &ev.Temperature, &ev.Policy, &ev.Message, &clusters, &ev.Notify, &created); err != nil {
			return nil, err
		}
		ev.Type = domain.ThermalEventType(typ)
		ev.Timestamp = time.Unix(0, created).UTC()
		if err := json.Unmarshal([]byte(clusters), &ev.AffectedClusters); err != nil {
			return nil, fmt.Errorf("decode clusters of event %s: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
