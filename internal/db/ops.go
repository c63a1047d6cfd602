package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
)

var (
	ErrStoreUnavailable = errors.New("event store unavailable")
	ErrSelectFailed     = errors.New("select operation failed")
	ErrUpdateFailed     = errors.New("update operation failed")
)

// InsertEvent stores one event. The primary key on (sensor_id, ts) makes the
// write idempotent: the loser of a concurrent race or an edge retry observes
// inserted=false, never a duplicate row and never an error.
func (db *DB) InsertEvent(ctx context.Context, event MotionEvent) (bool, error) {
	const fn = "DB:InsertEvent"
	ct, err := db.pool.Exec(ctx, `
		INSERT INTO motion_events (
			sensor_id,
			ts,
			event_type,
			received_at
		) VALUES ($1, $2, $3, $4)
		ON CONFLICT (sensor_id, ts) DO NOTHING
	`, event.SensorID, event.Timestamp, event.EventType, event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("%s:%w:%w", fn, ErrStoreUnavailable, err)
	}
	return ct.RowsAffected() == 1, nil
}

// LoadRecent returns up to limit events newest-first by received_at. An empty
// sensorID means no filter; zero rows is not an error. Reads go to the single
// Postgres primary, so a query observes every acknowledged write.
func (db *DB) LoadRecent(ctx context.Context, sensorID string, limit int) ([]MotionEvent, error) {
	const fn = "DB:LoadRecent"
	var events []MotionEvent
	var err error
	if sensorID == "" {
		err = pgxscan.Select(ctx, db.pool, &events, `
			SELECT sensor_id, ts, event_type, received_at
			FROM motion_events
			ORDER BY received_at DESC, ts DESC
			LIMIT $1
		`, limit)
	} else {
		err = pgxscan.Select(ctx, db.pool, &events, `
			SELECT sensor_id, ts, event_type, received_at
			FROM motion_events
			WHERE sensor_id = $1
			ORDER BY received_at DESC, ts DESC
			LIMIT $2
		`, sensorID, limit)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []MotionEvent{}, nil
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return events, nil
}

// LoadLatestStates returns the newest accepted event per sensor, used to
// hydrate the sensor state cache at startup.
func (db *DB) LoadLatestStates(ctx context.Context) (map[string]SensorState, error) {
	const fn = "DB:LoadLatestStates"
	var states []SensorState
	err := pgxscan.Select(ctx, db.pool, &states, `
		SELECT DISTINCT ON (sensor_id) sensor_id, event_type, ts
		FROM motion_events
		ORDER BY sensor_id, received_at DESC, ts DESC
	`)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	out := make(map[string]SensorState, len(states))
	for _, st := range states {
		out[st.SensorID] = st
	}
	return out, nil
}

// LoadUndispatched returns stored events whose fan-out handoff never happened,
// oldest first, for the background sweep.
func (db *DB) LoadUndispatched(ctx context.Context, limit int) ([]MotionEvent, error) {
	const fn = "DB:LoadUndispatched"
	var events []MotionEvent
	err := pgxscan.Select(ctx, db.pool, &events, `
		SELECT sensor_id, ts, event_type, received_at
		FROM motion_events
		WHERE NOT dispatched
		ORDER BY received_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return []MotionEvent{}, nil
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return events, nil
}

// MarkDispatched records that an event was handed to the fan-out queue. Only
// the ingestion side calls this; delivery workers never touch event rows.
func (db *DB) MarkDispatched(ctx context.Context, sensorID string, ts int64) error {
	const fn = "DB:MarkDispatched"
	_, err := db.pool.Exec(ctx, `
		UPDATE motion_events SET dispatched = TRUE
		WHERE sensor_id = $1 AND ts = $2
	`, sensorID, ts)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrUpdateFailed, err)
	}
	return nil
}
