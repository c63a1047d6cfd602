package db

// Event types accepted by the ingestion endpoint.
const (
	MotionOn   = "motion_on"
	MotionOff  = "motion_off"
	ManualTest = "manual_test"
	Other      = "other"
)

// KnownEventType reports whether t is part of the accepted enumeration.
func KnownEventType(t string) bool {
	switch t {
	case MotionOn, MotionOff, ManualTest, Other:
		return true
	}
	return false
}

// MotionEvent is one stored sensor observation. (SensorID, Timestamp) is the
// dedup key; ReceivedAt is server-assigned and drives recency ordering.
type MotionEvent struct {
	SensorID   string `json:"sensor_id" db:"sensor_id"`
	Timestamp  int64  `json:"timestamp" db:"ts"`
	EventType  string `json:"event_type" db:"event_type"`
	ReceivedAt int64  `json:"received_at" db:"received_at"`
}

// SensorState is the last accepted observation for one sensor.
type SensorState struct {
	SensorID      string `db:"sensor_id"`
	LastEvent     string `db:"event_type"`
	LastTimestamp int64  `db:"ts"`
}
