package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka-go's writer the notification channel needs;
// kept as an interface so tests can swap in a mock.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// MotionNotification is the payload published for each delivered event.
type MotionNotification struct {
	SensorID   string `json:"sensor_id"`
	EventType  string `json:"event_type"`
	Timestamp  int64  `json:"timestamp"`
	ReceivedAt int64  `json:"received_at"`
}

// StructuredRecord wraps the payload with its schema so schema-aware
// consumers (e.g. connect sinks) can ingest the topic directly.
type StructuredRecord struct {
	Schema  Schema             `json:"schema"`
	Payload MotionNotification `json:"payload"`
}

type Schema struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Fields   []Field `json:"fields"`
	Optional bool    `json:"optional"`
}

type Field struct {
	Field string `json:"field"`
	Type  string `json:"type"`
}

var NotificationSchema = Schema{
	Type:     "struct",
	Name:     "MotionNotification",
	Optional: false,
	Fields: []Field{
		{Field: "sensor_id", Type: "string"},
		{Field: "event_type", Type: "string"},
		{Field: "timestamp", Type: "int64"},
		{Field: "received_at", Type: "int64"},
	},
}
