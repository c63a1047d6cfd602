package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"motion-event-backend/internal/db"
	k "motion-event-backend/internal/kafka"
)

var ErrDeliver = errors.New("delivery attempt failed")

// Channel delivers one event to one subscription endpoint. Implementations
// must be safe for concurrent use; the dispatcher calls Deliver from many
// goroutines at once.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, sub Subscription, event db.MotionEvent) error
}

// WebhookChannel POSTs the event JSON to the subscription endpoint. A non-2xx
// response counts as a failed attempt so the dispatcher retries it.
type WebhookChannel struct {
	client *http.Client
}

func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{client: &http.Client{Timeout: timeout}}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, sub Subscription, event db.MotionEvent) error {
	const fn = "WebhookChannel:Deliver"
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrDeliver, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrDeliver, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrDeliver, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s:%w: endpoint returned %d", fn, ErrDeliver, resp.StatusCode)
	}
	return nil
}

// KafkaChannel publishes a structured notification record to a topic, keyed
// by sensor so per-sensor ordering survives partitioning.
type KafkaChannel struct {
	writer k.Writer
}

func NewKafkaChannel(brokers, topic string) *KafkaChannel {
	return &KafkaChannel{
		writer: kafkago.NewWriter(kafkago.WriterConfig{
			Brokers: []string{brokers},
			Topic:   topic,
		}),
	}
}

func (c *KafkaChannel) Name() string { return "kafka" }

func (c *KafkaChannel) Deliver(ctx context.Context, sub Subscription, event db.MotionEvent) error {
	const fn = "KafkaChannel:Deliver"
	record := k.StructuredRecord{
		Schema: k.NotificationSchema,
		Payload: k.MotionNotification{
			SensorID:   event.SensorID,
			EventType:  event.EventType,
			Timestamp:  event.Timestamp,
			ReceivedAt: event.ReceivedAt,
		},
	}
	out, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrDeliver, err)
	}
	err = c.writer.WriteMessages(ctx, kafkago.Message{Key: []byte(event.SensorID), Value: out})
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrDeliver, err)
	}
	return nil
}

func (c *KafkaChannel) Close() error {
	return c.writer.Close()
}
