package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"motion-event-backend/internal/db"
)

// stubChannel records deliveries and can be told to always fail.
type stubChannel struct {
	mu       sync.Mutex
	name     string
	fail     bool
	attempts map[string]int // subscription ID -> attempt count
}

func newStubChannel(name string, fail bool) *stubChannel {
	return &stubChannel{name: name, fail: fail, attempts: make(map[string]int)}
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Deliver(ctx context.Context, sub Subscription, event db.MotionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[sub.ID]++
	if c.fail {
		return ErrDeliver
	}
	return nil
}

func (c *stubChannel) attemptCount(subID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[subID]
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LoadUndispatched(ctx context.Context, limit int) ([]db.MotionEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]db.MotionEvent), args.Error(1)
}

func (m *mockStore) MarkDispatched(ctx context.Context, sensorID string, ts int64) error {
	args := m.Called(ctx, sensorID, ts)
	return args.Error(0)
}

func noSleep(ctx context.Context, d time.Duration) error { return nil }

func testEvent() db.MotionEvent {
	return db.MotionEvent{SensorID: "PIR1", Timestamp: 100, EventType: db.MotionOn, ReceivedAt: 100}
}

func Test_FanOut_Isolation(t *testing.T) {
	// One always-failing channel must not prevent delivery to the two
	// healthy subscriptions for the same event.
	healthy := newStubChannel("webhook", false)
	broken := newStubChannel("kafka", true)

	subs := NewSubscriptions([]Subscription{
		{ID: "sub-ok-1", Topic: "motion", Channel: "webhook", Endpoint: "http://a", State: StateConfirmed},
		{ID: "sub-ok-2", Topic: "motion", Channel: "webhook", Endpoint: "http://b", State: StateConfirmed},
		{ID: "sub-bad", Topic: "motion", Channel: "kafka", State: StateConfirmed},
	})

	d := New(&Config{
		QueueSize:     8,
		MaxAttempts:   5,
		BackoffBase:   time.Millisecond,
		Topic:         "motion",
		Subscriptions: subs,
		Channels:      map[string]Channel{"webhook": healthy, "kafka": broken},
		Sleep:         noSleep,
	})

	d.fanOut(context.Background(), testEvent())

	assert.Equal(t, 1, healthy.attemptCount("sub-ok-1"))
	assert.Equal(t, 1, healthy.attemptCount("sub-ok-2"))
	assert.Equal(t, 5, broken.attemptCount("sub-bad"), "failing channel should exhaust the retry budget")
}

func Test_FanOut_SkipsUnconfirmed(t *testing.T) {
	ch := newStubChannel("webhook", false)
	subs := NewSubscriptions([]Subscription{
		{ID: "sub-pending", Topic: "motion", Channel: "webhook", Endpoint: "http://a", State: StatePending},
		{ID: "sub-other-topic", Topic: "doorbell", Channel: "webhook", Endpoint: "http://b", State: StateConfirmed},
	})

	d := New(&Config{
		QueueSize:     8,
		MaxAttempts:   3,
		Topic:         "motion",
		Subscriptions: subs,
		Channels:      map[string]Channel{"webhook": ch},
		Sleep:         noSleep,
	})

	d.fanOut(context.Background(), testEvent())

	assert.Equal(t, 0, ch.attemptCount("sub-pending"))
	assert.Equal(t, 0, ch.attemptCount("sub-other-topic"))
}

func Test_Deliver_RetriesThenSucceeds(t *testing.T) {
	var calls int
	flaky := &flakyChannel{failUntil: 3, calls: &calls}
	subs := NewSubscriptions(nil)

	d := New(&Config{
		QueueSize:     1,
		MaxAttempts:   5,
		BackoffBase:   time.Millisecond,
		Subscriptions: subs,
		Channels:      map[string]Channel{"flaky": flaky},
		Sleep:         noSleep,
	})

	d.deliver(context.Background(), Subscription{ID: "sub1", Channel: "flaky"}, flaky, testEvent())
	assert.Equal(t, 3, calls, "should stop retrying after the first success")
}

type flakyChannel struct {
	failUntil int
	calls     *int
}

func (c *flakyChannel) Name() string { return "flaky" }

func (c *flakyChannel) Deliver(ctx context.Context, sub Subscription, event db.MotionEvent) error {
	*c.calls++
	if *c.calls < c.failUntil {
		return ErrDeliver
	}
	return nil
}

func Test_Enqueue_FullQueue(t *testing.T) {
	d := New(&Config{
		QueueSize:     1,
		Subscriptions: NewSubscriptions(nil),
		Sleep:         noSleep,
	})

	assert.True(t, d.Enqueue(testEvent()))
	assert.False(t, d.Enqueue(testEvent()), "second enqueue should be dropped without blocking")
	assert.Equal(t, 1.0, d.QueueUtilization())
}

func Test_Dispatch_MarksDispatched(t *testing.T) {
	event := testEvent()
	store := &mockStore{}
	store.On("MarkDispatched", mock.Anything, event.SensorID, event.Timestamp).Return(nil)

	d := New(&Config{
		QueueSize:     8,
		Subscriptions: NewSubscriptions(nil),
		Store:         store,
		Sleep:         noSleep,
	})

	d.Dispatch(context.Background(), event)
	store.AssertExpectations(t)
}

func Test_Dispatch_SaturatedDefersToSweep(t *testing.T) {
	store := &mockStore{}

	d := New(&Config{
		QueueSize:     1,
		Subscriptions: NewSubscriptions(nil),
		Store:         store,
		Sleep:         noSleep,
	})

	d.Dispatch(context.Background(), testEvent())
	d.Dispatch(context.Background(), testEvent())

	// Only the first handoff reaches the store; the second stays
	// undispatched for the sweep.
	store.AssertNumberOfCalls(t, "MarkDispatched", 1)
}

func Test_SweepOnce(t *testing.T) {
	event := testEvent()
	cases := []struct {
		name          string
		setupStore    func() *mockStore
		expectedQueue int
	}{
		{
			name: "re-enqueues and marks pending events",
			setupStore: func() *mockStore {
				store := &mockStore{}
				store.On("LoadUndispatched", mock.Anything, 8).Return([]db.MotionEvent{event}, nil)
				store.On("MarkDispatched", mock.Anything, event.SensorID, event.Timestamp).Return(nil)
				return store
			},
			expectedQueue: 1,
		},
		{
			name: "store error leaves queue untouched",
			setupStore: func() *mockStore {
				store := &mockStore{}
				store.On("LoadUndispatched", mock.Anything, 8).Return(nil, errors.New("failed"))
				return store
			},
			expectedQueue: 0,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			store := tt.setupStore()
			d := New(&Config{
				QueueSize:     8,
				Subscriptions: NewSubscriptions(nil),
				Store:         store,
				Sleep:         noSleep,
			})
			d.sweepOnce(context.Background())
			assert.Equal(t, tt.expectedQueue, len(d.queue))
			store.AssertExpectations(t)
		})
	}
}

func Test_ProcessTask_DrainsQueue(t *testing.T) {
	ch := newStubChannel("webhook", false)
	subs := NewSubscriptions([]Subscription{
		{ID: "sub1", Topic: "motion", Channel: "webhook", Endpoint: "http://a", State: StateConfirmed},
	})

	d := New(&Config{
		QueueSize:     8,
		MaxAttempts:   3,
		Topic:         "motion",
		Subscriptions: subs,
		Channels:      map[string]Channel{"webhook": ch},
		Sleep:         noSleep,
	})

	assert.True(t, d.Enqueue(testEvent()))
	err := d.ProcessTask(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, ch.attemptCount("sub1"))

	// Cancelled context returns promptly with the context error.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.ProcessTask(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
