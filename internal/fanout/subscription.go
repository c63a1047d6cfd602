package fanout

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Subscription lifecycle. Pending subscriptions have not completed their
// opt-in handshake and must not receive deliveries.
const (
	StatePending   = "pending"
	StateConfirmed = "confirmed"
)

var ErrInvalidSubscription = errors.New("invalid subscription")

// Subscription binds a notification endpoint to a topic over a channel type.
type Subscription struct {
	ID       string `yaml:"id"`
	Topic    string `yaml:"topic"`
	Channel  string `yaml:"channel"`  // "webhook" or "kafka"
	Endpoint string `yaml:"endpoint"` // channel-specific address, e.g. a URL
	State    string `yaml:"state"`    // "pending" or "confirmed"
}

type subscriptionFile struct {
	Subscriptions []Subscription `yaml:"subscriptions"`
}

// Subscriptions holds the current subscription set. Registration itself is a
// configuration-time concern: the set comes from a YAML file, reloaded on
// change, and the core only ever reads it.
type Subscriptions struct {
	path    string
	mu      sync.RWMutex
	current []Subscription
}

// NewSubscriptions wraps a fixed subscription set (used by tests and callers
// that manage their own config).
func NewSubscriptions(subs []Subscription) *Subscriptions {
	return &Subscriptions{current: subs}
}

// LoadSubscriptions reads and validates the subscription file.
func LoadSubscriptions(path string) (*Subscriptions, error) {
	s := &Subscriptions{path: path}
	subs, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current = subs
	return s, nil
}

// All returns a copy of every subscription regardless of state.
func (s *Subscriptions) All() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subscription, len(s.current))
	copy(out, s.current)
	return out
}

// Confirmed returns the subscriptions eligible for delivery on topic.
func (s *Subscriptions) Confirmed(topic string) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Subscription
	for _, sub := range s.current {
		if sub.State == StateConfirmed && sub.Topic == topic {
			out = append(out, sub)
		}
	}
	return out
}

// Reload forces an immediate re-read of the subscription file.
func (s *Subscriptions) Reload() error {
	subs, err := s.load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = subs
	s.mu.Unlock()
	return nil
}

// Watch hot-reloads the subscription file on change. A file that fails to
// parse leaves the previous set in place. Call the returned stop function to
// clean up.
func (s *Subscriptions) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("subscription watcher: %w", err)
	}
	if err := w.Add(s.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("subscription watcher add %s: %w", s.path, err)
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					_ = s.Reload()
				}
			case <-w.Errors:
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

func (s *Subscriptions) load() ([]Subscription, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read subscriptions %s: %w", s.path, err)
	}
	var f subscriptionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse subscriptions %s: %w", s.path, err)
	}
	for i := range f.Subscriptions {
		if err := validateSubscription(&f.Subscriptions[i]); err != nil {
			return nil, err
		}
	}
	return f.Subscriptions, nil
}

func validateSubscription(sub *Subscription) error {
	if sub.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSubscription)
	}
	if sub.Channel == "" {
		return fmt.Errorf("%w: %s has no channel", ErrInvalidSubscription, sub.ID)
	}
	if sub.Endpoint == "" && sub.Channel != "kafka" {
		return fmt.Errorf("%w: %s has no endpoint", ErrInvalidSubscription, sub.ID)
	}
	switch sub.State {
	case StatePending, StateConfirmed:
	case "":
		sub.State = StatePending
	default:
		return fmt.Errorf("%w: %s has unknown state %q", ErrInvalidSubscription, sub.ID, sub.State)
	}
	if sub.Topic == "" {
		sub.Topic = "motion"
	}
	return nil
}
