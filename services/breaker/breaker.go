// Package breaker provides named circuit breakers shared across the process.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrOpen is returned when a breaker rejects a call without running it
var ErrOpen = errors.New("circuit breaker is open")

// Names of the breakers the application configures
const (
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Database  = "database"
)

// Settings tune a single breaker
type Settings struct {
	// FailMax consecutive failures trip the breaker
	FailMax uint32

	// ResetTimeout is how long the breaker stays open before a trial call
	ResetTimeout time.Duration

	// HalfOpenRequests is the number of trial calls allowed while half-open
	HalfOpenRequests uint32
}

// DefaultSettings returns the provider breaker defaults
func DefaultSettings() Settings {
	return Settings{
		FailMax:          5,
		ResetTimeout:     60 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Breaker guards calls to one dependency
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns "closed", "half-open" or "open"
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// callerDone marks an error returned after the caller's own context ended
type callerDone struct {
	err error
}

func (c callerDone) Error() string { return c.err.Error() }

func (c callerDone) Unwrap() error { return c.err }

// Execute runs op unless the breaker is open. Failures that arrive after ctx
// is done are returned but not counted against the dependency.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		out, err := op(ctx)
		if err != nil && ctx.Err() != nil {
			return out, callerDone{err: err}
		}
		return out, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	var done callerDone
	if errors.As(err, &done) {
		err = done.err
	}
	return out, err
}

// Run is Execute for operations without a result
func (b *Breaker) Run(ctx context.Context, fn func(context.Context) error) error {
	_, err := b.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// Status is a point-in-time view of one breaker
type Status struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// StateListener observes state transitions
type StateListener func(name, from, to string)

// Set owns the process-wide breakers, created lazily by name
type Set struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	settings  map[string]Settings
	defaults  Settings
	listeners []StateListener
	logger    *zap.Logger
}

// NewSet creates an empty breaker set
func NewSet(logger *zap.Logger, defaults Settings) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Set{
		breakers: make(map[string]*Breaker),
		settings: make(map[string]Settings),
		defaults: defaults,
		logger:   logger.Named("breaker"),
	}
}

// Configure sets the settings used when the named breaker is first created
func (s *Set) Configure(name string, settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[name] = settings
}

// OnStateChange registers a listener for every breaker in the set
func (s *Set) OnStateChange(l StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
}

// Get returns the named breaker, creating it on first use
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[name]; ok {
		return b
	}

	settings, ok := s.settings[name]
	if !ok {
		settings = s.defaults
	}

	b := &Breaker{
		name: name,
		cb:   gobreaker.NewCircuitBreaker(s.gobreakerSettings(name, settings)),
	}
	s.breakers[name] = b
	return b
}

func (s *Set) gobreakerSettings(name string, settings Settings) gobreaker.Settings {
	failMax := settings.FailMax
	if failMax == 0 {
		failMax = s.defaults.FailMax
	}

	return gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failMax
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the dependency
			var done callerDone
			return err == nil || errors.Is(err, context.Canceled) || errors.As(err, &done)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			for _, l := range s.snapshotListeners() {
				l(name, from.String(), to.String())
			}
		},
	}
}

func (s *Set) snapshotListeners() []StateListener {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]StateListener(nil), s.listeners...)
}

// States maps every created breaker to its current state
func (s *Set) States() map[string]string {
	states := make(map[string]string)
	for _, st := range s.Snapshot() {
		states[st.Name] = st.State
	}
	return states
}

// Snapshot returns the status of every created breaker, sorted by name
func (s *Set) Snapshot() []Status {
	s.mu.Lock()
	breakers := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		breakers = append(breakers, b)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		counts := b.cb.Counts()
		out = append(out, Status{
			Name:                b.name,
			State:               b.State(),
			Requests:            counts.Requests,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
