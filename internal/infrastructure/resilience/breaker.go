package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned by Do while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned by Do when half-open probes are used up.
	ErrTooManyRequests = errors.New("too many requests")
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker. Zero values pick the defaults noted on
// each field.
type Settings struct {
	// MaxRequests admitted while half-open (default 1). The same number of
	// successes closes the breaker again.
	MaxRequests uint32
	// Interval clears counts periodically while closed. Zero keeps counts
	// until a state change.
	Interval time.Duration
	// Timeout is how long the breaker stays open before half-opening
	// (default 60s). Negative keeps it open until Reset.
	Timeout time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open
	// (default five consecutive failures).
	ReadyToTrip func(Counts) bool
	// IsFailure classifies the error returned by a call. The default treats
	// any error except context.Canceled as a failure. Calls that are neither
	// successes nor failures leave the counts untouched.
	IsFailure func(error) bool
	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State)
	// Now overrides the clock.
	Now func() time.Time
}

// Counts are the statistics of the current period.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// ConsecutiveFailures returns a ReadyToTrip that opens after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(c Counts) bool {
		return c.ConsecutiveFailures >= n
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

// Breaker tracks call outcomes and refuses calls while open.
type Breaker struct {
	name string
	cfg  Settings

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
	epoch  uint64
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Timeout == 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = ConsecutiveFailures(5)
	}
	if settings.IsFailure == nil {
		settings.IsFailure = defaultIsFailure
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	b := &Breaker{name: name, cfg: settings}
	b.expiry = b.closedExpiry(settings.Now())
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, applying any due timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, _ := b.advance(b.cfg.Now())
	return state
}

// Tripped reports whether the breaker is open.
func (b *Breaker) Tripped() bool {
	return b.State() == StateOpen
}

// Counts returns a copy of the current counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Reset closes the breaker and clears its counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(StateClosed, b.cfg.Now())
	b.counts = Counts{}
}

// Do runs fn when the breaker admits it and records the outcome. A panic in
// fn counts as a failure and is re-raised. If ctx is done when fn returns,
// the call is not counted.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			b.record(epoch, outcomeFailure)
			panic(p)
		}
	}()

	err = fn(ctx)
	switch {
	case ctx.Err() != nil:
		b.record(epoch, outcomeIgnored)
	case err == nil:
		b.record(epoch, outcomeSuccess)
	case b.cfg.IsFailure(err):
		b.record(epoch, outcomeFailure)
	default:
		b.record(epoch, outcomeIgnored)
	}
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, epoch := b.advance(b.cfg.Now())
	switch {
	case state == StateOpen:
		return epoch, ErrCircuitOpen
	case state == StateHalfOpen && b.counts.Requests >= b.cfg.MaxRequests:
		return epoch, ErrTooManyRequests
	}
	b.counts.Requests++
	return epoch, nil
}

// record applies an outcome unless the breaker changed period since the
// call was admitted.
func (b *Breaker) record(admitted uint64, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()
	state, epoch := b.advance(now)
	if epoch != admitted {
		return
	}

	switch o {
	case outcomeIgnored:
		if b.counts.Requests > 0 {
			b.counts.Requests--
		}
	case outcomeSuccess:
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.transition(StateClosed, now)
		}
	case outcomeFailure:
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		b.counts.ConsecutiveSuccesses = 0
		if state == StateHalfOpen || b.cfg.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	}
}

// advance applies due expiries and returns the state and epoch. The epoch
// moves on every transition and every periodic reset.
func (b *Breaker) advance(now time.Time) (State, uint64) {
	if !b.expiry.IsZero() && b.expiry.Before(now) {
		switch b.state {
		case StateClosed:
			b.counts = Counts{}
			b.epoch++
			b.expiry = b.closedExpiry(now)
		case StateOpen:
			b.transition(StateHalfOpen, now)
		}
	}
	return b.state, b.epoch
}

func (b *Breaker) closedExpiry(now time.Time) time.Time {
	if b.cfg.Interval <= 0 {
		return time.Time{}
	}
	return now.Add(b.cfg.Interval)
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.epoch++
	b.counts = Counts{}

	switch to {
	case StateClosed:
		b.expiry = b.closedExpiry(now)
	case StateOpen:
		b.expiry = time.Time{}
		if b.cfg.Timeout >= 0 {
			b.expiry = now.Add(b.cfg.Timeout)
		}
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
