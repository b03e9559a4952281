package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var errBackend = errors.New("backend down")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(maxFailures int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewCircuitBreaker(maxFailures, time.Minute, WithClock(clock.now)), clock
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestCircuitBreaker_Transitions(t *testing.T) {
	cb, clock := newTestBreaker(2)
	var changes []string
	cb.onChange = func(from, to State) { changes = append(changes, from.String()+">"+to.String()) }

	steps := []struct {
		name    string
		advance time.Duration
		fn      func() error
		wantErr error
		want    State
	}{
		{"first failure stays closed", 0, fail, errBackend, StateClosed},
		{"second failure opens", 0, fail, errBackend, StateOpen},
		{"open rejects", 30 * time.Second, succeed, ErrCircuitBreakerOpen, StateOpen},
		{"failed probe reopens", 30 * time.Second, fail, errBackend, StateOpen},
		{"cooldown restarts from the probe", 59 * time.Second, succeed, ErrCircuitBreakerOpen, StateOpen},
		{"successful probe closes", time.Second, succeed, nil, StateClosed},
		{"closed passes", 0, succeed, nil, StateClosed},
	}
	for _, s := range steps {
		clock.advance(s.advance)
		if err := cb.Execute(s.fn); !errors.Is(err, s.wantErr) {
			t.Fatalf("%s: err = %v, want %v", s.name, err, s.wantErr)
		}
		if got := cb.State(); got != s.want {
			t.Fatalf("%s: state = %s, want %s", s.name, got, s.want)
		}
	}

	want := []string{"closed>open", "open>half-open", "half-open>open", "open>half-open", "half-open>closed"}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("changes = %v, want %v", changes, want)
		}
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(3)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	_ = cb.Execute(succeed)
	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	if cb.State() != StateClosed {
		t.Fatal("a success must reset the consecutive failure count")
	}
}

func TestCircuitBreaker_SingleProbe(t *testing.T) {
	cb, clock := newTestBreaker(1)
	_ = cb.Execute(fail)
	clock.advance(time.Minute)

	if !cb.Allow() {
		t.Fatal("first call after cooldown should probe")
	}
	if cb.Allow() {
		t.Fatal("a second call must wait for the probe")
	}
	cb.Record(nil)
	if !cb.Allow() {
		t.Fatal("closed breaker should allow")
	}
	cb.Record(nil)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1)
	_ = cb.Execute(fail)
	cb.Reset()
	if cb.State() != StateClosed || cb.Execute(succeed) != nil {
		t.Fatal("Reset should close the breaker")
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open", State(9): "unknown"}
	for s, want := range tests {
		if s.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestProperty_CircuitBreakerOpensAfterThreshold(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("exactly maxFailures consecutive failures open the breaker", prop.ForAll(
		func(maxFailures int) bool {
			cb, _ := newTestBreaker(maxFailures)
			for i := 0; i < maxFailures-1; i++ {
				_ = cb.Execute(fail)
				if cb.State() != StateClosed {
					return false
				}
			}
			_ = cb.Execute(fail)
			return cb.State() == StateOpen && errors.Is(cb.Execute(succeed), ErrCircuitBreakerOpen)
		},
		gen.IntRange(1, 20),
	))

	properties.Property("the breaker never allows before cooldown", prop.ForAll(
		func(maxFailures int, waitSeconds int) bool {
			cb, clock := newTestBreaker(maxFailures)
			for i := 0; i < maxFailures; i++ {
				_ = cb.Execute(fail)
			}
			clock.advance(time.Duration(waitSeconds) * time.Second)
			allowed := cb.Allow()
			if allowed {
				cb.Record(nil)
			}
			return allowed == (waitSeconds >= 60)
		},
		gen.IntRange(1, 5), gen.IntRange(0, 120),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestCircuitBreaker_Concurrent(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (i+j)%3 == 0 {
					_ = cb.Execute(fail)
				} else {
					_ = cb.Execute(succeed)
				}
			}
		}(i)
	}
	wg.Wait()
	_ = cb.State()
}
