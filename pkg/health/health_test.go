package health

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type target struct {
	err   error
	delay time.Duration
}

func (t target) HealthCheck(ctx context.Context) error {
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.err
}

func TestChecker(t *testing.T) {
	ok := NewChecker("database", target{}, 0).Check(context.Background())
	if ok.Status != StatusHealthy || ok.Error != "" {
		t.Fatalf("healthy check = %+v", ok)
	}

	down := errors.New("connection refused")
	bad := NewChecker("database", target{err: down}, 0).Check(context.Background())
	if bad.Status != StatusUnhealthy || bad.Error != down.Error() {
		t.Fatalf("failing check = %+v", bad)
	}
	if got := NewChecker("cache", target{err: down}, 0).Optional().Check(context.Background()); got.Status != StatusDegraded {
		t.Fatalf("optional failing check = %+v, want degraded", got)
	}
}

func TestChecker_Timeout(t *testing.T) {
	res := NewChecker("slow", target{delay: time.Second}, 20*time.Millisecond).Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy on timeout, got %+v", res)
	}
	if res.Duration >= time.Second {
		t.Fatalf("timeout not honoured: %v", res.Duration)
	}
}

func TestRegistry_Check(t *testing.T) {
	down := errors.New("down")
	tests := []struct {
		name     string
		checkers []*Checker
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []*Checker{NewChecker("db", target{}, 0), NewChecker("cache", target{}, 0)}, StatusHealthy},
		{"optional failure", []*Checker{NewChecker("db", target{}, 0), NewChecker("cache", target{err: down}, 0).Optional()}, StatusDegraded},
		{"unhealthy outranks degraded", []*Checker{
			NewChecker("cache", target{err: down}, 0).Optional(),
			NewChecker("db", target{err: down}, 0),
		}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			got := r.Check(context.Background())
			if got.Status != tt.want {
				t.Fatalf("Status = %s, want %s", got.Status, tt.want)
			}
			if len(got.Checks) != len(tt.checkers) {
				t.Fatalf("Checks = %d, want %d", len(got.Checks), len(tt.checkers))
			}
			if got.IsHealthy() != (tt.want == StatusHealthy) {
				t.Fatal("IsHealthy mismatch")
			}
		})
	}
}

func TestRegistry_RegisterReplacesByName(t *testing.T) {
	r := NewRegistry()
	r.Register(NewChecker("db", target{err: errors.New("down")}, 0))
	r.Register(NewChecker("cache", target{}, 0))
	r.Register(NewChecker("db", target{}, 0))

	if got := r.Names(); !reflect.DeepEqual(got, []string{"db", "cache"}) {
		t.Fatalf("Names() = %v", got)
	}
	res := r.Check(context.Background())
	if !res.IsHealthy() || res.Checks[0].Name != "db" {
		t.Fatalf("Check() = %+v", res)
	}
}
