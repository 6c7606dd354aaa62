package retry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/retry"
)

var fast = retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cas conflict", fmt.Errorf("claim: %w", domain.ErrConcurrentModified), true},
		{"serialization failure", &pq.Error{Code: "40001"}, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"sqlite busy text", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"invalid state", &domain.InvalidStateError{Entity: "requirement", ID: "r", From: "draft", Op: "claim"}, false},
	}
	for _, tc := range cases {
		if got := retry.IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDoRetriesOnceThenSucceeds(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), "claim", fast, func() (string, error) {
		calls++
		if calls == 1 {
			return "", domain.ErrConcurrentModified
		}
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("unexpected result %q %v", v, err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoSurfacesTransientError(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), "claim", fast, func() (int, error) {
		calls++
		return 0, domain.ErrConcurrentModified
	})
	if calls != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var te *domain.TransientError
	if !errors.As(err, &te) || te.Op != "claim" {
		t.Fatalf("expected TransientError for claim, got %#v", err)
	}
}

func TestDoNeverRetriesClientErrors(t *testing.T) {
	calls := 0
	invalid := &domain.InvalidStateError{Entity: "requirement", ID: "r", From: "accepted", Op: "open"}
	_, err := retry.Do(context.Background(), "open", fast, func() (int, error) {
		calls++
		return 0, invalid
	})
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestDelayGrowsAndCaps(t *testing.T) {
	if d := retry.Delay(1, time.Second, time.Minute); d != time.Second {
		t.Fatalf("attempt 1 delay %v", d)
	}
	if d := retry.Delay(3, time.Second, time.Minute); d != 4*time.Second {
		t.Fatalf("attempt 3 delay %v", d)
	}
	if d := retry.Delay(20, time.Second, time.Minute); d != time.Minute {
		t.Fatalf("capped delay %v", d)
	}
}
