// Package retry classifies storage errors and applies the bounded retry used
// around booking transitions.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/domain"
)

const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// Policy bounds a retry loop. Attempts counts the first try.
type Policy struct {
	Attempts uint
	Initial  time.Duration
	Max      time.Duration
}

// Once retries a transient failure a single time.
var Once = Policy{Attempts: 2, Initial: 20 * time.Millisecond, Max: 200 * time.Millisecond}

// IsTransient reports whether err is worth retrying: a lost optimistic
// concurrency race, a busy database, a serialization failure or a dropped
// connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrConcurrentModified) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
		return pqErr.Code.Class() == "08"
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		code := sqlErr.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// Do runs fn under p. Non-transient errors stop the loop immediately. A
// transient error that outlives the policy is returned as *domain.TransientError.
func Do[T any](ctx context.Context, op string, p Policy, fn func() (T, error)) (T, error) {
	if p.Attempts == 0 {
		p = Once
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.Attempts))
	if err != nil && IsTransient(err) {
		var te *domain.TransientError
		if errors.As(err, &te) {
			return res, err
		}
		return res, &domain.TransientError{Op: op, Err: err}
	}
	return res, err
}

// Delay is the wait before attempt n (1-based) of an exponential schedule
// starting at initial and capped at max. It has no jitter.
func Delay(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
