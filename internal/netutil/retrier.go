// Package netutil holds small networking helpers shared by commands.
package netutil

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrThresholdReached is returned when retries did not succeed within the
// configured time threshold.
var ErrThresholdReached = errors.New("threshold timeout has been reached")

// RetryFunc is the operation being retried.
type RetryFunc func() error

// Retrier re-runs a failing operation with exponential backoff until it
// succeeds, returns a whitelisted error or the time threshold passes.
type Retrier struct {
	log logrus.FieldLogger

	backoff      time.Duration
	factor       uint32
	threshold    time.Duration
	errWhitelist map[error]struct{}
}

// NewRetrier builds a retrier starting at backoff and multiplying it by
// factor after each failure, giving up after threshold.
func NewRetrier(backoff, threshold time.Duration, factor uint32) *Retrier {
	return &Retrier{
		log:          logrus.StandardLogger(),
		backoff:      backoff,
		factor:       factor,
		threshold:    threshold,
		errWhitelist: make(map[error]struct{}),
	}
}

// WithErrWhitelist sets errors that abort retrying and surface directly.
func (r *Retrier) WithErrWhitelist(errs ...error) *Retrier {
	m := make(map[error]struct{}, len(errs))
	for _, err := range errs {
		m[err] = struct{}{}
	}
	r.errWhitelist = m
	return r
}

// WithLogger replaces the standard logger.
func (r *Retrier) WithLogger(log logrus.FieldLogger) *Retrier {
	r.log = log
	return r
}

// Do runs f until it succeeds, fails with a whitelisted error or the
// threshold elapses.
func (r *Retrier) Do(f RetryFunc) error {
	var backoff <-chan time.Time
	var deadline <-chan time.Time

	current := r.backoff

	errCh := make(chan error, 1)
	go func() { errCh <- f() }()

	for {
		select {
		case <-deadline:
			return ErrThresholdReached

		case <-backoff:
			go func() { errCh <- f() }()

		case err := <-errCh:
			if err == nil {
				return nil
			}
			if _, ok := r.errWhitelist[err]; ok {
				return err
			}
			r.log.WithError(err).Warn("Retrying")

			backoff = time.After(current)
			current *= time.Duration(r.factor)
			if deadline == nil {
				deadline = time.After(r.threshold)
			}
		}
	}
}
