// Package sweeper periodically removes subscriptions that were never
// confirmed, so that their addresses can subscribe again.
package sweeper

import (
	"context"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var sweptTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "newsletter_unconfirmed_swept_total",
	Help: "Unconfirmed subscribers removed after their confirmation window.",
})

// PendingStore is any back-end that can purge stale pending subscribers.
type PendingStore interface {
	DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type errorCallback func(name string, err error)

// Called with failure by default.
func reportToSentry(name string, err error) {
	raven.CaptureError(err, map[string]string{"sweeper": name})
}

// Sweeper purges pending subscriptions regularly. This structure defines
// the configuration.
type Sweeper struct {
	// Name: Required. Appears in log lines and error reports.
	Name string
	// Store: Required. Store to purge.
	Store PendingStore
	// MaxAge: optional. Pending subscribers older than this are removed.
	// Defaults to 7 days.
	MaxAge time.Duration
	// Interval: optional. Time between runs. Defaults to 1 hour.
	Interval time.Duration
	// OnFailure: optional. Called when a run fails. Defaults to a Sentry
	// report.
	OnFailure errorCallback

	now func() time.Time
}

func (s *Sweeper) maxAge() time.Duration {
	if s.MaxAge != 0 {
		return s.MaxAge
	}
	return 7 * 24 * time.Hour
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval != 0 {
		return s.Interval
	}
	return time.Hour
}

func (s *Sweeper) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Sweep runs a single purge.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock().Add(-s.maxAge())
	n, err := s.Store.DeleteUnconfirmedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	sweptTotal.Add(float64(n))
	return n, nil
}

func (s *Sweeper) runLoop(ctx context.Context, exited chan struct{}) {
	defer close(exited)
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := s.Sweep(ctx)
		if err != nil {
			log.Error().Err(err).Str("sweeper", s.Name).Msg("could not purge unconfirmed subscribers")
			if s.OnFailure != nil {
				s.OnFailure(s.Name, err)
			} else {
				reportToSentry(s.Name, err)
			}
			continue
		}
		if n > 0 {
			log.Info().Str("sweeper", s.Name).Int64("removed", n).Msg("purged unconfirmed subscribers")
		}
	}
}

// Run starts the loop of purges and returns when ctx is done. The first
// purge happens after Interval.
func (s *Sweeper) Run(ctx context.Context) {
	exited := make(chan struct{})
	go s.runLoop(ctx, exited)
	<-exited
}
