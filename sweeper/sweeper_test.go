package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockPendingStore struct {
	cutoffs chan time.Time
	err     error
}

func (m mockPendingStore) DeleteUnconfirmedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	select {
	case m.cutoffs <- cutoff:
	default:
	}
	return 1, m.err
}

func TestSweepUsesMaxAge(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	store := mockPendingStore{cutoffs: make(chan time.Time, 1)}
	s := Sweeper{Store: store, MaxAge: 48 * time.Hour, now: func() time.Time { return now }}
	n, err := s.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("unexpected result %d %v", n, err)
	}
	if cutoff := <-store.cutoffs; !cutoff.Equal(now.Add(-48 * time.Hour)) {
		t.Errorf("unexpected cutoff %s", cutoff)
	}
}

func TestRegularSweepRuns(t *testing.T) {
	store := mockPendingStore{cutoffs: make(chan time.Time, 1)}
	s := Sweeper{Store: store, Interval: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go s.runLoop(ctx, exited)

	select {
	case <-store.cutoffs:
	case <-time.After(time.Second):
		t.Errorf("Store wasn't swept")
	}
	cancel()
	<-exited
}

func TestRegularSweepReportsErrors(t *testing.T) {
	reports := make(chan string, 1)
	store := mockPendingStore{cutoffs: make(chan time.Time, 1), err: errors.New("db down")}
	s := Sweeper{
		Name:      "test",
		Store:     store,
		Interval:  50 * time.Millisecond,
		OnFailure: func(name string, err error) {
			select {
			case reports <- name:
			default:
			}
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go s.runLoop(ctx, exited)

	select {
	case name := <-reports:
		if name != "test" {
			t.Errorf("unexpected sweeper name %s", name)
		}
	case <-time.After(time.Second):
		t.Errorf("Failure wasn't reported")
	}
	cancel()
	<-exited
}
