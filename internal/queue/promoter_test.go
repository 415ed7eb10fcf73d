package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePromotable struct {
	mu          sync.Mutex
	promoteErr  error
	promoted    int
	calls       int
	republished int
	olderThan   time.Time
}

func (f *fakePromotable) Promote(ctx context.Context, now time.Time, batch int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.promoted, f.promoteErr
}

type fakeRepublisher struct {
	*fakePromotable
}

func (f fakeRepublisher) RepublishStale(ctx context.Context, olderThan time.Time, batch int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.olderThan = olderThan
	return f.republished, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPromoter_Tick(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

	t.Run("promote error does not stop republish", func(t *testing.T) {
		target := fakeRepublisher{&fakePromotable{promoteErr: errors.New("db down"), republished: 2}}
		p := NewPromoter(target, PromoterConfig{StaleAfter: time.Minute, Logger: quietLogger()})
		p.now = func() time.Time { return now }

		p.Tick(context.Background())

		assert.Equal(t, 1, target.calls)
		assert.Equal(t, now.Add(-time.Minute), target.olderThan)
	})

	t.Run("republish disabled without stale window", func(t *testing.T) {
		target := fakeRepublisher{&fakePromotable{promoted: 1}}
		p := NewPromoter(target, PromoterConfig{Logger: quietLogger()})
		p.now = func() time.Time { return now }

		p.Tick(context.Background())

		assert.True(t, target.olderThan.IsZero())
	})
}

func TestPromoter_RunStopsOnCancel(t *testing.T) {
	target := &fakePromotable{}
	p := NewPromoter(target, PromoterConfig{Interval: time.Millisecond, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		target.mu.Lock()
		defer target.mu.Unlock()
		return target.calls > 0
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("promoter did not stop")
	}
}
