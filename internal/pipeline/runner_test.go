package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/captionreel/internal/errs"
)

func TestRunnerRecoversPanic(t *testing.T) {
	r := NewRunner(1, zerolog.Nop())

	err := r.Run(context.Background(), "bad", func(context.Context) error {
		panic("nil map")
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindInternal))

	// The runner stays usable afterwards.
	assert.NoError(t, r.Run(context.Background(), "good", func(context.Context) error { return nil }))
}

func TestRunnerPassesErrorsThrough(t *testing.T) {
	r := NewRunner(1, zerolog.Nop())
	want := errors.New("boom")
	assert.ErrorIs(t, r.Run(context.Background(), "j", func(context.Context) error { return want }), want)
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	r := NewRunner(2, zerolog.Nop())
	var running, peak atomic.Int32

	for i := 0; i < 6; i++ {
		r.Go(context.Background(), "j", func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}, nil)
	}
	r.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunnerGoReportsResult(t *testing.T) {
	r := NewRunner(1, zerolog.Nop())
	done := make(chan error, 1)
	r.Go(context.Background(), "p", func(context.Context) error { panic("x") }, func(err error) { done <- err })
	r.Wait()
	assert.True(t, errs.IsKind(<-done, errs.KindInternal))
}
