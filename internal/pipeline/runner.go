package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/bobarin/captionreel/internal/errs"
)

// Runner executes jobs on their own goroutines, at most limit at a time.
// A panicking job is converted into an internal error and never takes the
// caller down with it.
type Runner struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger zerolog.Logger
}

func NewRunner(limit int, logger zerolog.Logger) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{
		sem:    semaphore.NewWeighted(int64(limit)),
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes fn in an isolated goroutine and waits for it.
func (r *Runner) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for a render slot: %w", err)
	}
	defer r.sem.Release(1)

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error().
					Str("job", name).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("job panicked")
				done <- errs.New(errs.KindInternal, "runner", fmt.Sprintf("job %s panicked: %v", name, rec))
			}
		}()
		done <- fn(ctx)
	}()
	return <-done
}

// Go runs fn like Run but returns immediately; onDone receives the result.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) error, onDone func(error)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.Run(ctx, name, fn)
		if onDone != nil {
			onDone(err)
		}
	}()
}

// Wait blocks until every job started with Go has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
