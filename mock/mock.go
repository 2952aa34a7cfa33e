// Package mock simulates the collaborators of the update manager. Every
// operation sleeps for the configured delay and reports the outcome of its
// Scenario, unless an error was injected before it reports.
package mock

import (
	"context"
	"time"

	"github.com/the-lightning-land/sweetfw/updater"
)

type Config struct {
	Scenario *Scenario
	Logger   Logger
}

type base struct {
	updater.PendingError
	scenario *Scenario
	log      Logger
}

func newBase(config *Config) base {
	b := base{
		scenario: config.Scenario,
		log:      config.Logger,
	}

	if b.scenario == nil {
		b.scenario = DefaultScenario()
	}

	if b.log == nil {
		b.log = noopLogger{}
	}

	return b
}

// sleep waits for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func send[T any](ctx context.Context, out chan<- updater.Result[T], r updater.Result[T]) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// transfer ticks through the scenario progress and completes. finish runs
// right before the completion is reported.
func (b *base) transfer(ctx context.Context, start time.Duration, finish func() error) <-chan updater.Result[updater.Progress] {
	out := make(chan updater.Result[updater.Progress])

	go func() {
		defer close(out)

		if !sleep(ctx, start) {
			return
		}

		for _, p := range b.scenario.Progress {
			if err, ok := b.Take(); ok {
				send(ctx, out, updater.Failure[updater.Progress](err))
				return
			}

			if !send(ctx, out, updater.Percent(p)) {
				return
			}

			if !sleep(ctx, b.scenario.Delays.Tick) {
				return
			}
		}

		if err, ok := b.Take(); ok {
			send(ctx, out, updater.Failure[updater.Progress](err))
			return
		}

		if finish != nil {
			if err := finish(); err != nil {
				send(ctx, out, updater.Failure[updater.Progress](err))
				return
			}
		}

		send(ctx, out, updater.Completed())
	}()

	return out
}

// single reports the outcome of value after delay.
func single[T any](ctx context.Context, b *base, delay time.Duration, value func() (T, error)) <-chan updater.Result[T] {
	out := make(chan updater.Result[T], 1)

	go func() {
		if !sleep(ctx, delay) {
			return
		}

		if err, ok := b.Take(); ok {
			out <- updater.Failure[T](err)
			return
		}

		v, err := value()
		if err != nil {
			out <- updater.Failure[T](err)
			return
		}

		out <- updater.Success(v)
	}()

	return out
}
