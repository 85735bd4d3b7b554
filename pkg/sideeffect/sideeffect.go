package sideeffect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedshop-rewards/pkg/logger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Dispatcher runs work whose outcome must never change the result of the operation that triggered it.
// Errors and panics are logged and dropped.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error)
}

var Module = fx.Module("sideeffect",
	fx.Provide(provideDispatcher),
)

func provideDispatcher(lc fx.Lifecycle) Dispatcher {
	d := NewAsync(30 * time.Second)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			d.Wait(ctx)
			return nil
		},
	})
	return d
}

// Inline runs side effects on the caller's goroutine.
type Inline struct{}

func (Inline) Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	run(ctx, name, fn)
}

// Async runs each side effect on its own goroutine with a context detached from the caller's cancellation.
type Async struct {
	wg      sync.WaitGroup
	timeout time.Duration
}

func NewAsync(timeout time.Duration) *Async {
	return &Async{timeout: timeout}
}

func (a *Async) Dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		c, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		run(c, name, fn)
	}()
}

// Wait blocks until in-flight side effects finish or ctx is done.
func (a *Async) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		zap.L().Warn("[SideEffect] stopped waiting for in-flight side effects", zap.Error(ctx.Err()))
	}
}

func run(ctx context.Context, name string, fn func(ctx context.Context) error) {
	log := logger.L(ctx).With(zap.String("side_effect", name))

	defer func() {
		if r := recover(); r != nil {
			log.Error("side effect panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := fn(ctx); err != nil {
		log.Warn("side effect failed", zap.Error(err))
		return
	}

	log.Debug("side effect done")
}
