package lease

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 10 * time.Second
)

// Guard runs a polling loop under a named lease so that only one process
// instance drives it at a time. With a nil Locker the loop simply runs,
// preserving single-instance behavior.
type Guard struct {
	locker *Locker
	log    *zap.Logger
}

func NewGuard(locker *Locker, log *zap.Logger) *Guard {
	return &Guard{
		locker: locker,
		log:    log.Named("lease"),
	}
}

// Run blocks until ctx is done. While the lease is held, fn runs with a
// context that is canceled as soon as the lease is lost.
func (g *Guard) Run(ctx context.Context, name string, fn func(context.Context)) {
	if g == nil || g.locker == nil {
		fn(ctx)
		return
	}

	key := "repricer:lease:" + name
	log := g.log.With(zap.String("lease", name))

	for {
		if ctx.Err() != nil {
			return
		}

		token, held, err := g.locker.TryLock(ctx, key, defaultTTL)
		if err != nil {
			log.Warn("lease acquire failed", zap.Error(err))
		}
		if !held {
			select {
			case <-ctx.Done():
				return
			case <-time.After(defaultRetryInterval):
			}
			continue
		}

		log.Info("lease acquired")
		g.hold(ctx, key, token, log, fn)
		_ = g.locker.Release(context.WithoutCancel(ctx), key, token)
		log.Info("lease released")
	}
}

func (g *Guard) hold(ctx context.Context, key, token string, log *zap.Logger, fn func(context.Context)) {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(leaseCtx)
	}()

	ticker := time.NewTicker(defaultTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return
		case <-done:
			return
		case <-ticker.C:
			renewed, err := g.locker.Renew(ctx, key, token, defaultTTL)
			if err != nil || !renewed {
				log.Warn("lease lost", zap.Error(err))
				cancel()
				<-done
				return
			}
		}
	}
}
