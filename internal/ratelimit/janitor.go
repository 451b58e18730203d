package ratelimit

import (
	"context"
	"time"

	"github.com/npezzotti/go-roster/internal/database"
	"go.uber.org/zap"
)

const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Janitor periodically prunes old join attempts.
type Janitor struct {
	store     database.Store
	limiter   *Limiter
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	log       *zap.SugaredLogger
	stop      chan struct{}
	done      chan struct{}
}

func NewJanitor(store database.Store, limiter *Limiter, retention time.Duration, logger *zap.SugaredLogger) *Janitor {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Janitor{
		store:     store,
		limiter:   limiter,
		retention: retention,
		interval:  DefaultSweepInterval,
		now:       time.Now,
		log:       logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Sweep prunes once and returns the number of deleted attempts.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	var deleted int
	err := j.store.Update(ctx, func(tx database.Tx) error {
		n, err := j.limiter.Prune(tx, j.retention, j.now())
		deleted = n
		return err
	})
	return deleted, err
}

func (j *Janitor) Run() {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer func() {
			ticker.Stop()
			close(j.done)
		}()

		for {
			select {
			case <-j.stop:
				return
			case <-ticker.C:
				n, err := j.Sweep(context.Background())
				if err != nil {
					j.log.Errorw("failed to prune join attempts", "error", err)
					continue
				}
				if n > 0 {
					j.log.Infow("pruned join attempts", "count", n, "retention", j.retention.String())
				}
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}
