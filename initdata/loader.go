// Package initdata implements the Init-Data Loader (spec.md §4.1, §6):
// on boot, every table is loaded in parallel and managers are only
// allowed to start serving RPCs once every table has finished loading.
package initdata

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jungbaepark/gcs/common/async"
)

// TableLoader is implemented by each manager's table-backed store: it
// knows how to pull its own GetAll snapshot into the manager's
// in-memory state.
type TableLoader interface {
	// Name identifies the table for logging.
	Name() string
	// Load performs the blocking GetAll and populates manager state.
	// Called from a worker goroutine; implementations must not touch
	// other managers' state.
	Load(ctx context.Context) error
}

// Loader runs every registered TableLoader concurrently (mirroring the
// teacher's common/async.Pool fan-out) and blocks until every load has
// finished, even when one of them fails.
type Loader struct {
	loaders []TableLoader
}

// NewLoader creates a Loader over the given table loaders.
func NewLoader(loaders ...TableLoader) *Loader {
	return &Loader{loaders: loaders}
}

// LoadAll loads every table in parallel, bounded by maxWorkers
// concurrent loads, and returns once all have completed. Returns the
// first error encountered; a single bad table aborts the whole boot
// sequence (a table the GCS cannot load is a Fatal condition per
// spec.md §7).
func (l *Loader) LoadAll(ctx context.Context, maxWorkers int) error {
	pool := async.NewPool(async.PoolOptions{MaxWorkers: maxWorkers})
	defer pool.Stop()

	var wg sync.WaitGroup
	errs := make(chan error, len(l.loaders))

	for _, ld := range l.loaders {
		ld := ld
		wg.Add(1)
		pool.Enqueue(ctx, async.CtxJobFunc(func(ctx context.Context) {
			defer wg.Done()
			if ctx.Err() != nil {
				// The boot context was canceled (e.g. process shutdown)
				// before this table's turn came up; don't bother
				// starting a load whose result nobody will wait for.
				return
			}
			log.WithField("table", ld.Name()).Info("loading table")
			if err := ld.Load(ctx); err != nil {
				log.WithField("table", ld.Name()).WithError(err).Error("table load failed")
				errs <- err
				return
			}
			log.WithField("table", ld.Name()).Info("table loaded")
		}))
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
