package grid

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"gred/internal/dblib"
)

// DefaultMaxWorkers bounds concurrent jobs when the setting is unset.
const DefaultMaxWorkers = 4

// Dispatcher runs fn on the goroutine that owns the grid. Every completion
// callback of a Runner goes through it.
type Dispatcher interface {
	Post(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Post(fn func()) { f(fn) }

// Token is the stop flag handed to a job. Jobs poll it between units of
// work; nothing is interrupted mid-statement.
type Token struct {
	stopped atomic.Bool
}

func (t *Token) Stop() {
	if t != nil {
		t.stopped.Store(true)
	}
}

// Stopped is safe on a nil Token, which is never stopped.
func (t *Token) Stopped() bool { return t != nil && t.stopped.Load() }

// Work is the body of a job. It runs on its own goroutine and must not touch
// grid state.
type Work func(ctx context.Context, tok *Token) error

type job struct {
	gen    uint64
	tok    *Token
	cancel context.CancelFunc
}

// Runner starts one goroutine per job and keeps at most one job per key.
// Starting a job under a busy key stops the old one; its completion is then
// dropped. The number of jobs running at once is bounded by a semaphore.
type Runner struct {
	ctx      context.Context
	dispatch Dispatcher
	sem      *semaphore.Weighted
	log      zerolog.Logger

	mu   sync.Mutex
	gen  uint64
	jobs map[string]*job
	wg   sync.WaitGroup
}

// NewRunner creates a Runner. maxWorkers <= 0 selects DefaultMaxWorkers.
// The logger is attached to the context every job receives.
func NewRunner(ctx context.Context, dispatch Dispatcher, maxWorkers int, log zerolog.Logger) *Runner {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Runner{
		ctx:      log.WithContext(ctx),
		dispatch: dispatch,
		sem:      semaphore.NewWeighted(int64(maxWorkers)),
		log:      log,
		jobs:     make(map[string]*job),
	}
}

// Start runs work under key. done, if not nil, is posted to the Dispatcher
// with work's result unless the job was stopped or superseded meanwhile.
func (r *Runner) Start(key string, work Work, done func(error)) {
	r.mu.Lock()
	if prev, ok := r.jobs[key]; ok {
		prev.tok.Stop()
		prev.cancel()
		r.log.Debug().Str("key", key).Uint64("gen", prev.gen).Msg("superseding job")
	}
	r.gen++
	jctx, cancel := context.WithCancel(r.ctx)
	j := &job{gen: r.gen, tok: &Token{}, cancel: cancel}
	r.jobs[key] = j
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer cancel()
		err := r.run(jctx, j.tok, work)
		r.log.Debug().Str("key", key).Uint64("gen", j.gen).Err(err).Msg("job finished")
		r.dispatch.Post(func() {
			if !r.finish(key, j.gen) {
				r.log.Debug().Str("key", key).Uint64("gen", j.gen).Msg("dropping superseded completion")
				return
			}
			if done != nil {
				done(err)
			}
		})
	}()
}

// run waits for a worker slot, then hands work the runner's base context so
// that stopping a job never aborts a statement already sent to the server.
func (r *Runner) run(jctx context.Context, tok *Token, work Work) error {
	if err := r.sem.Acquire(jctx, 1); err != nil {
		return dblib.ErrStopped
	}
	defer r.sem.Release(1)
	if tok.Stopped() {
		return dblib.ErrStopped
	}
	return work(r.ctx, tok)
}

// finish reports whether gen is still the live job for key and retires it.
func (r *Runner) finish(key string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[key]
	if !ok || j.gen != gen {
		return false
	}
	delete(r.jobs, key)
	return true
}

// Stop stops the job under key, if any. Its completion will be dropped.
func (r *Runner) Stop(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked(key)
}

// StopPrefix stops every job whose key starts with prefix.
func (r *Runner) StopPrefix(prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.jobs {
		if strings.HasPrefix(key, prefix) {
			r.stopLocked(key)
		}
	}
}

func (r *Runner) stopLocked(key string) {
	if j, ok := r.jobs[key]; ok {
		j.tok.Stop()
		j.cancel()
		delete(r.jobs, key)
	}
}

// Busy reports whether a job is live under key.
func (r *Runner) Busy(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[key]
	return ok
}

// Wait blocks until every started goroutine has returned. Completions may
// still be queued on the Dispatcher.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// IsStopped reports whether err means the job gave up at a stop request.
func IsStopped(err error) bool {
	return errors.Is(err, dblib.ErrStopped)
}
