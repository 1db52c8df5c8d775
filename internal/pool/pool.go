// Package pool implements the Worker Pool component (C3, spec.md §4.5):
// a bounded set of writers draining a single-producer queue of write
// batches, one pool per destination endpoint.
//
// The teacher's own BGThreadGroup equivalent (see original_source/util.cc)
// polls a queue guarded by a mutex/condition variable and sleeps while
// it is non-empty. Per spec.md §9's design notes this is rewritten as a
// capacity-1 buffered channel plus golang.org/x/sync/errgroup: "close the
// channel, wait for workers" replaces the should_exit flag and broadcast.
package pool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/mongoreplicate/mongoreplicate/internal/filter"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
	"github.com/mongoreplicate/mongoreplicate/internal/topology"
)

// WriteBatch is the ordered, non-empty sequence of documents destined
// for one destination namespace, submitted as a single driver call
// (spec.md §3). Ownership is exclusively the producer's until Enqueue
// returns, and exclusively the worker's thereafter.
type WriteBatch struct {
	NS   filter.NS
	Docs []bson.Raw
}

// Pool is one bounded writer pool for a single destination endpoint.
type Pool struct {
	endpoint topology.Endpoint
	threads  int

	queue   chan *WriteBatch // capacity 1: the "single-slot queue" backpressure from spec.md §4.5/§9
	group   *errgroup.Group
	ctx     context.Context
	started int32 // atomic bool, lazy-start guard

	wg      sync.WaitGroup // outstanding (enqueued, not yet applied) batches
	pending int64          // atomic mirror of wg's count, for Drain's non-blocking poll

	failedDocs int64 // atomic: per-document failures tolerated per spec.md §4.3/§4.5

	logger *log.Event
}

// New constructs a pool for endpoint with threads workers. Workers are
// started lazily on first Enqueue (spec.md §4.5 "Lazy start").
func New(ctx context.Context, endpoint topology.Endpoint, threads int, logger *log.Event) *Pool {
	if threads < 1 {
		threads = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	return &Pool{
		endpoint: endpoint,
		threads:  threads,
		queue:    make(chan *WriteBatch, 1),
		group:    group,
		ctx:      gctx,
		logger:   logger,
	}
}

// ensureStarted spins up the worker goroutines exactly once.
func (p *Pool) ensureStarted() {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}
	for i := 0; i < p.threads; i++ {
		id := i
		p.group.Go(func() error {
			return p.runWorker(id)
		})
	}
}

// Enqueue blocks the caller while the queue is non-empty, imposing the
// backpressure described in spec.md §4.5: the cloner (or tailer, during
// CATCHUP) cannot race ahead of the writers. Returns immediately with
// the pool's fatal error, if any, so a producer can stop feeding a dead
// pool instead of blocking forever.
func (p *Pool) Enqueue(ctx context.Context, batch *WriteBatch) error {
	if len(batch.Docs) == 0 {
		return nil
	}
	p.ensureStarted()
	p.wg.Add(1)
	atomic.AddInt64(&p.pending, 1)

	select {
	case p.queue <- batch:
		return nil
	case <-ctx.Done():
		p.wg.Done()
		atomic.AddInt64(&p.pending, -1)
		return ctx.Err()
	case <-p.ctx.Done():
		p.wg.Done()
		atomic.AddInt64(&p.pending, -1)
		return p.group.Wait()
	}
}

// Drain blocks until the queue is empty and no worker is mid-write: the
// happens-before edge spec.md §4.3 requires between CLONE and CATCHUP.
func (p *Pool) Drain(ctx context.Context) error {
	if atomic.LoadInt64(&p.pending) == 0 {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.group.Wait()
	}
}

// Shutdown closes the queue and waits for every worker to finish its
// in-flight write, per spec.md §5 "Cancellation": each thread finishes
// its I/O, releases its connection, and exits.
func (p *Pool) Shutdown() error {
	if atomic.LoadInt32(&p.started) == 1 {
		close(p.queue)
	}
	return p.group.Wait()
}

// FailedDocs returns the count of per-document write failures tolerated
// via continue-on-error retries (spec.md §7).
func (p *Pool) FailedDocs() int64 {
	return atomic.LoadInt64(&p.failedDocs)
}

func (p *Pool) runWorker(id int) error {
	conn, err := topology.Connect(p.ctx, p.endpoint)
	if err != nil {
		return errors.Wrapf(err, "worker %d connect", id)
	}
	defer conn.Disconnect(context.Background())

	for {
		select {
		case batch, ok := <-p.queue:
			if !ok {
				return nil
			}
			p.apply(conn, batch)
			atomic.AddInt64(&p.pending, -1)
			p.wg.Done()
		case <-p.ctx.Done():
			return nil
		}
	}
}

// apply submits batch as a single bulk insert with the collection's
// default (acknowledged) write concern, not an unacknowledged one; on a
// batch-level driver error it retries once with continue-on-error
// semantics so individual bad documents (e.g. duplicate _id, tolerated
// per spec.md §4.3) are skipped rather than losing the whole batch.
func (p *Pool) apply(conn *mongo.Client, batch *WriteBatch) {
	coll := conn.Database(batch.NS.Database).Collection(batch.NS.Collection)
	docs := toInterfaceSlice(batch.Docs)

	ctx := context.Background()
	_, err := coll.InsertMany(ctx, docs)
	if err == nil {
		return
	}

	if p.logger != nil {
		p.logger.Warn("batch insert into %s failed, retrying with continue-on-error: %v", batch.NS.Str(), err)
	}

	var failed int64
	for _, d := range docs {
		if _, err := coll.InsertOne(ctx, d); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue // tolerated: another clone path or retried batch already inserted it
			}
			failed++
		}
	}
	if failed > 0 {
		atomic.AddInt64(&p.failedDocs, failed)
		if p.logger != nil {
			p.logger.Warn("%d document(s) in batch for %s could not be applied", failed, batch.NS.Str())
		}
	}
}

func toInterfaceSlice(docs []bson.Raw) []interface{} {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i] = d
	}
	return out
}
