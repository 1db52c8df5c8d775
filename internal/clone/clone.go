// Package clone implements the Cloner component (C4, spec.md §4.3):
// enumerate in-scope namespaces on the source, stream documents in
// count/size-bounded batches through the Worker Pool, then replay each
// namespace's index catalog. Grounded on the teacher's MongoShake
// ancestor's docsyncer.DBSyncer / collectionSync (sdgdsffdsfff-MongoShake
// src/mongoshake/collector/docsyncer/doc_syncer.go): one goroutine per
// namespace, bounded by a parallelism limit, each streaming its own
// cursor and handing fixed-size buffers to a writer.
package clone

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/mongoreplicate/mongoreplicate/internal/filter"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
	"github.com/mongoreplicate/mongoreplicate/internal/pool"
)

const (
	// defaultBatchDocs is spec.md §4.3 step 2's "e.g. 1000".
	defaultBatchDocs = 1000
	// maxBatchBytes is spec.md §4.3 step 2's "16 MiB minus headroom",
	// reserving room for the wire message envelope around a batch of
	// BSON documents submitted as a single insertMany.
	maxBatchBytes = 16*1024*1024 - (64 * 1024)
)

// Cloner is the Cloner component (C4) for one source/destination pair.
type Cloner struct {
	Source *mongo.Client
	Dest   *mongo.Client
	Filter *filter.Filter
	Pool   *pool.Pool
	Logger *log.Event

	// Parallelism bounds how many namespaces are streamed concurrently.
	// Mirrors the teacher's ReplayerCollectionParallel.
	Parallelism int
	// BatchDocs and BatchBytes override the spec defaults; zero means
	// "use the default".
	BatchDocs  int
	BatchBytes int
}

// New constructs a Cloner. parallelism <= 0 defaults to 4.
func New(source, dest *mongo.Client, f *filter.Filter, p *pool.Pool, logger *log.Event, parallelism int) *Cloner {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Cloner{Source: source, Dest: dest, Filter: f, Pool: p, Logger: logger, Parallelism: parallelism}
}

func (c *Cloner) batchDocs() int {
	if c.BatchDocs > 0 {
		return c.BatchDocs
	}
	return defaultBatchDocs
}

func (c *Cloner) batchBytes() int {
	if c.BatchBytes > 0 {
		return c.BatchBytes
	}
	return maxBatchBytes
}

// Run clones every in-scope namespace, then drains the pool so every
// clone-phase insert is durably applied before the caller starts tailing
// (spec.md §4.3 "Ordering within a namespace").
func (c *Cloner) Run(ctx context.Context) error {
	namespaces, err := c.Namespaces(ctx)
	if err != nil {
		return errors.Wrap(err, "enumerate namespaces")
	}
	if c.Logger != nil {
		c.Logger.Info("clone: %d namespace(s) in scope", len(namespaces))
	}

	sem := make(chan struct{}, c.Parallelism)
	group, gctx := errgroup.WithContext(ctx)

	for _, ns := range namespaces {
		ns := ns
		group.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()
			return c.cloneNamespace(gctx, ns)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	return errors.Wrap(c.Pool.Drain(ctx), "drain pool after clone")
}

// Namespaces enumerates every database/collection pair on the source and
// returns those the Filter accepts, excluding per-collection index
// catalogs (read separately during index replay, never streamed as
// documents -- spec.md §4.1).
func (c *Cloner) Namespaces(ctx context.Context) ([]filter.NS, error) {
	dbs, err := c.Source.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, "list databases")
	}

	var out []filter.NS
	for _, db := range dbs {
		colls, err := c.Source.Database(db).ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return nil, errors.Wrapf(err, "list collections in %s", db)
		}
		for _, coll := range colls {
			ns := filter.NS{Database: db, Collection: coll}
			if ns.IsIndexCatalog() {
				continue
			}
			if !c.Filter.Accept(ns) {
				continue
			}
			out = append(out, ns)
		}
	}
	return out, nil
}

// cloneNamespace implements spec.md §4.3 steps 1-4 for a single
// namespace.
func (c *Cloner) cloneNamespace(ctx context.Context, ns filter.NS) error {
	if err := c.ensureCollection(ctx, ns); err != nil {
		return errors.Wrapf(err, "create destination collection %s", ns.Str())
	}

	if err := c.streamDocuments(ctx, ns); err != nil {
		return errors.Wrapf(err, "stream documents for %s", ns.Str())
	}

	if err := c.replayIndexes(ctx, ns); err != nil {
		return errors.Wrapf(err, "replay indexes for %s", ns.Str())
	}

	if c.Logger != nil {
		c.Logger.Info("clone: %s done", ns.Str())
	}
	return nil
}

// ensureCollection creates the destination collection, tolerating
// "already exists" so a resumed clone (or an overlapping sharded
// pipeline targeting the same destination) is idempotent.
func (c *Cloner) ensureCollection(ctx context.Context, ns filter.NS) error {
	err := c.Dest.Database(ns.Database).CreateCollection(ctx, ns.Collection)
	if err == nil {
		return nil
	}
	if isNamespaceExists(err) {
		return nil
	}
	return err
}

func isNamespaceExists(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Name == "NamespaceExists" || ce.Code == 48
	}
	return false
}

// streamDocuments implements spec.md §4.3 step 2-3: a plain find cursor
// over the whole collection (no snapshot option is set), batched by count
// and serialised size, each full batch handed off to the Worker Pool.
func (c *Cloner) streamDocuments(ctx context.Context, ns filter.NS) error {
	cur, err := c.Source.Database(ns.Database).Collection(ns.Collection).Find(ctx, bson.D{})
	if err != nil {
		return errors.Wrap(err, "open source cursor")
	}
	defer cur.Close(ctx)

	batch := make([]bson.Raw, 0, c.batchDocs())
	batchBytes := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := c.Pool.Enqueue(ctx, &pool.WriteBatch{NS: ns, Docs: batch})
		batch = make([]bson.Raw, 0, c.batchDocs())
		batchBytes = 0
		return err
	}

	for cur.Next(ctx) {
		doc := append(bson.Raw(nil), cur.Current...) // cur.Current is reused by the driver
		if batchBytes+len(doc) > c.batchBytes() || len(batch) >= c.batchDocs() {
			if err := flush(); err != nil {
				return errors.Wrap(err, "flush batch")
			}
		}
		batch = append(batch, doc)
		batchBytes += len(doc)
	}
	if err := cur.Err(); err != nil {
		return errors.Wrap(err, "cursor error")
	}

	return errors.Wrap(flush(), "flush final batch")
}
