// Package orchestrator implements the Orchestrator component (C6,
// spec.md §4.2): the top-level phase state machine that pins start/stop
// oplog positions, runs the Cloner, then the Tailer, fanning out one
// independent pipeline per shard when the source is a router. Grounded
// on the teacher's pbm/restore convergeCluster/waitForStatus/converged
// pattern (pbm/restore/restore.go), collapsed from its multi-process
// cluster-agent polling into one process's in-memory per-shard
// goroutines, since a single mongoreplicate run owns every shard
// pipeline directly rather than coordinating over a control collection.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/mongoreplicate/mongoreplicate/internal/archive"
	"github.com/mongoreplicate/mongoreplicate/internal/checkpoint"
	"github.com/mongoreplicate/mongoreplicate/internal/clone"
	"github.com/mongoreplicate/mongoreplicate/internal/compress"
	"github.com/mongoreplicate/mongoreplicate/internal/config"
	"github.com/mongoreplicate/mongoreplicate/internal/filter"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
	"github.com/mongoreplicate/mongoreplicate/internal/oplog"
	"github.com/mongoreplicate/mongoreplicate/internal/opid"
	"github.com/mongoreplicate/mongoreplicate/internal/pool"
	"github.com/mongoreplicate/mongoreplicate/internal/topology"
	"github.com/mongoreplicate/mongoreplicate/internal/version"
)

// Phase is one state of the per-source pipeline state machine from
// spec.md §4.2.
type Phase string

const (
	Init    Phase = "INIT"
	Clone   Phase = "CLONE"
	Catchup Phase = "CATCHUP"
	Steady  Phase = "STEADY"
	Stopped Phase = "STOPPED"
	Failed  Phase = "FAILED"
)

// catchupPollInterval bounds how often a pipeline checks whether it has
// caught up to headAtCloneEnd and may promote itself to STEADY.
const catchupPollInterval = 200 * time.Millisecond

// replicatorDB names the database on the destination that holds
// mongoreplicate's own control documents (checkpoints).
const replicatorDB = "mongoreplicate"

// State is the observable Pipeline state from spec.md §3 "Pipeline
// state", exposed for logging/monitoring.
type State struct {
	SourceID       string
	Phase          Phase
	AppliedThrough primitive.Timestamp
}

// Orchestrator runs one replication job described by opts, fanning out
// one Pipeline per shard when the source is a sharded router.
type Orchestrator struct {
	Opts   config.Options
	Logger *log.Event
	RunID  opid.RunID

	mu        sync.Mutex
	pipelines map[string]*pipelineStatus
}

// pipelineStatus is the shared, lock-protected view of one source
// endpoint's progress, read by the Remote Archive component's periodic
// snapshot without reaching into pipeline-local state.
type pipelineStatus struct {
	store     *checkpoint.Store
	writePool *pool.Pool
}

// New builds an Orchestrator for opts, minting a fresh RunID. Callers
// that already have a RunID to reuse (e.g. one shared with a runtime
// handle's logging) can overwrite the RunID field directly before Run.
func New(opts config.Options, logger *log.Event) *Orchestrator {
	return &Orchestrator{Opts: opts, Logger: logger, RunID: opid.New(), pipelines: make(map[string]*pipelineStatus)}
}

func (o *Orchestrator) srcEndpoint() topology.Endpoint {
	return topology.Endpoint{
		HostPort: o.Opts.SrcIPPort,
		AuthDB:   o.Opts.SrcAuthDB,
		User:     o.Opts.SrcUser,
		Password: o.Opts.SrcPasswd,
		SlaveOK:  true,
	}
}

func (o *Orchestrator) dstEndpoint() topology.Endpoint {
	return topology.Endpoint{
		HostPort: o.Opts.DstIPPort,
		AuthDB:   o.Opts.DstAuthDB,
		User:     o.Opts.DstUser,
		Password: o.Opts.DstPasswd,
	}
}

// Run executes the full job: preconditions, then either a single
// pipeline or one per shard, until every pipeline reaches STOPPED,
// FAILED, or ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	router, err := topology.Connect(ctx, o.srcEndpoint())
	if err != nil {
		return errors.Wrap(err, "connect source")
	}
	defer router.Disconnect(context.Background())

	dest, err := topology.Connect(ctx, o.dstEndpoint())
	if err != nil {
		return errors.Wrap(err, "connect destination")
	}
	defer dest.Disconnect(context.Background())

	srcVersion, err := version.Fetch(ctx, router)
	if err != nil {
		return errors.Wrap(err, "fetch source version")
	}
	dstVersion, err := version.Fetch(ctx, dest)
	if err != nil {
		return errors.Wrap(err, "fetch destination version")
	}
	if err := version.CheckSkew(version.Pair{Source: srcVersion, Dest: dstVersion}, o.Opts.MinVersionSkew); err != nil {
		return errors.Wrap(err, "version skew precondition")
	}
	if o.Logger != nil {
		o.Logger.Info("source %s, destination %s, run %s", srcVersion, dstVersion, o.RunID)
	}

	f := buildFilter(o.Opts)

	if a := o.startArchiver(ctx); a != nil {
		go a.Run(ctx)
	}

	if !o.Opts.IsMongos {
		return o.runPipeline(ctx, o.srcEndpoint(), "default", f)
	}

	return o.runSharded(ctx, router, f)
}

// startArchiver builds and returns the Remote Archive component
// (SPEC_FULL.md §4.7) if archive_url is configured; nil disables it.
// Its snapshot function reads every pipeline's checkpoint and pool
// directly, so it reflects live progress without the pipelines having
// to push updates anywhere.
func (o *Orchestrator) startArchiver(ctx context.Context) *archive.Archiver {
	if o.Opts.ArchiveURL == "" {
		return nil
	}

	backend, err := archive.Open(o.Opts.ArchiveURL)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("archive disabled: %v", err)
		}
		return nil
	}

	codec, err := compress.ParseType(o.Opts.ArchiveCompression)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("archive disabled: %v", err)
		}
		return nil
	}

	return &archive.Archiver{
		Backend:  backend,
		Codec:    codec,
		Interval: time.Duration(o.Opts.ArchiveIntervalSec) * time.Second,
		RunID:    o.RunID,
		Logger:   log.NewEvent("archive"),
		Snapshot: o.buildSnapshot,
	}
}

func (o *Orchestrator) buildSnapshot(ctx context.Context) (archive.Snapshot, error) {
	o.mu.Lock()
	sourceIDs := make([]string, 0, len(o.pipelines))
	statuses := make(map[string]*pipelineStatus, len(o.pipelines))
	for id, st := range o.pipelines {
		sourceIDs = append(sourceIDs, id)
		statuses[id] = st
	}
	o.mu.Unlock()

	snap := archive.Snapshot{FailedDocs: make(map[string]int64, len(sourceIDs))}
	for _, id := range sourceIDs {
		st := statuses[id]
		if doc, ok, err := st.store.Load(ctx, id); err == nil && ok {
			snap.Checkpoints = append(snap.Checkpoints, doc)
		}
		snap.FailedDocs[id] = st.writePool.FailedDocs()
	}
	return snap, nil
}

func (o *Orchestrator) registerPipeline(sourceID string, st *pipelineStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pipelines[sourceID] = st
}

// buildFilter constructs the Filter from opts. dbs and colls are both
// allow-lists (spec.md §6): neither one is an exclude list, so they
// merge into filter.New's single include argument rather than its
// include/exclude pair.
func buildFilter(opts config.Options) *filter.Filter {
	include := append(splitCSV(opts.DBs), splitCSV(opts.Colls)...)
	return filter.New(include, nil)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// runSharded implements spec.md §4.2's "Sharded topology" branch: list
// shards, refuse to proceed if the balancer is running (moving chunks
// mid-clone would lose or duplicate documents), then run one independent
// pipeline per shard, each dialing its shard directly, all writing to
// the same destination.
func (o *Orchestrator) runSharded(ctx context.Context, router *mongo.Client, f *filter.Filter) error {
	running, err := topology.IsBalancerRunning(ctx, router)
	if err != nil {
		return errors.Wrap(err, "check balancer")
	}
	if running {
		return errors.New("balancer is running: refusing to clone a sharded source mid-migration")
	}

	shards, err := topology.ListShards(ctx, router)
	if err != nil {
		return errors.Wrap(err, "list shards")
	}
	if o.Logger != nil {
		o.Logger.Info("sharded source: %d shard(s)", len(shards))
	}

	group, gctx := errgroup.WithContext(ctx)
	for _, shard := range shards {
		shard := shard
		group.Go(func() error {
			endpoint := topology.Endpoint{
				HostPort: shardSeedList(shard.Host),
				AuthDB:   o.Opts.SrcAuthDB,
				User:     o.Opts.SrcUser,
				Password: o.Opts.SrcPasswd,
				SlaveOK:  true,
			}
			return o.runPipeline(gctx, endpoint, shard.ID, f)
		})
	}
	return group.Wait()
}

// shardSeedList strips the replica-set-name prefix config.shards stores
// a shard's host field under ("rs0/h1:27018,h2:27018" -> "h1:27018,
// h2:27018"), per spec.md §3's "tailer connects directly to each shard".
func shardSeedList(host string) string {
	if i := strings.IndexByte(host, '/'); i >= 0 {
		return host[i+1:]
	}
	return host
}

// runPipeline drives one source endpoint through the full state machine:
// INIT -> CLONE -> CATCHUP -> STEADY -> STOPPED, or FAILED on an
// unrecoverable error.
func (o *Orchestrator) runPipeline(ctx context.Context, src topology.Endpoint, sourceID string, f *filter.Filter) error {
	logger := log.NewEvent("pipeline:" + sourceID)

	source, err := topology.Connect(ctx, src)
	if err != nil {
		return errors.Wrapf(err, "%s: connect source", sourceID)
	}
	defer source.Disconnect(context.Background())

	dest, err := topology.Connect(ctx, o.dstEndpoint())
	if err != nil {
		return errors.Wrapf(err, "%s: connect destination", sourceID)
	}
	defer dest.Disconnect(context.Background())

	store := checkpoint.New(dest, replicatorDB)

	writePool := pool.New(ctx, o.dstEndpoint(), o.Opts.BGThreadNum, logger)
	defer writePool.Shutdown()

	o.registerPipeline(sourceID, &pipelineStatus{store: store, writePool: writePool})

	existing, ok, err := store.Load(ctx, sourceID)
	if err != nil {
		return errors.Wrapf(err, "%s: load checkpoint", sourceID)
	}

	var from primitive.Timestamp
	if ok {
		logger.Info("resuming from checkpoint at %v (phase %s, run %s)", existing.AppliedThrough, existing.Phase, existing.RunID)
		from = existing.AppliedThrough
	} else {
		from, err = oplog.Head(ctx, source)
		if err != nil {
			return errors.Wrapf(err, "%s: pin oplog start", sourceID)
		}
		logger.Info("pinned oplogStart at %v", from)

		if err := o.runClone(ctx, source, dest, f, writePool, logger); err != nil {
			_ = store.Save(ctx, sourceID, string(Failed), from, o.RunID)
			return errors.Wrapf(err, "%s: clone", sourceID)
		}
		if err := store.Save(ctx, sourceID, string(Catchup), from, o.RunID); err != nil {
			logger.Warn("checkpoint save after clone failed: %v", err)
		}
	}

	headAtCloneEnd, err := oplog.Head(ctx, source)
	if err != nil {
		return errors.Wrapf(err, "%s: read head at clone end", sourceID)
	}

	var stopAt *primitive.Timestamp
	if o.Opts.OplogEnd != 0 {
		ts := primitive.Timestamp{T: uint32(o.Opts.OplogEnd)}
		stopAt = &ts
	}

	tailer := oplog.NewTailer(source, dest, writePool, f, logger)
	tailer.TxnBuffer = oplog.NewTxnBuffer()
	tailer.StopAt = stopAt
	tailer.Checkpoint = store.Checkpointer(sourceID, o.RunID)
	tailer.SetPhase(oplog.PhaseCatchup)

	promote := o.promoteOnCatchUp(ctx, tailer, headAtCloneEnd, sourceID, logger)
	defer promote.stop()

	err = tailer.Run(ctx, from)
	promote.stop()

	if err != nil {
		if errors.Is(err, oplog.ErrRolledOff) {
			logger.Fatal("%s: oplog rolled off before resumption, a fresh clone is required", sourceID)
		}
		_ = store.Save(ctx, sourceID, string(Failed), tailer.AppliedThrough(), o.RunID)
		return errors.Wrapf(err, "%s: tail", sourceID)
	}

	if err := store.Save(ctx, sourceID, string(Stopped), tailer.AppliedThrough(), o.RunID); err != nil {
		logger.Warn("final checkpoint save failed: %v", err)
	}

	if txns := tailer.TxnBuffer.Leftovers(); len(txns) > 0 {
		logger.Warn("%s: %d distributed transaction(s) still uncommitted at stop", sourceID, len(txns))
	}

	return nil
}

func (o *Orchestrator) runClone(ctx context.Context, source, dest *mongo.Client, f *filter.Filter, p *pool.Pool, logger *log.Event) error {
	cloner := clone.New(source, dest, f, p, logger, o.Opts.BGThreadNum)
	cloner.BatchDocs = o.Opts.BatchSize
	return cloner.Run(ctx)
}

// catchupPromoter polls a tailer's applied-through watermark and
// promotes it from CATCHUP to STEADY once it reaches headAtCloneEnd,
// implementing spec.md §4.2's "appliedThrough ≥ headAtCloneEnd ->
// STEADY" transition without blocking the tailer's own read loop.
type catchupPromoter struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *catchupPromoter) stop() {
	c.cancel()
	<-c.done
}

func (o *Orchestrator) promoteOnCatchUp(ctx context.Context, t *oplog.Tailer, headAtCloneEnd primitive.Timestamp, sourceID string, logger *log.Event) *catchupPromoter {
	pctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(catchupPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-pctx.Done():
				return
			case <-ticker.C:
				if primitive.CompareTimestamp(t.AppliedThrough(), headAtCloneEnd) >= 0 {
					t.SetPhase(oplog.PhaseSteady)
					logger.Info("%s: caught up to %v, entering steady state", sourceID, headAtCloneEnd)
					return
				}
			}
		}
	}()

	return &catchupPromoter{cancel: cancel, done: done}
}
