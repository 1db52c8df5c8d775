package oplog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongoreplicate/mongoreplicate/internal/filter"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
	"github.com/mongoreplicate/mongoreplicate/internal/pool"
)

// Phase distinguishes the two ways the tailer applies inserts, per
// spec.md §4.4: batched through the pool during CATCHUP, inline during
// STEADY so appliedThrough advances on every op.
type Phase int32

const (
	PhaseCatchup Phase = iota
	PhaseSteady
)

// CheckpointFunc persists appliedThrough; called after every N applied
// ops or T seconds (spec.md §4.2 "Checkpointing").
type CheckpointFunc func(ctx context.Context, ts primitive.Timestamp) error

const (
	checkpointEveryOps = 1000
	checkpointEvery    = 5 * time.Second
)

// Tailer is the Oplog Tailer component (C5, spec.md §4.4).
type Tailer struct {
	Source *mongo.Client
	Dest   *mongo.Client
	Pool   *pool.Pool // only used in PhaseCatchup; may be nil if never used
	Filter *filter.Filter
	Logger *log.Event

	StopAt     *primitive.Timestamp // oplogEnd, spec.md §3/§4.2; nil means tail forever
	Checkpoint CheckpointFunc
	TxnBuffer  *TxnBuffer // nil disables distributed-transaction buffering

	phase          int32 // atomic Phase
	appliedThrough atomic.Value // primitive.Timestamp
}

// NewTailer constructs a Tailer starting in CATCHUP.
func NewTailer(source, dest *mongo.Client, p *pool.Pool, f *filter.Filter, logger *log.Event) *Tailer {
	t := &Tailer{Source: source, Dest: dest, Pool: p, Filter: f, Logger: logger}
	t.phase = int32(PhaseCatchup)
	return t
}

// SetPhase switches the tailer between CATCHUP and STEADY application
// strategies. Safe to call concurrently with Run.
func (t *Tailer) SetPhase(p Phase) {
	atomic.StoreInt32(&t.phase, int32(p))
}

func (t *Tailer) phaseNow() Phase {
	return Phase(atomic.LoadInt32(&t.phase))
}

// AppliedThrough returns the timestamp of the last entry the tailer has
// handled: applied inline or, for a CATCHUP insert, handed to the pool.
// A persisted checkpoint drains the pool first (see consume). Monotonic:
// never rewinds (spec.md §5).
func (t *Tailer) AppliedThrough() primitive.Timestamp {
	v, _ := t.appliedThrough.Load().(primitive.Timestamp)
	return v
}

func (t *Tailer) advance(ts primitive.Timestamp) {
	t.appliedThrough.Store(ts)
}

// Run follows the oplog from `from` until ctx is cancelled or StopAt is
// reached. It re-opens the cursor transparently on a broken-cursor
// error (spec.md §4.4 "Cursor resumption") and fails fatally on
// roll-off.
func (t *Tailer) Run(ctx context.Context, from primitive.Timestamp) error {
	t.advance(from)
	cursorFrom := from

	opsSinceCheckpoint := 0
	lastCheckpoint := time.Now()

	for {
		if ctx.Err() != nil {
			return nil // clean stop, spec.md §5 "Cancellation"
		}

		// The driver's "ts >= cursorFrom" query never errors when
		// cursorFrom predates the oldest retained entry: it silently
		// starts from whatever is oldest, skipping everything in
		// between. Checking Oldest() first, on every (re)open including
		// the very first, is the only way to detect that and fail
		// fatal per spec.md §4.2/§7 instead of silently losing data.
		oldest, err := Oldest(ctx, t.Source)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "find oplog oldest")
		}
		if primitive.CompareTimestamp(oldest, cursorFrom) > 0 {
			return ErrRolledOff
		}

		cur, err := OpenTail(ctx, t.Source, cursorFrom)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "open oplog tail")
		}

		stop, err := t.consume(ctx, cur, &opsSinceCheckpoint, &lastCheckpoint)
		cur.Close(ctx)

		if stop {
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if t.Logger != nil {
				t.Logger.Warn("oplog cursor broken, resuming from %v: %v", t.AppliedThrough(), err)
			}
			cursorFrom = nextAfter(t.AppliedThrough())
			continue
		}
		return nil
	}
}

// consume reads entries off cur until it is exhausted or a fatal
// condition is hit. Returns (stop=true, err) when the pipeline should
// halt entirely (StopAt reached, or a fatal apply error); returns
// (stop=false, err) when the cursor merely needs reopening.
func (t *Tailer) consume(ctx context.Context, cur *mongo.Cursor, opsSinceCheckpoint *int, lastCheckpoint *time.Time) (bool, error) {
	for cur.Next(ctx) {
		var e Entry
		if err := cur.Decode(&e); err != nil {
			return true, errors.Wrap(err, "decode oplog entry")
		}

		if t.StopAt != nil && primitive.CompareTimestamp(e.TS, *t.StopAt) > 0 {
			return true, nil // clean stop condition, spec.md §4.2
		}

		if err := t.applyEntry(ctx, e); err != nil {
			return true, errors.Wrapf(err, "apply oplog entry ts=%v ns=%s", e.TS, e.NS)
		}

		t.advance(e.TS)
		*opsSinceCheckpoint++

		if *opsSinceCheckpoint >= checkpointEveryOps || time.Since(*lastCheckpoint) >= checkpointEvery {
			if t.Checkpoint != nil {
				// CATCHUP inserts may still sit in the pool; drain it so
				// the persisted timestamp covers only applied writes.
				var err error
				if t.Pool != nil {
					err = t.Pool.Drain(ctx)
				}
				if err == nil {
					err = t.Checkpoint(ctx, e.TS)
				}
				if err != nil && t.Logger != nil {
					t.Logger.Warn("checkpoint persist failed: %v", err)
				}
			}
			*opsSinceCheckpoint = 0
			*lastCheckpoint = time.Now()
		}
	}
	if err := cur.Err(); err != nil {
		return false, err
	}
	return false, nil
}

func (t *Tailer) applyEntry(ctx context.Context, e Entry) error {
	ns := filter.ParseNS(e.NS)
	if e.Op == Command {
		// e.NS is "db.$cmd": the collection part carries no namespace
		// meaning, but the database part still does, so a command on a
		// database excluded by --dbs must still be skipped.
		if !t.Filter.AcceptDatabase(ns.Database) {
			return nil
		}
	} else if !t.Filter.Accept(ns) {
		return nil
	}

	if t.TxnBuffer != nil && e.InTxn() {
		ready, entries := t.TxnBuffer.Observe(e)
		if !ready {
			return nil
		}
		for _, be := range entries {
			if err := t.applyOne(ctx, be); err != nil {
				return err
			}
		}
		return nil
	}

	return t.applyOne(ctx, e)
}

// applyOne implements the insert branch of spec.md §4.4: "In CATCHUP,
// enqueue as a one-element batch through the pool; in STEADY, apply
// inline so that appliedThrough advances on each op." u/d/c/n are
// always applied synchronously, in every phase.
func (t *Tailer) applyOne(ctx context.Context, e Entry) error {
	if e.Op == Insert && t.phaseNow() == PhaseCatchup && t.Pool != nil {
		return t.Pool.Enqueue(ctx, &pool.WriteBatch{
			NS:   filter.ParseNS(e.NS),
			Docs: []bson.Raw{e.O},
		})
	}
	return Apply(ctx, t.Dest, e, t.Logger)
}
