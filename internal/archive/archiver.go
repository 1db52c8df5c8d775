package archive

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoreplicate/mongoreplicate/internal/checkpoint"
	"github.com/mongoreplicate/mongoreplicate/internal/compress"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
	"github.com/mongoreplicate/mongoreplicate/internal/opid"
)

// Snapshot is the small, pure-observational document archived each
// interval: the checkpoint state of every pipeline plus a few run
// counters. It never gates the replication state machine (spec.md §7).
type Snapshot struct {
	RunID       string              `bson:"runId"`
	TakenAt     time.Time           `bson:"takenAt"`
	Checkpoints []checkpoint.Doc    `bson:"checkpoints"`
	FailedDocs  map[string]int64    `bson:"failedDocs"`
}

// SnapshotFunc produces the current Snapshot on demand.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// Archiver periodically encodes and uploads Snapshots to a Backend.
type Archiver struct {
	Backend  Backend
	Codec    compress.Type
	Interval time.Duration
	RunID    opid.RunID
	Logger   *log.Event

	Snapshot SnapshotFunc
}

// Run blocks, uploading a snapshot every Interval until ctx is
// cancelled. Every failure is logged and the loop continues: the Remote
// Archive component is DR-staging sugar, never a correctness dependency.
func (a *Archiver) Run(ctx context.Context) {
	if a.Backend == nil || a.Snapshot == nil {
		return
	}
	interval := a.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.uploadOnce(ctx)
		}
	}
}

func (a *Archiver) uploadOnce(ctx context.Context) {
	snap, err := a.Snapshot(ctx)
	if err != nil {
		a.warn("build snapshot: %v", err)
		return
	}
	snap.RunID = a.RunID.String()
	snap.TakenAt = time.Now()

	raw, err := bson.Marshal(snap)
	if err != nil {
		a.warn("marshal snapshot: %v", err)
		return
	}

	encoded, err := compress.Encode(a.Codec, raw)
	if err != nil {
		a.warn("encode snapshot: %v", err)
		return
	}

	key := "snapshot-" + snap.TakenAt.UTC().Format("20060102T150405Z") + compress.Ext(a.Codec)
	if err := a.Backend.Upload(ctx, key, encoded); err != nil {
		a.warn("upload snapshot %s: %v", key, err)
		return
	}
	if a.Logger != nil {
		a.Logger.Info("archived snapshot %s (%d bytes)", key, len(encoded))
	}
}

func (a *Archiver) warn(format string, args ...interface{}) {
	if a.Logger != nil {
		a.Logger.Warn(format, args...)
	}
}
