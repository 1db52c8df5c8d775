// Package checkpoint persists pipeline progress on the destination so a
// restarted orchestrator can resume tailing without a fresh clone
// (spec.md §4.2 "Pipeline state", SPEC_FULL.md §4.2). Grounded on the
// teacher's docsyncer.Checkpoint (sdgdsffdsfff-MongoShake
// src/mongoshake/collector/docsyncer/doc_syncer.go): one control document
// per source, upserted by key, holding the last durably-applied
// timestamp.
package checkpoint

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongoreplicate/mongoreplicate/internal/oplog"
	"github.com/mongoreplicate/mongoreplicate/internal/opid"
)

// Collection is where control documents live on the destination, under
// the configured replicator database.
const Collection = "checkpoints"

// Doc is the persisted checkpoint control document, keyed by the source
// endpoint identity (spec.md §6's src_ip_port, or a shard id in sharded
// mode). RunID identifies which pipeline run last wrote it, so a
// restarted orchestrator can tell a stale checkpoint from its own.
type Doc struct {
	SourceID       string              `bson:"_id"`
	Phase          string              `bson:"phase"`
	AppliedThrough primitive.Timestamp `bson:"appliedThrough"`
	RunID          string              `bson:"runId"`
	UpdatedAt      time.Time           `bson:"updatedAt"`
}

// Store reads and writes checkpoint documents on one destination client.
type Store struct {
	dest *mongo.Client
	db   string
}

// New builds a Store against db (the configured replicator_db).
func New(dest *mongo.Client, db string) *Store {
	return &Store{dest: dest, db: db}
}

func (s *Store) coll() *mongo.Collection {
	return s.dest.Database(s.db).Collection(Collection)
}

// Load returns the checkpoint for sourceID, and ok=false if none exists
// yet (a fresh source: the orchestrator must CLONE).
func (s *Store) Load(ctx context.Context, sourceID string) (Doc, bool, error) {
	var doc Doc
	err := s.coll().FindOne(ctx, bson.D{{Key: "_id", Value: sourceID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Doc{}, false, nil
	}
	if err != nil {
		return Doc{}, false, errors.Wrap(err, "load checkpoint")
	}
	return doc, true, nil
}

// Save upserts the checkpoint for sourceID. Called after clone (to
// record the pinned oplogStart before entering CATCHUP) and periodically
// by the tailer (spec.md §4.4 "Checkpointing").
func (s *Store) Save(ctx context.Context, sourceID string, phase string, ts primitive.Timestamp, run opid.RunID) error {
	doc := Doc{
		SourceID:       sourceID,
		Phase:          phase,
		AppliedThrough: ts,
		RunID:          run.String(),
		UpdatedAt:      time.Now(),
	}
	_, err := s.coll().ReplaceOne(
		ctx,
		bson.D{{Key: "_id", Value: sourceID}},
		doc,
		options.Replace().SetUpsert(true),
	)
	return errors.Wrap(err, "save checkpoint")
}

// Checkpointer adapts Save into an oplog.CheckpointFunc bound to one
// source and run.
func (s *Store) Checkpointer(sourceID string, run opid.RunID) oplog.CheckpointFunc {
	return func(ctx context.Context, ts primitive.Timestamp) error {
		return s.Save(ctx, sourceID, "STEADY", ts, run)
	}
}
