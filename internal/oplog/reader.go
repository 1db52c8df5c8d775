package oplog

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection is local.oplog.rs, the source's replication log.
const Collection = "oplog.rs"

// ErrRolledOff is returned when the requested start position is no
// longer present in the source oplog (spec.md §4.4/§7
// "Oplog-rolled-off"); the pipeline must fail and a fresh clone is
// required.
var ErrRolledOff = errors.New("oplog rolled off: start position no longer present")

// Head returns the latest timestamp observed in the source oplog, used
// by the orchestrator to pin oplogStart before cloning begins
// (spec.md §4.2).
func Head(ctx context.Context, source *mongo.Client) (primitive.Timestamp, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "$natural", Value: -1}})
	var e Entry
	err := source.Database("local").Collection(Collection).FindOne(ctx, bson.D{}, opts).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return primitive.Timestamp{}, nil
	}
	return e.TS, errors.Wrap(err, "find oplog head")
}

// Oldest returns the earliest timestamp still present in the source
// oplog, used to detect roll-off on cursor resumption.
func Oldest(ctx context.Context, source *mongo.Client) (primitive.Timestamp, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "$natural", Value: 1}})
	var e Entry
	err := source.Database("local").Collection(Collection).FindOne(ctx, bson.D{}, opts).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return primitive.Timestamp{}, nil
	}
	return e.TS, errors.Wrap(err, "find oplog oldest")
}

// OpenTail opens a tailable-await cursor at ts >= from. Callers must
// Close it; on any error other than context cancellation the caller is
// expected to call OpenTail again ("Cursor-broken" resumption, spec.md
// §4.4/§7).
func OpenTail(ctx context.Context, source *mongo.Client, from primitive.Timestamp) (*mongo.Cursor, error) {
	filter := bson.D{{Key: "ts", Value: bson.D{{Key: "$gte", Value: from}}}}
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetNoCursorTimeout(true)

	cur, err := source.Database("local").Collection(Collection).Find(ctx, filter, opts)
	return cur, errors.Wrap(err, "open oplog tail")
}

// nextAfter computes the strictly-greater-than resume point from an
// applied timestamp, per spec.md §4.4: "re-opens from appliedThrough +
// epsilon". Mongo timestamps are (seconds, ordinal) pairs; epsilon
// increments the ordinal, rolling into the next second on overflow.
func nextAfter(ts primitive.Timestamp) primitive.Timestamp {
	if ts.I == ^uint32(0) {
		return primitive.Timestamp{T: ts.T + 1, I: 0}
	}
	return primitive.Timestamp{T: ts.T, I: ts.I + 1}
}
