package oplog

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mongoreplicate/mongoreplicate/internal/filter"
	"github.com/mongoreplicate/mongoreplicate/internal/log"
)

func updateOpts(upsert bool) *options.UpdateOptions {
	return options.Update().SetUpsert(upsert)
}

// commandWhitelist is the SPEC_FULL.md §9 resolution of the open
// question: known commands are translated, everything else is logged
// and skipped (spec.md §4.4), rather than erroring.
var commandWhitelist = map[string]bool{
	"create":           true,
	"drop":             true,
	"dropDatabase":     true,
	"renameCollection": true,
	"createIndexes":    true,
	"collMod":          true,
}

// Apply applies a single entry synchronously against dest, implementing
// the per-op translation rules of spec.md §4.4. It is used directly in
// STEADY state (so appliedThrough advances on every op) and for u/d/c
// ops in every phase, since only inserts are ever batched through the
// Worker Pool.
func Apply(ctx context.Context, dest *mongo.Client, e Entry, logger *log.Event) error {
	ns := filter.ParseNS(e.NS)

	switch e.Op {
	case Insert:
		return applyInsert(ctx, dest, ns, e.O)
	case Update:
		return applyUpdate(ctx, dest, ns, e.O2, e.O)
	case Delete:
		return applyDelete(ctx, dest, ns, e.O)
	case Command:
		return applyCommand(ctx, dest, ns, e.O, logger)
	case Noop:
		return nil // ignored except for advancing appliedThrough, done by the caller
	default:
		if logger != nil {
			logger.Warn("unknown oplog op %q on %s, skipping", e.Op, e.NS)
		}
		return nil
	}
}

// applyInsert swallows duplicate-_id errors because clone/tail overlap
// means the same document may already exist (spec.md §4.4 "Idempotence
// obligation"). CATCHUP-phase inserts do not come through here:
// Tailer.applyOne enqueues them to the Worker Pool as one-element
// WriteBatches.
func applyInsert(ctx context.Context, dest *mongo.Client, ns filter.NS, doc bson.Raw) error {
	coll := dest.Database(ns.Database).Collection(ns.Collection)
	_, err := coll.InsertOne(ctx, doc)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return errors.Wrapf(err, "insert into %s", ns.Str())
}

// applyUpdate implements spec.md §4.4's upsert rule: upsert=false for a
// $-modifier payload, upsert=true for a full-document replacement keyed
// by _id -- this preserves correctness if an update races ahead of its
// insert due to clone/tail interleaving.
func applyUpdate(ctx context.Context, dest *mongo.Client, ns filter.NS, selector, payload bson.Raw) error {
	coll := dest.Database(ns.Database).Collection(ns.Collection)

	upsert := !IsModifier(payload) && selectsByID(selector)
	if !IsModifier(payload) {
		// UpdateOne rejects a document without $-operators; a full
		// replacement goes through ReplaceOne.
		_, err := coll.ReplaceOne(ctx, selector, payload, options.Replace().SetUpsert(upsert))
		return errors.Wrapf(err, "replace in %s", ns.Str())
	}
	_, err := coll.UpdateOne(ctx, selector, payload, updateOpts(upsert))
	return errors.Wrapf(err, "update %s", ns.Str())
}

func applyDelete(ctx context.Context, dest *mongo.Client, ns filter.NS, selector bson.Raw) error {
	coll := dest.Database(ns.Database).Collection(ns.Collection)
	_, err := coll.DeleteOne(ctx, selector) // justOne=true per spec.md §4.4
	return errors.Wrapf(err, "delete from %s", ns.Str())
}

func applyCommand(ctx context.Context, dest *mongo.Client, ns filter.NS, cmd bson.Raw, logger *log.Event) error {
	name, ok := firstKey(cmd)
	if !ok {
		return nil
	}
	if !commandWhitelist[name] {
		if logger != nil {
			logger.Warn("unrecognised command op %q on %s, skipped", name, ns.Str())
		}
		return nil
	}

	var result bson.Raw
	err := dest.Database(ns.Database).RunCommand(ctx, cmd).Decode(&result)
	return errors.Wrapf(err, "apply command %q on %s", name, ns.Database)
}

func firstKey(doc bson.Raw) (string, bool) {
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return "", false
	}
	return elems[0].Key(), true
}

func selectsByID(selector bson.Raw) bool {
	elems, err := selector.Elements()
	if err != nil {
		return false
	}
	return len(elems) == 1 && elems[0].Key() == "_id"
}
