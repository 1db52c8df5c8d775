package clone

import (
	"context"

	"github.com/mongodb/mongo-tools/common/idx"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoreplicate/mongoreplicate/internal/filter"
)

// replayIndexes implements spec.md §4.3 step 4: read the source's index
// catalog for ns and recreate each definition on the destination,
// preserving unique/sparse/partial/collation/TTL options; the implicit
// _id index is skipped. Grounded on the teacher's pbm/restore use of
// mongo-tools' idx.IndexCatalog to carry index metadata from source
// listing through to a destination createIndexes call.
func (c *Cloner) replayIndexes(ctx context.Context, ns filter.NS) error {
	specs, err := c.listSourceIndexes(ctx, ns)
	if err != nil {
		return errors.Wrap(err, "list source indexes")
	}
	if len(specs) == 0 {
		return nil
	}

	catalog := idx.NewIndexCatalog()
	for _, spec := range specs {
		if spec.nameIs("_id_") {
			continue
		}
		catalog.AddIndex(ns.Str(), idx.IndexDocument{
			Key:     spec.key,
			Options: spec.options,
		})
	}

	docs := catalog.GetIndexes(ns.Str())
	if len(docs) == 0 {
		return nil
	}

	cmd := bson.D{
		{Key: "createIndexes", Value: ns.Collection},
		{Key: "indexes", Value: indexDocsToCommandSpecs(docs)},
	}
	return c.Dest.Database(ns.Database).RunCommand(ctx, cmd).Err()
}

// indexDocsToCommandSpecs turns the catalog's index documents into the
// "indexes" array createIndexes expects: each element is the index's
// key document plus its options, including the name listIndexes
// reported; no name is synthesised for an entry that lacks one.
func indexDocsToCommandSpecs(docs []*idx.IndexDocument) []bson.D {
	out := make([]bson.D, 0, len(docs))
	for _, d := range docs {
		spec := bson.D{{Key: "key", Value: d.Key}}
		for k, v := range d.Options {
			spec = append(spec, bson.E{Key: k, Value: v})
		}
		out = append(out, spec)
	}
	return out
}

// sourceIndex is the minimal shape of a listIndexes result this package
// needs; kept distinct from idx.IndexDocument so the raw driver decode
// stays in one place.
type sourceIndex struct {
	key     bson.D
	options bson.M
}

func (s sourceIndex) nameIs(name string) bool {
	if n, ok := s.options["name"].(string); ok {
		return n == name
	}
	return false
}

// listSourceIndexes runs listIndexes against the source and splits each
// result into its key pattern and its options (everything but "key"),
// e.g. unique/sparse/partialFilterExpression/collation/expireAfterSeconds.
func (c *Cloner) listSourceIndexes(ctx context.Context, ns filter.NS) ([]sourceIndex, error) {
	cur, err := c.Source.Database(ns.Database).Collection(ns.Collection).Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []sourceIndex
	for cur.Next(ctx) {
		var raw bson.D
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}

		var key bson.D
		options := bson.M{}
		for _, elem := range raw {
			if elem.Key == "key" {
				if kd, ok := elem.Value.(bson.D); ok {
					key = kd
				}
				continue
			}
			options[elem.Key] = elem.Value
		}
		out = append(out, sourceIndex{key: key, options: options})
	}
	return out, cur.Err()
}
