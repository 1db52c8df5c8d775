package clone

import (
	"testing"

	"github.com/mongodb/mongo-tools/common/idx"
	"go.mongodb.org/mongo-driver/bson"
)

func TestIndexDocsToCommandSpecsCarriesKeyAndOptions(t *testing.T) {
	docs := []*idx.IndexDocument{
		{
			Key:     bson.D{{Key: "email", Value: 1}},
			Options: bson.M{"name": "email_1", "unique": true, "sparse": true},
		},
	}

	specs := indexDocsToCommandSpecs(docs)
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}

	var sawKey, sawUnique, sawSparse bool
	for _, e := range specs[0] {
		switch e.Key {
		case "key":
			sawKey = true
		case "unique":
			sawUnique = e.Value == true
		case "sparse":
			sawSparse = e.Value == true
		}
	}
	if !sawKey || !sawUnique || !sawSparse {
		t.Fatalf("expected key/unique/sparse to survive translation, got %v", specs[0])
	}
}

func TestSourceIndexNameIsSkipsIDIndex(t *testing.T) {
	idIndex := sourceIndex{options: bson.M{"name": "_id_"}}
	if !idIndex.nameIs("_id_") {
		t.Error("expected the _id index to be recognised by name")
	}

	other := sourceIndex{options: bson.M{"name": "email_1"}}
	if other.nameIs("_id_") {
		t.Error("did not expect a non-_id index to match")
	}
}

func TestBatchBytesLeavesHeadroomUnder16MiB(t *testing.T) {
	const mib16 = 16 * 1024 * 1024
	if maxBatchBytes >= mib16 {
		t.Fatalf("expected batch byte cap to leave headroom under 16 MiB, got %d", maxBatchBytes)
	}
	if maxBatchBytes <= 0 {
		t.Fatalf("expected a positive batch byte cap, got %d", maxBatchBytes)
	}
}
