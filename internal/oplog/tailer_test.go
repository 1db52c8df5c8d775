package oplog

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoreplicate/mongoreplicate/internal/filter"
)

func rawDoc(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// TestApplyEntryGatesCommandsByDatabase guards against regressing the
// command-op filter bypass: a command on an excluded database must never
// reach Dest, only the $cmd-suffixed collection name should be ignored.
func TestApplyEntryGatesCommandsByDatabase(t *testing.T) {
	tlr := &Tailer{Filter: filter.New([]string{"allowed"}, nil)}

	excluded := Entry{
		Op: Command,
		NS: "blocked.$cmd",
		O:  rawDoc(t, bson.D{{Key: "dropDatabase", Value: 1}}),
	}
	if err := tlr.applyEntry(context.Background(), excluded); err != nil {
		t.Fatalf("expected a filtered-out command to be skipped cleanly, got %v", err)
	}
}

// TestApplyEntryAdmitsCommandOnIncludedDatabase is the inverse: a
// database-level include entry must still let its own commands through
// (this only checks the pre-Dest filter decision, not the RunCommand
// itself, which needs a live connection).
func TestApplyEntryAdmitsCommandOnIncludedDatabase(t *testing.T) {
	f := filter.New([]string{"allowed"}, nil)
	ns := filter.ParseNS("allowed.$cmd")
	if !f.AcceptDatabase(ns.Database) {
		t.Fatal("expected the database-level include to admit allowed.$cmd")
	}
}
