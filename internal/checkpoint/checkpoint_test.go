package checkpoint

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestDocRoundTripsThroughBSON(t *testing.T) {
	want := Doc{
		SourceID:       "rs0",
		Phase:          "STEADY",
		AppliedThrough: primitive.Timestamp{T: 42, I: 7},
		RunID:          "abc-123",
	}

	raw, err := bson.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Doc
	if err := bson.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.SourceID != want.SourceID || got.Phase != want.Phase || got.RunID != want.RunID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if got.AppliedThrough != want.AppliedThrough {
		t.Fatalf("timestamp mismatch: got %v, want %v", got.AppliedThrough, want.AppliedThrough)
	}
}
