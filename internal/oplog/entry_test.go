package oplog

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func mustMarshal(t *testing.T, v interface{}) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bson.Raw(b)
}

func TestIsModifierDetectsDollarPrefix(t *testing.T) {
	modifier := mustMarshal(t, bson.D{{Key: "$set", Value: bson.D{{Key: "v", Value: "x"}}}})
	if !IsModifier(modifier) {
		t.Error("expected $set payload to be detected as a modifier")
	}

	replacement := mustMarshal(t, bson.D{{Key: "_id", Value: 1}, {Key: "v", Value: "x"}})
	if IsModifier(replacement) {
		t.Error("expected full-document replacement to not be a modifier")
	}
}

func TestInTxnRequiresBothLSIDAndTxnNumber(t *testing.T) {
	n := int64(1)
	e := Entry{LSID: mustMarshal(t, bson.D{{Key: "id", Value: 1}}), TxnNumber: &n}
	if !e.InTxn() {
		t.Error("expected entry with lsid+txnNumber to be InTxn")
	}

	e2 := Entry{TxnNumber: &n}
	if e2.InTxn() {
		t.Error("expected entry without lsid to not be InTxn")
	}
}
