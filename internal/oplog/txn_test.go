package oplog

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func lsid(t *testing.T, id string) bson.Raw {
	return mustMarshal(t, bson.D{{Key: "id", Value: id}})
}

func txnNum(n int64) *int64 { return &n }

func TestTxnBufferHoldsUntilCommit(t *testing.T) {
	buf := NewTxnBuffer()
	session := lsid(t, "s1")

	e1 := Entry{Op: Insert, NS: "d.c", LSID: session, TxnNumber: txnNum(1), O: mustMarshal(t, bson.D{{Key: "_id", Value: 1}})}
	ready, entries := buf.Observe(e1)
	if ready {
		t.Fatal("expected first statement to be buffered, not ready")
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries returned while buffering, got %d", len(entries))
	}

	commit := Entry{Op: Command, NS: "admin.$cmd", LSID: session, TxnNumber: txnNum(1), O: mustMarshal(t, bson.D{{Key: "commitTransaction", Value: 1}})}
	ready, entries = buf.Observe(commit)
	if !ready {
		t.Fatal("expected commit to flush the transaction")
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries flushed (insert + commit), got %d", len(entries))
	}
	if entries[0].Op != Insert || entries[1].Op != Command {
		t.Fatalf("expected flushed order insert,commit; got %v,%v", entries[0].Op, entries[1].Op)
	}

	if leftovers := buf.Leftovers(); len(leftovers) != 0 {
		t.Fatalf("expected no leftovers after commit, got %d", len(leftovers))
	}
}

func TestTxnBufferDiscardsOnAbort(t *testing.T) {
	buf := NewTxnBuffer()
	session := lsid(t, "s2")

	e1 := Entry{Op: Insert, NS: "d.c", LSID: session, TxnNumber: txnNum(1)}
	buf.Observe(e1)

	abort := Entry{Op: Command, NS: "admin.$cmd", LSID: session, TxnNumber: txnNum(1), O: mustMarshal(t, bson.D{{Key: "abortTransaction", Value: 1}})}
	ready, entries := buf.Observe(abort)
	if ready || entries != nil {
		t.Fatalf("expected abort to discard with no entries returned, got ready=%v entries=%v", ready, entries)
	}
	if leftovers := buf.Leftovers(); len(leftovers) != 0 {
		t.Fatalf("expected no leftovers after abort, got %d", len(leftovers))
	}
}

func TestTxnBufferReportsLeftoversWhenNeverCommitted(t *testing.T) {
	buf := NewTxnBuffer()
	session := lsid(t, "s3")

	buf.Observe(Entry{Op: Insert, NS: "d.c", LSID: session, TxnNumber: txnNum(1)})

	leftovers := buf.Leftovers()
	if len(leftovers) != 1 {
		t.Fatalf("expected one outstanding transaction, got %d", len(leftovers))
	}
}

func TestNonTransactionalEntryAppliesImmediately(t *testing.T) {
	buf := NewTxnBuffer()
	e := Entry{Op: Insert, NS: "d.c"}
	ready, entries := buf.Observe(e)
	if !ready || len(entries) != 1 {
		t.Fatal("expected a non-transactional entry to pass straight through")
	}
}
