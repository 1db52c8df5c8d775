package pool

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mongoreplicate/mongoreplicate/internal/filter"
	"github.com/mongoreplicate/mongoreplicate/internal/topology"
)

func TestNewDefaultsThreadsToOne(t *testing.T) {
	p := New(context.Background(), topology.Endpoint{}, 0, nil)
	if p.threads != 1 {
		t.Fatalf("expected threads to default to 1, got %d", p.threads)
	}
}

func TestEnqueueEmptyBatchIsNoopAndDoesNotStartWorkers(t *testing.T) {
	p := New(context.Background(), topology.Endpoint{}, 2, nil)
	if err := p.Enqueue(context.Background(), &WriteBatch{NS: filter.ParseNS("d.c")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.started != 0 {
		t.Fatal("enqueueing an empty batch must not start workers")
	}
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("drain on an untouched pool must succeed: %v", err)
	}
}

func TestToInterfaceSlicePreservesOrder(t *testing.T) {
	docs := []bson.Raw{
		// {a: 1} and {a: 2}
		bson.Raw{0x0c, 0x00, 0x00, 0x00, 0x10, 'a', 0x00, 0x01, 0x00, 0x00, 0x00, 0x00},
		bson.Raw{0x0c, 0x00, 0x00, 0x00, 0x10, 'a', 0x00, 0x02, 0x00, 0x00, 0x00, 0x00},
	}
	out := toInterfaceSlice(docs)
	if len(out) != len(docs) {
		t.Fatalf("expected %d elements, got %d", len(docs), len(out))
	}
	for i := range docs {
		if got, ok := out[i].(bson.Raw); !ok || string(got) != string(docs[i]) {
			t.Fatalf("element %d: got %v, want %v", i, out[i], docs[i])
		}
	}
}
