package orchestrator

import (
	"testing"

	"github.com/mongoreplicate/mongoreplicate/internal/config"
	"github.com/mongoreplicate/mongoreplicate/internal/filter"
)

func TestBuildFilterTreatsDBsAndCollsAsOneIncludeList(t *testing.T) {
	f := buildFilter(config.Options{DBs: "d1,d2", Colls: "d3.c1"})

	for _, ns := range []string{"d1.anything", "d2.anything", "d3.c1"} {
		if !f.Accept(filter.ParseNS(ns)) {
			t.Errorf("expected %s to be included via dbs/colls, got rejected", ns)
		}
	}
	if f.Accept(filter.ParseNS("d3.c2")) {
		t.Error("expected d3.c2 to be rejected: colls is an allow-list, not an implicit database admission")
	}
}

func TestSplitCSVTrimsAndDropsEmpty(t *testing.T) {
	got := splitCSV(" foo , bar,,baz ")
	want := []string{"foo", "bar", "baz"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSplitCSVEmptyReturnsNil(t *testing.T) {
	if got := splitCSV(""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestShardSeedListStripsReplicaSetName(t *testing.T) {
	if got := shardSeedList("rs0/h1:27018,h2:27018"); got != "h1:27018,h2:27018" {
		t.Fatalf("got %q", got)
	}
}

func TestShardSeedListPassesThroughBareHost(t *testing.T) {
	if got := shardSeedList("h1:27018"); got != "h1:27018" {
		t.Fatalf("got %q", got)
	}
}
