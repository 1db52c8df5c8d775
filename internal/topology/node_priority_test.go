package topology

import "testing"

func TestRankPrefersHiddenThenSecondaryThenPrimary(t *testing.T) {
	members := []ReplicaMember{
		{RS: "rs0", Node: "a:27017", State: "PRIMARY", Healthy: true},
		{RS: "rs0", Node: "b:27017", State: "SECONDARY", Healthy: true},
		{RS: "rs0", Node: "c:27017", State: "SECONDARY", Hidden: true, Healthy: true},
		{RS: "rs0", Node: "d:27017", State: "SECONDARY", Healthy: false},
	}

	ranking := Rank(members, nil)
	if got := ranking.Preferred("rs0"); got != "c:27017" {
		t.Fatalf("expected hidden node c:27017 preferred, got %s", got)
	}

	groups := ranking.RS("rs0")
	last := groups[len(groups)-1]
	if len(last) != 1 || last[0] != "a:27017" {
		t.Fatalf("expected primary ranked last, got %v", groups)
	}

	for _, g := range groups {
		for _, n := range g {
			if n == "d:27017" {
				t.Fatalf("unhealthy node must not be ranked")
			}
		}
	}
}

func TestRankHonorsCoefficientOverride(t *testing.T) {
	members := []ReplicaMember{
		{RS: "rs0", Node: "a:27017", State: "PRIMARY", Healthy: true},
		{RS: "rs0", Node: "b:27017", State: "SECONDARY", Healthy: true},
	}
	ranking := Rank(members, map[string]float64{"b:27017": 0})
	if got := ranking.Preferred("rs0"); got != "a:27017" {
		t.Fatalf("expected coefficient override to deprioritize b:27017, got %s", got)
	}
}
