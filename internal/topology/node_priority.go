package topology

import "sort"

const defaultScore = 1.0

// ReplicaMember is the subset of a replSetGetStatus member document the
// read-node ranking needs.
type ReplicaMember struct {
	RS      string
	Node    string
	State   string // "PRIMARY", "SECONDARY", ...
	Hidden  bool
	Healthy bool
}

// NodePriority groups candidate read nodes by replica set and ranks them
// by score, descending. Adapted from the teacher's NodesPriority (there
// used to rank which backup agent should run a given replica set's
// backup); here it ranks which node a slaveOk cursor should prefer,
// favoring hidden secondaries (no client traffic to disturb) over the
// primary (which we'd rather leave free to serve writes during CLONE).
type NodePriority struct {
	m map[string]nodeScores
}

// NewNodePriority returns an empty ranking.
func NewNodePriority() *NodePriority {
	return &NodePriority{make(map[string]nodeScores)}
}

// Add records node's score within its replica set.
func (n *NodePriority) Add(rs, node string, score float64) {
	s, ok := n.m[rs]
	if !ok {
		s = nodeScores{m: make(map[float64][]string)}
	}
	s.add(node, score)
	n.m[rs] = s
}

// RS returns the nodes of rs grouped and sorted descending by score;
// RS("shard1")[0] is the set of equally-top-ranked candidates.
func (n *NodePriority) RS(rs string) [][]string {
	return n.m[rs].list()
}

// Rank scores every healthy member, preferring hidden secondaries, then
// other secondaries, then the primary last, and returns the ranking.
// coeff optionally overrides a specific node's score (operator pinning a
// preferred read replica), mirroring the teacher's config.Backup.Priority
// override.
func Rank(members []ReplicaMember, coeff map[string]float64) *NodePriority {
	score := func(m ReplicaMember) float64 {
		if c, ok := coeff[m.Node]; ok {
			return defaultScore * c
		}
		if m.Hidden {
			return defaultScore * 2
		}
		if m.State == "PRIMARY" {
			return defaultScore / 2
		}
		return defaultScore
	}

	out := NewNodePriority()
	for _, m := range members {
		if !m.Healthy {
			continue
		}
		out.Add(m.RS, m.Node, score(m))
	}
	return out
}

// Preferred returns the single best node for rs, or "" if none are
// healthy.
func (n *NodePriority) Preferred(rs string) string {
	groups := n.RS(rs)
	if len(groups) == 0 || len(groups[0]) == 0 {
		return ""
	}
	return groups[0][0]
}

type nodeScores struct {
	idx []float64
	m   map[float64][]string
}

func (s *nodeScores) add(node string, sc float64) {
	nodes, ok := s.m[sc]
	if !ok {
		s.idx = append(s.idx, sc)
	}
	s.m[sc] = append(nodes, node)
}

func (s nodeScores) list() [][]string {
	ret := make([][]string, len(s.idx))
	idx := append([]float64(nil), s.idx...)
	sort.Sort(sort.Reverse(sort.Float64Slice(idx)))

	for i := range ret {
		ret[i] = s.m[idx[i]]
	}
	return ret
}
