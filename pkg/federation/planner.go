package federation

import (
	"github.com/pkg/errors"
)

// Plan is the output of the tiered request planner: the sources to query
// directly at this level (Leaders), and, parallel to Leaders, the group of
// sources delegated to each leader for further recursive planning
// (Groups[i] is empty when there is no delegation at all, i.e. when
// len(sources) <= maxFanout).
type Plan struct {
	Leaders []ServerInfo
	Groups  [][]ServerInfo
}

// PlanFanout partitions sources into a local slice of size <= maxFanout
// and, if sources exceeds maxFanout, one delegated group per leader.
//
// Partition rule: deterministic by input order; the first maxFanout
// sources become leaders (tie-break: earlier sources become leaders); the
// remaining sources are split into maxFanout groups of size
// ceil((N-k)/k) or floor((N-k)/k), assigned to leaders in order. Every
// source appears in exactly one leader's closure, either as a leader
// itself or as a member of exactly one leader's group.
func PlanFanout(sources []ServerInfo, maxFanout uint32) (Plan, error) {
	if maxFanout == 0 {
		return Plan{}, &ArgumentError{Name: "max_fanout", Message: "must be greater than zero"}
	}
	n := len(sources)
	k := int(maxFanout)
	if n <= k {
		return Plan{
			Leaders: append([]ServerInfo(nil), sources...),
			Groups:  make([][]ServerInfo, n),
		}, nil
	}

	leaders := append([]ServerInfo(nil), sources[:k]...)
	remaining := sources[k:]
	groups := make([][]ServerInfo, k)

	rem := len(remaining)
	base := rem / k
	extra := rem % k
	offset := 0
	for i := 0; i < k; i++ {
		size := base
		if i < extra {
			size++
		}
		groups[i] = append([]ServerInfo(nil), remaining[offset:offset+size]...)
		offset += size
	}
	if offset != rem {
		return Plan{}, errors.Errorf("planner partition accounting error: assigned %d of %d remaining sources", offset, rem)
	}

	return Plan{Leaders: leaders, Groups: groups}, nil
}

// contactedSet recursively computes the full set of servers that would
// receive an HTTP request somewhere in the fan-out cascade rooted at
// sources, used by tests to verify that every source is contacted exactly
// once. It performs no I/O; it mirrors the query client's recursive
// delegation shape in pure form.
func contactedSet(sources []ServerInfo, maxFanout uint32) ([]ServerInfo, error) {
	plan, err := PlanFanout(sources, maxFanout)
	if err != nil {
		return nil, err
	}
	contacted := append([]ServerInfo(nil), plan.Leaders...)
	for _, group := range plan.Groups {
		if len(group) == 0 {
			continue
		}
		sub, err := contactedSet(group, maxFanout)
		if err != nil {
			return nil, err
		}
		contacted = append(contacted, sub...)
	}
	return contacted, nil
}
