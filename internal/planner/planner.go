package planner

import (
	"errors"
	"fmt"

	"github.com/dryas/packsync/internal/logging"
	"github.com/dryas/packsync/internal/manifest"
)

// ErrNoPath reports that the patch graph has no route from the current
// version to the target. Callers distinguish it from "already up to date".
var ErrNoPath = errors.New("no update path")

// Plan is the ordered sequence of patch edges from Current to Target.
type Plan struct {
	Current string
	Target  string
	Steps   []manifest.PatchEdge
}

// UpToDate reports whether nothing needs to be applied.
func (p *Plan) UpToDate() bool {
	return len(p.Steps) == 0
}

// TotalSize returns the summed declared size of all artifacts in the plan.
func (p *Plan) TotalSize() int64 {
	var total int64
	for _, s := range p.Steps {
		total += s.TotalSize()
	}
	return total
}

// Compute finds the cheapest of the shortest paths from current to target
// over the declared patch edges. The traversal is breadth-first but does
// not stop at the first route: it collects every path tied at the minimum
// hop count, pruning any in-progress path once it exceeds the best-known
// length, then picks the one with the smallest total artifact size. Ties
// on size resolve to the first-discovered path so identical input always
// yields an identical plan.
func Compute(edges []manifest.PatchEdge, current, target string) (*Plan, error) {
	plan := &Plan{Current: current, Target: target}
	if current == target {
		return plan, nil
	}

	adjacency := make(map[string][]manifest.PatchEdge)
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e)
	}

	type partial struct {
		node  string
		steps []manifest.PatchEdge
	}

	best := -1
	var complete [][]manifest.PatchEdge
	queue := []partial{{node: current}}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		if best >= 0 && len(p.steps) >= best {
			continue
		}

		for _, e := range adjacency[p.node] {
			if containsVersion(p.steps, e.To) || e.To == current {
				continue
			}
			steps := make([]manifest.PatchEdge, len(p.steps), len(p.steps)+1)
			copy(steps, p.steps)
			steps = append(steps, e)

			if e.To == target {
				if best < 0 || len(steps) < best {
					best = len(steps)
					complete = complete[:0]
				}
				if len(steps) == best {
					complete = append(complete, steps)
				}
				continue
			}
			queue = append(queue, partial{node: e.To, steps: steps})
		}
	}

	if len(complete) == 0 {
		return nil, fmt.Errorf("%w from %s to %s", ErrNoPath, current, target)
	}

	plan.Steps = complete[0]
	for _, candidate := range complete[1:] {
		if pathSize(candidate) < pathSize(plan.Steps) {
			plan.Steps = candidate
		}
	}

	logging.Debugf("Verbose: planned %s -> %s hops=%d size=%d candidates=%d\n",
		current, target, len(plan.Steps), plan.TotalSize(), len(complete))
	return plan, nil
}

func pathSize(steps []manifest.PatchEdge) int64 {
	var total int64
	for _, s := range steps {
		total += s.TotalSize()
	}
	return total
}

func containsVersion(steps []manifest.PatchEdge, version string) bool {
	for _, s := range steps {
		if s.To == version {
			return true
		}
	}
	return false
}
