package split

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/admin-relentlessglobal/Olive/onnx"
	"github.com/gomlx/gomlx/types"
	"github.com/pkg/errors"
)

// AssignmentsMetadataKey is the metadata_props key carrying the split
// assignments, formatted as "namespace=split;namespace=split;...".
const AssignmentsMetadataKey = "split_assignments"

// ParseAssignments parses the split-assignments metadata value into a
// namespace → split index map.
func ParseAssignments(value string) (map[string]int, error) {
	assignments := make(map[string]int)
	for _, pair := range strings.Split(value, ";") {
		namespace, indexStr, found := strings.Cut(pair, "=")
		if !found || namespace == "" {
			return nil, errors.Errorf("malformed split assignment entry %q", pair)
		}
		index, err := strconv.Atoi(indexStr)
		if err != nil || index < 0 {
			return nil, errors.Errorf("split assignment %q: index must be a non-negative integer", pair)
		}
		assignments[namespace] = index
	}
	return assignments, nil
}

// numSplits returns the number of distinct split indices. The indices used
// must be exactly 0..n-1; anything else is a configuration error.
func numSplits(assignments map[string]int) (int, error) {
	used := types.MakeSet[int]()
	for _, index := range assignments {
		used.Insert(index)
	}
	for i := range len(used) {
		if !used.Has(i) {
			return 0, errors.Errorf("split assignments use %d distinct indices but index %d is missing; indices must be 0..%d",
				len(used), i, len(used)-1)
		}
	}
	return len(used), nil
}

// namespaceDepth returns the number of components of every assignment key.
// The depth must be uniform across keys: matching is fixed-depth per run.
func namespaceDepth(assignments map[string]int) (int, error) {
	depth := 0
	for namespace := range assignments {
		d := len(strings.Split(namespace, "."))
		if depth == 0 {
			depth = d
		} else if d != depth {
			return 0, errors.Errorf("split assignment namespaces have non-uniform depth: found both %d and %d components", depth, d)
		}
	}
	if depth == 0 {
		return 0, errors.New("no split assignments given")
	}
	return depth, nil
}

// nodeNamespace derives the namespace key for a node name: path separators
// normalized to ".", leading separators stripped, first depth components.
func nodeNamespace(nodeName string, depth int) string {
	components := strings.Split(strings.TrimLeft(strings.ReplaceAll(nodeName, "/", "."), "."), ".")
	if len(components) > depth {
		components = components[:depth]
	}
	return strings.Join(components, ".")
}

// assignmentKind discriminates the resolved placement of a node.
type assignmentKind int

const (
	// unassignedKind means the node is excluded from every split
	// (possible only under the exclusive policy).
	unassignedKind assignmentKind = iota
	// singleKind places the node in exactly one split.
	singleKind
	// replicatedKind clones the node into several splits; used only for
	// Constant nodes consumed from more than one place.
	replicatedKind
)

// assignment is the tagged placement variant: unassigned, a single split,
// or a replicated set of splits.
type assignment struct {
	kind   assignmentKind
	split  int
	splits []int
}

func singleSplit(split int) assignment { return assignment{kind: singleKind, split: split} }

func replicatedSplits(splits []int) assignment {
	return assignment{kind: replicatedKind, splits: splits}
}

// assignedTo reports whether the assignment places the node in exactly the
// given split (replicated and unassigned placements never match).
func (a assignment) assignedTo(split int) bool {
	return a.kind == singleKind && a.split == split
}

// assignNodes computes the placement of every node in the graph, given the
// namespace assignments and the policy flag. The graph must already be
// identity-simplified. See the package doc for the exact policy semantics.
func assignNodes(d *onnx.DAG, splitAssignments map[string]int, depth int, includeAllNodes bool) map[string]assignment {
	order := d.TopologicalOrder()

	// Direct pass: non-constant nodes whose namespace is assigned.
	// Constant nodes are resolved last, from their consumers.
	assigned := make(map[string]int)
	constantNodes := types.MakeSet[string]()
	for _, name := range order {
		if d.NodeOp(name) == "Constant" {
			constantNodes.Insert(name)
			continue
		}
		if split, found := splitAssignments[nodeNamespace(name, depth)]; found {
			assigned[name] = split
		}
	}

	nextSplit := computeNextSplits(d, order, assigned, constantNodes)

	if includeAllNodes {
		for _, name := range order {
			if _, found := assigned[name]; found || constantNodes.Has(name) {
				continue
			}
			// A merge point must live no earlier than the latest split
			// feeding it.
			if split, found := maxParentSplit(d, name, assigned); found {
				assigned[name] = split
				continue
			}
			// Before the first split: pulled into the earliest split that
			// will need this node.
			if split, found := nextSplit[name]; found {
				assigned[name] = split
				continue
			}
			// No forward path to any split: default to the first one so
			// nothing is silently lost.
			assigned[name] = 0
		}
	} else {
		for _, name := range order {
			if _, found := assigned[name]; found || constantNodes.Has(name) {
				continue
			}
			// Strictly after the last split: dropped from every output.
			next, reachesSplit := nextSplit[name]
			if !reachesSplit {
				continue
			}
			// Between splits.
			if split, found := maxParentSplit(d, name, assigned); found {
				assigned[name] = split
				continue
			}
			// Between constants/initializers and the splits: pulled
			// just-in-time into the first split that needs the value.
			if allInputsConstant(d, name) {
				assigned[name] = next
			}
		}

		// Reconcile single-consumer Cast nodes straddling a boundary:
		// Input -> Cast -> split and split -> Cast -> Output.
		for _, name := range order {
			if _, found := assigned[name]; found || d.NodeOp(name) != "Cast" {
				continue
			}
			consumers := d.Consumers(name, true)
			if len(consumers) != 1 {
				continue
			}
			if d.IsInputConsumer(name) {
				if split, found := assigned[consumers[0]]; found {
					assigned[name] = split
					continue
				}
			}
			if parents := d.Parents(name, true); len(parents) > 0 && d.IsOutputProducer(name) {
				if split, found := assigned[parents[0]]; found {
					assigned[name] = split
				}
			}
		}
	}

	result := make(map[string]assignment, len(assigned))
	for name, split := range assigned {
		result[name] = singleSplit(split)
	}

	// Constant nodes are replicated into every split with an assigned
	// consumer. A constant no assigned consumer reaches is dropped: it
	// cannot affect any output.
	for _, name := range order {
		if !constantNodes.Has(name) {
			continue
		}
		splits := types.MakeSet[int]()
		for _, consumer := range d.Consumers(name, false) {
			if split, found := assigned[consumer]; found {
				splits.Insert(split)
			}
		}
		if len(splits) > 0 {
			result[name] = replicatedSplits(slices.Sorted(maps.Keys(splits)))
		}
	}
	return result
}

// computeNextSplits returns, for every non-constant node, the minimum split
// index reachable by following consumer edges forward; nodes with no
// assigned descendant have no entry. Directly assigned nodes seed the map
// with their own split. The seed map is read-only here; the result is a
// fresh map, so later passes cannot alias the direct assignments.
func computeNextSplits(d *onnx.DAG, order []string, seed map[string]int, constantNodes types.Set[string]) map[string]int {
	nextSplit := make(map[string]int, len(seed))
	for name, split := range seed {
		nextSplit[name] = split
	}
	// Children precede parents in reverse topological order, so every
	// consumer is resolved by the time a node is visited.
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		if _, seeded := nextSplit[name]; seeded || constantNodes.Has(name) {
			continue
		}
		best, found := 0, false
		for _, consumer := range d.Consumers(name, false) {
			if split, known := nextSplit[consumer]; known && (!found || split < best) {
				best, found = split, true
			}
		}
		if found {
			nextSplit[name] = best
		}
	}
	return nextSplit
}

// maxParentSplit returns the maximum split among the node's assigned
// parents, if any parent is assigned.
func maxParentSplit(d *onnx.DAG, name string, assigned map[string]int) (int, bool) {
	best, found := 0, false
	for _, parent := range d.Parents(name, false) {
		if split, ok := assigned[parent]; ok && (!found || split > best) {
			best, found = split, true
		}
	}
	return best, found
}

// allInputsConstant reports whether every input of the node is an
// initializer or a Constant node output. Empty optional slots count as
// non-constant; a node with no inputs at all qualifies.
func allInputsConstant(d *onnx.DAG, name string) bool {
	for _, input := range d.NodeInputs(name) {
		if !d.IsConstantInput(input) {
			return false
		}
	}
	return true
}
