package split

import (
	"github.com/admin-relentlessglobal/Olive/internal/protos"
	"github.com/admin-relentlessglobal/Olive/onnx"
)

// deferredValueInfo records a tensor added to a split without type/shape
// metadata; the orchestrator backfills it via shape inference.
type deferredValueInfo struct {
	name  string
	split int
}

// materialize builds one self-contained graph per split by copying nodes in
// topological order. Cross-split values become typed inputs of the
// consuming split; values consumed outside their split become outputs.
// Tensors whose type/shape is unknown get placeholder metadata and are
// returned in the deferred list, in encounter order.
func materialize(d *onnx.DAG, assignments map[string]assignment, graphName string, nSplits int) ([]*onnx.DAG, []deferredValueInfo) {
	splitDags := make([]*onnx.DAG, nSplits)
	for i := range splitDags {
		splitDags[i] = onnx.NewEmptyDAG(graphName)
	}
	var deferred []deferredValueInfo

	for _, name := range d.TopologicalOrder() {
		placement, found := assignments[name]
		if !found {
			// Excluded under the exclusive policy.
			continue
		}

		if placement.kind == replicatedKind {
			// Replicated constants: a full clone per split, no shared
			// storage. Constants have no inputs and their outputs are
			// consumed inside each split, so no IO handling is needed.
			for _, split := range placement.splits {
				splitDags[split].AddNode(d.NodeProto(name))
			}
			continue
		}

		split := placement.split
		splitDag := splitDags[split]

		for _, input := range d.NodeInputs(name) {
			if input == "" {
				// Optional input left empty.
				continue
			}
			if splitDag.IsIO(input) {
				continue
			}

			// Main graph inputs and/or initializers are copied verbatim;
			// a name can carry both facets and keeps both.
			if d.IsInput(input) || d.IsInitializer(input) {
				if d.IsInput(input) {
					splitDag.AddInput(d.ValueInfo(input))
				}
				if d.IsInitializer(input) {
					splitDag.AddInitializer(d.Initializer(input))
				}
				continue
			}

			// Cross-split value: a typed input when metadata is known,
			// otherwise a placeholder to backfill.
			if vi := d.ValueInfo(input); vi != nil && vi.Type != nil {
				splitDag.AddInput(vi)
			} else {
				splitDag.AddInput(&protos.ValueInfoProto{Name: input})
				deferred = append(deferred, deferredValueInfo{name: input, split: split})
			}
		}

		splitDag.AddNode(d.NodeProto(name))

		for _, output := range d.NodeOutputs(name) {
			if output == "" {
				// Optional output left empty.
				continue
			}

			// Mark as output if any consumer lives outside this split:
			// another split, an excluded node, or the main graph output.
			isOutput := false
			for _, consumer := range d.Consumers(output, true) {
				if !assignments[consumer].assignedTo(split) {
					splitDag.MarkOutput(output)
					isOutput = true
					break
				}
			}

			if vi := d.ValueInfo(output); vi != nil && vi.Type != nil {
				splitDag.AddValueInfo(vi, false)
			} else if isOutput {
				deferred = append(deferred, deferredValueInfo{name: output, split: split})
			}
		}
	}
	return splitDags, deferred
}
