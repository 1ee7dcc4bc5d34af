package onnx

import (
	"container/heap"
	"fmt"

	"github.com/admin-relentlessglobal/Olive/internal/protos"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/types"
	"github.com/pkg/errors"
)

// Special endpoint names used in adjacency queries: graph inputs and
// initializers appear as sources, graph outputs as destinations. They let
// callers distinguish "consumed by the graph output" from "consumed by
// nothing" without a separate query.
const (
	SpecialInput       = "__input__"
	SpecialInitializer = "__initializer__"
	SpecialOutput      = "__output__"
)

// ioEntry tracks everything known about one tensor name: its metadata
// facets and its position in the graph (producer and consumers).
type ioEntry struct {
	name        string
	valueInfo   *protos.ValueInfoProto
	initializer *protos.TensorProto
	isInput     bool
	isOutput    bool

	// source is the producing node name, or SpecialInput/SpecialInitializer.
	// Empty means unresolved (a structural error unless the entry only
	// exists because of a stray value_info).
	source string

	// destinations lists consuming node names, one per consuming input
	// slot, plus SpecialOutput if the name is a graph output.
	destinations []string
}

// DAG is a graph view over a GraphProto: adjacency and topological-order
// queries over nodes connected by named tensors. It doubles as a builder
// for assembling new graphs node by node (AddInput, AddInitializer,
// AddNode, AddValueInfo, MarkOutput, Finalize).
//
// Only the main graph is modeled; nested graphs inside node attributes are
// opaque. Nodes are identified by their (unique) names; unnamed nodes get
// a synthesized "<OpType>_<idx>" name at build time.
type DAG struct {
	graphName string
	docString string

	nodes     map[string]*protos.NodeProto
	nodeOrder []string
	ios       map[string]*ioEntry

	inputOrder       []string
	initializerOrder []string
	outputOrder      []string
	valueInfoOrder   []string

	// sorted caches the topological order; nil after a mutation.
	sorted []string
}

// NewDAG builds a DAG over the given graph. Malformed graphs (duplicate
// node names, dangling tensor references, cycles) are reported here, not
// later.
func NewDAG(graph *protos.GraphProto) (*DAG, error) {
	d := NewEmptyDAG(graph.Name)
	d.docString = graph.DocString

	for _, vi := range graph.Input {
		entry := d.entry(vi.Name)
		entry.isInput = true
		entry.valueInfo = vi
		entry.source = SpecialInput
		d.inputOrder = append(d.inputOrder, vi.Name)
	}
	for _, tensor := range graph.Initializer {
		entry := d.entry(tensor.Name)
		entry.initializer = tensor
		if entry.source == "" {
			entry.source = SpecialInitializer
		}
		d.initializerOrder = append(d.initializerOrder, tensor.Name)
	}
	for _, vi := range graph.ValueInfo {
		entry := d.entry(vi.Name)
		if entry.valueInfo == nil {
			entry.valueInfo = vi
			d.valueInfoOrder = append(d.valueInfoOrder, vi.Name)
		}
	}

	// Register all node outputs before wiring inputs, so references to
	// nodes declared later still resolve.
	for idx, node := range graph.Node {
		name := node.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", node.OpType, idx)
			node.Name = name
		}
		if _, found := d.nodes[name]; found {
			return nil, errors.Errorf("duplicate node name %q in graph %q", name, d.graphName)
		}
		d.nodes[name] = node
		d.nodeOrder = append(d.nodeOrder, name)
		for _, output := range node.Output {
			if output == "" {
				continue
			}
			entry := d.entry(output)
			if entry.source != "" && entry.source != SpecialInitializer {
				return nil, errors.Errorf("tensor %q produced by both %q and %q", output, entry.source, name)
			}
			entry.source = name
		}
	}
	for _, name := range d.nodeOrder {
		node := d.nodes[name]
		for _, input := range node.Input {
			if input == "" {
				continue
			}
			entry, found := d.ios[input]
			if !found || (entry.source == "" && !entry.isInput && entry.initializer == nil) {
				return nil, errors.Errorf("node %q consumes %q, which is not a graph input, an initializer or a node output", name, input)
			}
			entry.destinations = append(entry.destinations, name)
		}
	}
	for _, vi := range graph.Output {
		entry, found := d.ios[vi.Name]
		if !found || (entry.source == "" && !entry.isInput && entry.initializer == nil) {
			return nil, errors.Errorf("graph output %q is not produced by any node", vi.Name)
		}
		entry.isOutput = true
		entry.destinations = append(entry.destinations, SpecialOutput)
		if entry.valueInfo == nil {
			entry.valueInfo = vi
		}
		d.outputOrder = append(d.outputOrder, vi.Name)
	}

	// Fail fast on cycles.
	if _, err := d.sortNodes(); err != nil {
		return nil, err
	}
	return d, nil
}

// NewEmptyDAG returns a fresh, empty graph builder.
func NewEmptyDAG(name string) *DAG {
	return &DAG{
		graphName: name,
		nodes:     make(map[string]*protos.NodeProto),
		ios:       make(map[string]*ioEntry),
	}
}

// Name returns the graph name.
func (d *DAG) Name() string { return d.graphName }

func (d *DAG) entry(name string) *ioEntry {
	if e, found := d.ios[name]; found {
		return e
	}
	e := &ioEntry{name: name}
	d.ios[name] = e
	return e
}

// Nodes returns the node names in declaration order.
func (d *DAG) Nodes() []string {
	out := make([]string, len(d.nodeOrder))
	copy(out, d.nodeOrder)
	return out
}

// HasNode reports whether a node with the given name exists.
func (d *DAG) HasNode(name string) bool {
	_, found := d.nodes[name]
	return found
}

// NodeProto returns the node with the given name, or nil.
func (d *DAG) NodeProto(name string) *protos.NodeProto { return d.nodes[name] }

// NodeOp returns the operator kind of the named node.
func (d *DAG) NodeOp(name string) string { return d.nodes[name].GetOpType() }

// NodeInputs returns the raw input list of the named node; empty entries
// are omitted optional slots.
func (d *DAG) NodeInputs(name string) []string {
	if node := d.nodes[name]; node != nil {
		return node.Input
	}
	return nil
}

// NodeOutputs returns the raw output list of the named node.
func (d *DAG) NodeOutputs(name string) []string {
	if node := d.nodes[name]; node != nil {
		return node.Output
	}
	return nil
}

// IsIO reports whether the name is a known tensor in this graph.
func (d *DAG) IsIO(name string) bool {
	_, found := d.ios[name]
	return found
}

// IsInput reports whether the name is a declared graph input.
func (d *DAG) IsInput(name string) bool {
	e, found := d.ios[name]
	return found && e.isInput
}

// IsInitializer reports whether the name carries an initializer facet.
// A name can be both a graph input and an initializer (a default-valued
// optional input); both facets are tracked independently.
func (d *DAG) IsInitializer(name string) bool {
	e, found := d.ios[name]
	return found && e.initializer != nil
}

// IsOutput reports whether the name is a declared graph output.
func (d *DAG) IsOutput(name string) bool {
	e, found := d.ios[name]
	return found && e.isOutput
}

// IsConstantInput reports whether the name denotes a constant value: an
// initializer, or the output of a Constant node.
func (d *DAG) IsConstantInput(name string) bool {
	e, found := d.ios[name]
	if !found {
		return false
	}
	if e.initializer != nil {
		return true
	}
	if producer, found := d.nodes[e.source]; found {
		return producer.OpType == "Constant"
	}
	return false
}

// ValueInfo returns the recorded type/shape metadata for the name, or nil
// if its type was never recorded (common for intermediate tensors).
func (d *DAG) ValueInfo(name string) *protos.ValueInfoProto {
	if e, found := d.ios[name]; found {
		return e.valueInfo
	}
	return nil
}

// Initializer returns the initializer facet of the name, or nil.
func (d *DAG) Initializer(name string) *protos.TensorProto {
	if e, found := d.ios[name]; found {
		return e.initializer
	}
	return nil
}

// Parents returns the producer of each non-empty input of the named node,
// one entry per input slot. With includeSpecial, graph inputs and
// initializers appear as SpecialInput/SpecialInitializer; without, they
// are skipped and only producing node names are returned.
func (d *DAG) Parents(nodeName string, includeSpecial bool) []string {
	node := d.nodes[nodeName]
	if node == nil {
		return nil
	}
	var parents []string
	for _, input := range node.Input {
		if input == "" {
			continue
		}
		source := d.ios[input].source
		if !includeSpecial && (source == SpecialInput || source == SpecialInitializer) {
			continue
		}
		parents = append(parents, source)
	}
	return parents
}

// Consumers returns the consumers of a node or of a tensor name, one entry
// per consuming input slot. Tensor names take precedence when a node and a
// tensor share a name. With includeSpecial, a graph output appears as a
// SpecialOutput consumer; without, it is skipped.
func (d *DAG) Consumers(name string, includeSpecial bool) []string {
	var destinations []string
	if e, found := d.ios[name]; found {
		destinations = e.destinations
	} else if node := d.nodes[name]; node != nil {
		for _, output := range node.Output {
			if output == "" {
				continue
			}
			destinations = append(destinations, d.ios[output].destinations...)
		}
	}
	var consumers []string
	for _, dest := range destinations {
		if !includeSpecial && dest == SpecialOutput {
			continue
		}
		consumers = append(consumers, dest)
	}
	return consumers
}

// IsInputConsumer reports whether the named node consumes a graph input
// directly.
func (d *DAG) IsInputConsumer(nodeName string) bool {
	node := d.nodes[nodeName]
	if node == nil {
		return false
	}
	for _, input := range node.Input {
		if input != "" && d.ios[input].isInput {
			return true
		}
	}
	return false
}

// IsOutputProducer reports whether the named node produces a graph output.
func (d *DAG) IsOutputProducer(nodeName string) bool {
	node := d.nodes[nodeName]
	if node == nil {
		return false
	}
	for _, output := range node.Output {
		if output != "" && d.ios[output].isOutput {
			return true
		}
	}
	return false
}

// TopologicalOrder returns all node names in an order consistent with the
// dependency edges. Ties are broken by declaration order, so the result is
// deterministic for a given graph.
func (d *DAG) TopologicalOrder() []string {
	if d.sorted == nil {
		sorted, err := d.sortNodes()
		if err != nil {
			// Mutations cannot introduce cycles: identity removal only
			// shortens paths and builder graphs are assembled in order.
			exceptions.Panicf("topological order on a graph that was valid at build time: %+v", err)
		}
		d.sorted = sorted
	}
	out := make([]string, len(d.sorted))
	copy(out, d.sorted)
	return out
}

// sortNodes runs Kahn's algorithm with a min-heap on declaration index.
func (d *DAG) sortNodes() ([]string, error) {
	index := make(map[string]int, len(d.nodeOrder))
	for i, name := range d.nodeOrder {
		index[name] = i
	}

	// In-degree counts one per input slot fed by another node.
	inDegree := make(map[string]int, len(d.nodeOrder))
	for _, name := range d.nodeOrder {
		node := d.nodes[name]
		degree := 0
		for _, input := range node.Input {
			if input == "" {
				continue
			}
			if _, isNode := d.nodes[d.ios[input].source]; isNode {
				degree++
			}
		}
		inDegree[name] = degree
	}

	ready := &indexHeap{}
	for i, name := range d.nodeOrder {
		if inDegree[name] == 0 {
			heap.Push(ready, i)
		}
	}

	sorted := make([]string, 0, len(d.nodeOrder))
	for ready.Len() > 0 {
		name := d.nodeOrder[heap.Pop(ready).(int)]
		sorted = append(sorted, name)
		node := d.nodes[name]
		for _, output := range node.Output {
			if output == "" {
				continue
			}
			for _, dest := range d.ios[output].destinations {
				if dest == SpecialOutput {
					continue
				}
				inDegree[dest]--
				if inDegree[dest] == 0 {
					heap.Push(ready, index[dest])
				}
			}
		}
	}
	if len(sorted) != len(d.nodeOrder) {
		return nil, errors.Errorf("graph %q has a cycle: only %d of %d nodes are reachable from the inputs",
			d.graphName, len(sorted), len(d.nodeOrder))
	}
	return sorted, nil
}

// RemoveIdentityNodes eliminates no-op Identity nodes, rewiring every
// consumer's corresponding input to the identity's own input. Identities
// that produce a graph output are kept, so external output names are
// preserved. Returns the number of nodes removed.
func (d *DAG) RemoveIdentityNodes() int {
	removed := types.MakeSet[string]()
	for _, name := range d.TopologicalOrder() {
		node := d.nodes[name]
		if node.OpType != "Identity" {
			continue
		}
		if len(node.Input) != 1 || node.Input[0] == "" || len(node.Output) != 1 || node.Output[0] == "" {
			continue
		}
		in, out := node.Input[0], node.Output[0]
		outEntry := d.ios[out]
		if outEntry.isOutput {
			continue
		}

		inEntry := d.ios[in]
		inEntry.destinations = removeOne(inEntry.destinations, name)
		rewired := types.MakeSet[string]()
		for _, consumer := range outEntry.destinations {
			if rewired.Has(consumer) {
				continue
			}
			rewired.Insert(consumer)
			consumerNode := d.nodes[consumer]
			for i, input := range consumerNode.Input {
				if input == out {
					consumerNode.Input[i] = in
					inEntry.destinations = append(inEntry.destinations, consumer)
				}
			}
		}
		delete(d.ios, out)
		delete(d.nodes, name)
		removed.Insert(name)
	}
	if len(removed) == 0 {
		return 0
	}

	kept := make([]string, 0, len(d.nodeOrder)-len(removed))
	for _, name := range d.nodeOrder {
		if !removed.Has(name) {
			kept = append(kept, name)
		}
	}
	d.nodeOrder = kept
	d.sorted = nil
	return len(removed)
}

// removeOne removes the first occurrence of value from list, in place.
func removeOne(list []string, value string) []string {
	for i, v := range list {
		if v == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// AddInput declares a graph input from the given value-info. It is a no-op
// if the name is already an input, so callers need not pre-check
// membership. The proto is deep-copied; the builder never aliases the
// source graph.
func (d *DAG) AddInput(vi *protos.ValueInfoProto) {
	entry := d.entry(vi.Name)
	if entry.isInput {
		return
	}
	entry.isInput = true
	entry.valueInfo = vi.Clone()
	if entry.source == "" {
		entry.source = SpecialInput
	}
	d.inputOrder = append(d.inputOrder, vi.Name)
}

// AddInitializer adds an initializer tensor. No-op if the name already has
// an initializer facet. The proto is deep-copied.
func (d *DAG) AddInitializer(tensor *protos.TensorProto) {
	entry := d.entry(tensor.Name)
	if entry.initializer != nil {
		return
	}
	entry.initializer = tensor.Clone()
	if entry.source == "" {
		entry.source = SpecialInitializer
	}
	d.initializerOrder = append(d.initializerOrder, tensor.Name)
}

// AddNode appends a node to the graph. No-op if a node with the same name
// is already present. The proto is deep-copied.
func (d *DAG) AddNode(node *protos.NodeProto) {
	if _, found := d.nodes[node.Name]; found {
		return
	}
	clone := node.Clone()
	d.nodes[clone.Name] = clone
	d.nodeOrder = append(d.nodeOrder, clone.Name)
	for _, output := range clone.Output {
		if output == "" {
			continue
		}
		d.entry(output).source = clone.Name
	}
	for _, input := range clone.Input {
		if input == "" {
			continue
		}
		entry := d.entry(input)
		entry.destinations = append(entry.destinations, clone.Name)
	}
	d.sorted = nil
}

// MarkOutput declares the name as a graph output. No-op if already marked.
func (d *DAG) MarkOutput(name string) {
	entry := d.entry(name)
	if entry.isOutput {
		return
	}
	entry.isOutput = true
	entry.destinations = append(entry.destinations, SpecialOutput)
	d.outputOrder = append(d.outputOrder, name)
}

// AddValueInfo records type/shape metadata for a name. Without overwrite it
// is a no-op when the name already has metadata.
func (d *DAG) AddValueInfo(vi *protos.ValueInfoProto, overwrite bool) {
	entry := d.entry(vi.Name)
	if entry.valueInfo != nil {
		if overwrite {
			entry.valueInfo = vi.Clone()
		}
		return
	}
	entry.valueInfo = vi.Clone()
	d.valueInfoOrder = append(d.valueInfoOrder, vi.Name)
}

// Finalize validates structural consistency, recomputes the derived order
// and materializes the graph as a GraphProto ready for serialization.
func (d *DAG) Finalize() (*protos.GraphProto, error) {
	for _, name := range d.nodeOrder {
		node := d.nodes[name]
		for _, input := range node.Input {
			if input == "" {
				continue
			}
			entry := d.ios[input]
			if entry.isInput || entry.initializer != nil {
				continue
			}
			if _, isNode := d.nodes[entry.source]; !isNode {
				return nil, errors.Errorf("graph %q: node %q consumes %q, which is not a graph input, an initializer or a node output",
					d.graphName, name, input)
			}
		}
	}
	for _, name := range d.outputOrder {
		entry := d.ios[name]
		if entry.isInput || entry.initializer != nil {
			continue
		}
		if _, isNode := d.nodes[entry.source]; !isNode {
			return nil, errors.Errorf("graph %q: output %q is not produced by any node", d.graphName, name)
		}
	}
	d.sorted = nil
	if _, err := d.sortNodes(); err != nil {
		return nil, err
	}

	graph := &protos.GraphProto{
		Name:      d.graphName,
		DocString: d.docString,
	}
	for _, name := range d.nodeOrder {
		graph.Node = append(graph.Node, d.nodes[name])
	}
	for _, name := range d.initializerOrder {
		graph.Initializer = append(graph.Initializer, d.ios[name].initializer)
	}
	for _, name := range d.inputOrder {
		graph.Input = append(graph.Input, d.ioValueInfo(name))
	}
	for _, name := range d.outputOrder {
		graph.Output = append(graph.Output, d.ioValueInfo(name))
	}
	for _, name := range d.valueInfoOrder {
		entry := d.ios[name]
		if entry.isInput || entry.isOutput {
			continue
		}
		graph.ValueInfo = append(graph.ValueInfo, entry.valueInfo)
	}
	return graph, nil
}

// ioValueInfo returns the recorded value-info for the name, or a name-only
// placeholder when its type was never resolved.
func (d *DAG) ioValueInfo(name string) *protos.ValueInfoProto {
	if vi := d.ios[name].valueInfo; vi != nil {
		return vi
	}
	return &protos.ValueInfoProto{Name: name}
}

// indexHeap is a min-heap of declaration indices.
type indexHeap []int

func (h indexHeap) Len() int            { return len(h) }
func (h indexHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x interface{}) { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
