// Package protos holds the subset of the ONNX protocol buffer messages used
// by the split pass, with a hand-rolled wire codec (see marshal.go and
// unmarshal.go) built on google.golang.org/protobuf/encoding/protowire.
//
// Field numbers follow onnx.proto. Messages the pass never interprets
// (attributes, tensor payloads, non-tensor types) keep their original wire
// encoding and are re-emitted verbatim, so copying a node or an initializer
// into a split is byte-exact. Messages the pass rebuilds or mutates
// (ModelProto, GraphProto, NodeProto, ValueInfoProto) are always re-encoded
// from their fields.
package protos

import "slices"

// TensorProto_DataType mirrors onnx.TensorProto.DataType.
type TensorProto_DataType int32

const (
	TensorProto_UNDEFINED TensorProto_DataType = 0
	TensorProto_FLOAT     TensorProto_DataType = 1
	TensorProto_UINT8     TensorProto_DataType = 2
	TensorProto_INT8      TensorProto_DataType = 3
	TensorProto_UINT16    TensorProto_DataType = 4
	TensorProto_INT16     TensorProto_DataType = 5
	TensorProto_INT32     TensorProto_DataType = 6
	TensorProto_INT64     TensorProto_DataType = 7
	TensorProto_STRING    TensorProto_DataType = 8
	TensorProto_BOOL      TensorProto_DataType = 9
	TensorProto_FLOAT16   TensorProto_DataType = 10
	TensorProto_DOUBLE    TensorProto_DataType = 11
	TensorProto_UINT32    TensorProto_DataType = 12
	TensorProto_UINT64    TensorProto_DataType = 13
	TensorProto_BFLOAT16  TensorProto_DataType = 16
)

// AttributeProto_AttributeType mirrors onnx.AttributeProto.AttributeType.
type AttributeProto_AttributeType int32

const (
	AttributeProto_UNDEFINED AttributeProto_AttributeType = 0
	AttributeProto_FLOAT     AttributeProto_AttributeType = 1
	AttributeProto_INT       AttributeProto_AttributeType = 2
	AttributeProto_STRING    AttributeProto_AttributeType = 3
	AttributeProto_TENSOR    AttributeProto_AttributeType = 4
	AttributeProto_GRAPH     AttributeProto_AttributeType = 5
	AttributeProto_FLOATS    AttributeProto_AttributeType = 6
	AttributeProto_INTS      AttributeProto_AttributeType = 7
	AttributeProto_STRINGS   AttributeProto_AttributeType = 8
	AttributeProto_TENSORS   AttributeProto_AttributeType = 9
	AttributeProto_GRAPHS    AttributeProto_AttributeType = 10
)

// ModelProto is the top-level ONNX model message.
type ModelProto struct {
	IrVersion       int64                     // field 1
	ProducerName    string                    // field 2
	ProducerVersion string                    // field 3
	Domain          string                    // field 4
	ModelVersion    int64                     // field 5
	DocString       string                    // field 6
	Graph           *GraphProto               // field 7
	OpsetImport     []*OperatorSetIdProto     // field 8
	MetadataProps   []*StringStringEntryProto // field 14

	// Functions keeps onnx.FunctionProto entries (field 25) as opaque bytes.
	// The split pass rejects models that carry them.
	Functions [][]byte
}

// GraphProto is a computation graph: nodes plus its IO declarations.
type GraphProto struct {
	Node        []*NodeProto      // field 1
	Name        string            // field 2
	Initializer []*TensorProto    // field 5
	DocString   string            // field 10
	Input       []*ValueInfoProto // field 11
	Output      []*ValueInfoProto // field 12
	ValueInfo   []*ValueInfoProto // field 13

	// SparseInitializer entries (field 15) are kept opaque; the split pass
	// rejects graphs that carry them.
	SparseInitializer [][]byte
}

// NodeProto is one operator: named tensors in, named tensors out.
// Empty entries in Input/Output mean "optional slot omitted".
type NodeProto struct {
	Input     []string          // field 1
	Output    []string          // field 2
	Name      string            // field 3
	OpType    string            // field 4
	Attribute []*AttributeProto // field 5
	DocString string            // field 6
	Domain    string            // field 7
}

// AttributeProto is a named attribute. The split pass treats attributes as
// opaque: decoded attributes keep their original encoding (wire) and are
// re-emitted verbatim, including nested graphs and tensors it never parses.
type AttributeProto struct {
	Name    string                       // field 1
	F       float32                      // field 2
	I       int64                        // field 3
	S       []byte                       // field 4
	T       *TensorProto                 // field 5
	Floats  []float32                    // field 7
	Ints    []int64                      // field 8
	Strings [][]byte                     // field 9
	Type    AttributeProto_AttributeType // field 20

	wire []byte
}

// TensorProto is a constant tensor with embedded (or external) data.
// Decoded tensors keep their original encoding and are re-emitted verbatim,
// which also preserves external-data fields the pass never interprets.
type TensorProto struct {
	Dims       []int64              // field 1
	DataType   TensorProto_DataType // field 2
	FloatData  []float32            // field 4
	Int32Data  []int32              // field 5
	StringData [][]byte             // field 6
	Int64Data  []int64              // field 7
	Name       string               // field 8
	RawData    []byte               // field 9
	DoubleData []float64            // field 10
	Uint64Data []uint64             // field 11

	wire []byte
}

// ValueInfoProto attaches type/shape metadata to a tensor name.
type ValueInfoProto struct {
	Name      string     // field 1
	Type      *TypeProto // field 2
	DocString string     // field 3
}

// TypeProto describes a value's type. Only tensor types are parsed; other
// kinds (sequences, maps, optionals) survive as opaque bytes.
type TypeProto struct {
	TensorType *TypeProto_Tensor // field 1

	wire []byte
}

// TypeProto_Tensor is a tensor type: element type plus optional shape.
type TypeProto_Tensor struct {
	ElemType TensorProto_DataType // field 1
	Shape    *TensorShapeProto    // field 2
}

// TensorShapeProto is a list of dimensions.
type TensorShapeProto struct {
	Dim []*TensorShapeProto_Dimension // field 1
}

// TensorShapeProto_Dimension is either a static value or a symbolic name.
// DimValue is a pointer so a present-but-zero dimension is distinguishable
// from an unknown one.
type TensorShapeProto_Dimension struct {
	DimValue   *int64 // field 1
	DimParam   string // field 2
	Denotation string // field 3
}

// OperatorSetIdProto identifies an operator set by domain and version.
type OperatorSetIdProto struct {
	Domain  string // field 1
	Version int64  // field 2
}

// StringStringEntryProto is a key/value metadata entry.
type StringStringEntryProto struct {
	Key   string // field 1
	Value string // field 2
}

// GetOpType returns the node operator kind, tolerating a nil receiver.
func (n *NodeProto) GetOpType() string {
	if n == nil {
		return ""
	}
	return n.OpType
}

// Clone returns a deep copy.
func (n *NodeProto) Clone() *NodeProto {
	if n == nil {
		return nil
	}
	c := &NodeProto{
		Input:     slices.Clone(n.Input),
		Output:    slices.Clone(n.Output),
		Name:      n.Name,
		OpType:    n.OpType,
		DocString: n.DocString,
		Domain:    n.Domain,
	}
	for _, attr := range n.Attribute {
		c.Attribute = append(c.Attribute, attr.Clone())
	}
	return c
}

// Clone returns a deep copy, preserving the original wire encoding.
func (a *AttributeProto) Clone() *AttributeProto {
	if a == nil {
		return nil
	}
	c := *a
	c.S = slices.Clone(a.S)
	c.T = a.T.Clone()
	c.Floats = slices.Clone(a.Floats)
	c.Ints = slices.Clone(a.Ints)
	c.Strings = cloneBytesSlice(a.Strings)
	c.wire = slices.Clone(a.wire)
	return &c
}

// Clone returns a deep copy, preserving the original wire encoding.
func (t *TensorProto) Clone() *TensorProto {
	if t == nil {
		return nil
	}
	c := *t
	c.Dims = slices.Clone(t.Dims)
	c.FloatData = slices.Clone(t.FloatData)
	c.Int32Data = slices.Clone(t.Int32Data)
	c.StringData = cloneBytesSlice(t.StringData)
	c.Int64Data = slices.Clone(t.Int64Data)
	c.RawData = slices.Clone(t.RawData)
	c.DoubleData = slices.Clone(t.DoubleData)
	c.Uint64Data = slices.Clone(t.Uint64Data)
	c.wire = slices.Clone(t.wire)
	return &c
}

// Clone returns a deep copy.
func (vi *ValueInfoProto) Clone() *ValueInfoProto {
	if vi == nil {
		return nil
	}
	return &ValueInfoProto{Name: vi.Name, Type: vi.Type.Clone(), DocString: vi.DocString}
}

// Clone returns a deep copy, preserving opaque non-tensor encodings.
func (t *TypeProto) Clone() *TypeProto {
	if t == nil {
		return nil
	}
	c := &TypeProto{wire: slices.Clone(t.wire)}
	if t.TensorType != nil {
		c.TensorType = &TypeProto_Tensor{
			ElemType: t.TensorType.ElemType,
			Shape:    t.TensorType.Shape.Clone(),
		}
	}
	return c
}

// Clone returns a deep copy.
func (s *TensorShapeProto) Clone() *TensorShapeProto {
	if s == nil {
		return nil
	}
	c := &TensorShapeProto{}
	for _, dim := range s.Dim {
		d := &TensorShapeProto_Dimension{DimParam: dim.DimParam, Denotation: dim.Denotation}
		if dim.DimValue != nil {
			v := *dim.DimValue
			d.DimValue = &v
		}
		c.Dim = append(c.Dim, d)
	}
	return c
}

func cloneBytesSlice(in [][]byte) [][]byte {
	if in == nil {
		return nil
	}
	out := make([][]byte, len(in))
	for i, b := range in {
		out[i] = slices.Clone(b)
	}
	return out
}
