package protos

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Marshal serializes a ModelProto to the ONNX wire format.
func Marshal(m *ModelProto) []byte {
	var b []byte
	b = appendVarintField(b, 1, uint64(m.IrVersion))
	b = appendStringField(b, 2, m.ProducerName)
	b = appendStringField(b, 3, m.ProducerVersion)
	b = appendStringField(b, 4, m.Domain)
	b = appendVarintField(b, 5, uint64(m.ModelVersion))
	b = appendStringField(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendBytesField(b, 7, appendGraph(nil, m.Graph))
	}
	for _, opset := range m.OpsetImport {
		b = appendBytesField(b, 8, appendOperatorSetId(nil, opset))
	}
	for _, prop := range m.MetadataProps {
		b = appendBytesField(b, 14, appendStringStringEntry(nil, prop))
	}
	for _, fn := range m.Functions {
		b = appendBytesField(b, 25, fn)
	}
	return b
}

func appendGraph(b []byte, g *GraphProto) []byte {
	for _, node := range g.Node {
		b = appendBytesField(b, 1, appendNode(nil, node))
	}
	b = appendStringField(b, 2, g.Name)
	for _, tensor := range g.Initializer {
		b = appendBytesField(b, 5, appendTensor(nil, tensor))
	}
	b = appendStringField(b, 10, g.DocString)
	for _, vi := range g.Input {
		b = appendBytesField(b, 11, appendValueInfo(nil, vi))
	}
	for _, vi := range g.Output {
		b = appendBytesField(b, 12, appendValueInfo(nil, vi))
	}
	for _, vi := range g.ValueInfo {
		b = appendBytesField(b, 13, appendValueInfo(nil, vi))
	}
	for _, sparse := range g.SparseInitializer {
		b = appendBytesField(b, 15, sparse)
	}
	return b
}

func appendNode(b []byte, n *NodeProto) []byte {
	// Empty input/output entries are significant (omitted optional slots),
	// so they are encoded unconditionally.
	for _, name := range n.Input {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	for _, name := range n.Output {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, name)
	}
	b = appendStringField(b, 3, n.Name)
	b = appendStringField(b, 4, n.OpType)
	for _, attr := range n.Attribute {
		b = appendBytesField(b, 5, appendAttribute(nil, attr))
	}
	b = appendStringField(b, 6, n.DocString)
	b = appendStringField(b, 7, n.Domain)
	return b
}

func appendAttribute(b []byte, a *AttributeProto) []byte {
	if a.wire != nil {
		return append(b, a.wire...)
	}
	b = appendStringField(b, 1, a.Name)
	if a.Type == AttributeProto_FLOAT || a.F != 0 {
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	}
	if a.Type == AttributeProto_INT || a.I != 0 {
		b = appendVarintField(b, 3, uint64(a.I))
	}
	if a.S != nil {
		b = appendBytesField(b, 4, a.S)
	}
	if a.T != nil {
		b = appendBytesField(b, 5, appendTensor(nil, a.T))
	}
	b = appendPackedFloats(b, 7, a.Floats)
	b = appendPackedVarints(b, 8, a.Ints)
	for _, s := range a.Strings {
		b = appendBytesField(b, 9, s)
	}
	b = appendVarintField(b, 20, uint64(a.Type))
	return b
}

func appendTensor(b []byte, t *TensorProto) []byte {
	if t.wire != nil {
		return append(b, t.wire...)
	}
	b = appendPackedVarints(b, 1, t.Dims)
	b = appendVarintField(b, 2, uint64(t.DataType))
	b = appendPackedFloats(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		var packed []byte
		for _, v := range t.Int32Data {
			packed = protowire.AppendVarint(packed, uint64(int64(v)))
		}
		b = appendBytesField(b, 5, packed)
	}
	for _, s := range t.StringData {
		b = appendBytesField(b, 6, s)
	}
	b = appendPackedVarints(b, 7, t.Int64Data)
	b = appendStringField(b, 8, t.Name)
	if t.RawData != nil {
		b = appendBytesField(b, 9, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var packed []byte
		for _, v := range t.DoubleData {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		b = appendBytesField(b, 10, packed)
	}
	if len(t.Uint64Data) > 0 {
		var packed []byte
		for _, v := range t.Uint64Data {
			packed = protowire.AppendVarint(packed, v)
		}
		b = appendBytesField(b, 11, packed)
	}
	return b
}

func appendValueInfo(b []byte, vi *ValueInfoProto) []byte {
	b = appendStringField(b, 1, vi.Name)
	if vi.Type != nil {
		b = appendBytesField(b, 2, appendType(nil, vi.Type))
	}
	b = appendStringField(b, 3, vi.DocString)
	return b
}

func appendType(b []byte, t *TypeProto) []byte {
	if t.TensorType == nil && t.wire != nil {
		// Non-tensor type: re-emit the original encoding.
		return append(b, t.wire...)
	}
	if t.TensorType != nil {
		b = appendBytesField(b, 1, appendTensorType(nil, t.TensorType))
	}
	return b
}

func appendTensorType(b []byte, tt *TypeProto_Tensor) []byte {
	b = appendVarintField(b, 1, uint64(tt.ElemType))
	if tt.Shape != nil {
		var shape []byte
		for _, dim := range tt.Shape.Dim {
			shape = appendBytesField(shape, 1, appendDimension(nil, dim))
		}
		b = appendBytesField(b, 2, shape)
	}
	return b
}

func appendDimension(b []byte, d *TensorShapeProto_Dimension) []byte {
	if d.DimValue != nil {
		b = appendVarintField2(b, 1, uint64(*d.DimValue))
	}
	b = appendStringField(b, 2, d.DimParam)
	b = appendStringField(b, 3, d.Denotation)
	return b
}

func appendOperatorSetId(b []byte, o *OperatorSetIdProto) []byte {
	b = appendStringField(b, 1, o.Domain)
	b = appendVarintField2(b, 2, uint64(o.Version))
	return b
}

func appendStringStringEntry(b []byte, e *StringStringEntryProto) []byte {
	b = appendStringField(b, 1, e.Key)
	b = appendStringField(b, 2, e.Value)
	return b
}

// appendStringField appends a string field, omitting it when empty
// (proto3 default semantics).
func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// appendVarintField appends a varint field, omitting it when zero.
func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	return appendVarintField2(b, num, v)
}

// appendVarintField2 appends a varint field unconditionally.
func appendVarintField2(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, payload []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// appendPackedVarints appends a packed repeated varint field.
func appendPackedVarints(b []byte, num protowire.Number, values []int64) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	return appendBytesField(b, num, packed)
}

// appendPackedFloats appends a packed repeated float field.
func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	return appendBytesField(b, num, packed)
}
