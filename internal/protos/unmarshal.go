package protos

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Unmarshal parses a serialized ONNX ModelProto.
func Unmarshal(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			m.IrVersion = int64(decodeVarint(payload))
		case 2:
			m.ProducerName = string(payload)
		case 3:
			m.ProducerVersion = string(payload)
		case 4:
			m.Domain = string(payload)
		case 5:
			m.ModelVersion = int64(decodeVarint(payload))
		case 6:
			m.DocString = string(payload)
		case 7:
			graph, err := unmarshalGraph(payload)
			if err != nil {
				return err
			}
			m.Graph = graph
		case 8:
			opset, err := unmarshalOperatorSetId(payload)
			if err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, opset)
		case 14:
			prop, err := unmarshalStringStringEntry(payload)
			if err != nil {
				return err
			}
			m.MetadataProps = append(m.MetadataProps, prop)
		case 25:
			m.Functions = append(m.Functions, payload)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "while parsing ModelProto")
	}
	return m, nil
}

func unmarshalGraph(data []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			node, err := unmarshalNode(payload)
			if err != nil {
				return err
			}
			g.Node = append(g.Node, node)
		case 2:
			g.Name = string(payload)
		case 5:
			tensor, err := unmarshalTensor(payload)
			if err != nil {
				return err
			}
			g.Initializer = append(g.Initializer, tensor)
		case 10:
			g.DocString = string(payload)
		case 11:
			vi, err := unmarshalValueInfo(payload)
			if err != nil {
				return err
			}
			g.Input = append(g.Input, vi)
		case 12:
			vi, err := unmarshalValueInfo(payload)
			if err != nil {
				return err
			}
			g.Output = append(g.Output, vi)
		case 13:
			vi, err := unmarshalValueInfo(payload)
			if err != nil {
				return err
			}
			g.ValueInfo = append(g.ValueInfo, vi)
		case 15:
			g.SparseInitializer = append(g.SparseInitializer, payload)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing GraphProto %q", g.Name)
	}
	return g, nil
}

func unmarshalNode(data []byte) (*NodeProto, error) {
	n := &NodeProto{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			n.Input = append(n.Input, string(payload))
		case 2:
			n.Output = append(n.Output, string(payload))
		case 3:
			n.Name = string(payload)
		case 4:
			n.OpType = string(payload)
		case 5:
			attr, err := unmarshalAttribute(payload)
			if err != nil {
				return err
			}
			n.Attribute = append(n.Attribute, attr)
		case 6:
			n.DocString = string(payload)
		case 7:
			n.Domain = string(payload)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing NodeProto %q", n.Name)
	}
	return n, nil
}

// unmarshalAttribute parses the fields the pass may report on, but the
// authoritative representation stays the original bytes (wire), re-emitted
// verbatim on marshal. Nested graphs and tensors survive untouched that way.
func unmarshalAttribute(data []byte) (*AttributeProto, error) {
	a := &AttributeProto{wire: data}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			a.Name = string(payload)
		case 2:
			a.F = math.Float32frombits(uint32(decodeVarint(payload)))
		case 3:
			a.I = int64(decodeVarint(payload))
		case 4:
			a.S = payload
		case 7:
			a.Floats = appendFloats(a.Floats, typ, payload)
		case 8:
			a.Ints = appendVarints(a.Ints, typ, payload)
		case 9:
			a.Strings = append(a.Strings, payload)
		case 20:
			a.Type = AttributeProto_AttributeType(decodeVarint(payload))
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing AttributeProto %q", a.Name)
	}
	return a, nil
}

// unmarshalTensor parses the identification fields of an initializer and
// keeps the original bytes for verbatim re-encoding (raw payloads,
// external-data references and segment info are never interpreted).
func unmarshalTensor(data []byte) (*TensorProto, error) {
	t := &TensorProto{wire: data}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			t.Dims = appendVarints(t.Dims, typ, payload)
		case 2:
			t.DataType = TensorProto_DataType(decodeVarint(payload))
		case 4:
			t.FloatData = appendFloats(t.FloatData, typ, payload)
		case 7:
			t.Int64Data = appendVarints(t.Int64Data, typ, payload)
		case 8:
			t.Name = string(payload)
		case 9:
			t.RawData = payload
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing TensorProto %q", t.Name)
	}
	return t, nil
}

func unmarshalValueInfo(data []byte) (*ValueInfoProto, error) {
	vi := &ValueInfoProto{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			vi.Name = string(payload)
		case 2:
			t, err := unmarshalType(payload)
			if err != nil {
				return err
			}
			vi.Type = t
		case 3:
			vi.DocString = string(payload)
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "while parsing ValueInfoProto %q", vi.Name)
	}
	return vi, nil
}

func unmarshalType(data []byte) (*TypeProto, error) {
	t := &TypeProto{wire: data}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		if num != 1 {
			// Sequence/map/optional types stay opaque in wire.
			return nil
		}
		tt := &TypeProto_Tensor{}
		err := eachField(payload, func(num protowire.Number, typ protowire.Type, payload []byte) error {
			switch num {
			case 1:
				tt.ElemType = TensorProto_DataType(decodeVarint(payload))
			case 2:
				shape, err := unmarshalShape(payload)
				if err != nil {
					return err
				}
				tt.Shape = shape
			}
			return nil
		})
		if err != nil {
			return err
		}
		t.TensorType = tt
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "while parsing TypeProto")
	}
	return t, nil
}

func unmarshalShape(data []byte) (*TensorShapeProto, error) {
	s := &TensorShapeProto{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		if num != 1 {
			return nil
		}
		d := &TensorShapeProto_Dimension{}
		err := eachField(payload, func(num protowire.Number, typ protowire.Type, payload []byte) error {
			switch num {
			case 1:
				v := int64(decodeVarint(payload))
				d.DimValue = &v
			case 2:
				d.DimParam = string(payload)
			case 3:
				d.Denotation = string(payload)
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.Dim = append(s.Dim, d)
		return nil
	})
	if err != nil {
		return nil, errors.WithMessage(err, "while parsing TensorShapeProto")
	}
	return s, nil
}

func unmarshalOperatorSetId(data []byte) (*OperatorSetIdProto, error) {
	o := &OperatorSetIdProto{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			o.Domain = string(payload)
		case 2:
			o.Version = int64(decodeVarint(payload))
		}
		return nil
	})
	return o, err
}

func unmarshalStringStringEntry(data []byte) (*StringStringEntryProto, error) {
	e := &StringStringEntryProto{}
	err := eachField(data, func(num protowire.Number, typ protowire.Type, payload []byte) error {
		switch num {
		case 1:
			e.Key = string(payload)
		case 2:
			e.Value = string(payload)
		}
		return nil
	})
	return e, err
}

// eachField walks the wire-format fields of data, handing each one to fn.
// For varint and fixed fields, payload holds the re-encoded scalar so fn can
// use decodeVarint uniformly; for length-delimited fields it is the raw
// sub-message or string bytes.
func eachField(data []byte, fn func(num protowire.Number, typ protowire.Type, payload []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Errorf("malformed wire data: %v", protowire.ParseError(n))
		}
		data = data[n:]
		var payload []byte
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return errors.Errorf("malformed varint for field %d", num)
			}
			payload = protowire.AppendVarint(nil, v)
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return errors.Errorf("malformed fixed32 for field %d", num)
			}
			payload = protowire.AppendVarint(nil, uint64(v))
			data = data[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return errors.Errorf("malformed fixed64 for field %d", num)
			}
			payload = protowire.AppendVarint(nil, v)
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return errors.Errorf("malformed bytes for field %d", num)
			}
			payload = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return errors.Errorf("malformed field %d (wire type %d)", num, typ)
			}
			data = data[n:]
			continue
		}
		if err := fn(num, typ, payload); err != nil {
			return err
		}
	}
	return nil
}

// decodeVarint reads a single varint payload produced by eachField.
func decodeVarint(payload []byte) uint64 {
	v, _ := protowire.ConsumeVarint(payload)
	return v
}

// appendVarints decodes a repeated varint field, accepting both packed and
// unpacked encodings.
func appendVarints(dst []int64, typ protowire.Type, payload []byte) []int64 {
	if typ == protowire.VarintType {
		return append(dst, int64(decodeVarint(payload)))
	}
	for len(payload) > 0 {
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			break
		}
		dst = append(dst, int64(v))
		payload = payload[n:]
	}
	return dst
}

// appendFloats decodes a repeated float field, accepting both packed and
// unpacked encodings.
func appendFloats(dst []float32, typ protowire.Type, payload []byte) []float32 {
	if typ == protowire.Fixed32Type {
		return append(dst, math.Float32frombits(uint32(decodeVarint(payload))))
	}
	for len(payload) >= 4 {
		v, n := protowire.ConsumeFixed32(payload)
		if n < 0 {
			break
		}
		dst = append(dst, math.Float32frombits(v))
		payload = payload[n:]
	}
	return dst
}
