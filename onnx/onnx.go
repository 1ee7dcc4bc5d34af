// Package onnx provides a lightweight model abstraction over the ONNX
// protobuf format, tailored for structural transformations.
//
//   - Parse: converts a serialized ONNX ModelProto to a Model.
//   - ReadFile: reads a file and calls Parse. It returns a Model.
//   - Model: object holding the parsed proto plus metadata accessors.
//   - DAG: a graph view over a GraphProto with adjacency and topological
//     order queries, plus builder operations to assemble new graphs
//     (see dag.go).
package onnx

import (
	"os"

	"github.com/admin-relentlessglobal/Olive/internal/protos"
	"github.com/pkg/errors"
)

// Model represents a parsed ONNX file.
type Model struct {
	Proto *protos.ModelProto
}

// Parse parses a serialized ONNX model into a Model.
func Parse(contents []byte) (*Model, error) {
	proto, err := protos.Unmarshal(contents)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to parse ONNX model proto")
	}
	return &Model{Proto: proto}, nil
}

// ReadFile parses an ONNX model file into a Model.
func ReadFile(filePath string) (*Model, error) {
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ONNX model file in %s", filePath)
	}
	return Parse(contents)
}

// WriteFile serializes the model to filePath.
func (m *Model) WriteFile(filePath string) error {
	if err := os.WriteFile(filePath, protos.Marshal(m.Proto), 0644); err != nil {
		return errors.Wrapf(err, "failed to write ONNX model file in %s", filePath)
	}
	return nil
}

// Metadata returns the value of the metadata_props entry with the given key.
func (m *Model) Metadata(key string) (value string, found bool) {
	for _, prop := range m.Proto.MetadataProps {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return "", false
}

// Inputs returns the declared graph input names, in order.
func (m *Model) Inputs() []string {
	return valueInfoNames(m.Proto.Graph.Input)
}

// Outputs returns the declared graph output names, in order.
func (m *Model) Outputs() []string {
	return valueInfoNames(m.Proto.Graph.Output)
}

func valueInfoNames(vis []*protos.ValueInfoProto) []string {
	names := make([]string, len(vis))
	for i, vi := range vis {
		names[i] = vi.Name
	}
	return names
}
