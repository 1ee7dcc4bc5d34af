package split

import (
	"bytes"
	"os/exec"

	"github.com/admin-relentlessglobal/Olive/internal/protos"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ShapeInferencer resolves type/shape metadata for tensors the model does
// not annotate. It is invoked at most once per run, against the original
// unsplit model. Implementations are black boxes to the split pass; tests
// inject doubles with canned answers.
type ShapeInferencer interface {
	// InferShapes returns a copy of the model with value-info filled in.
	// autoMergeDynamicDims asks for best-effort merging of conflicting
	// dynamic dimensions instead of failing.
	InferShapes(model *protos.ModelProto, autoMergeDynamicDims bool) (*protos.ModelProto, error)
}

// CommandInferencer runs an external shape-inference tool, e.g. a wrapper
// around onnxruntime's symbolic_shape_infer. The tool reads a serialized
// model on stdin and writes the shape-annotated model to stdout.
type CommandInferencer struct {
	Path string
	Args []string

	// AutoMergeArg is appended when auto-merging is requested.
	// Defaults to "--auto_merge".
	AutoMergeArg string
}

// InferShapes implements ShapeInferencer.
func (c *CommandInferencer) InferShapes(model *protos.ModelProto, autoMergeDynamicDims bool) (*protos.ModelProto, error) {
	args := append([]string{}, c.Args...)
	if autoMergeDynamicDims {
		arg := c.AutoMergeArg
		if arg == "" {
			arg = "--auto_merge"
		}
		args = append(args, arg)
	}
	klog.V(1).Infof("running shape inference: %s %v", c.Path, args)

	cmd := exec.Command(c.Path, args...)
	cmd.Stdin = bytes.NewReader(protos.Marshal(model))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "shape inference command %q failed: %s", c.Path, stderr.String())
	}
	inferred, err := protos.Unmarshal(stdout.Bytes())
	if err != nil {
		return nil, errors.WithMessagef(err, "shape inference command %q returned an unparsable model", c.Path)
	}
	return inferred, nil
}
