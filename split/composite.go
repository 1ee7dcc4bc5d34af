package split

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// compositeDescriptor is the on-disk index of a written composite: every
// component name and model path, in split order.
type compositeDescriptor struct {
	Components []componentDescriptor `json:"components"`
}

type componentDescriptor struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DescriptorFileName is the name of the composite index written next to
// the component directories.
const DescriptorFileName = "composite.json"

// Write serializes every component to dir following the
// "split_<i>/split_<i>.onnx" layout and writes the composite descriptor.
// It returns the component model paths in split order.
func (c *Composite) Write(dir string) ([]string, error) {
	descriptor := compositeDescriptor{}
	paths := make([]string, 0, len(c.Components))
	for _, component := range c.Components {
		componentDir := filepath.Join(dir, component.Name)
		if err := os.MkdirAll(componentDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for component %q", component.Name)
		}
		path := filepath.Join(componentDir, component.Name+".onnx")
		if err := component.Model.WriteFile(path); err != nil {
			return nil, err
		}
		klog.V(1).Infof("wrote component %q to %s", component.Name, path)
		paths = append(paths, path)
		descriptor.Components = append(descriptor.Components, componentDescriptor{
			Name: component.Name,
			Path: filepath.Join(component.Name, component.Name+".onnx"),
		})
	}

	contents, err := json.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode composite descriptor")
	}
	descriptorPath := filepath.Join(dir, DescriptorFileName)
	if err := os.WriteFile(descriptorPath, contents, 0644); err != nil {
		return nil, errors.Wrapf(err, "failed to write composite descriptor to %s", descriptorPath)
	}
	return paths, nil
}
