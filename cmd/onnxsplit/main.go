// onnxsplit partitions an ONNX model into pipeline stages, driven by the
// split_assignments entry in the model's metadata.
//
// Example:
//
//	onnxsplit -input model.onnx -output model_split
//	onnxsplit -hf-repo org/model -hf-file model.onnx -output out -validate
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/admin-relentlessglobal/Olive/onnx"
	"github.com/admin-relentlessglobal/Olive/split"
	"github.com/gomlx/go-huggingface/hub"
	"github.com/janpfeifer/must"
	ort "github.com/yalue/onnxruntime_go"
	"k8s.io/klog/v2"
)

var (
	flagInput  = flag.String("input", "", "Path to the ONNX model to split.")
	flagHFRepo = flag.String("hf-repo", "", "HuggingFace repository to download the model from, instead of -input.")
	flagHFFile = flag.String("hf-file", "model.onnx", "File to download from -hf-repo.")
	flagOutput = flag.String("output", "", "Directory to write the split_<i> components and the composite descriptor.")

	flagIncludeAllNodes = flag.Bool("include_all_nodes", true,
		"Include all nodes in the split models: nodes outside or before the splits go to the first split they feed, "+
			"nodes after the last split to their parents' split. If false, these nodes are excluded.")
	flagInferCmd = flag.String("infer_cmd", "",
		"Shape-inference command (binary plus arguments) reading a model on stdin and writing the annotated model to stdout. "+
			"Needed when the model leaves cross-split tensor types unannotated.")
	flagValidate = flag.Bool("validate", false,
		"Load every produced component with ONNX Runtime and report its IO. Requires ORT_SO_PATH to point at the runtime library.")
	flagVerbose = flag.Bool("v1", false, "Alias for -v=1, verbose pass logging.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagVerbose {
		_ = flag.Set("v", "1")
	}
	if *flagOutput == "" {
		klog.Exitf("-output is required")
	}

	inputPath := *flagInput
	if *flagHFRepo != "" {
		repo := hub.New(*flagHFRepo)
		if token := os.Getenv("HF_TOKEN"); token != "" {
			repo = repo.WithAuth(token)
		}
		inputPath = must.M1(repo.DownloadFile(*flagHFFile))
		klog.V(1).Infof("downloaded %s from %s to %s", *flagHFFile, *flagHFRepo, inputPath)
	}
	if inputPath == "" {
		klog.Exitf("either -input or -hf-repo is required")
	}

	model := must.M1(onnx.ReadFile(inputPath))
	fmt.Print(model)

	opts := &split.Options{IncludeAllNodes: *flagIncludeAllNodes}
	if *flagInferCmd != "" {
		parts := strings.Fields(*flagInferCmd)
		opts.Inferencer = &split.CommandInferencer{Path: parts[0], Args: parts[1:]}
	}

	composite, err := split.Apply(model, opts)
	if err != nil {
		klog.Exitf("split failed: %+v", err)
	}
	paths, err := composite.Write(*flagOutput)
	if err != nil {
		klog.Exitf("failed to write composite: %+v", err)
	}
	for _, path := range paths {
		fmt.Printf("wrote %s\n", path)
	}

	if *flagValidate {
		validateComponents(paths)
	}
}

// validateComponents loads each component with ONNX Runtime: a component
// that fails to load here would also fail at deployment time.
func validateComponents(paths []string) {
	if ortPath := os.Getenv("ORT_SO_PATH"); ortPath != "" {
		ort.SetSharedLibraryPath(ortPath)
	}
	must.M(ort.InitializeEnvironment())
	defer func() { _ = ort.DestroyEnvironment() }()

	for _, path := range paths {
		inputs, outputs, err := ort.GetInputOutputInfo(path)
		if err != nil {
			klog.Exitf("component %s failed validation: %+v", path, err)
		}
		klog.Infof("validated %s: inputs=%v outputs=%v", path, ioNames(inputs), ioNames(outputs))
	}
}

func ioNames(infos []ort.InputOutputInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}
