// Command onnxfuse loads an exported ONNX decoder model, fuses its
// attention subgraphs into single Attention nodes, cleans up the graph
// and saves the result.
package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-onnx/fusion"
	"github.com/tsawler/go-onnx/graph"
	"github.com/tsawler/go-onnx/onnx"
)

func main() {
	input := flag.String("input", "", "path to the ONNX model to optimize")
	output := flag.String("output", "", "path to write the optimized model")
	numHeads := flag.Int64("heads", 128, "attention head count of the model")
	scale := flag.Float64("scale", 0.0078125, "attention scale factor (1/sqrt(head_size))")
	retype := flag.Bool("retype-io", true, "rewrite graph I/O declarations for the fused layout")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if *input == "" || *output == "" {
		flag.Usage()
		os.Exit(2)
	}

	model, err := onnx.LoadModel(*input)
	if err != nil {
		logrus.Fatalf("load model: %v", err)
	}

	m, err := graph.NewModel(model)
	if err != nil {
		logrus.Fatalf("index model: %v", err)
	}

	changed, err := fusion.Optimize(m, fusion.Options{
		NumHeads: *numHeads,
		Scale:    float32(*scale),
		RetypeIO: *retype,
	})
	if err != nil {
		logrus.Fatalf("optimize: %v", err)
	}
	if !changed {
		logrus.Warn("no fusion rule matched; writing the model unchanged")
	}

	if err := onnx.SaveModel(model, *output); err != nil {
		logrus.Fatalf("save model: %v", err)
	}
	logrus.Infof("wrote %s (%d nodes)", *output, len(model.Graph.Node))
}
