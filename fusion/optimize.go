package fusion

import "github.com/tsawler/go-onnx/graph"

// Options configures the standard decoder optimization pipeline.
type Options struct {
	NumHeads int64
	Scale    float32
	// RetypeIO controls the final boundary re-typing step; disable it
	// when the consuming runtime expects the exporter's original I/O
	// declarations.
	RetypeIO bool
}

// Optimize runs the standard rule sequence once each, in order:
// attention fusion, bias fusion, transpose removal, then a final prune
// and boundary re-typing. Reports whether any rule changed the graph.
func Optimize(m *graph.Model, opts Options) (bool, error) {
	pipeline := NewPipeline(
		NewAttentionFusion(opts.NumHeads, opts.Scale),
		NewBiasFusion(),
		NewTransposeRemover(),
	)
	changed, err := pipeline.Run(m)
	if err != nil {
		return changed, err
	}
	if _, err := m.PruneGraph(); err != nil {
		return changed, err
	}
	if opts.RetypeIO {
		RetypeBoundary(m.MainGraph())
	}
	return changed, nil
}
