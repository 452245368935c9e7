// Package fastinference rebuilds a trained model's inference pipeline from
// exported artifacts and runs predictions with it.
//
// An export consists of a transform description (data.pkl, or gob/json/yaml)
// and a model (model.gob for the native runtime, model.onnx for ONNX Runtime).
// The description names transforms and their arguments for two stages:
// after_item, applied to each item, and after_batch, applied to the collated
// batch.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//
//	    "github.com/YuminosukeSato/fastinference/config"
//	    "github.com/YuminosukeSato/fastinference/learner"
//	)
//
//	func main() {
//	    cfg, err := config.Load("fastinference.yml")
//	    if err != nil {
//	        panic(err)
//	    }
//	    l, err := learner.Load(context.Background(), cfg)
//	    if err != nil {
//	        panic(err)
//	    }
//	    defer l.Close()
//
//	    pred, err := l.Predict(context.Background(), img)
//	    if err != nil {
//	        panic(err)
//	    }
//	    fmt.Println(pred.Labels)
//	}
//
// # Packages
//
//   - core/nested: recursive apply over nested values and type retention
//   - core/tensor: tensors, host arrays, coercion and device transfer
//   - transforms: transform registry, vision and tabular transforms, pipelines
//   - rebuild: artifact loading and pipeline assembly
//   - inference: native (gonum) and ONNX Runtime models
//   - learner: collate and end-to-end prediction
//   - store: local and GCS artifact stores
//   - config: YAML + environment configuration
//   - pkg/errors, pkg/log, pkg/metrics, pkg/viz: errors, logging, Prometheus metrics, debug plots
//
// # Custom Transforms
//
// Transforms are resolved by name through an explicit registry:
//
//	transforms.Default.MustRegister("Grayscale", func(args transforms.Args) (transforms.Transform, error) {
//	    return &Grayscale{}, nil
//	})
package fastinference
