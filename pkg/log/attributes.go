// Standard attribute keys for pipeline reconstruction and inference logs.
//
// Keys follow the hierarchical "area.name" convention so logs can be filtered
// by area (pipeline, transform, artifact, model, data).

package log

// Pipeline and transform context.
const (
	// PipelineStageKey names the pipeline being built or run.
	// Values: "after_item", "after_batch"
	PipelineStageKey = "pipeline.stage"

	// PipelineLengthKey records the number of transforms in a pipeline.
	PipelineLengthKey = "pipeline.length"

	// TransformNameKey is the registry name of a transform.
	TransformNameKey = "transform.name"

	// TransformOrderKey is the order value a transform was sorted by.
	TransformOrderKey = "transform.order"

	// OperationKey specifies the operation being performed.
	// Values: "load_data", "load_model", "make_pipelines", "predict"
	OperationKey = "op"

	// ComponentKey identifies which package is logging.
	ComponentKey = "component"
)

// Artifact and model context.
const (
	// ArtifactPathKey is the resolved path of an artifact file.
	ArtifactPathKey = "artifact.path"

	// ArtifactFormatKey is the codec used for an artifact ("pkl", "gob", "json", "yaml", "onnx").
	ArtifactFormatKey = "artifact.format"

	// RuntimeKey names the model runtime ("native", "onnx").
	RuntimeKey = "model.runtime"

	// DeviceKey is the compute device a model or batch is placed on.
	DeviceKey = "device"

	// MetricsAddrKey is the listen address of the metrics endpoint.
	MetricsAddrKey = "metrics.addr"
)

// Data context.
const (
	// DataTypeKey is the element type of a tensor, e.g. "float32".
	DataTypeKey = "data.type"

	// ShapeKey is the shape of a tensor.
	ShapeKey = "data.shape"

	// BatchSizeKey is the number of items collated into a batch.
	BatchSizeKey = "data.batch_size"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)

// Error context.
const (
	ErrAttrKey    = "error"
	StacktraceKey = "stacktrace"
)

// Operation values.
const (
	OperationLoadData      = "load_data"
	OperationLoadModel     = "load_model"
	OperationMakePipelines = "make_pipelines"
	OperationPredict       = "predict"
)
