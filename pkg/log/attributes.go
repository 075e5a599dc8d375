package log

// Standard attribute keys. They follow a hierarchical naming convention
// ("data.samples", "train.iteration") so logs can be filtered by prefix.

// Operation context.
const (
	// OperationKey specifies the engine operation being performed.
	// Standard values: "construct", "update", "predict", "load_model"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the lifecycle phase ("training", "validation", "inference").
	PhaseKey = "ml.phase"
)

// Data shape.
const (
	SamplesKey  = "data.samples"
	FeaturesKey = "data.features"
	ChunksKey   = "data.chunks"
	GroupsKey   = "data.groups"
	DataNameKey = "data.name"

	// TrivialFeaturesKey counts features that ended up with a single bin.
	TrivialFeaturesKey = "data.trivial_features"
)

// Training progress.
const (
	IterationKey   = "train.iteration"
	NumLeavesKey   = "tree.num_leaves"
	NumTreesKey    = "train.num_trees"
	ObjectiveKey   = "train.objective"
	MetricKey      = "eval.metric"
	MetricValueKey = "eval.value"
	DurationMsKey  = "perf.duration_ms"
)

// Configuration.
const (
	ThreadsKey    = "config.num_threads"
	RandomSeedKey = "config.random_seed"
	ParamKey      = "config.param"
)

// Standard operation names.
const (
	OperationConstruct = "construct"
	OperationMerge     = "add_features_from"
	OperationSubset    = "subset"
	OperationUpdate    = "update"
	OperationEval      = "eval"
	OperationPredict   = "predict"
	OperationSave      = "save_model"
	OperationLoad      = "load_model"

	PhaseTraining   = "training"
	PhaseValidation = "validation"
	PhaseInference  = "inference"
)
