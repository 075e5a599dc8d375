// Package config holds the training and prediction parameters of the engine.
//
// Parameter names follow LightGBM. Config values can be built from Go code
// (Default plus field assignment), from a loosely typed map (FromMap), or from a
// YAML, TOML or key=value file (LoadFile). Every path ends in Validate.
package config

import (
	"reflect"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// Config is the full parameter set. The param tag is the canonical LightGBM
// name and also defines the order of the model file's parameters section.
type Config struct {
	// Core
	Objective     string   `param:"objective" validate:"oneof=regression regression_l1 huber fair poisson quantile binary multiclass multiclassova lambdarank"`
	Metric        []string `param:"metric"`
	NumIterations int      `param:"num_iterations" validate:"gte=0"`
	LearningRate  float64  `param:"learning_rate" validate:"gt=0"`
	NumLeaves     int      `param:"num_leaves" validate:"gte=2,lte=131072"`
	NumThreads    int      `param:"num_threads"`
	NumClass      int      `param:"num_class" validate:"gte=1"`

	// Learning control
	MaxDepth            int       `param:"max_depth"`
	MinDataInLeaf       int       `param:"min_data_in_leaf" validate:"gte=0"`
	MinSumHessianInLeaf float64   `param:"min_sum_hessian_in_leaf" validate:"gte=0"`
	BaggingFraction     float64   `param:"bagging_fraction" validate:"gt=0,lte=1"`
	BaggingFreq         int       `param:"bagging_freq" validate:"gte=0"`
	BaggingSeed         int       `param:"bagging_seed"`
	FeatureFraction     float64   `param:"feature_fraction" validate:"gt=0,lte=1"`
	FeatureFractionSeed int       `param:"feature_fraction_seed"`
	MaxDeltaStep        float64   `param:"max_delta_step"`
	LambdaL1            float64   `param:"lambda_l1" validate:"gte=0"`
	LambdaL2            float64   `param:"lambda_l2" validate:"gte=0"`
	MinGainToSplit      float64   `param:"min_gain_to_split" validate:"gte=0"`
	MinDataPerGroup     int       `param:"min_data_per_group" validate:"gte=1"`
	MaxCatThreshold     int       `param:"max_cat_threshold" validate:"gte=1"`
	CatL2               float64   `param:"cat_l2" validate:"gte=0"`
	CatSmooth           float64   `param:"cat_smooth" validate:"gte=0"`
	MaxCatToOnehot      int       `param:"max_cat_to_onehot" validate:"gte=1"`
	MonotoneConstraints []int     `param:"monotone_constraints" validate:"omitempty,dive,oneof=-1 0 1"`
	FeaturePenalty      []float64 `param:"feature_penalty" validate:"omitempty,dive,gte=0"`
	EarlyStoppingRound  int       `param:"early_stopping_round" validate:"gte=0"`
	Verbose             int       `param:"verbose"`

	// Dataset
	MaxBin                int   `param:"max_bin" validate:"gte=2,lte=65535"`
	MinDataInBin          int   `param:"min_data_in_bin" validate:"gte=1"`
	BinConstructSampleCnt int   `param:"bin_construct_sample_cnt" validate:"gte=1"`
	DataRandomSeed        int   `param:"data_random_seed"`
	UseMissing            bool  `param:"use_missing"`
	ZeroAsMissing         bool  `param:"zero_as_missing"`
	CategoricalFeature    []int `param:"categorical_feature" validate:"omitempty,dive,gte=0"`

	// Objective
	BoostFromAverage bool      `param:"boost_from_average"`
	IsUnbalance      bool      `param:"is_unbalance"`
	ScalePosWeight   float64   `param:"scale_pos_weight" validate:"gt=0"`
	Sigmoid          float64   `param:"sigmoid" validate:"gt=0"`
	Alpha            float64   `param:"alpha" validate:"gt=0"`
	FairC            float64   `param:"fair_c" validate:"gt=0"`
	PoissonMaxDelta  float64   `param:"poisson_max_delta_step" validate:"gt=0"`
	MaxPosition      int       `param:"max_position" validate:"gte=1"`
	LabelGain        []float64 `param:"label_gain"`

	// Metric
	EvalAt     []int `param:"eval_at" validate:"omitempty,dive,gte=1"`
	MetricFreq int   `param:"metric_freq" validate:"gte=1"`

	// Prediction
	PredEarlyStop       bool    `param:"pred_early_stop"`
	PredEarlyStopFreq   int     `param:"pred_early_stop_freq" validate:"gte=1"`
	PredEarlyStopMargin float64 `param:"pred_early_stop_margin" validate:"gte=0"`
}

// Default returns the LightGBM defaults.
func Default() *Config {
	return &Config{
		Objective:     "regression",
		NumIterations: 100,
		LearningRate:  0.1,
		NumLeaves:     31,
		NumClass:      1,

		MaxDepth:            -1,
		MinDataInLeaf:       20,
		MinSumHessianInLeaf: 1e-3,
		BaggingFraction:     1,
		BaggingSeed:         3,
		FeatureFraction:     1,
		FeatureFractionSeed: 2,
		MinDataPerGroup:     100,
		MaxCatThreshold:     32,
		CatL2:               10,
		CatSmooth:           10,
		MaxCatToOnehot:      4,
		Verbose:             1,

		MaxBin:                255,
		MinDataInBin:          3,
		BinConstructSampleCnt: 200000,
		DataRandomSeed:        1,
		UseMissing:            true,

		BoostFromAverage: true,
		ScalePosWeight:   1,
		Sigmoid:          1,
		Alpha:            0.9,
		FairC:            1,
		PoissonMaxDelta:  0.7,
		MaxPosition:      20,

		MetricFreq: 1,

		PredEarlyStopFreq:   10,
		PredEarlyStopMargin: 10,
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Metric = slices.Clone(c.Metric)
	out.MonotoneConstraints = slices.Clone(c.MonotoneConstraints)
	out.FeaturePenalty = slices.Clone(c.FeaturePenalty)
	out.CategoricalFeature = slices.Clone(c.CategoricalFeature)
	out.LabelGain = slices.Clone(c.LabelGain)
	out.EvalAt = slices.Clone(c.EvalAt)
	return &out
}

// NumModelPerIteration is the number of trees grown per boosting round.
func (c *Config) NumModelPerIteration() int {
	switch c.Objective {
	case "multiclass", "multiclassova":
		return c.NumClass
	default:
		return 1
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			return f.Tag.Get("param")
		})
	})
	return validate
}

// Validate checks field ranges and cross-field rules. The first violation is
// returned as a ConfigError.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			return errors.NewConfigError(paramRoot(fe.Field()), "failed "+reason, fe.Value())
		}
		return errors.NewConfigError("config", err.Error(), nil)
	}

	switch c.Objective {
	case "multiclass", "multiclassova":
		if c.NumClass < 2 {
			return errors.NewConfigError("num_class", "multiclass objectives need num_class >= 2", c.NumClass)
		}
	default:
		if c.NumClass != 1 {
			return errors.NewConfigError("num_class", "only multiclass objectives accept num_class > 1", c.NumClass)
		}
	}
	if c.Objective == "quantile" && c.Alpha >= 1 {
		return errors.NewConfigError("alpha", "quantile alpha must be in (0, 1)", c.Alpha)
	}
	for i, g := range c.LabelGain {
		if g < 0 {
			return errors.NewConfigError("label_gain", "gain must be non-negative at index "+strconv.Itoa(i), g)
		}
	}
	return nil
}

// paramRoot strips the "[i]" suffix validator adds for dived slice elements.
func paramRoot(field string) string {
	if i := strings.IndexByte(field, '['); i >= 0 {
		return field[:i]
	}
	return field
}
