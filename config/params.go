package config

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// aliases maps every accepted alternative name to the canonical parameter name.
var aliases = map[string]string{
	"objective_type": "objective", "app": "objective", "application": "objective", "loss": "objective",
	"metrics": "metric", "metric_types": "metric",
	"num_iteration": "num_iterations", "n_iter": "num_iterations", "num_tree": "num_iterations",
	"num_trees": "num_iterations", "num_round": "num_iterations", "num_rounds": "num_iterations",
	"num_boost_round": "num_iterations", "n_estimators": "num_iterations",
	"shrinkage_rate": "learning_rate", "eta": "learning_rate",
	"num_leaf": "num_leaves", "max_leaves": "num_leaves", "max_leaf": "num_leaves",
	"num_thread": "num_threads", "nthread": "num_threads", "nthreads": "num_threads", "n_jobs": "num_threads",
	"num_classes": "num_class",
	"min_data_per_leaf": "min_data_in_leaf", "min_data": "min_data_in_leaf", "min_child_samples": "min_data_in_leaf",
	"min_sum_hessian_per_leaf": "min_sum_hessian_in_leaf", "min_sum_hessian": "min_sum_hessian_in_leaf",
	"min_hessian": "min_sum_hessian_in_leaf", "min_child_weight": "min_sum_hessian_in_leaf",
	"sub_row": "bagging_fraction", "subsample": "bagging_fraction", "bagging": "bagging_fraction",
	"subsample_freq": "bagging_freq", "bagging_fraction_seed": "bagging_seed",
	"sub_feature": "feature_fraction", "colsample_bytree": "feature_fraction",
	"max_tree_output": "max_delta_step", "max_leaf_output": "max_delta_step",
	"reg_alpha": "lambda_l1", "l1_regularization": "lambda_l1",
	"reg_lambda": "lambda_l2", "lambda": "lambda_l2", "l2_regularization": "lambda_l2",
	"min_split_gain": "min_gain_to_split",
	"mc": "monotone_constraints", "monotone_constraint": "monotone_constraints",
	"feature_contri": "feature_penalty", "fc": "feature_penalty", "fp": "feature_penalty",
	"early_stopping_rounds": "early_stopping_round", "early_stopping": "early_stopping_round",
	"n_iter_no_change": "early_stopping_round",
	"verbosity": "verbose", "subsample_for_bin": "bin_construct_sample_cnt", "data_seed": "data_random_seed",
	"cat_feature": "categorical_feature", "categorical_column": "categorical_feature", "cat_column": "categorical_feature",
	"unbalance": "is_unbalance", "unbalanced_sets": "is_unbalance",
	"ndcg_eval_at": "eval_at", "ndcg_at": "eval_at", "map_eval_at": "eval_at", "map_at": "eval_at",
	"output_freq": "metric_freq", "is_pred_early_stop": "pred_early_stop",
}

// objectiveAliases maps objective spellings to the canonical objective names.
var objectiveAliases = map[string]string{
	"regression": "regression", "regression_l2": "regression", "l2": "regression",
	"mean_squared_error": "regression", "mse": "regression", "l2_root": "regression",
	"root_mean_squared_error": "regression", "rmse": "regression",
	"regression_l1": "regression_l1", "l1": "regression_l1", "mean_absolute_error": "regression_l1", "mae": "regression_l1",
	"huber": "huber", "fair": "fair", "poisson": "poisson", "quantile": "quantile", "binary": "binary",
	"multiclass": "multiclass", "softmax": "multiclass",
	"multiclassova": "multiclassova", "multiclass_ova": "multiclassova", "ova": "multiclassova", "ovr": "multiclassova",
	"lambdarank": "lambdarank", "rank": "lambdarank",
}

// CanonicalName resolves a parameter alias.
func CanonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// fieldIndex maps canonical names to struct field indices.
var fieldIndex = func() map[string]int {
	t := reflect.TypeOf(Config{})
	m := make(map[string]int, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		m[t.Field(i).Tag.Get("param")] = i
	}
	return m
}()

// FromMap builds a validated Config from defaults overridden by params.
// Keys may use any known alias; values may be strings, numbers, bools or lists.
func FromMap(params map[string]any) (*Config, error) {
	cfg := Default()
	if err := cfg.Apply(params); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply overrides fields from params without validating. Keys are applied in
// sorted order so that conflicting aliases resolve deterministically.
func (c *Config) Apply(params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := c.Set(k, params[k]); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns one parameter by name or alias.
func (c *Config) Set(name string, value any) error {
	canonical := CanonicalName(name)
	idx, ok := fieldIndex[canonical]
	if !ok {
		return errors.NewConfigError(name, "unknown parameter", value)
	}
	field := reflect.ValueOf(c).Elem().Field(idx)

	var err error
	switch field.Kind() {
	case reflect.String:
		var s string
		s, err = toString(value)
		if err == nil && canonical == "objective" {
			obj, known := objectiveAliases[strings.ToLower(s)]
			if !known {
				return errors.NewConfigError(canonical, "unknown objective", s)
			}
			s = obj
		}
		field.SetString(s)
	case reflect.Int:
		var v int
		v, err = toInt(value)
		field.SetInt(int64(v))
	case reflect.Float64:
		var v float64
		v, err = toFloat(value)
		field.SetFloat(v)
	case reflect.Bool:
		var v bool
		v, err = toBool(value)
		field.SetBool(v)
	case reflect.Slice:
		switch field.Type().Elem().Kind() {
		case reflect.String:
			var v []string
			v, err = toStringSlice(value)
			if err == nil && canonical == "metric" {
				for i := range v {
					v[i] = strings.ToLower(v[i])
				}
			}
			field.Set(reflect.ValueOf(v))
		case reflect.Int:
			var v []int
			v, err = toIntSlice(value)
			field.Set(reflect.ValueOf(v))
		case reflect.Float64:
			var v []float64
			v, err = toFloatSlice(value)
			field.Set(reflect.ValueOf(v))
		}
	}
	if err != nil {
		return errors.NewConfigError(canonical, err.Error(), value)
	}
	return nil
}

// ParamLines renders the configuration as "[name: value]" lines in declaration
// order. Empty lists are rendered as an empty value.
func (c *Config) ParamLines() []string {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	lines := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		lines = append(lines, fmt.Sprintf("[%s: %s]", t.Field(i).Tag.Get("param"), formatValue(v.Field(i))))
	}
	return lines
}

func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case reflect.Bool:
		if v.Bool() {
			return "1"
		}
		return "0"
	case reflect.Slice:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = formatValue(v.Index(i))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v.Interface())
}

func toString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("expected string, got %T", value)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("expected number, got %T", value)
}

func toInt(value any) (int, error) {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			return n, nil
		}
	}
	f, err := toFloat(value)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int(f), nil
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "+", "yes":
			return true, nil
		case "false", "0", "-", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("expected bool, got %q", v)
	}
	f, err := toFloat(value)
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

// toList accepts a comma separated string, a single scalar or any slice.
func toList(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return []any{}
		}
		parts := strings.Split(v, ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{value}
}

func toStringSlice(value any) ([]string, error) {
	list := toList(value)
	if list == nil {
		return nil, nil
	}
	out := make([]string, len(list))
	for i, item := range list {
		s, err := toString(item)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func toIntSlice(value any) ([]int, error) {
	list := toList(value)
	if list == nil {
		return nil, nil
	}
	out := make([]int, len(list))
	for i, item := range list {
		n, err := toInt(item)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func toFloatSlice(value any) ([]float64, error) {
	list := toList(value)
	if list == nil {
		return nil, nil
	}
	out := make([]float64, len(list))
	for i, item := range list {
		f, err := toFloat(item)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
