// Package metrics はブースティングの評価指標を提供する。
//
// 評価指標はクラス優先（class-major）のrawスコアを受け取り、必要に応じて
// 目的関数の出力変換を通してから損失を計算する。ndcg@kのように複数の値を
// 返す指標もある。
package metrics

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// Metadata は評価に必要な行ごとの情報。
type Metadata struct {
	Label           []float64
	Weight          []float64
	GroupBoundaries []int
}

// Converter は1行分のrawスコアを出力空間へ変換する。nilは恒等変換。
type Converter func(raw, out []float64)

// Metric は評価指標のインターフェース。
type Metric interface {
	// Init はラベルを検証し、データセット固有の統計量を前計算する。
	Init(meta Metadata) error
	// Names は Eval が返す値ごとの名前。
	Names() []string
	// Eval はrawスコアから評価値を計算する。
	Eval(score []float64, convert Converter) []float64
	// HigherBetter は値が大きいほど良い指標かどうか。
	HigherBetter() bool
}

var metricAliases = map[string]string{
	"l2": "l2", "mse": "l2", "mean_squared_error": "l2", "regression": "l2", "regression_l2": "l2",
	"l1": "l1", "mae": "l1", "mean_absolute_error": "l1", "regression_l1": "l1",
	"rmse": "rmse", "l2_root": "rmse", "root_mean_squared_error": "rmse",
	"quantile": "quantile", "huber": "huber", "fair": "fair", "poisson": "poisson",
	"binary_logloss": "binary_logloss", "binary": "binary_logloss",
	"binary_error": "binary_error", "auc": "auc",
	"multi_logloss": "multi_logloss", "multiclass": "multi_logloss", "softmax": "multi_logloss",
	"multiclassova": "multi_logloss", "multiclass_ova": "multi_logloss", "ova": "multi_logloss", "ovr": "multi_logloss",
	"multi_error": "multi_error",
	"ndcg": "ndcg", "lambdarank": "ndcg", "rank_xendcg": "ndcg",
	"map": "map", "mean_average_precision": "map",
}

var defaultMetric = map[string]string{
	"regression": "l2", "regression_l1": "l1", "huber": "huber", "fair": "fair",
	"poisson": "poisson", "quantile": "quantile", "binary": "binary_logloss",
	"multiclass": "multi_logloss", "multiclassova": "multi_logloss", "lambdarank": "ndcg",
}

// IsDisabled は評価を無効にする指定かどうかを判定する。
func IsDisabled(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "none", "null", "na", "custom":
		return true
	}
	return false
}

// Canonical はエイリアスを正規名へ解決する。"ndcg@3"のような指定は
// 正規名と評価位置に分解される。
func Canonical(name string) (string, []int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	var at []int
	if base, ks, ok := strings.Cut(name, "@"); ok {
		name = base
		for _, k := range strings.Split(ks, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil || n <= 0 {
				return "", nil, errors.NewConfigError("metric", "bad evaluation position", ks)
			}
			at = append(at, n)
		}
	}
	c, ok := metricAliases[name]
	if !ok {
		return "", nil, unknownMetric(name)
	}
	return c, at, nil
}

// New は名前から評価指標を作成する。
func New(name string, cfg *config.Config) (Metric, error) {
	c, at, err := Canonical(name)
	if err != nil {
		return nil, err
	}
	evalAt := cfg.EvalAt
	if at != nil {
		evalAt = at
	}
	switch c {
	case "l2":
		return newPointwise("l2", l2Loss, nil), nil
	case "rmse":
		return &rmse{pointwiseMetric: *newPointwise("rmse", l2Loss, nil)}, nil
	case "l1":
		return newPointwise("l1", l1Loss, nil), nil
	case "quantile":
		return newPointwise("quantile", quantileLoss(cfg.Alpha), nil), nil
	case "huber":
		return newPointwise("huber", huberLoss(cfg.Alpha), nil), nil
	case "fair":
		return newPointwise("fair", fairLoss(cfg.FairC), nil), nil
	case "poisson":
		return newPointwise("poisson", poissonLoss, nil), nil
	case "binary_logloss":
		return newPointwise("binary_logloss", binaryLoglossLoss, binaryLabel), nil
	case "binary_error":
		return newPointwise("binary_error", binaryErrorLoss, binaryLabel), nil
	case "auc":
		return &auc{}, nil
	case "multi_logloss":
		return &multiclassMetric{name: "multi_logloss", numClass: cfg.NumClass}, nil
	case "multi_error":
		return &multiclassMetric{name: "multi_error", numClass: cfg.NumClass}, nil
	case "ndcg":
		return newNDCG(evalAt, cfg), nil
	case "map":
		return newMAP(evalAt), nil
	}
	return nil, unknownMetric(name)
}

// ForConfig はcfgの指定から評価指標の一覧を作成する。指定がなければ
// 目的関数の既定の指標を使い、"None"なら空を返す。重複は除かれる。
func ForConfig(cfg *config.Config) ([]Metric, error) {
	names := cfg.Metric
	if len(names) == 0 {
		names = []string{defaultMetric[cfg.Objective]}
	}
	var out []Metric
	seen := make(map[string]bool)
	for _, n := range names {
		if IsDisabled(n) {
			return nil, nil
		}
		if n == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(n))
		if c, at, err := Canonical(n); err == nil && at == nil {
			key = c
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		m, err := New(n, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DefaultEvalAt はndcg/mapの既定の評価位置。
var DefaultEvalAt = []int{1, 2, 3, 4, 5}

// weightedMean は重み付き平均。weightsがnilなら単純平均。
func weightedMean(values, weights []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, weights)
}

// unknownMetric は未知の指標名をEngineErrorとして返す。原因のConfigErrorは
// IsConfigでも判定できる。
func unknownMetric(name string) error {
	return errors.NewEngineError("metrics.New", "unknown metric", errors.NewConfigError("metric", "unknown metric", name))
}
