package boosting

import (
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/learner"
	"github.com/YuminosukeSato/scigbm/metrics"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

// TrainingDataName is the DataName of results computed on the training data.
const TrainingDataName = "training"

// EvalResult is one metric value on one dataset.
type EvalResult struct {
	DataName     string
	MetricName   string
	Value        float64
	HigherBetter bool
}

// EvalHistory holds metric values per round, keyed by data name then metric.
type EvalHistory map[string]map[string][]float64

// Add appends the values of one round.
func (h EvalHistory) Add(results []EvalResult) {
	for _, r := range results {
		m, ok := h[r.DataName]
		if !ok {
			m = make(map[string][]float64)
			h[r.DataName] = m
		}
		m[r.MetricName] = append(m[r.MetricName], r.Value)
	}
}

// validSet is a registered validation Dataset. Its scores catch up with the
// ensemble lazily, when it is evaluated.
type validSet struct {
	name    string
	data    *dataset.Dataset
	numData int
	metrics []metrics.Metric
	score   []float64
	applied int
	checked bool
	err     error
}

// AddValid registers data for EvalValid under name. A validation set must be
// binned with the training data's mappers, normally by creating it with
// CreateValid; a mismatch is reported by the first EvalValid.
func (b *Booster) AddValid(data *dataset.Dataset, name string) error {
	const op = "Booster.AddValid"
	if b.train == nil {
		return errors.NewPreconditionError(op, "booster has no training data")
	}
	if data == nil {
		return errors.NewPreconditionError(op, "no validation data")
	}
	if !data.IsConstructed() {
		if err := data.SetParams(b.cfg); err != nil {
			return err
		}
	}
	if err := data.Construct(); err != nil {
		return err
	}
	ms, err := newMetrics(b.cfg, metaOf(data))
	if err != nil {
		return err
	}
	n, _ := data.NumData()
	score := make([]float64, b.numTreePerIteration*n)
	if init, _ := data.InitScore(); init != nil {
		if len(init) != len(score) {
			return errors.NewDimensionError(op+" init_score", len(score), len(init), 0)
		}
		copy(score, init)
	}
	b.valids = append(b.valids, &validSet{
		name:    name,
		data:    data,
		numData: n,
		metrics: ms,
		score:   score,
	})
	b.logger.Debug("Validation data added", log.DataNameKey, name, log.SamplesKey, n)
	return nil
}

// EvalTrain evaluates the metrics on the training data.
func (b *Booster) EvalTrain() ([]EvalResult, error) {
	if b.train == nil {
		return nil, errors.NewPreconditionError("Booster.EvalTrain", "booster has no training data")
	}
	return b.evaluate(TrainingDataName, b.trainMetrics, b.trainScore), nil
}

// EvalValid evaluates the metrics on every validation set, in registration
// order.
func (b *Booster) EvalValid() ([]EvalResult, error) {
	var out []EvalResult
	for _, v := range b.valids {
		if err := b.syncValid(v); err != nil {
			return nil, err
		}
		out = append(out, b.evaluate(v.name, v.metrics, v.score)...)
	}
	return out, nil
}

func (b *Booster) evaluate(dataName string, ms []metrics.Metric, score []float64) []EvalResult {
	var out []EvalResult
	for _, m := range ms {
		values := m.Eval(score, b.obj.ConvertOutput)
		for i, name := range m.Names() {
			out = append(out, EvalResult{
				DataName:     dataName,
				MetricName:   name,
				Value:        values[i],
				HigherBetter: m.HigherBetter(),
			})
		}
	}
	return out
}

// syncValid adds the trees not yet applied to a validation set's scores.
func (b *Booster) syncValid(v *validSet) error {
	if !v.checked {
		v.err = checkCompatible(b.train, v.data, v.name)
		v.checked = true
	}
	if v.err != nil {
		return v.err
	}
	numModels := b.numTreePerIteration
	for i := v.applied; i < len(b.trees); i++ {
		k := i % numModels
		learner.AddScore(b.trees[i], v.data, v.score[k*v.numData:(k+1)*v.numData], b.ctx.Workers())
	}
	v.applied = len(b.trees)
	return nil
}

// checkCompatible reports whether valid was binned like train.
func checkCompatible(train, valid *dataset.Dataset, name string) error {
	const op = "Booster.EvalValid"
	nt, _ := train.NumFeatures()
	nv, _ := valid.NumFeatures()
	if nt != nv {
		return errors.NewEngineErrorf(op, "feature mismatch",
			"validation data %q has %d features, training data has %d", name, nv, nt)
	}
	for f := 0; f < nt; f++ {
		tm, vm := train.BinMapper(f), valid.BinMapper(f)
		if tm != vm && !tm.Equal(vm) {
			return errors.NewEngineErrorf(op, "feature mismatch",
				"validation data %q bins feature %d differently from the training data", name, f)
		}
	}
	return nil
}
