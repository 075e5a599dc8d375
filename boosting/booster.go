// Package boosting trains and applies gradient boosted tree ensembles.
//
// A Booster owns the training Dataset, the objective, the metrics and the
// trees grown so far. Each call to Update adds one tree per model slot. A
// Booster loaded from model text can predict and be saved again but cannot be
// trained further.
//
// Scores are class-major: the raw score of row i for model slot k is at
// k*numData+i. Tree t of the ensemble belongs to slot t % NumModelPerIteration.
package boosting

import (
	"math"
	"slices"
	"time"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/learner"
	"github.com/YuminosukeSato/scigbm/metrics"
	"github.com/YuminosukeSato/scigbm/objective"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
	"github.com/YuminosukeSato/scigbm/tree"
)

// Booster is a tree ensemble, optionally attached to training data. It is not
// safe for concurrent mutation.
type Booster struct {
	ctx    *config.Context
	cfg    *config.Config
	logger log.Logger

	obj                 objective.Objective
	numClass            int
	numTreePerIteration int
	trees               []*tree.Tree
	bestIteration       int
	history             EvalHistory

	// model description written to the model file
	featureNames []string
	featureInfos []string
	monotone     []int
	penalty      []float64
	paramLines   []string

	// training state, nil for a loaded model
	train        *dataset.Dataset
	numData      int
	learner      *learner.TreeLearner
	trainScore   []float64
	hasInitScore bool
	trainMetrics []metrics.Metric
	valids       []*validSet
}

// NewBooster creates a Booster that trains on train, constructing it first if
// needed. cfg is copied; a nil cfg means the defaults.
func NewBooster(ctx *config.Context, cfg *config.Config, train *dataset.Dataset) (b *Booster, err error) {
	const op = "NewBooster"
	defer errors.Recover(&err, op)
	if train == nil {
		return nil, errors.NewPreconditionError(op, "no training data")
	}
	if ctx == nil {
		ctx = train.Context()
	}
	ctx = ctx.OrDefault()
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// booster parameters decide binning for data not yet binned
	if !train.IsConstructed() {
		if err := train.SetParams(cfg); err != nil {
			return nil, err
		}
	}
	if err := train.Construct(); err != nil {
		return nil, err
	}

	obj, err := objective.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	meta := metaOf(train)
	if err := obj.Init(meta); err != nil {
		return nil, err
	}
	trainMetrics, err := newMetrics(cfg, meta)
	if err != nil {
		return nil, err
	}
	l, err := learner.New(cfg, train)
	if err != nil {
		return nil, err
	}

	numData, _ := train.NumData()
	numModels := obj.NumModelPerIteration()
	score := make([]float64, numModels*numData)
	initScore, _ := train.InitScore()
	if initScore != nil {
		if len(initScore) != len(score) {
			return nil, errors.NewDimensionError(op+" init_score", len(score), len(initScore), 0)
		}
		copy(score, initScore)
	}

	names, _ := train.FeatureNames()
	monotone, _ := train.MonotoneConstraints()
	penalty, _ := train.FeaturePenalty()
	b = &Booster{
		ctx:                 ctx,
		cfg:                 cfg,
		logger:              ctx.Logger("booster"),
		obj:                 obj,
		numClass:            cfg.NumClass,
		numTreePerIteration: numModels,
		featureNames:        names,
		featureInfos:        featureInfos(train),
		monotone:            monotone,
		penalty:             penalty,
		paramLines:          cfg.ParamLines(),
		train:               train,
		numData:             numData,
		learner:             l,
		trainScore:          score,
		hasInitScore:        initScore != nil,
		trainMetrics:        trainMetrics,
	}
	b.logger.Info("Booster created",
		log.ObjectiveKey, obj.String(),
		log.SamplesKey, numData,
		log.FeaturesKey, len(names),
		log.ThreadsKey, ctx.Workers(),
	)
	return b, nil
}

func metaOf(d *dataset.Dataset) metrics.Metadata {
	return metrics.Metadata{
		Label:           d.LabelView(),
		Weight:          d.WeightView(),
		GroupBoundaries: d.GroupBoundaries(),
	}
}

func newMetrics(cfg *config.Config, meta metrics.Metadata) ([]metrics.Metric, error) {
	ms, err := metrics.ForConfig(cfg)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if err := m.Init(meta); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

func featureInfos(d *dataset.Dataset) []string {
	mappers := d.BinMappers()
	infos := make([]string, len(mappers))
	for i, m := range mappers {
		infos[i] = m.FeatureInfo()
	}
	return infos
}

// Update runs one boosting round: it computes gradients at the current scores,
// grows one tree per model slot and commits them. finished is true when no
// tree could be split; trees of such a round are discarded, except in the very
// first round where constant trees carrying the starting scores are kept. On
// error the Booster is unchanged.
func (b *Booster) Update() (finished bool, err error) {
	const op = "Booster.Update"
	if b.train == nil {
		return false, errors.NewPreconditionError(op, "booster has no training data")
	}
	defer errors.Recover(&err, op)
	start := time.Now()
	n, numModels := b.numData, b.numTreePerIteration
	iteration := b.CurrentIteration()

	score := slices.Clone(b.trainScore)
	init := b.boostFromAverage()
	for k, v := range init {
		if v == 0 {
			continue
		}
		for i := k * n; i < (k+1)*n; i++ {
			score[i] += v
		}
	}

	grad := make([]float64, numModels*n)
	hess := make([]float64, numModels*n)
	b.obj.GetGradients(score, grad, hess)
	if err := errors.CheckNumericalStability("gradients", grad, iteration); err != nil {
		return false, err
	}
	if err := errors.CheckNumericalStability("hessians", hess, iteration); err != nil {
		return false, err
	}
	bag := b.learner.Sampler().SampleInstances(n, iteration)

	grown := make([]*tree.Tree, numModels)
	split := false
	for k := 0; k < numModels; k++ {
		slot := score[k*n : (k+1)*n]
		t, err := b.learner.Train(grad[k*n:(k+1)*n], hess[k*n:(k+1)*n], bag)
		if err != nil {
			return false, err
		}
		if t.NumLeaves() == 1 {
			// constant tree: the starting score in the first round, zero afterwards
			t = tree.New(1)
			t.SetLeafOutput(0, init[k])
			grown[k] = t
			continue
		}
		split = true
		if r, ok := b.obj.(objective.OutputRenewer); ok {
			for leaf := 0; leaf < t.NumLeaves(); leaf++ {
				if rows := b.learner.LeafRows(leaf); len(rows) > 0 {
					t.SetLeafOutput(leaf, r.RenewTreeOutput(slot, rows))
				}
			}
		}
		t.Shrink(b.cfg.LearningRate)
		learner.AddScore(t, b.train, slot, b.ctx.Workers())
		if math.Abs(init[k]) > config.Epsilon {
			t.AddBias(init[k])
		}
		grown[k] = t
	}
	if err := errors.CheckNumericalStability("scores", score, iteration); err != nil {
		return false, err
	}

	if !split {
		b.logger.Warn("Stopped training because there are no more leaves that meet the split requirements",
			log.IterationKey, iteration)
		if len(b.trees) > 0 {
			return true, nil
		}
	}
	b.trainScore = score
	b.trees = append(b.trees, grown...)

	b.logger.Debug("Iteration finished",
		log.IterationKey, iteration,
		log.NumTreesKey, len(b.trees),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return !split, nil
}

// boostFromAverage returns the starting score of every slot. It is non-zero
// only before the first tree and without a user supplied init score.
func (b *Booster) boostFromAverage() []float64 {
	init := make([]float64, b.numTreePerIteration)
	if len(b.trees) > 0 || b.hasInitScore || !b.cfg.BoostFromAverage {
		return init
	}
	for k := range init {
		init[k] = b.obj.BoostFromScore(k)
	}
	if b.numTreePerIteration == 1 {
		b.logger.Info("Start training from score", "init_score", init[0])
	}
	return init
}

// RollbackOneIter removes the trees of the last round and their contribution
// to the training and validation scores.
func (b *Booster) RollbackOneIter() error {
	const op = "Booster.RollbackOneIter"
	if b.train == nil {
		return errors.NewPreconditionError(op, "booster has no training data")
	}
	if b.CurrentIteration() == 0 {
		return nil
	}
	numModels := b.numTreePerIteration
	first := len(b.trees) - numModels
	for i := first; i < len(b.trees); i++ {
		k := i % numModels
		subtractScore(b.trees[i], b.train, b.trainScore[k*b.numData:(k+1)*b.numData], b.ctx.Workers())
	}
	for _, v := range b.valids {
		if v.err != nil {
			continue
		}
		for i := first; i < v.applied; i++ {
			k := i % numModels
			subtractScore(b.trees[i], v.data, v.score[k*v.numData:(k+1)*v.numData], b.ctx.Workers())
		}
		v.applied = min(v.applied, first)
	}
	b.trees = b.trees[:first]
	return nil
}

func subtractScore(t *tree.Tree, data *dataset.Dataset, score []float64, workers int) {
	neg := make([]float64, len(score))
	learner.AddScore(t, data, neg, workers)
	for i, v := range neg {
		score[i] -= v
	}
}

// SetLearningRate changes the shrinkage applied to trees grown from now on.
func (b *Booster) SetLearningRate(rate float64) error {
	if !(rate > 0) {
		return errors.NewConfigError("learning_rate", "must be positive", rate)
	}
	b.cfg.LearningRate = rate
	return nil
}

// CurrentIteration is the number of completed boosting rounds.
func (b *Booster) CurrentIteration() int { return len(b.trees) / b.numTreePerIteration }

// NumTrees is the number of trees in the ensemble.
func (b *Booster) NumTrees() int { return len(b.trees) }

// NumModelPerIteration is the number of trees added per round.
func (b *Booster) NumModelPerIteration() int { return b.numTreePerIteration }

// NumFeatures is the number of input features the model expects.
func (b *Booster) NumFeatures() int { return len(b.featureNames) }

// FeatureNames returns the feature names in column order.
func (b *Booster) FeatureNames() []string { return slices.Clone(b.featureNames) }

// Tree returns tree i of the ensemble.
func (b *Booster) Tree(i int) *tree.Tree { return b.trees[i] }

// BestIteration is the best round found by early stopping, 0 when unset.
func (b *Booster) BestIteration() int { return b.bestIteration }

// EvalHistory returns the evaluation results recorded by Train.
func (b *Booster) EvalHistory() EvalHistory { return b.history }

// Objective returns the model's objective.
func (b *Booster) Objective() objective.Objective { return b.obj }

// ImportanceType selects what FeatureImportance accumulates.
type ImportanceType int

const (
	// ImportanceSplit counts the splits that use a feature.
	ImportanceSplit ImportanceType = iota
	// ImportanceGain sums the gains of those splits.
	ImportanceGain
)

// FeatureImportance returns one value per feature over the first numIteration
// rounds; numIteration <= 0 means all of them.
func (b *Booster) FeatureImportance(kind ImportanceType, numIteration int) []float64 {
	imp := make([]float64, len(b.featureNames))
	last := len(b.trees)
	if numIteration > 0 {
		last = min(last, numIteration*b.numTreePerIteration)
	}
	for _, t := range b.trees[:last] {
		for node := 0; node < t.NumLeaves()-1; node++ {
			gain := t.SplitGain(node)
			if gain <= 0 {
				continue
			}
			if kind == ImportanceGain {
				imp[t.SplitFeature(node)] += gain
			} else {
				imp[t.SplitFeature(node)]++
			}
		}
	}
	return imp
}
