package boosting

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

// Fold is one train/test split of a Dataset's rows.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// Splitter divides a constructed Dataset into folds.
type Splitter interface {
	Split(d *dataset.Dataset) ([]Fold, error)
	NumSplits() int
}

// KFold splits rows into NSplits contiguous folds, after an optional shuffle.
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int
}

// NewKFold creates a KFold; fewer than two splits means five.
func NewKFold(nSplits int, shuffle bool, seed int) *KFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &KFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: seed}
}

// NumSplits returns the number of folds.
func (kf *KFold) NumSplits() int { return kf.NSplits }

// Split implements Splitter.
func (kf *KFold) Split(d *dataset.Dataset) ([]Fold, error) {
	n, err := d.NumData()
	if err != nil {
		return nil, err
	}
	if n < kf.NSplits {
		return nil, errors.NewPreconditionErrorf("KFold.Split", "%d rows for %d folds", n, kf.NSplits)
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		shuffle(indices, kf.RandomSeed)
	}
	return foldsOf(chunk(indices, kf.NSplits), n), nil
}

// StratifiedKFold keeps the label distribution of each fold close to the
// whole Dataset's.
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed int
}

// NewStratifiedKFold creates a StratifiedKFold; fewer than two splits means five.
func NewStratifiedKFold(nSplits int, shuffle bool, seed int) *StratifiedKFold {
	if nSplits < 2 {
		nSplits = 5
	}
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, RandomSeed: seed}
}

// NumSplits returns the number of folds.
func (skf *StratifiedKFold) NumSplits() int { return skf.NSplits }

// Split implements Splitter.
func (skf *StratifiedKFold) Split(d *dataset.Dataset) ([]Fold, error) {
	label, err := d.Label()
	if err != nil {
		return nil, err
	}
	n := len(label)
	if n < skf.NSplits {
		return nil, errors.NewPreconditionErrorf("StratifiedKFold.Split", "%d rows for %d folds", n, skf.NSplits)
	}
	byClass := make(map[float64][]int)
	var classes []float64
	for i, y := range label {
		if _, ok := byClass[y]; !ok {
			classes = append(classes, y)
		}
		byClass[y] = append(byClass[y], i)
	}
	slices.Sort(classes)

	tests := make([][]int, skf.NSplits)
	for _, c := range classes {
		rows := byClass[c]
		if skf.Shuffle {
			shuffle(rows, skf.RandomSeed)
		}
		for f, part := range chunk(rows, skf.NSplits) {
			tests[f] = append(tests[f], part...)
		}
	}
	return foldsOf(tests, n), nil
}

// GroupKFold keeps every query group inside a single fold. It is used for
// ranking data, where a query split across folds would leak.
type GroupKFold struct {
	NSplits int
}

// NumSplits returns the number of folds.
func (gkf *GroupKFold) NumSplits() int { return gkf.NSplits }

// Split implements Splitter.
func (gkf *GroupKFold) Split(d *dataset.Dataset) ([]Fold, error) {
	const op = "GroupKFold.Split"
	if err := d.Construct(); err != nil {
		return nil, err
	}
	bounds := d.GroupBoundaries()
	if len(bounds) == 0 {
		return nil, errors.NewPreconditionError(op, "dataset has no query groups")
	}
	numGroups := len(bounds) - 1
	if numGroups < gkf.NSplits {
		return nil, errors.NewPreconditionErrorf(op, "%d groups for %d folds", numGroups, gkf.NSplits)
	}
	groups := make([]int, numGroups)
	for g := range groups {
		groups[g] = g
	}
	tests := make([][]int, gkf.NSplits)
	for f, part := range chunk(groups, gkf.NSplits) {
		for _, g := range part {
			for i := bounds[g]; i < bounds[g+1]; i++ {
				tests[f] = append(tests[f], i)
			}
		}
	}
	return foldsOf(tests, bounds[numGroups]), nil
}

func shuffle(indices []int, seed int) {
	r := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	r.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}

// chunk splits s into k contiguous parts whose sizes differ by at most one.
func chunk(s []int, k int) [][]int {
	out := make([][]int, k)
	size, rem := len(s)/k, len(s)%k
	pos := 0
	for i := range out {
		m := size
		if i < rem {
			m++
		}
		out[i] = s[pos : pos+m]
		pos += m
	}
	return out
}

// foldsOf builds folds from their test rows; everything else is training.
func foldsOf(tests [][]int, n int) []Fold {
	folds := make([]Fold, len(tests))
	for f, test := range tests {
		inTest := make([]bool, n)
		for _, i := range test {
			inTest[i] = true
		}
		train := make([]int, 0, n-len(test))
		for i := 0; i < n; i++ {
			if !inTest[i] {
				train = append(train, i)
			}
		}
		sorted := slices.Clone(test)
		slices.Sort(sorted)
		folds[f] = Fold{TrainIndices: train, TestIndices: sorted}
	}
	return folds
}

// CVResult holds per-round statistics of a metric across folds, keyed by
// metric name.
type CVResult struct {
	Mean          map[string][]float64
	Std           map[string][]float64
	Boosters      []*Booster
	BestIteration int
}

// CrossValidate trains one Booster per fold in lockstep and records the mean
// and standard deviation of every validation metric after each round. With
// early_stopping_round > 0 it stops once the mean of the first metric has not
// improved for that many rounds, and truncates the statistics to the best
// round.
func CrossValidate(ctx *config.Context, cfg *config.Config, data *dataset.Dataset, splitter Splitter) (res *CVResult, err error) {
	const op = "CrossValidate"
	defer errors.Recover(&err, op)
	if data == nil {
		return nil, errors.NewPreconditionError(op, "no data")
	}
	if ctx == nil {
		ctx = data.Context()
	}
	ctx = ctx.OrDefault()
	if cfg == nil {
		cfg = config.Default()
	}
	if !data.IsConstructed() {
		if err := data.SetParams(cfg); err != nil {
			return nil, err
		}
	}
	if err := data.Construct(); err != nil {
		return nil, err
	}
	folds, err := splitter.Split(data)
	if err != nil {
		return nil, err
	}
	logger := ctx.Logger("cv")

	boosters := make([]*Booster, len(folds))
	for f, fold := range folds {
		train, err := data.Subset(fold.TrainIndices)
		if err != nil {
			return nil, err
		}
		test, err := data.Subset(fold.TestIndices)
		if err != nil {
			return nil, err
		}
		b, err := NewBooster(ctx, cfg, train)
		if err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		if err := b.AddValid(test, "valid"); err != nil {
			return nil, errors.Wrapf(err, "fold %d", f)
		}
		boosters[f] = b
	}

	res = &CVResult{
		Mean:     make(map[string][]float64),
		Std:      make(map[string][]float64),
		Boosters: boosters,
	}
	es := NewEarlyStopping(cfg.EarlyStoppingRound)
	perFold := make([][]EvalResult, len(folds))
	for it := 0; it < cfg.NumIterations; it++ {
		finished := make([]bool, len(folds))
		err := parallel.ForEach(ctx.Workers(), len(folds), func(f int) error {
			done, err := boosters[f].Update()
			if err != nil {
				return errors.Wrapf(err, "fold %d", f)
			}
			finished[f] = done
			perFold[f], err = boosters[f].EvalValid()
			return err
		})
		if err != nil {
			return nil, err
		}
		if !slices.Contains(finished, false) {
			break
		}

		var first EvalResult
		for m, r := range perFold[0] {
			values := make([]float64, len(folds))
			for f := range folds {
				values[f] = perFold[f][m].Value
			}
			mean, std := stat.PopMeanStdDev(values, nil)
			res.Mean[r.MetricName] = append(res.Mean[r.MetricName], mean)
			res.Std[r.MetricName] = append(res.Std[r.MetricName], std)
			if m == 0 {
				first = EvalResult{DataName: "cv", MetricName: r.MetricName, Value: mean, HigherBetter: r.HigherBetter}
			}
		}
		if len(perFold[0]) > 0 {
			logger.Debug("CV round", log.IterationKey, it+1, log.MetricKey, first.MetricName, log.MetricValueKey, first.Value)
			if es.Update(it, first) {
				res.BestIteration = es.BestIteration + 1
				break
			}
		}
	}
	if res.BestIteration > 0 {
		for name := range res.Mean {
			res.Mean[name] = res.Mean[name][:res.BestIteration]
			res.Std[name] = res.Std[name][:res.BestIteration]
		}
		for _, b := range boosters {
			b.bestIteration = res.BestIteration
		}
	}
	logger.Info("Cross validation finished",
		"folds", len(folds),
		log.IterationKey, boosters[0].CurrentIteration(),
		"best_iteration", res.BestIteration,
	)
	return res, nil
}
