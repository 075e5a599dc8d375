package boosting

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// noiseData has labels unrelated to the features, so validation loss gets
// worse once the trees start fitting noise.
func noiseData(n int, seed int64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 3, nil)
	label := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			X.Set(i, j, rng.NormFloat64())
		}
		label[i] = rng.NormFloat64()
	}
	return X, label
}

func regressionConfig() *config.Config {
	cfg := config.Default()
	cfg.NumLeaves = 16
	cfg.MinDataInLeaf = 3
	cfg.NumThreads = 2
	cfg.Verbose = 0
	return cfg
}

func TestTrainEarlyStopping(t *testing.T) {
	X, label := noiseData(300, 1)
	VX, vlabel := noiseData(150, 2)
	cfg := regressionConfig()
	cfg.NumIterations = 200
	cfg.LearningRate = 0.3
	cfg.EarlyStoppingRound = 5

	train := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))
	valid := train.CreateValid(dataset.FromMatrix(VX), dataset.WithLabel(vlabel))

	b, err := Train(testContext(), cfg, train, []ValidData{{Name: "valid", Data: valid}})
	require.NoError(t, err)

	require.Greater(t, b.BestIteration(), 0)
	assert.Less(t, b.CurrentIteration(), 200)
	assert.Equal(t, b.BestIteration()+5, b.CurrentIteration())

	history := b.EvalHistory()
	l2 := history["valid"]["l2"]
	require.Len(t, l2, b.CurrentIteration())
	best := l2[b.BestIteration()-1]
	for _, v := range l2 {
		assert.GreaterOrEqual(t, v, best)
	}
	assert.Len(t, history[TrainingDataName]["l2"], b.CurrentIteration())

	// prediction defaults to the best iteration
	def, err := b.Predict(VX)
	require.NoError(t, err)
	atBest, err := b.Predict(VX, WithNumIteration(b.BestIteration()))
	require.NoError(t, err)
	assert.True(t, mat.Equal(def, atBest))
}

func TestTrainCallbacks(t *testing.T) {
	X, label := binaryData(200, 20)
	cfg := binaryConfig()
	cfg.NumIterations = 12
	cfg.MetricFreq = 3
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))

	var seen []int
	record := func(env *CallbackEnv) error {
		if len(env.EvalResults) > 0 {
			seen = append(seen, env.Iteration+1)
		}
		return nil
	}
	prefix := filepath.Join(t.TempDir(), "model")
	b, err := Train(testContext(), cfg, ds, nil,
		record,
		LearningRateSchedule(0.5, 4),
		ModelCheckpoint(prefix, 6),
	)
	require.NoError(t, err)
	assert.Equal(t, 12, b.CurrentIteration())
	assert.Equal(t, []int{3, 6, 9, 12}, seen)
	assert.InDelta(t, 0.1*0.5*0.5, b.cfg.LearningRate, 1e-12)
	assert.Len(t, b.EvalHistory()[TrainingDataName]["binary_logloss"], 4)

	for _, it := range []int{6, 12} {
		_, err := os.Stat(prefix + "_iter_" + strconv.Itoa(it) + ".txt")
		assert.NoError(t, err)
	}

	stop := func(env *CallbackEnv) error {
		if env.Iteration == 4 && env.EvalResults != nil {
			env.StopTraining = true
		}
		return nil
	}
	b, err = Train(testContext(), cfg, ds, nil, stop)
	require.NoError(t, err)
	assert.Equal(t, 5, b.CurrentIteration())

	fail := func(env *CallbackEnv) error {
		return errors.New("callback failed")
	}
	_, err = Train(testContext(), cfg, ds, nil, fail)
	assert.Error(t, err)
}

func TestTimeLimit(t *testing.T) {
	X, label := binaryData(200, 21)
	cfg := binaryConfig()
	cfg.NumIterations = 50
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))

	b, err := Train(testContext(), cfg, ds, nil, TimeLimit(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, b.CurrentIteration())
}

func TestEarlyStopping(t *testing.T) {
	tests := []struct {
		name         string
		higherBetter bool
		values       []float64
		stopAt       int
		best         int
	}{
		{"loss", false, []float64{0.5, 0.4, 0.45, 0.41, 0.42}, 4, 1},
		{"score", true, []float64{0.6, 0.7, 0.8, 0.75, 0.79, 0.7}, 5, 2},
		{"never", false, []float64{0.5, 0.4, 0.3, 0.2}, -1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := NewEarlyStopping(3)
			stopped := -1
			for i, v := range tt.values {
				if es.Update(i, EvalResult{MetricName: "m", Value: v, HigherBetter: tt.higherBetter}) {
					stopped = i
					break
				}
			}
			assert.Equal(t, tt.stopAt, stopped)
			assert.Equal(t, tt.best, es.BestIteration)
			assert.Equal(t, tt.values[tt.best], es.BestScore)
		})
	}

	disabled := NewEarlyStopping(0)
	assert.False(t, disabled.Update(0, EvalResult{Value: 1}))
	assert.False(t, disabled.ShouldStop())
}

func TestSplitters(t *testing.T) {
	X, label := binaryData(103, 22)
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithLabel(label))
	require.NoError(t, ds.Construct())

	check := func(t *testing.T, folds []Fold, n int) {
		t.Helper()
		covered := make([]int, n)
		for _, f := range folds {
			assert.Equal(t, n, len(f.TrainIndices)+len(f.TestIndices))
			for _, i := range f.TestIndices {
				covered[i]++
			}
		}
		for i, c := range covered {
			assert.Equal(t, 1, c, "row %d", i)
		}
	}

	t.Run("kfold", func(t *testing.T) {
		folds, err := NewKFold(4, true, 7).Split(ds)
		require.NoError(t, err)
		require.Len(t, folds, 4)
		check(t, folds, 103)
		assert.Len(t, folds[0].TestIndices, 26)
		assert.Len(t, folds[3].TestIndices, 25)
	})

	t.Run("stratified", func(t *testing.T) {
		folds, err := NewStratifiedKFold(3, false, 0).Split(ds)
		require.NoError(t, err)
		check(t, folds, 103)
		positives := 0
		for _, y := range label {
			positives += int(y)
		}
		for _, f := range folds {
			p := 0
			for _, i := range f.TestIndices {
				p += int(label[i])
			}
			assert.InDelta(t, float64(positives)/3, float64(p), 1)
		}
	})

	t.Run("groups", func(t *testing.T) {
		sizes := []int{10, 20, 30, 43}
		grouped := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithLabel(label), dataset.WithGroup(sizes))
		folds, err := (&GroupKFold{NSplits: 2}).Split(grouped)
		require.NoError(t, err)
		check(t, folds, 103)
		assert.Len(t, folds[0].TestIndices, 30)
		assert.Len(t, folds[1].TestIndices, 73)

		_, err = (&GroupKFold{NSplits: 2}).Split(ds)
		assert.True(t, errors.IsPrecondition(err))
	})

	t.Run("too few rows", func(t *testing.T) {
		small := dataset.New(testContext(), dataset.FromMatrix(X.Slice(0, 2, 0, 5)), dataset.WithLabel(label[:2]))
		require.NoError(t, small.Construct())
		_, err := NewKFold(3, false, 0).Split(small)
		assert.True(t, errors.IsPrecondition(err))
	})
}

func TestCrossValidate(t *testing.T) {
	X, label := binaryData(300, 23)
	cfg := binaryConfig()
	cfg.NumIterations = 10
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))

	res, err := CrossValidate(testContext(), cfg, ds, NewStratifiedKFold(3, true, 1))
	require.NoError(t, err)
	require.Len(t, res.Boosters, 3)
	mean := res.Mean["binary_logloss"]
	std := res.Std["binary_logloss"]
	require.Len(t, mean, 10)
	require.Len(t, std, 10)
	assert.Less(t, mean[9], mean[0])
	for _, s := range std {
		assert.GreaterOrEqual(t, s, 0.0)
	}
	for _, b := range res.Boosters {
		assert.Equal(t, 10, b.CurrentIteration())
	}
	assert.Zero(t, res.BestIteration)
}

func TestCrossValidateEarlyStopping(t *testing.T) {
	X, label := noiseData(300, 24)
	cfg := regressionConfig()
	cfg.NumIterations = 200
	cfg.LearningRate = 0.3
	cfg.EarlyStoppingRound = 5
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))

	res, err := CrossValidate(testContext(), cfg, ds, NewKFold(3, false, 0))
	require.NoError(t, err)
	require.Greater(t, res.BestIteration, 0)
	assert.Len(t, res.Mean["l2"], res.BestIteration)
	for _, b := range res.Boosters {
		assert.Equal(t, res.BestIteration, b.BestIteration())
		assert.Equal(t, res.BestIteration+5, b.CurrentIteration())
	}
}
