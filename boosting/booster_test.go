package boosting

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

func testContext() *config.Context {
	return config.NewContext(
		config.WithThreads(2),
		config.WithLogger(log.NewLogger(io.Discard, log.LevelError)),
	)
}

func binaryConfig() *config.Config {
	cfg := config.Default()
	cfg.Objective = "binary"
	cfg.NumLeaves = 8
	cfg.MinDataInLeaf = 5
	cfg.LearningRate = 0.1
	cfg.NumThreads = 2
	cfg.Verbose = 0
	return cfg
}

// binaryData has five features; columns 1 and 3 are always zero and the
// label depends on columns 0 and 2 only.
func binaryData(n int, seed int64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 5, nil)
	label := make([]float64, n)
	for i := 0; i < n; i++ {
		x0, x2, x4 := rng.NormFloat64(), rng.NormFloat64(), rng.Float64()
		X.Set(i, 0, x0)
		X.Set(i, 2, x2)
		X.Set(i, 4, x4)
		if x0+0.5*x2 > 0 {
			label[i] = 1
		}
	}
	return X, label
}

func featureNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "f" + strconv.Itoa(i)
	}
	return out
}

func trainBinary(t *testing.T, X *mat.Dense, label []float64, rounds int) *Booster {
	t.Helper()
	cfg := binaryConfig()
	ds := dataset.New(testContext(), dataset.FromMatrix(X),
		dataset.WithParams(cfg), dataset.WithLabel(label), dataset.WithFeatureNames(featureNames(5)))
	b, err := NewBooster(testContext(), cfg, ds)
	require.NoError(t, err)
	for i := 0; i < rounds; i++ {
		finished, err := b.Update()
		require.NoError(t, err)
		require.False(t, finished)
	}
	return b
}

func writeLibSVM(t *testing.T, X *mat.Dense, label []float64) string {
	t.Helper()
	var sb strings.Builder
	rows, cols := X.Dims()
	for i := 0; i < rows; i++ {
		sb.WriteString(strconv.FormatFloat(label[i], 'g', -1, 64))
		for j := 0; j < cols; j++ {
			if v := X.At(i, j); v != 0 {
				fmt.Fprintf(&sb, " %d:%s", j, strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "data.svm")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestBinaryTrainingBookkeeping(t *testing.T) {
	X, label := binaryData(500, 1)
	b := trainBinary(t, X, label, 30)

	assert.Equal(t, 30, b.CurrentIteration())
	assert.Equal(t, 30, b.NumTrees())
	assert.Equal(t, 1, b.NumModelPerIteration())
	assert.Equal(t, 5, b.NumFeatures())

	results, err := b.EvalTrain()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "binary_logloss", results[0].MetricName)
	assert.Equal(t, TrainingDataName, results[0].DataName)
	assert.Less(t, results[0].Value, math.Log(2))
}

func TestPredictionsAgreeAcrossInputs(t *testing.T) {
	X, label := binaryData(300, 2)
	b := trainBinary(t, X, label, 20)

	fromMatrix, err := b.Predict(X)
	require.NoError(t, err)

	rows := make([][]float64, 300)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}
	fromRows, err := b.PredictRows(rows)
	require.NoError(t, err)
	assert.True(t, mat.Equal(fromMatrix, fromRows))

	fromFile, err := b.PredictFile(writeLibSVM(t, X, label))
	require.NoError(t, err)
	assert.True(t, mat.Equal(fromMatrix, fromFile))

	for i := 0; i < 300; i++ {
		p := fromMatrix.At(i, 0)
		assert.True(t, p > 0 && p < 1, "probability out of range at row %d: %v", i, p)
	}

	_, err = b.Predict(mat.NewDense(2, 4, nil))
	assert.True(t, errors.IsPrecondition(err))
}

func TestModelTextRoundTrip(t *testing.T) {
	X, label := binaryData(400, 3)
	b := trainBinary(t, X, label, 15)
	path := filepath.Join(t.TempDir(), "model.txt")
	require.NoError(t, b.SaveModel(path, 0, 0))

	loaded, err := LoadModelFromFile(testContext(), path)
	require.NoError(t, err)
	assert.Equal(t, b.NumTrees(), loaded.NumTrees())
	assert.Equal(t, b.FeatureNames(), loaded.FeatureNames())

	want, err := b.Predict(X, WithRawScore())
	require.NoError(t, err)
	got, err := loaded.Predict(X, WithRawScore())
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(data), loaded.ModelToString(0, 0))
	assert.Equal(t, b.ModelToString(0, 0), loaded.ModelToString(0, 0))

	_, err = loaded.Update()
	assert.True(t, errors.IsPrecondition(err))
	assert.True(t, errors.IsPrecondition(loaded.AddValid(nil, "valid")))
}

func TestModelTextLayout(t *testing.T) {
	X, label := binaryData(200, 4)
	b := trainBinary(t, X, label, 3)
	text := b.ModelToString(0, 0)

	assert.True(t, strings.HasPrefix(text, "tree\nversion=v3\nnum_class=1\nnum_tree_per_iteration=1\nlabel_index=0\nmax_feature_idx=4\n"))
	assert.Contains(t, text, "\nfeature_names=f0 f1 f2 f3 f4\n")
	assert.Contains(t, text, "\nTree=0\n")
	assert.Contains(t, text, "\nTree=2\n")
	assert.NotContains(t, text, "\nTree=3\n")
	assert.Contains(t, text, "end of trees\n\nfeature_importances:\n")
	assert.Contains(t, text, "\nparameters:\n[objective: binary]\n")
	assert.True(t, strings.HasSuffix(text, "end of parameters\n"))

	partial := b.ModelToString(1, 1)
	assert.Contains(t, partial, "\nTree=0\n")
	assert.NotContains(t, partial, "\nTree=1\n")

	loaded, err := LoadModelFromString(testContext(), partial)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.NumTrees())
}

func TestLoadMalformedModel(t *testing.T) {
	X, label := binaryData(200, 5)
	text := trainBinary(t, X, label, 2).ModelToString(0, 0)

	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no header", "garbage\n"},
		{"missing num_class", strings.Replace(text, "num_class=1\n", "", 1)},
		{"bad objective", strings.Replace(text, "objective=binary", "objective=unknown", 1)},
		{"feature count", strings.Replace(text, "max_feature_idx=4", "max_feature_idx=7", 1)},
		{"no end of trees", strings.Replace(text, "end of trees", "", 1)},
		{"tree index", strings.Replace(text, "Tree=1\n", "Tree=5\n", 1)},
		{"broken tree", strings.Replace(text, "num_leaves=", "num_leaves=x", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadModelFromString(testContext(), tt.text)
			require.Error(t, err)
			assert.True(t, errors.IsEngine(err), "got %v", err)
		})
	}
}

// separableData puts one feature on six well separated values, so every tree
// adds to a row's score with the sign of its label.
func separableData(n int) (*mat.Dense, []float64) {
	values := []float64{-3, -2, -1, 1, 2, 3}
	X := mat.NewDense(n, 1, nil)
	label := make([]float64, n)
	for i := 0; i < n; i++ {
		v := values[i%len(values)]
		X.Set(i, 0, v)
		if v > 0 {
			label[i] = 1
		}
	}
	return X, label
}

func TestPredictionEarlyStopping(t *testing.T) {
	X, label := separableData(300)
	cfg := binaryConfig()
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))
	b, err := NewBooster(testContext(), cfg, ds)
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := b.Update()
		require.NoError(t, err)
	}

	full, err := b.Predict(X, WithRawScore())
	require.NoError(t, err)
	fullClass := PredictClass(full, 0)

	tests := []struct {
		name    string
		margin  float64
		changed bool
	}{
		{"decisive margin", 1.5, true},
		{"tiny margin", 1e-9, true},
		{"unreachable margin", 1e9, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stopped, err := b.Predict(X, WithRawScore(), WithEarlyStopping(5, tt.margin))
			require.NoError(t, err)
			assert.Equal(t, fullClass, PredictClass(stopped, 0))
			for i := 0; i < 300; i++ {
				assert.Equal(t, math.Signbit(full.At(i, 0)), math.Signbit(stopped.At(i, 0)), "row %d", i)
			}
			assert.Equal(t, tt.changed, !mat.Equal(full, stopped))
		})
	}

	t.Run("converted output", func(t *testing.T) {
		prob, err := b.Predict(X)
		require.NoError(t, err)
		stopped, err := b.Predict(X, WithEarlyStopping(5, 1.5))
		require.NoError(t, err)
		assert.Equal(t, PredictClass(prob, 0.5), PredictClass(stopped, 0.5))
	})

	_, err = b.Predict(X, WithEarlyStopping(0, 1))
	assert.True(t, errors.IsConfig(err))
}

func TestEarlyStoppedModelRoundTrip(t *testing.T) {
	X, label := binaryData(300, 16)
	inverted := make([]float64, len(label))
	for i, v := range label {
		inverted[i] = 1 - v
	}
	cfg := binaryConfig()
	cfg.NumIterations = 50
	cfg.EarlyStoppingRound = 3
	train := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))
	// every round that fits the training labels worsens the inverted ones
	valid := train.CreateValid(dataset.FromMatrix(X), dataset.WithLabel(inverted))

	b, err := Train(testContext(), cfg, train, []ValidData{{Name: "valid", Data: valid}})
	require.NoError(t, err)
	require.Positive(t, b.BestIteration())
	require.Greater(t, b.CurrentIteration(), b.BestIteration())

	want, err := b.Predict(X, WithRawScore())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.txt")
	require.NoError(t, b.SaveModel(path, 0, 0))
	loaded, err := LoadModelFromFile(testContext(), path)
	require.NoError(t, err)
	assert.Equal(t, b.BestIteration(), loaded.CurrentIteration())

	got, err := loaded.Predict(X, WithRawScore())
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))

	all := b.ModelToString(0, b.CurrentIteration())
	assert.Contains(t, all, "\nTree="+strconv.Itoa(b.CurrentIteration()-1)+"\n")
}

func TestBoosterParamsBinUnconstructedData(t *testing.T) {
	X, label := binaryData(400, 17)
	cfg := binaryConfig()
	cfg.MaxBin = 4
	cfg.MonotoneConstraints = []int{-1, 0, 0, 0, 0}
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithLabel(label))

	b, err := NewBooster(testContext(), cfg, ds)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := b.Update()
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, ds.BinMapper(0).NumBin(), 5)
	mc, err := ds.MonotoneConstraints()
	require.NoError(t, err)
	assert.Equal(t, cfg.MonotoneConstraints, mc)
	assert.Contains(t, b.ModelToString(0, 0), "\nmonotone_constraints=-1 0 0 0 0\n")

	prev := math.Inf(1)
	for x0 := -3.0; x0 <= 3.0; x0 += 0.05 {
		raw, err := b.Predict(mat.NewDense(1, 5, []float64{x0, 0, 0.3, 0, 0.5}), WithRawScore())
		require.NoError(t, err)
		assert.LessOrEqual(t, raw.At(0, 0), prev+1e-12, "x0=%v", x0)
		prev = raw.At(0, 0)
	}

	VX, vlabel := binaryData(100, 18)
	valid := dataset.New(testContext(), dataset.FromMatrix(VX), dataset.WithLabel(vlabel))
	require.NoError(t, b.AddValid(valid, "valid"))
	assert.Equal(t, cfg.MaxBin, valid.Params().MaxBin)

	constructed := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithLabel(label))
	require.NoError(t, constructed.Construct())
	assert.True(t, errors.IsPrecondition(constructed.SetParams(cfg)))
}

func TestMergedDatasetsGiveIdenticalModels(t *testing.T) {
	X, label := binaryData(300, 7)
	allNames := featureNames(5)
	cfg := binaryConfig()

	train := func(ds *dataset.Dataset) string {
		b, err := NewBooster(testContext(), cfg, ds)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			_, err := b.Update()
			require.NoError(t, err)
		}
		return b.ModelToString(0, 0)
	}

	direct := dataset.New(testContext(), dataset.FromMatrix(X),
		dataset.WithParams(cfg), dataset.WithLabel(label), dataset.WithFeatureNames(allNames))
	want := train(direct)

	for j := 1; j < 5; j++ {
		t.Run(fmt.Sprintf("split at %d", j), func(t *testing.T) {
			d1 := dataset.New(testContext(), dataset.FromMatrix(X.Slice(0, 300, 0, j)),
				dataset.WithParams(cfg), dataset.WithLabel(label), dataset.WithFeatureNames(allNames[:j]))
			d2 := dataset.New(testContext(), dataset.FromMatrix(X.Slice(0, 300, j, 5)),
				dataset.WithParams(cfg), dataset.WithFeatureNames(allNames[j:]))
			require.NoError(t, d1.Construct())
			require.NoError(t, d2.Construct())
			require.NoError(t, d1.AddFeaturesFrom(d2))
			assert.Equal(t, want, train(d1))
		})
	}
}

func TestChunkedTrainingMatchesSingleMatrix(t *testing.T) {
	X, label := binaryData(240, 8)
	cfg := binaryConfig()

	single := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))
	b1, err := NewBooster(testContext(), cfg, single)
	require.NoError(t, err)

	src, err := dataset.FromChunks([]mat.Matrix{X.Slice(0, 100, 0, 5), X.Slice(100, 240, 0, 5)})
	require.NoError(t, err)
	chunked := dataset.New(testContext(), src, dataset.WithParams(cfg), dataset.WithLabel(label))
	b2, err := NewBooster(testContext(), cfg, chunked)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		_, err := b1.Update()
		require.NoError(t, err)
		_, err = b2.Update()
		require.NoError(t, err)
	}
	assert.Equal(t, b1.ModelToString(0, 0), b2.ModelToString(0, 0))
}

func TestValidation(t *testing.T) {
	X, label := binaryData(400, 9)
	cfg := binaryConfig()
	cfg.Metric = []string{"binary_logloss", "auc"}
	train := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))

	VX, vlabel := binaryData(200, 10)
	valid := train.CreateValid(dataset.FromMatrix(VX), dataset.WithLabel(vlabel))

	b, err := NewBooster(testContext(), cfg, train)
	require.NoError(t, err)
	require.NoError(t, b.AddValid(valid, "valid_0"))
	for i := 0; i < 10; i++ {
		_, err := b.Update()
		require.NoError(t, err)
	}
	results, err := b.EvalValid()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "valid_0", results[0].DataName)
	assert.Equal(t, "auc", results[1].MetricName)
	assert.True(t, results[1].HigherBetter)
	assert.Greater(t, results[1].Value, 0.9)

	// the lazily updated scores match a direct prediction
	pred, err := b.Predict(VX, WithRawScore())
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		assert.InDelta(t, pred.At(i, 0), b.valids[0].score[i], 1e-9)
	}
}

func TestValidationFeatureMismatch(t *testing.T) {
	X, label := binaryData(200, 11)
	cfg := binaryConfig()
	train := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))

	var scaled mat.Dense
	scaled.Scale(10, X)
	other := dataset.New(testContext(), dataset.FromMatrix(&scaled), dataset.WithParams(cfg), dataset.WithLabel(label))

	b, err := NewBooster(testContext(), cfg, train)
	require.NoError(t, err)
	require.NoError(t, b.AddValid(other, "other"))
	_, err = b.Update()
	require.NoError(t, err)

	_, err = b.EvalValid()
	require.Error(t, err)
	assert.True(t, errors.IsEngine(err))
}

func TestRollbackOneIter(t *testing.T) {
	X, label := binaryData(300, 12)
	b := trainBinary(t, X, label, 5)
	before, err := b.EvalTrain()
	require.NoError(t, err)
	text := b.ModelToString(0, 0)

	_, err = b.Update()
	require.NoError(t, err)
	require.NoError(t, b.RollbackOneIter())

	after, err := b.EvalTrain()
	require.NoError(t, err)
	assert.Equal(t, 5, b.CurrentIteration())
	assert.InDelta(t, before[0].Value, after[0].Value, 1e-12)
	assert.Equal(t, text, b.ModelToString(0, 0))
}

func TestFeatureImportance(t *testing.T) {
	X, label := binaryData(400, 13)
	b := trainBinary(t, X, label, 10)

	split := b.FeatureImportance(ImportanceSplit, 0)
	gain := b.FeatureImportance(ImportanceGain, 0)
	require.Len(t, split, 5)
	assert.Zero(t, split[1])
	assert.Zero(t, split[3])
	assert.Zero(t, gain[1])
	assert.Greater(t, gain[0], gain[4])

	total := 0.0
	for i := 0; i < b.NumTrees(); i++ {
		total += float64(b.Tree(i).NumLeaves() - 1)
	}
	sum := 0.0
	for _, v := range split {
		sum += v
	}
	assert.Equal(t, total, sum)

	first := b.FeatureImportance(ImportanceSplit, 1)
	sum = 0
	for _, v := range first {
		sum += v
	}
	assert.Equal(t, float64(b.Tree(0).NumLeaves()-1), sum)
}

func TestDumpModel(t *testing.T) {
	X, label := binaryData(200, 14)
	b := trainBinary(t, X, label, 4)

	out, err := b.DumpModel(0, 0)
	require.NoError(t, err)
	var dump ModelDump
	require.NoError(t, json.Unmarshal(out, &dump))
	assert.Equal(t, "tree", dump.Name)
	assert.Equal(t, 4, dump.MaxFeatureIdx)
	assert.True(t, strings.HasPrefix(dump.Objective, "binary"))
	require.Len(t, dump.TreeInfo, 4)
	for i, td := range dump.TreeInfo {
		assert.Equal(t, i, td.TreeIndex)
		assert.Equal(t, b.Tree(i).NumLeaves(), td.NumLeaves)
		require.NotNil(t, td.TreeStructure)
	}
	assert.NotContains(t, dump.FeatureImportances, "f1")
}

func TestMulticlass(t *testing.T) {
	rng := rand.New(rand.NewSource(15))
	n := 300
	X := mat.NewDense(n, 2, nil)
	label := make([]float64, n)
	for i := 0; i < n; i++ {
		c := i % 3
		X.Set(i, 0, float64(c)*3+rng.NormFloat64()*0.5)
		X.Set(i, 1, rng.NormFloat64())
		label[i] = float64(c)
	}
	cfg := config.Default()
	cfg.Objective = "multiclass"
	cfg.NumClass = 3
	cfg.NumIterations = 10
	cfg.MinDataInLeaf = 5
	cfg.Verbose = 0
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))

	b, err := Train(testContext(), cfg, ds, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, b.CurrentIteration())
	assert.Equal(t, 30, b.NumTrees())
	assert.Equal(t, 3, b.NumModelPerIteration())

	pred, err := b.Predict(X)
	require.NoError(t, err)
	rows, cols := pred.Dims()
	require.Equal(t, n, rows)
	require.Equal(t, 3, cols)
	correct := 0
	for i, c := range PredictClass(pred, 0.5) {
		assert.InDelta(t, 1.0, mat.Sum(pred.RowView(i)), 1e-9)
		if float64(c) == label[i] {
			correct++
		}
	}
	assert.Greater(t, correct, 270)

	loaded, err := LoadModelFromString(testContext(), b.ModelToString(0, 0))
	require.NoError(t, err)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pred, got))
}

func TestFirstRoundWithoutSplitKeepsConstantTrees(t *testing.T) {
	n := 50
	X := mat.NewDense(n, 1, nil)
	label := make([]float64, n)
	for i := range label {
		X.Set(i, 0, 1)
		label[i] = 2.5
	}
	cfg := config.Default()
	cfg.Verbose = 0
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(label))
	b, err := NewBooster(testContext(), cfg, ds)
	require.NoError(t, err)

	finished, err := b.Update()
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 1, b.CurrentIteration())

	finished, err = b.Update()
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, 1, b.CurrentIteration())

	pred, err := b.Predict(X)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, pred.At(0, 0), 1e-12)
}

func TestNewBoosterErrors(t *testing.T) {
	_, err := NewBooster(testContext(), config.Default(), nil)
	assert.True(t, errors.IsPrecondition(err))

	X, label := binaryData(50, 16)
	cfg := binaryConfig()
	cfg.NumLeaves = 1
	ds := dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithLabel(label))
	_, err = NewBooster(testContext(), cfg, ds)
	assert.True(t, errors.IsConfig(err))

	cfg = binaryConfig()
	ds = dataset.New(testContext(), dataset.FromMatrix(X), dataset.WithLabel(label), dataset.WithInitScore([]float64{1, 2}))
	_, err = NewBooster(testContext(), cfg, ds)
	assert.Error(t, err)

	b := trainBinary(t, X, label, 1)
	assert.True(t, errors.IsConfig(b.SetLearningRate(0)))
}
