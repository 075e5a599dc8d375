package tree

import (
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

func testContext() *config.Context {
	return config.NewContext(
		config.WithThreads(1),
		config.WithLogger(log.NewLogger(io.Discard, log.LevelError)),
	)
}

// sampleTree splits feature 0 at 1.5, then the right side on feature 1 with
// NaN going left.
func sampleTree() *Tree {
	t := New(3)
	t.SetLeafOutput(0, 0.5)
	right := t.Split(0, Split{
		Feature: 0, Threshold: 1.5, Gain: 4,
		LeftOutput: -1, RightOutput: 1, LeftCount: 2, RightCount: 3,
		LeftWeight: 2, RightWeight: 3,
	})
	t.Split(right, Split{
		Feature: 1, Threshold: 0.25, Gain: 2,
		MissingType: dataset.MissingNaN, DefaultLeft: true,
		LeftOutput: 2, RightOutput: 3, LeftCount: 1, RightCount: 2,
		LeftWeight: 1, RightWeight: 2,
	})
	return t
}

func TestSplitAndPredict(t *testing.T) {
	tr := sampleTree()
	require.Equal(t, 3, tr.NumLeaves())
	assert.Equal(t, 2, tr.MaxDepth())
	assert.Equal(t, 1, tr.LeafParent(2))
	assert.Equal(t, 0, tr.LeafParent(0))

	tests := []struct {
		name string
		row  []float64
		want float64
	}{
		{"left", []float64{1, 100}, -1},
		{"threshold is inclusive", []float64{1.5, 100}, -1},
		{"right then left", []float64{2, 0.25}, 2},
		{"right then right", []float64{2, 1}, 3},
		{"nan takes default left", []float64{2, math.NaN()}, 2},
		{"nan without missing handling is zero", []float64{math.NaN(), 1}, -1},
		{"short row reads zeros", []float64{2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.Predict(tt.row))
		})
	}
}

func TestShrinkAndBias(t *testing.T) {
	tr := sampleTree()
	tr.Shrink(0.1)
	tr.AddBias(1)
	assert.InDelta(t, 0.9, tr.LeafOutput(0), 1e-12)
	assert.InDelta(t, 1.3, tr.LeafOutput(2), 1e-12)
	assert.InDelta(t, 0.1, tr.Shrinkage(), 1e-12)
	assert.InDelta(t, 1.05, tr.internalValue[0], 1e-12)
}

func TestMissingZero(t *testing.T) {
	tr := New(2)
	tr.Split(0, Split{
		Feature: 0, Threshold: -1, MissingType: dataset.MissingZero, DefaultLeft: true,
		LeftOutput: 1, RightOutput: 2,
	})
	assert.Equal(t, 1.0, tr.Predict([]float64{0}))
	assert.Equal(t, 1.0, tr.Predict([]float64{math.NaN()}))
	assert.Equal(t, 1.0, tr.Predict([]float64{-3}))
	assert.Equal(t, 2.0, tr.Predict([]float64{3}))
}

func TestCategoricalSplit(t *testing.T) {
	tr := New(2)
	tr.SplitCategorical(0, Split{Feature: 0, LeftOutput: 1, RightOutput: -1},
		NewBitset([]int{0}), NewBitset([]int{3, 40}))

	tests := []struct {
		v    float64
		want float64
	}{
		{3, 1},
		{40, 1},
		{4, -1},
		{-3, -1},
		{math.NaN(), -1},
		{1000, -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tr.Predict([]float64{tt.v}), "value %v", tt.v)
	}
	assert.True(t, tr.IsCategorical(0))
	assert.Equal(t, "3||40", tr.Structure().Threshold)
}

func TestBinnedTraversalMatchesRaw(t *testing.T) {
	rows := [][]float64{
		{0, 1}, {1, 2}, {2, 0}, {3, math.NaN()}, {4, 5},
		{1, 1}, {2, 2}, {3, 0}, {4, -1}, {0, 3},
	}
	src, err := dataset.FromRows(rows)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.MinDataInBin = 1
	ds := dataset.New(testContext(), src, dataset.WithParams(cfg), dataset.WithCategorical(0))
	require.NoError(t, ds.Construct())

	cat := ds.BinMapper(0)
	num := ds.BinMapper(1)

	// left: categories 1 and 3; then feature 1 at the bin holding 1.0
	tr := New(3)
	leftCats := []int{1, 3}
	var leftBins []int
	for _, c := range leftCats {
		leftBins = append(leftBins, int(cat.ValueToBin(float64(c))))
	}
	tr.SplitCategorical(0, Split{Feature: 0, LeftOutput: 1, RightOutput: 2},
		NewBitset(leftBins), NewBitset(leftCats))
	thr := num.ValueToBin(1)
	tr.Split(0, Split{
		Feature: 1, ThresholdBin: thr, Threshold: num.BinToValue(thr),
		MissingType: num.MissingType(), DefaultLeft: false,
		LeftOutput: 10, RightOutput: 20,
	})

	for i, row := range rows {
		assert.Equal(t, tr.LeafIndex(row), tr.LeafIndexBinned(ds, i), "row %d", i)
		assert.Equal(t, tr.Predict(row), tr.PredictBinned(ds, i), "row %d", i)
	}
}

func TestTextRoundTrip(t *testing.T) {
	tr := sampleTree()
	tr.SplitCategorical(0, Split{Feature: 2, LeftOutput: 7, RightOutput: 8, LeftCount: 1, RightCount: 1},
		NewBitset([]int{1}), NewBitset([]int{5, 9}))
	tr.Shrink(0.1)

	text := tr.ToString()
	back, err := Parse("Tree=0\n" + text)
	require.NoError(t, err)
	assert.Equal(t, text, back.ToString())

	rows := [][]float64{
		{1, 0, 5}, {1, 0, 6}, {2, 0.1, 9}, {2, math.NaN(), 0}, {5, 7, 5}, {math.NaN(), math.NaN(), math.NaN()},
	}
	for _, row := range rows {
		assert.Equal(t, tr.Predict(row), back.Predict(row))
	}
	assert.Equal(t, tr.MaxDepth(), back.MaxDepth())

	t.Run("single leaf", func(t *testing.T) {
		one := New(31)
		one.SetLeafOutput(0, 0.125)
		back, err := Parse(one.ToString())
		require.NoError(t, err)
		assert.Equal(t, 0.125, back.Predict(nil))
		assert.Equal(t, one.ToString(), back.ToString())
	})
}

func TestParseMalformed(t *testing.T) {
	good := sampleTree().ToString()
	tests := []struct {
		name  string
		block string
	}{
		{"empty", ""},
		{"missing leaf values", "num_leaves=1\nnum_cat=0\n"},
		{"bad count", "num_leaves=x\nnum_cat=0\n"},
		{"wrong length", "num_leaves=2\nnum_cat=0\nleaf_value=1\n"},
		{"bad child", replaceLine(good, "right_child", "right_child=-2 7")},
		{"bad float", replaceLine(good, "threshold", "threshold=abc 1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.block)
			require.Error(t, err)
			assert.True(t, errors.IsEngine(err))
		})
	}
}

func replaceLine(block, key, line string) string {
	lines := strings.Split(block, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, key+"=") {
			lines[i] = line
		}
	}
	return strings.Join(lines, "\n")
}

func TestPredictContrib(t *testing.T) {
	tr := sampleTree()
	assert.InDelta(t, 1.2, tr.ExpectedValue(), 1e-12)

	tests := []struct {
		name string
		row  []float64
		want []float64
	}{
		{"right right", []float64{2, 1}, []float64{23.0 / 15, 4.0 / 15, 1.2}},
		{"left", []float64{1, 100}, []float64{-2.3, 0.1, 1.2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phi := make([]float64, 3)
			tr.PredictContrib(tt.row, phi)
			assert.InDeltaSlice(t, tt.want, phi, 1e-12)
			assert.InDelta(t, tr.Predict(tt.row), phi[0]+phi[1]+phi[2], 1e-12)
		})
	}

	single := New(2)
	single.SetLeafOutput(0, 0.7)
	phi := make([]float64, 2)
	single.PredictContrib([]float64{5}, phi)
	assert.Equal(t, []float64{0, 0.7}, phi)
}
