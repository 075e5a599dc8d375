package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

func sigmoid(raw, out []float64) { out[0] = 1 / (1 + math.Exp(-raw[0])) }

func softmax(raw, out []float64) {
	sum := 0.0
	for i, v := range raw {
		out[i] = math.Exp(v)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}

func evalMetric(t *testing.T, name string, cfg *config.Config, meta Metadata, score []float64, conv Converter) []float64 {
	t.Helper()
	m, err := New(name, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Init(meta))
	return m.Eval(score, conv)
}

func TestRegressionMetrics(t *testing.T) {
	cfg := config.Default()
	meta := Metadata{Label: []float64{1, 2, 3}}
	score := []float64{1, 2, 5}

	tests := []struct {
		name string
		want float64
	}{
		{"l2", 4.0 / 3},
		{"mse", 4.0 / 3},
		{"rmse", math.Sqrt(4.0 / 3)},
		{"l1", 2.0 / 3},
		{"huber", (0.9 * (2 - 0.45)) / 3},
		{"quantile", (0.1 * 2) / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evalMetric(t, tt.name, cfg, meta, score, nil)
			assert.InDelta(t, tt.want, got[0], 1e-12)
		})
	}

	t.Run("weights", func(t *testing.T) {
		got := evalMetric(t, "l2", cfg, Metadata{Label: meta.Label, Weight: []float64{1, 1, 2}}, score, nil)
		assert.InDelta(t, 2.0, got[0], 1e-12)
	})

	t.Run("poisson uses converted scores", func(t *testing.T) {
		exp := func(raw, out []float64) { out[0] = math.Exp(raw[0]) }
		got := evalMetric(t, "poisson", cfg, Metadata{Label: []float64{1}}, []float64{0}, exp)
		assert.InDelta(t, 1.0, got[0], 1e-12)
	})
}

func TestBinaryMetrics(t *testing.T) {
	cfg := config.Default()

	got := evalMetric(t, "binary_logloss", cfg, Metadata{Label: []float64{0, 1}}, []float64{0, 0}, sigmoid)
	assert.InDelta(t, math.Ln2, got[0], 1e-12)

	got = evalMetric(t, "binary_error", cfg, Metadata{Label: []float64{0, 1}}, []float64{-1, 1}, sigmoid)
	assert.Equal(t, 0.0, got[0])
	got = evalMetric(t, "binary_error", cfg, Metadata{Label: []float64{1, 0}}, []float64{-1, 1}, sigmoid)
	assert.Equal(t, 1.0, got[0])

	m, err := New("binary", cfg)
	require.NoError(t, err)
	err = m.Init(Metadata{Label: []float64{0, 2}})
	assert.True(t, errors.IsEngine(err))
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{name: "Perfect classifier", yTrue: []float64{0, 0, 0, 1, 1, 1}, yPred: []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9}, want: 1.0},
		{name: "Worst classifier", yTrue: []float64{0, 0, 0, 1, 1, 1}, yPred: []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1}, want: 0.0},
		{name: "Random classifier", yTrue: []float64{0, 1, 0, 1}, yPred: []float64{0.5, 0.5, 0.5, 0.5}, want: 0.5},
		{name: "Typical case", yTrue: []float64{0, 0, 1, 1}, yPred: []float64{0.1, 0.4, 0.35, 0.8}, want: 0.75},
		{name: "All positive labels", yTrue: []float64{1, 1, 1, 1}, yPred: []float64{0.1, 0.4, 0.35, 0.8}, want: 0.5},
		{name: "All negative labels", yTrue: []float64{0, 0, 0, 0}, yPred: []float64{0.1, 0.4, 0.35, 0.8}, want: 0.5},
		{name: "Non-binary labels", yTrue: []float64{0, 0.5, 1}, yPred: []float64{0.1, 0.5, 0.9}, wantErr: true},
		{name: "Empty vectors", yTrue: []float64{}, yPred: []float64{}, wantErr: true},
	}

	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New("auc", config.Default())
			require.NoError(t, err)
			err = m.Init(Metadata{Label: tt.yTrue})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, m.HigherBetter())
			assert.InDelta(t, tt.want, m.Eval(tt.yPred, nil)[0], 1e-6)
		})
	}
	assert.Len(t, warnings, 2)
}

func TestMulticlassMetrics(t *testing.T) {
	cfg := config.Default()
	cfg.Objective = "multiclass"
	cfg.NumClass = 3
	meta := Metadata{Label: []float64{0, 2}}

	got := evalMetric(t, "multi_logloss", cfg, meta, make([]float64, 6), softmax)
	assert.InDelta(t, math.Log(3), got[0], 1e-12)

	got = evalMetric(t, "multi_error", cfg, meta, make([]float64, 6), softmax)
	assert.Equal(t, 1.0, got[0], "ties count as errors")

	// class-major: row 0 favours class 0, row 1 favours class 2
	score := []float64{5, 0, 0, 0, 0, 5}
	got = evalMetric(t, "multi_error", cfg, meta, score, softmax)
	assert.Equal(t, 0.0, got[0])
}

func TestRankingMetrics(t *testing.T) {
	cfg := config.Default()
	meta := Metadata{
		Label:           []float64{0, 1, 2, 0, 0},
		GroupBoundaries: []int{0, 3, 5},
	}

	t.Run("ndcg", func(t *testing.T) {
		m, err := New("ndcg@1,3", cfg)
		require.NoError(t, err)
		require.NoError(t, m.Init(meta))
		assert.Equal(t, []string{"ndcg@1", "ndcg@3"}, m.Names())

		worst := m.Eval([]float64{3, 2, 1, 0, 0}, nil)
		maxDCG := 3 + 1/math.Log2(3)
		dcg := 1/math.Log2(3) + 3.0/2
		// the all-zero second query counts as a perfect ranking
		assert.InDelta(t, (0+1)/2.0, worst[0], 1e-12)
		assert.InDelta(t, (dcg/maxDCG+1)/2, worst[1], 1e-12)

		best := m.Eval([]float64{1, 2, 3, 0, 0}, nil)
		assert.InDelta(t, 1.0, best[0], 1e-12)
		assert.InDelta(t, 1.0, best[1], 1e-12)
	})

	t.Run("map", func(t *testing.T) {
		got := evalMetric(t, "map@3", cfg, Metadata{Label: []float64{1, 0, 1}, GroupBoundaries: []int{0, 3}}, []float64{3, 2, 1}, nil)
		assert.InDelta(t, (1+2.0/3)/2, got[0], 1e-12)
	})

	t.Run("missing groups", func(t *testing.T) {
		m, err := New("ndcg", cfg)
		require.NoError(t, err)
		assert.True(t, errors.IsEngine(m.Init(Metadata{Label: []float64{1}})))
	})
}

func TestForConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Objective = "binary"
	ms, err := ForConfig(cfg)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, []string{"binary_logloss"}, ms[0].Names())

	cfg.Metric = []string{"None"}
	ms, err = ForConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, ms)

	cfg.Metric = []string{"l2", "mse", "auc"}
	ms, err = ForConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	cfg.Metric = []string{"nope"}
	_, err = ForConfig(cfg)
	assert.True(t, errors.IsEngine(err))
	assert.True(t, errors.IsConfig(err))

	_, err = New("nope@3", cfg)
	assert.True(t, errors.IsEngine(err))
}

func TestDCGHelpers(t *testing.T) {
	gain := DefaultLabelGain()
	assert.Equal(t, 0.0, gain[0])
	assert.Equal(t, 3.0, gain[2])
	assert.Equal(t, 1.0, Discount(0))
	assert.InDelta(t, 3+1/math.Log2(3), MaxDCGAtK(5, []float64{0, 1, 2}, gain), 1e-12)
	assert.Equal(t, []int{2, 0, 1}, SortByScore([]float64{1, 0, 5}))
	assert.Error(t, CheckRankLabels("ndcg", []float64{1.5}, gain))
}
