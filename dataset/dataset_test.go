package dataset

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

func testContext() *config.Context {
	return config.NewContext(
		config.WithThreads(2),
		config.WithLogger(log.NewLogger(io.Discard, log.LevelError)),
	)
}

func randomMatrix(rows, cols int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			switch {
			case rng.Float64() < 0.1:
				X.Set(i, j, 0)
			case rng.Float64() < 0.05:
				X.Set(i, j, math.NaN())
			default:
				X.Set(i, j, rng.NormFloat64()*float64(j+1))
			}
		}
	}
	return X
}

func names(prefix string, from, to int) []string {
	out := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, fmt.Sprintf("%s_%d", prefix, i))
	}
	return out
}

func dumpString(t *testing.T, d *Dataset) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, d.WriteText(&buf))
	return buf.String()
}

func TestAccessorsBeforeConstruct(t *testing.T) {
	ds := New(testContext(), FromMatrix(randomMatrix(10, 2, 1)))

	_, err := ds.NumData()
	assert.True(t, errors.IsPrecondition(err))
	_, err = ds.Label()
	assert.True(t, errors.IsPrecondition(err))
	_, err = ds.Group()
	assert.True(t, errors.IsPrecondition(err))
	_, err = ds.FeaturePenalty()
	assert.True(t, errors.IsPrecondition(err))
	assert.True(t, errors.IsPrecondition(ds.WriteText(io.Discard)))

	require.NoError(t, ds.Construct())
	n, err := ds.NumData()
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	fnames, err := ds.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"Column_0", "Column_1"}, fnames)
}

func TestConstructFailureLeavesDatasetUnconstructed(t *testing.T) {
	ds := New(testContext(), FromMatrix(randomMatrix(10, 2, 1)), WithLabel(make([]float64, 9)))

	err := ds.Construct()
	require.Error(t, err)
	assert.True(t, errors.IsPrecondition(err))
	assert.False(t, ds.IsConstructed())

	require.NoError(t, ds.SetLabel(make([]float64, 10)))
	require.NoError(t, ds.Construct())
	assert.True(t, ds.IsConstructed())
}

func TestConstructCategoricalOverflow(t *testing.T) {
	X := mat.NewDense(50, 1, nil)
	for i := 0; i < 50; i++ {
		X.Set(i, 0, float64(i))
	}
	cfg := config.Default()
	cfg.MaxBin = 10
	cfg.CategoricalFeature = []int{0}

	ds := New(testContext(), FromMatrix(X), WithParams(cfg))
	err := ds.Construct()
	require.Error(t, err)
	assert.True(t, errors.IsConfig(err))
	assert.False(t, ds.IsConstructed())
}

func TestConstructRejectsInvalidParams(t *testing.T) {
	X := randomMatrix(30, 2, 3)
	tests := []struct {
		name  string
		apply func(*config.Config)
	}{
		{"max_bin above uint16", func(c *config.Config) { c.MaxBin = 70000 }},
		{"zero sample count", func(c *config.Config) { c.BinConstructSampleCnt = 0 }},
		{"negative min_data_in_bin", func(c *config.Config) { c.MinDataInBin = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.apply(cfg)
			ds := New(testContext(), FromMatrix(X), WithParams(cfg))
			err := ds.Construct()
			require.Error(t, err)
			assert.True(t, errors.IsConfig(err), "%v", err)
			assert.False(t, ds.IsConstructed())
		})
	}
}

func TestCreateValidFromUnconstructedReference(t *testing.T) {
	train := New(testContext(), FromMatrix(randomMatrix(40, 2, 4)), WithFeatureNames([]string{"x", "y"}))
	valid := train.CreateValid(FromMatrix(randomMatrix(10, 2, 5)))
	require.False(t, train.IsConstructed())
	require.NoError(t, valid.Construct())

	names, err := valid.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, names)

	own := train.CreateValid(FromMatrix(randomMatrix(10, 2, 6)), WithFeatureNames([]string{"p", "q"}))
	require.NoError(t, own.Construct())
	names, err = own.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"p", "q"}, names)
}

func TestAddFeaturesFromEquivalence(t *testing.T) {
	X := randomMatrix(100, 5, 7)
	allNames := names("col", 0, 5)

	direct := New(testContext(), FromMatrix(X), WithFeatureNames(allNames))
	require.NoError(t, direct.Construct())
	want := dumpString(t, direct)

	for j := 1; j < 5; j++ {
		t.Run(fmt.Sprintf("split at %d", j), func(t *testing.T) {
			d1 := New(testContext(), FromMatrix(X.Slice(0, 100, 0, j)), WithFeatureNames(allNames[:j]))
			d2 := New(testContext(), FromMatrix(X.Slice(0, 100, j, 5)), WithFeatureNames(allNames[j:]))
			require.NoError(t, d1.Construct())
			require.NoError(t, d2.Construct())

			require.NoError(t, d1.AddFeaturesFrom(d2))
			assert.Equal(t, want, dumpString(t, d1))

			path := filepath.Join(t.TempDir(), "merged.txt")
			require.NoError(t, d1.DumpText(path))
			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, want, string(data))
		})
	}
}

func TestAddFeaturesFromErrors(t *testing.T) {
	ctx := testContext()

	t.Run("unconstructed is a precondition error", func(t *testing.T) {
		d1 := New(ctx, FromMatrix(randomMatrix(10, 2, 1)))
		d2 := New(ctx, FromMatrix(randomMatrix(10, 2, 2)))
		err := d1.AddFeaturesFrom(d2)
		assert.True(t, errors.IsPrecondition(err))

		require.NoError(t, d1.Construct())
		err = d1.AddFeaturesFrom(d2)
		assert.True(t, errors.IsPrecondition(err))
	})

	t.Run("row mismatch is an engine error and leaves the dataset unchanged", func(t *testing.T) {
		d1 := New(ctx, FromMatrix(randomMatrix(10, 2, 1)))
		d2 := New(ctx, FromMatrix(randomMatrix(11, 2, 2)))
		require.NoError(t, d1.Construct())
		require.NoError(t, d2.Construct())

		before := dumpString(t, d1)
		err := d1.AddFeaturesFrom(d2)
		require.Error(t, err)
		assert.True(t, errors.IsEngine(err))
		assert.False(t, errors.IsPrecondition(err))
		assert.Equal(t, before, dumpString(t, d1))
	})

	t.Run("colliding names are renamed", func(t *testing.T) {
		d1 := New(ctx, FromMatrix(randomMatrix(10, 2, 1)))
		d2 := New(ctx, FromMatrix(randomMatrix(10, 2, 2)))
		d3 := New(ctx, FromMatrix(randomMatrix(10, 1, 3)))
		require.NoError(t, d1.Construct())
		require.NoError(t, d2.Construct())
		require.NoError(t, d3.Construct())
		require.NoError(t, d1.AddFeaturesFrom(d2))
		require.NoError(t, d1.AddFeaturesFrom(d3))

		fnames, err := d1.FeatureNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"Column_0", "Column_1", "D2_Column_0", "D2_Column_1", "D3_Column_0"}, fnames)
	})
}

func TestAddFeaturesFromPenaltyAndMonotone(t *testing.T) {
	tests := []struct {
		name         string
		p1, p2       []float64
		m1, m2       []int
		wantPenalty  []float64
		wantMonotone []int
	}{
		{name: "neither", wantPenalty: nil, wantMonotone: nil},
		{name: "left only", p1: []float64{0.5}, m1: []int{1},
			wantPenalty: []float64{0.5, 1, 1}, wantMonotone: []int{1, 0, 0}},
		{name: "right only", p2: []float64{0.5, 0.25}, m2: []int{-1, 1},
			wantPenalty: []float64{1, 0.5, 0.25}, wantMonotone: []int{0, -1, 1}},
		{name: "both", p1: []float64{0.1}, p2: []float64{0.2, 0.3}, m1: []int{-1}, m2: []int{0, 1},
			wantPenalty: []float64{0.1, 0.2, 0.3}, wantMonotone: []int{-1, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o1, o2 []Option
			if tt.p1 != nil {
				o1 = append(o1, WithFeaturePenalty(tt.p1))
			}
			if tt.m1 != nil {
				o1 = append(o1, WithMonotoneConstraints(tt.m1))
			}
			if tt.p2 != nil {
				o2 = append(o2, WithFeaturePenalty(tt.p2))
			}
			if tt.m2 != nil {
				o2 = append(o2, WithMonotoneConstraints(tt.m2))
			}
			d1 := New(testContext(), FromMatrix(randomMatrix(20, 1, 1)), o1...)
			d2 := New(testContext(), FromMatrix(randomMatrix(20, 2, 2)), o2...)
			require.NoError(t, d1.Construct())
			require.NoError(t, d2.Construct())
			require.NoError(t, d1.AddFeaturesFrom(d2))

			penalty, err := d1.FeaturePenalty()
			require.NoError(t, err)
			monotone, err := d1.MonotoneConstraints()
			require.NoError(t, err)
			assert.Equal(t, tt.wantPenalty, penalty)
			assert.Equal(t, tt.wantMonotone, monotone)
		})
	}
}

func TestSubset(t *testing.T) {
	X := randomMatrix(30, 3, 3)
	y := make([]float64, 30)
	for i := range y {
		y[i] = float64(i)
	}
	parent := New(testContext(), FromMatrix(X), WithLabel(y), WithGroup([]int{1, 13, 16}))

	t.Run("groups are recomputed", func(t *testing.T) {
		idx := make([]int, 10)
		for i := range idx {
			idx[i] = i
		}
		sub, err := parent.Subset(idx)
		require.NoError(t, err)
		require.NoError(t, sub.Construct())

		group, err := sub.Group()
		require.NoError(t, err)
		assert.Equal(t, []int{1, 9}, group)

		label, err := sub.Label()
		require.NoError(t, err)
		assert.Equal(t, y[:10], label)
		assert.Same(t, parent.BinMapper(0), sub.BinMapper(0))
	})

	t.Run("indices are sorted and rows copied", func(t *testing.T) {
		sub, err := parent.Subset([]int{29, 2, 15})
		require.NoError(t, err)
		require.NoError(t, sub.Construct())

		assert.Equal(t, []int{2, 15, 29}, sub.UsedIndices())
		label, err := sub.Label()
		require.NoError(t, err)
		assert.Equal(t, []float64{2, 15, 29}, label)
		for f := 0; f < 3; f++ {
			assert.Equal(t, parent.Bins(f)[15], sub.Bins(f)[1])
		}
		group, err := sub.Group()
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, group)
	})

	t.Run("invalid indices", func(t *testing.T) {
		for _, idx := range [][]int{{-1}, {30}, {1, 1}, {}} {
			_, err := parent.Subset(idx)
			assert.True(t, errors.IsPrecondition(err), "indices %v", idx)
		}
	})
}

func TestSubsetGroups(t *testing.T) {
	tests := []struct {
		name       string
		boundaries []int
		indices    []int
		want       []int
	}{
		{"all rows", []int{0, 2, 5}, []int{0, 1, 2, 3, 4}, []int{0, 2, 5}},
		{"empty group dropped", []int{0, 2, 5, 6}, []int{0, 5}, []int{0, 1, 2}},
		{"middle group only", []int{0, 2, 5}, []int{3}, []int{0, 1}},
		{"first row only", []int{0, 1, 14}, []int{0}, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SubsetGroups(tt.boundaries, tt.indices))
		})
	}
}

func TestChunkedConstruction(t *testing.T) {
	X := randomMatrix(60, 4, 11)
	single := New(testContext(), FromMatrix(X))
	require.NoError(t, single.Construct())
	want := dumpString(t, single)

	for _, sizes := range [][]int{{60}, {10, 50}, {20, 20, 20}, {1, 29, 30}} {
		t.Run(fmt.Sprint(sizes), func(t *testing.T) {
			var chunks []mat.Matrix
			start := 0
			for _, s := range sizes {
				chunks = append(chunks, X.Slice(start, start+s, 0, 4))
				start += s
			}
			src, err := FromChunks(chunks)
			require.NoError(t, err)
			ds := New(testContext(), src)
			require.NoError(t, ds.Construct())
			assert.Equal(t, want, dumpString(t, ds))
		})
	}
}

func TestSampledConstruction(t *testing.T) {
	X := randomMatrix(500, 3, 5)
	cfg := config.Default()
	cfg.BinConstructSampleCnt = 100

	a := New(testContext(), FromMatrix(X), WithParams(cfg))
	b := New(testContext(), FromMatrix(X), WithParams(cfg))
	require.NoError(t, a.Construct())
	require.NoError(t, b.Construct())
	assert.Equal(t, dumpString(t, a), dumpString(t, b))

	idx := SampleIndices(500, 100, 1)
	assert.Len(t, idx, 100)
	assert.Equal(t, idx, SampleIndices(500, 100, 1))
	assert.IsIncreasing(t, idx)
}

func TestCreateValid(t *testing.T) {
	train := New(testContext(), FromMatrix(randomMatrix(50, 3, 1)), WithFeatureNames([]string{"a", "b", "c"}))
	valid := train.CreateValid(FromMatrix(randomMatrix(20, 3, 2)))
	require.NoError(t, valid.Construct())

	assert.True(t, train.IsConstructed())
	for f := 0; f < 3; f++ {
		assert.Same(t, train.BinMapper(f), valid.BinMapper(f))
	}
	fnames, err := valid.FeatureNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, fnames)
}

func TestLibSVM(t *testing.T) {
	text := `# comment line
1 0:1.5 2:3
0 1:-2 # trailing

1 3:0.25
`
	parsed, err := ParseLibSVM(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 1}, parsed.Label)

	rows, cols := parsed.X.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)
	assert.Equal(t, []float64{1.5, 0, 3, 0}, parsed.X.Row(0, make([]float64, cols)))
	assert.Equal(t, []float64{0, 0, 0, 0.25}, mat.Row(nil, 2, parsed.X.Dense()))

	_, err = ParseLibSVM(strings.NewReader("1 a:2\n"))
	assert.True(t, errors.IsEngine(err))

	path := filepath.Join(t.TempDir(), "train.query")
	require.NoError(t, os.WriteFile(path, []byte("1 2\n3\n"), 0o644))
	sizes, err := LoadQueryFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, sizes)
}

func TestSetGroupValidation(t *testing.T) {
	ds := New(testContext(), FromMatrix(randomMatrix(10, 2, 1)))
	require.NoError(t, ds.Construct())

	assert.True(t, errors.IsPrecondition(ds.SetGroup([]int{3, 3})))
	require.NoError(t, ds.SetGroup([]int{4, 6}))
	group, err := ds.Group()
	require.NoError(t, err)
	assert.Equal(t, []int{4, 6}, group)

	assert.True(t, errors.IsPrecondition(ds.SetLabel(make([]float64, 3))))
}
