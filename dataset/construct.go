package dataset

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

// constructed state, computed into locals and committed only on success
type built struct {
	numData         int
	mappers         []*BinMapper
	columns         [][]uint16
	names           []string
	label           []float64
	weight          []float64
	initScore       []float64
	groupBoundaries []int
	penalty         []float64
	monotone        []int
}

// Construct bins the raw data. It is a no-op on a constructed Dataset. On
// failure the Dataset stays unconstructed with its options intact.
func (d *Dataset) Construct() (err error) {
	if d.constructed {
		return nil
	}
	defer errors.Recover(&err, "Dataset.Construct")

	start := time.Now()
	var b *built
	if d.parent != nil {
		b, err = d.buildSubset()
	} else {
		b, err = d.build()
	}
	if err != nil {
		return err
	}
	d.commit(b)

	logger := d.ctx.Logger("dataset")
	logger.Info("Dataset constructed",
		log.OperationKey, log.OperationConstruct,
		log.SamplesKey, d.numData,
		log.FeaturesKey, len(d.mappers),
		log.TrivialFeaturesKey, d.numTrivial(),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (d *Dataset) commit(b *built) {
	d.numData = b.numData
	d.mappers = b.mappers
	d.columns = b.columns
	d.featureNames = b.names
	d.label = b.label
	d.weight = b.weight
	d.initScore = b.initScore
	d.groupBoundaries = b.groupBoundaries
	d.penalty = b.penalty
	d.monotone = b.monotone
	d.constructed = true
}

func (d *Dataset) numTrivial() int {
	n := 0
	for _, m := range d.mappers {
		if m.IsTrivial() {
			n++
		}
	}
	return n
}

// rowCount is the number of rows the dataset has or will have.
func (d *Dataset) rowCount() int {
	switch {
	case d.constructed:
		return d.numData
	case d.parent != nil:
		return len(d.usedIndices)
	case d.source != nil:
		rows, _ := d.source.Dims()
		return rows
	}
	return 0
}

func (d *Dataset) build() (*built, error) {
	const op = "Dataset.Construct"
	if d.source == nil {
		return nil, errors.NewPreconditionError(op, "no data source")
	}
	rows, cols := d.source.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.NewPreconditionErrorf(op, "empty data (%d x %d)", rows, cols)
	}

	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}

	// the reference is constructed first so its feature names are available
	mappers, err := d.referenceMappers(cols)
	if err != nil {
		return nil, err
	}
	b := &built{numData: rows}
	if err := d.buildMeta(op, b, cols); err != nil {
		return nil, err
	}
	if mappers == nil {
		mappers, err = d.findBins(rows, cols)
		if err != nil {
			return nil, err
		}
	}
	b.mappers = mappers
	b.columns = d.pushRows(rows, cols, mappers)
	return b, nil
}

// buildMeta validates and copies the per-row and per-feature metadata.
func (d *Dataset) buildMeta(op string, b *built, cols int) error {
	rows := b.numData
	if d.label != nil && len(d.label) != rows {
		return errors.NewDimensionError(op+" label", rows, len(d.label), 0)
	}
	if d.weight != nil && len(d.weight) != rows {
		return errors.NewDimensionError(op+" weight", rows, len(d.weight), 0)
	}
	if d.initScore != nil && (len(d.initScore) == 0 || len(d.initScore)%rows != 0) {
		return errors.NewDimensionError(op+" init_score", rows, len(d.initScore), 0)
	}
	groups, err := sizesToBoundaries(op, d.groupSizes, rows)
	if err != nil {
		return err
	}

	names := d.featureNames
	if names == nil && d.reference != nil && d.reference.constructed && len(d.reference.featureNames) == cols {
		names = d.reference.featureNames
	}
	if names == nil {
		names = defaultNames(cols)
	}
	if len(names) != cols {
		return errors.NewDimensionError(op+" feature_name", cols, len(names), 1)
	}
	if err := checkNames(op, names); err != nil {
		return err
	}
	if d.penalty != nil && len(d.penalty) != cols {
		return errors.NewConfigError("feature_penalty", "length must equal the number of features", len(d.penalty))
	}
	if d.monotone != nil && len(d.monotone) != cols {
		return errors.NewConfigError("monotone_constraints", "length must equal the number of features", len(d.monotone))
	}
	for _, c := range d.categorical {
		if c < 0 || c >= cols {
			return errors.NewConfigError("categorical_feature", "column index out of range", c)
		}
	}

	b.label = slices.Clone(d.label)
	b.weight = slices.Clone(d.weight)
	b.initScore = slices.Clone(d.initScore)
	b.groupBoundaries = groups
	b.names = slices.Clone(names)
	b.penalty = slices.Clone(d.penalty)
	b.monotone = slices.Clone(d.monotone)
	return nil
}

// referenceMappers returns the reference dataset's mappers when the column
// counts agree, or nil to bin independently. A mismatch is reported by the
// booster when the data is evaluated.
func (d *Dataset) referenceMappers(cols int) ([]*BinMapper, error) {
	if d.reference == nil {
		return nil, nil
	}
	if err := d.reference.Construct(); err != nil {
		return nil, errors.Wrap(err, "construct reference dataset")
	}
	if len(d.reference.mappers) != cols {
		d.ctx.Logger("dataset").Warn("Validation data has a different feature count than its reference",
			log.FeaturesKey, cols,
			"reference_features", len(d.reference.mappers),
		)
		return nil, nil
	}
	return d.reference.mappers, nil
}

// SampleIndices picks the rows used to find bin bounds. The choice depends
// only on numData, the sample count and the seed.
func SampleIndices(numData, sampleCnt, seed int) []int {
	if numData <= sampleCnt {
		idx := make([]int, numData)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, sampleCnt)
	src := rand.NewPCG(uint64(seed), uint64(seed))
	sampleuv.WithoutReplacement(idx, numData, src)
	sort.Ints(idx)
	return idx
}

func (d *Dataset) findBins(rows, cols int) ([]*BinMapper, error) {
	sample := SampleIndices(rows, d.cfg.BinConstructSampleCnt, d.cfg.DataRandomSeed)

	isCat := make([]bool, cols)
	for _, c := range d.categorical {
		isCat[c] = true
	}

	values := make([][]float64, cols)
	negativeCat := make([]bool, cols)
	buf := make([]float64, cols)
	for _, i := range sample {
		d.source.Row(i, buf)
		for f, v := range buf {
			if math.IsNaN(v) || math.Abs(v) > config.ZeroThreshold {
				values[f] = append(values[f], v)
				if isCat[f] && v < 0 {
					negativeCat[f] = true
				}
			}
		}
	}

	opts := BinOptionsFrom(d.cfg)
	mappers := make([]*BinMapper, cols)
	err := parallel.ForEach(d.ctx.Workers(), cols, func(f int) error {
		bt := NumericalBin
		if isCat[f] {
			bt = CategoricalBin
		}
		m, err := FindBin(values[f], len(sample), bt, opts)
		if err != nil {
			return errors.Wrapf(err, "feature %d", f)
		}
		mappers[f] = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	for f, neg := range negativeCat {
		if neg {
			errors.Warn(errors.NewDataConversionWarning(d.featureNameOrIndex(f), "negative category", "other bin"))
		}
	}
	return mappers, nil
}

func (d *Dataset) featureNameOrIndex(f int) string {
	if f < len(d.featureNames) {
		return d.featureNames[f]
	}
	return defaultNames(f + 1)[f]
}

func (d *Dataset) pushRows(rows, cols int, mappers []*BinMapper) [][]uint16 {
	columns := make([][]uint16, cols)
	for f := range columns {
		columns[f] = make([]uint16, rows)
	}
	parallel.Parallelize(d.ctx.Workers(), rows, func(start, end int) {
		buf := make([]float64, cols)
		for i := start; i < end; i++ {
			d.source.Row(i, buf)
			for f, v := range buf {
				columns[f][i] = uint16(mappers[f].ValueToBin(v))
			}
		}
	})
	return columns
}
