// Package dataset turns raw feature matrices into the binned, column-major form
// the tree learner trains on.
//
// A Dataset starts unconstructed: it holds a raw Source plus options. Construct
// samples rows, fixes one BinMapper per feature and bins every row. Constructed
// datasets can be merged column-wise (AddFeaturesFrom), subset by rows (Subset)
// and used as the reference binning of validation data (CreateValid).
//
// Example:
//
//	ds := dataset.New(ctx, dataset.FromMatrix(X), dataset.WithLabel(y))
//	if err := ds.Construct(); err != nil {
//		return err
//	}
package dataset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// Dataset is a binned training or validation matrix. It is not safe for
// concurrent mutation.
type Dataset struct {
	ctx    *config.Context
	cfg    *config.Config
	source Source

	reference   *Dataset
	parent      *Dataset
	usedIndices []int

	label        []float64
	weight       []float64
	initScore    []float64
	groupSizes   []int
	featureNames []string
	categorical  []int
	penalty      []float64
	monotone     []int

	constructed     bool
	numData         int
	mappers         []*BinMapper
	columns         [][]uint16
	groupBoundaries []int
}

// Option configures a Dataset before construction.
type Option func(*Dataset)

// WithLabel sets the label column.
func WithLabel(label []float64) Option {
	return func(d *Dataset) { d.label = slices.Clone(label) }
}

// WithWeight sets per-row weights.
func WithWeight(weight []float64) Option {
	return func(d *Dataset) { d.weight = slices.Clone(weight) }
}

// WithInitScore sets the initial raw scores, class-major for multi-output models.
func WithInitScore(score []float64) Option {
	return func(d *Dataset) { d.initScore = slices.Clone(score) }
}

// WithGroup sets query group sizes for ranking.
func WithGroup(sizes []int) Option {
	return func(d *Dataset) { d.groupSizes = slices.Clone(sizes) }
}

// WithFeatureNames sets feature names. Names must be unique and contain no whitespace.
func WithFeatureNames(names []string) Option {
	return func(d *Dataset) { d.featureNames = slices.Clone(names) }
}

// WithCategorical marks raw columns as categorical.
func WithCategorical(columns ...int) Option {
	return func(d *Dataset) { d.categorical = slices.Clone(columns) }
}

// WithParams sets the binning parameters, categorical columns, feature
// penalties and monotone constraints from cfg.
func WithParams(cfg *config.Config) Option {
	return func(d *Dataset) {
		d.cfg = cfg.Clone()
		if len(cfg.CategoricalFeature) > 0 {
			d.categorical = slices.Clone(cfg.CategoricalFeature)
		}
		if len(cfg.FeaturePenalty) > 0 {
			d.penalty = slices.Clone(cfg.FeaturePenalty)
		}
		if len(cfg.MonotoneConstraints) > 0 {
			d.monotone = slices.Clone(cfg.MonotoneConstraints)
		}
	}
}

// SetParams applies cfg the way WithParams does. Binning is fixed once the
// Dataset is constructed, so it fails on a constructed Dataset.
func (d *Dataset) SetParams(cfg *config.Config) error {
	if d.constructed {
		return errors.NewPreconditionError("Dataset.SetParams", "dataset is already constructed")
	}
	WithParams(cfg)(d)
	return nil
}

// WithFeaturePenalty sets per-feature gain multipliers.
func WithFeaturePenalty(penalty []float64) Option {
	return func(d *Dataset) { d.penalty = slices.Clone(penalty) }
}

// WithMonotoneConstraints sets per-feature monotone directions (-1, 0, +1).
func WithMonotoneConstraints(mc []int) Option {
	return func(d *Dataset) { d.monotone = slices.Clone(mc) }
}

// WithReference bins the data with the mappers of ref.
func WithReference(ref *Dataset) Option {
	return func(d *Dataset) { d.reference = ref }
}

// New creates an unconstructed Dataset over src.
func New(ctx *config.Context, src Source, opts ...Option) *Dataset {
	d := &Dataset{ctx: ctx.OrDefault(), source: src}
	for _, opt := range opts {
		opt(d)
	}
	if d.cfg == nil {
		d.cfg = config.Default()
	}
	return d
}

// CreateValid creates a validation Dataset that bins with d's mappers.
func (d *Dataset) CreateValid(src Source, opts ...Option) *Dataset {
	base := []Option{WithReference(d), func(v *Dataset) {
		v.cfg = d.cfg.Clone()
		v.categorical = slices.Clone(d.categorical)
	}}
	return New(d.ctx, src, append(base, opts...)...)
}

// Context returns the engine context the dataset was created with.
func (d *Dataset) Context() *config.Context { return d.ctx }

// Params returns the binning configuration.
func (d *Dataset) Params() *config.Config { return d.cfg }

// IsConstructed reports whether Construct has succeeded.
func (d *Dataset) IsConstructed() bool { return d.constructed }

// Reference returns the dataset whose mappers this one bins with, if any.
func (d *Dataset) Reference() *Dataset { return d.reference }

func (d *Dataset) requireConstructed(op string) error {
	if !d.constructed {
		return errors.NewPreconditionError(op, "dataset is not constructed")
	}
	return nil
}

// NumData is the number of rows.
func (d *Dataset) NumData() (int, error) {
	if err := d.requireConstructed("Dataset.NumData"); err != nil {
		return 0, err
	}
	return d.numData, nil
}

// NumFeatures is the number of binned features.
func (d *Dataset) NumFeatures() (int, error) {
	if err := d.requireConstructed("Dataset.NumFeatures"); err != nil {
		return 0, err
	}
	return len(d.mappers), nil
}

// FeatureNames returns a copy of the feature names.
func (d *Dataset) FeatureNames() ([]string, error) {
	if err := d.requireConstructed("Dataset.FeatureNames"); err != nil {
		return nil, err
	}
	return slices.Clone(d.featureNames), nil
}

// Label returns a copy of the labels, nil when none were set.
func (d *Dataset) Label() ([]float64, error) {
	if err := d.requireConstructed("Dataset.Label"); err != nil {
		return nil, err
	}
	return slices.Clone(d.label), nil
}

// Weight returns a copy of the weights, nil when none were set.
func (d *Dataset) Weight() ([]float64, error) {
	if err := d.requireConstructed("Dataset.Weight"); err != nil {
		return nil, err
	}
	return slices.Clone(d.weight), nil
}

// InitScore returns a copy of the initial scores, nil when none were set.
func (d *Dataset) InitScore() ([]float64, error) {
	if err := d.requireConstructed("Dataset.InitScore"); err != nil {
		return nil, err
	}
	return slices.Clone(d.initScore), nil
}

// Group returns the query group sizes, nil when the data is not grouped.
func (d *Dataset) Group() ([]int, error) {
	if err := d.requireConstructed("Dataset.Group"); err != nil {
		return nil, err
	}
	return boundariesToSizes(d.groupBoundaries), nil
}

// FeaturePenalty returns the per-feature gain multipliers, nil when absent.
func (d *Dataset) FeaturePenalty() ([]float64, error) {
	if err := d.requireConstructed("Dataset.FeaturePenalty"); err != nil {
		return nil, err
	}
	return slices.Clone(d.penalty), nil
}

// MonotoneConstraints returns the per-feature monotone directions, nil when absent.
func (d *Dataset) MonotoneConstraints() ([]int, error) {
	if err := d.requireConstructed("Dataset.MonotoneConstraints"); err != nil {
		return nil, err
	}
	return slices.Clone(d.monotone), nil
}

// The following accessors serve the learner and booster and are only valid on
// a constructed dataset. They return shared slices that must not be modified.

// Bins returns the binned column of feature f.
func (d *Dataset) Bins(f int) []uint16 { return d.columns[f] }

// BinMapper returns the mapper of feature f.
func (d *Dataset) BinMapper(f int) *BinMapper { return d.mappers[f] }

// BinMappers returns the shared mapper table.
func (d *Dataset) BinMappers() []*BinMapper { return d.mappers }

// GroupBoundaries returns the group prefix sums, nil when ungrouped.
func (d *Dataset) GroupBoundaries() []int { return d.groupBoundaries }

// LabelView returns the label slice without copying.
func (d *Dataset) LabelView() []float64 { return d.label }

// WeightView returns the weight slice without copying.
func (d *Dataset) WeightView() []float64 { return d.weight }

// SetLabel replaces the labels.
func (d *Dataset) SetLabel(label []float64) error {
	if err := d.checkRowLen("Dataset.SetLabel", len(label)); err != nil {
		return err
	}
	d.label = slices.Clone(label)
	return nil
}

// SetWeight replaces the weights; nil removes them.
func (d *Dataset) SetWeight(weight []float64) error {
	if weight != nil {
		if err := d.checkRowLen("Dataset.SetWeight", len(weight)); err != nil {
			return err
		}
	}
	d.weight = slices.Clone(weight)
	return nil
}

// SetInitScore replaces the initial scores; the length must be a multiple of
// the row count.
func (d *Dataset) SetInitScore(score []float64) error {
	if score != nil && d.constructed && (len(score) == 0 || len(score)%d.numData != 0) {
		return errors.NewDimensionError("Dataset.SetInitScore", d.numData, len(score), 0)
	}
	d.initScore = slices.Clone(score)
	return nil
}

// SetGroup replaces the query group sizes; nil removes grouping.
func (d *Dataset) SetGroup(sizes []int) error {
	if !d.constructed {
		d.groupSizes = slices.Clone(sizes)
		return nil
	}
	b, err := sizesToBoundaries("Dataset.SetGroup", sizes, d.numData)
	if err != nil {
		return err
	}
	d.groupBoundaries = b
	return nil
}

// SetFeatureNames replaces the feature names.
func (d *Dataset) SetFeatureNames(names []string) error {
	if d.constructed {
		if len(names) != len(d.mappers) {
			return errors.NewDimensionError("Dataset.SetFeatureNames", len(d.mappers), len(names), 1)
		}
		if err := checkNames("Dataset.SetFeatureNames", names); err != nil {
			return err
		}
	}
	d.featureNames = slices.Clone(names)
	return nil
}

func (d *Dataset) checkRowLen(op string, n int) error {
	if d.constructed && n != d.numData {
		return errors.NewDimensionError(op, d.numData, n, 0)
	}
	return nil
}

func checkNames(op string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" || strings.ContainsAny(n, " \t\r\n") {
			return errors.NewPreconditionErrorf(op, "invalid feature name %q", n)
		}
		if _, dup := seen[n]; dup {
			return errors.NewPreconditionErrorf(op, "duplicate feature name %q", n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

func defaultNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("Column_%d", i)
	}
	return names
}

func sizesToBoundaries(op string, sizes []int, numData int) ([]int, error) {
	if sizes == nil {
		return nil, nil
	}
	b := make([]int, len(sizes)+1)
	for i, s := range sizes {
		if s < 0 {
			return nil, errors.NewPreconditionErrorf(op, "negative group size %d", s)
		}
		b[i+1] = b[i] + s
	}
	if b[len(sizes)] != numData {
		return nil, errors.NewPreconditionErrorf(op, "group sizes sum to %d, want %d rows", b[len(sizes)], numData)
	}
	return b, nil
}

func boundariesToSizes(b []int) []int {
	if b == nil {
		return nil
	}
	sizes := make([]int, len(b)-1)
	for i := range sizes {
		sizes[i] = b[i+1] - b[i]
	}
	return sizes
}
