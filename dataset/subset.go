package dataset

import (
	"slices"
	"sort"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// Subset returns an unconstructed Dataset over the given parent rows. Indices
// are validated now; they are sorted into a private copy. Constructing the
// subset constructs the parent if needed and shares its mappers.
func (d *Dataset) Subset(indices []int) (*Dataset, error) {
	const op = "Dataset.Subset"
	rows := d.rowCount()
	if len(indices) == 0 {
		return nil, errors.NewPreconditionError(op, "no indices given")
	}
	used := slices.Clone(indices)
	sort.Ints(used)
	for i, idx := range used {
		if idx < 0 || idx >= rows {
			return nil, errors.NewPreconditionErrorf(op, "index %d out of range [0, %d)", idx, rows)
		}
		if i > 0 && used[i-1] == idx {
			return nil, errors.NewPreconditionErrorf(op, "duplicate index %d", idx)
		}
	}
	return &Dataset{
		ctx:         d.ctx,
		cfg:         d.cfg.Clone(),
		parent:      d,
		usedIndices: used,
		categorical: slices.Clone(d.categorical),
	}, nil
}

// UsedIndices returns the sorted parent rows of a subset, nil otherwise.
func (d *Dataset) UsedIndices() []int { return slices.Clone(d.usedIndices) }

func (d *Dataset) buildSubset() (*built, error) {
	p := d.parent
	if err := p.Construct(); err != nil {
		return nil, errors.Wrap(err, "construct parent dataset")
	}
	used := d.usedIndices
	n := len(used)
	b := &built{
		numData:  n,
		mappers:  p.mappers,
		names:    slices.Clone(p.featureNames),
		penalty:  slices.Clone(p.penalty),
		monotone: slices.Clone(p.monotone),
	}

	b.columns = make([][]uint16, len(p.columns))
	for f, col := range p.columns {
		out := make([]uint16, n)
		for i, idx := range used {
			out[i] = col[idx]
		}
		b.columns[f] = out
	}
	b.label = gatherRows(p.label, used)
	b.weight = gatherRows(p.weight, used)
	if p.initScore != nil {
		k := len(p.initScore) / p.numData
		b.initScore = make([]float64, 0, k*n)
		for c := 0; c < k; c++ {
			b.initScore = append(b.initScore, gatherRows(p.initScore[c*p.numData:(c+1)*p.numData], used)...)
		}
	}
	if p.groupBoundaries != nil {
		b.groupBoundaries = SubsetGroups(p.groupBoundaries, used)
	}
	// options set on the subset itself win over inherited values
	if d.label != nil {
		if len(d.label) != n {
			return nil, errors.NewDimensionError("Dataset.Construct label", n, len(d.label), 0)
		}
		b.label = slices.Clone(d.label)
	}
	if d.weight != nil {
		if len(d.weight) != n {
			return nil, errors.NewDimensionError("Dataset.Construct weight", n, len(d.weight), 0)
		}
		b.weight = slices.Clone(d.weight)
	}
	return b, nil
}

func gatherRows(src []float64, used []int) []float64 {
	if src == nil {
		return nil
	}
	out := make([]float64, len(used))
	for i, idx := range used {
		out[i] = src[idx]
	}
	return out
}

// SubsetGroups recomputes group boundaries for the sorted row indices of a
// subset. Every selected row keeps its original group and groups left empty
// are dropped.
func SubsetGroups(boundaries []int, sortedIndices []int) []int {
	out := []int{0}
	g := 0
	count := 0
	for _, idx := range sortedIndices {
		for g+1 < len(boundaries) && idx >= boundaries[g+1] {
			if count > 0 {
				out = append(out, out[len(out)-1]+count)
				count = 0
			}
			g++
		}
		count++
	}
	if count > 0 {
		out = append(out, out[len(out)-1]+count)
	}
	return out
}
