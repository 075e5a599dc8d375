package dataset

import (
	"fmt"
	"slices"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

// AddFeaturesFrom appends the features of other to d. Both datasets must be
// constructed and have the same number of rows. Feature names of other that
// collide with existing ones are renamed to D{n}_{name} with the smallest free
// n >= 2. d is unchanged on error.
func (d *Dataset) AddFeaturesFrom(other *Dataset) error {
	const op = "Dataset.AddFeaturesFrom"
	if other == nil {
		return errors.NewPreconditionError(op, "other dataset is nil")
	}
	if !d.constructed || !other.constructed {
		return errors.NewPreconditionError(op, "both datasets must be constructed")
	}
	if d.numData != other.numData {
		return errors.NewEngineErrorf(op, "row count mismatch",
			"cannot add features from a dataset with %d rows to one with %d rows", other.numData, d.numData)
	}

	nSelf, nOther := len(d.mappers), len(other.mappers)
	mappers := make([]*BinMapper, 0, nSelf+nOther)
	mappers = append(append(mappers, d.mappers...), other.mappers...)

	columns := make([][]uint16, 0, nSelf+nOther)
	columns = append(columns, d.columns...)
	for _, col := range other.columns {
		columns = append(columns, slices.Clone(col))
	}

	names := mergeNames(d.featureNames, other.featureNames)
	penalty := mergeFloat(d.penalty, nSelf, other.penalty, nOther, 1)
	monotone := mergeInt(d.monotone, nSelf, other.monotone, nOther, 0)

	d.mappers = mappers
	d.columns = columns
	d.featureNames = names
	d.penalty = penalty
	d.monotone = monotone

	d.ctx.Logger("dataset").Debug("Features merged",
		log.OperationKey, log.OperationMerge,
		log.FeaturesKey, len(mappers),
		log.SamplesKey, d.numData,
	)
	return nil
}

func mergeNames(self, other []string) []string {
	used := make(map[string]struct{}, len(self)+len(other))
	out := make([]string, 0, len(self)+len(other))
	for _, n := range self {
		used[n] = struct{}{}
		out = append(out, n)
	}
	for _, n := range other {
		name := n
		for k := 2; ; k++ {
			if _, taken := used[name]; !taken {
				break
			}
			name = fmt.Sprintf("D%d_%s", k, n)
		}
		used[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func mergeFloat(a []float64, na int, b []float64, nb int, def float64) []float64 {
	if a == nil && b == nil {
		return nil
	}
	out := make([]float64, 0, na+nb)
	out = append(out, fill(a, na, def)...)
	return append(out, fill(b, nb, def)...)
}

func mergeInt(a []int, na int, b []int, nb int, def int) []int {
	if a == nil && b == nil {
		return nil
	}
	out := make([]int, 0, na+nb)
	out = append(out, fill(a, na, def)...)
	return append(out, fill(b, nb, def)...)
}

func fill[T any](s []T, n int, def T) []T {
	if s != nil {
		return s
	}
	out := make([]T, n)
	for i := range out {
		out[i] = def
	}
	return out
}
