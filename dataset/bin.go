package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// BinType selects how raw values are discretized.
type BinType int

const (
	// NumericalBin bins values by quantile upper bounds.
	NumericalBin BinType = iota
	// CategoricalBin gives each category its own bin.
	CategoricalBin
)

func (t BinType) String() string {
	if t == CategoricalBin {
		return "categorical"
	}
	return "numerical"
}

// MissingType tells how missing values are routed.
type MissingType int

const (
	// MissingNone means missing values are treated as zero.
	MissingNone MissingType = iota
	// MissingZero means the zero bin doubles as the missing bin.
	MissingZero
	// MissingNaN means NaN has its own trailing bin.
	MissingNaN
)

func (m MissingType) String() string {
	switch m {
	case MissingZero:
		return "zero"
	case MissingNaN:
		return "nan"
	default:
		return "none"
	}
}

// BinOptions controls FindBin.
type BinOptions struct {
	MaxBin        int
	MinDataInBin  int
	UseMissing    bool
	ZeroAsMissing bool
}

// BinOptionsFrom extracts the binning options of cfg.
func BinOptionsFrom(cfg *config.Config) BinOptions {
	return BinOptions{
		MaxBin:        cfg.MaxBin,
		MinDataInBin:  cfg.MinDataInBin,
		UseMissing:    cfg.UseMissing,
		ZeroAsMissing: cfg.ZeroAsMissing,
	}
}

// BinMapper maps the raw values of one feature to bin indices. It is immutable
// after FindBin and is shared by pointer between a Dataset, its subsets and its
// validation sets.
type BinMapper struct {
	numBin      int
	binType     BinType
	missingType MissingType
	isTrivial   bool
	defaultBin  uint32
	minVal      float64
	maxVal      float64

	// numerical
	upperBounds []float64

	// categorical; the last bin collects unseen, negative and NaN values
	binToCat []int
	catToBin map[int]uint32
}

func isZero(v float64) bool {
	return v >= -config.ZeroThreshold && v <= config.ZeroThreshold
}

// nextUp is the smallest float64 greater than v.
func nextUp(v float64) float64 {
	return math.Nextafter(v, math.Inf(1))
}

// equalOrdered reports whether b is a within one ulp above a, a <= b assumed.
func equalOrdered(a, b float64) bool {
	return b <= nextUp(a)
}

// FindBin builds a mapper from sampled values. values holds the sampled values
// that are non-zero or NaN; totalSampleCnt counts every sampled row, so the zeros
// are the remainder.
func FindBin(values []float64, totalSampleCnt int, binType BinType, opts BinOptions) (*BinMapper, error) {
	if opts.MaxBin < 2 {
		return nil, errors.NewConfigError("max_bin", "must be at least 2", opts.MaxBin)
	}
	if binType == CategoricalBin {
		return findCategoricalBin(values, totalSampleCnt, opts)
	}
	return findNumericalBin(values, totalSampleCnt, opts)
}

func findNumericalBin(values []float64, totalSampleCnt int, opts BinOptions) (*BinMapper, error) {
	bm := &BinMapper{binType: NumericalBin}

	finite := make([]float64, 0, len(values))
	naCnt := 0
	for _, v := range values {
		if math.IsNaN(v) {
			naCnt++
			continue
		}
		finite = append(finite, v)
	}

	switch {
	case !opts.UseMissing:
		bm.missingType = MissingNone
	case opts.ZeroAsMissing:
		bm.missingType = MissingZero
	case naCnt > 0:
		bm.missingType = MissingNaN
	default:
		bm.missingType = MissingNone
	}
	if bm.missingType != MissingNaN {
		// NaN is read as zero.
		naCnt = 0
	}

	zeroCnt := totalSampleCnt - len(finite) - naCnt
	if zeroCnt < 0 {
		zeroCnt = 0
	}
	sort.Float64s(finite)

	var distinct []float64
	var counts []int
	if len(finite) == 0 || (finite[0] > 0 && zeroCnt > 0) {
		distinct = append(distinct, 0)
		counts = append(counts, zeroCnt)
	}
	if len(finite) > 0 {
		distinct = append(distinct, finite[0])
		counts = append(counts, 1)
	}
	for i := 1; i < len(finite); i++ {
		if !equalOrdered(finite[i-1], finite[i]) {
			if finite[i-1] < 0 && finite[i] > 0 {
				distinct = append(distinct, 0)
				counts = append(counts, zeroCnt)
			}
			distinct = append(distinct, finite[i])
			counts = append(counts, 1)
		} else {
			distinct[len(distinct)-1] = finite[i]
			counts[len(counts)-1]++
		}
	}
	if len(finite) > 0 && finite[len(finite)-1] < 0 && zeroCnt > 0 {
		distinct = append(distinct, 0)
		counts = append(counts, zeroCnt)
	}
	bm.minVal = distinct[0]
	bm.maxVal = distinct[len(distinct)-1]

	if bm.missingType == MissingNaN {
		bm.upperBounds = findBinWithZeroAsOneBin(distinct, counts, opts.MaxBin-1, totalSampleCnt-naCnt, opts.MinDataInBin)
		bm.upperBounds = append(bm.upperBounds, math.NaN())
	} else {
		bm.upperBounds = findBinWithZeroAsOneBin(distinct, counts, opts.MaxBin, totalSampleCnt, opts.MinDataInBin)
		if bm.missingType == MissingZero && len(bm.upperBounds) == 2 {
			bm.missingType = MissingNone
		}
	}
	bm.numBin = len(bm.upperBounds)
	bm.defaultBin = bm.ValueToBin(0)

	cntInBin := make([]int, bm.numBin)
	for i, v := range distinct {
		cntInBin[bm.ValueToBin(v)] += counts[i]
	}
	if bm.missingType == MissingNaN {
		cntInBin[bm.numBin-1] += naCnt
	}
	bm.isTrivial = nonEmptyBins(cntInBin) <= 1
	return bm, nil
}

func nonEmptyBins(cnt []int) int {
	n := 0
	for _, c := range cnt {
		if c > 0 {
			n++
		}
	}
	return n
}

// findBinWithZeroAsOneBin bins negatives and positives separately so that zero
// always gets its own bin bounded by +-ZeroThreshold.
func findBinWithZeroAsOneBin(distinct []float64, counts []int, maxBin, totalSampleCnt, minDataInBin int) []float64 {
	leftCntData, cntZero, rightCntData := 0, 0, 0
	for i, v := range distinct {
		switch {
		case v <= -config.ZeroThreshold:
			leftCntData += counts[i]
		case v > config.ZeroThreshold:
			rightCntData += counts[i]
		default:
			cntZero += counts[i]
		}
	}

	leftCnt := -1
	for i, v := range distinct {
		if v > -config.ZeroThreshold {
			leftCnt = i
			break
		}
	}
	if leftCnt < 0 {
		leftCnt = len(distinct)
	}

	var bounds []float64
	if leftCnt > 0 {
		leftMaxBin := int(float64(leftCntData) / float64(totalSampleCnt-cntZero) * float64(maxBin-1))
		if leftMaxBin < 1 {
			leftMaxBin = 1
		}
		bounds = greedyFindBin(distinct[:leftCnt], counts[:leftCnt], leftMaxBin, leftCntData, minDataInBin)
		bounds[len(bounds)-1] = -config.ZeroThreshold
	}

	rightStart := -1
	for i := leftCnt; i < len(distinct); i++ {
		if distinct[i] > config.ZeroThreshold {
			rightStart = i
			break
		}
	}
	if rightStart >= 0 {
		rightMaxBin := maxBin - 1 - len(bounds)
		if rightMaxBin < 1 {
			rightMaxBin = 1
		}
		right := greedyFindBin(distinct[rightStart:], counts[rightStart:], rightMaxBin, rightCntData, minDataInBin)
		bounds = append(bounds, config.ZeroThreshold)
		bounds = append(bounds, right...)
	} else {
		bounds = append(bounds, math.Inf(1))
	}
	return bounds
}

// greedyFindBin places upper bounds so that bins hold roughly equal counts,
// giving values that alone exceed the mean bin size a bin of their own.
func greedyFindBin(distinct []float64, counts []int, maxBin, totalCnt, minDataInBin int) []float64 {
	n := len(distinct)
	var bounds []float64
	if n <= maxBin {
		curCnt := 0
		for i := 0; i < n-1; i++ {
			curCnt += counts[i]
			if curCnt >= minDataInBin {
				val := nextUp((distinct[i] + distinct[i+1]) / 2)
				if len(bounds) == 0 || !equalOrdered(bounds[len(bounds)-1], val) {
					bounds = append(bounds, val)
					curCnt = 0
				}
			}
		}
		return append(bounds, math.Inf(1))
	}

	if minDataInBin > 0 {
		if limit := totalCnt / minDataInBin; limit < maxBin {
			maxBin = limit
		}
		if maxBin < 1 {
			maxBin = 1
		}
	}
	meanBinSize := float64(totalCnt) / float64(maxBin)
	restBinCnt := maxBin
	restSampleCnt := totalCnt
	isBig := make([]bool, n)
	for i, c := range counts {
		if float64(c) >= meanBinSize {
			isBig[i] = true
			restBinCnt--
			restSampleCnt -= c
		}
	}
	if restBinCnt > 0 {
		meanBinSize = float64(restSampleCnt) / float64(restBinCnt)
	}

	upper := make([]float64, maxBin)
	lower := make([]float64, maxBin)
	for i := range upper {
		upper[i] = math.Inf(1)
		lower[i] = math.Inf(1)
	}

	binCnt := 0
	lower[0] = distinct[0]
	curCnt := 0
	for i := 0; i < n-1; i++ {
		if !isBig[i] {
			restSampleCnt -= counts[i]
		}
		curCnt += counts[i]
		if isBig[i] || float64(curCnt) >= meanBinSize ||
			(isBig[i+1] && float64(curCnt) >= math.Max(1, meanBinSize*0.5)) {
			upper[binCnt] = distinct[i]
			binCnt++
			lower[binCnt] = distinct[i+1]
			if binCnt >= maxBin-1 {
				break
			}
			curCnt = 0
			if !isBig[i] {
				restBinCnt--
				if restBinCnt > 0 {
					meanBinSize = float64(restSampleCnt) / float64(restBinCnt)
				}
			}
		}
	}
	binCnt++

	for i := 0; i < binCnt-1; i++ {
		val := nextUp((upper[i] + lower[i+1]) / 2)
		if len(bounds) == 0 || !equalOrdered(bounds[len(bounds)-1], val) {
			bounds = append(bounds, val)
		}
	}
	return append(bounds, math.Inf(1))
}

func findCategoricalBin(values []float64, totalSampleCnt int, opts BinOptions) (*BinMapper, error) {
	bm := &BinMapper{binType: CategoricalBin, missingType: MissingNaN}

	counts := make(map[int]int)
	otherCnt := 0
	for _, v := range values {
		if math.IsNaN(v) || v < 0 {
			otherCnt++
			continue
		}
		counts[int(v)]++
	}
	if zeros := totalSampleCnt - len(values); zeros > 0 {
		counts[0] += zeros
	}

	cats := make([]int, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		ci, cj := counts[cats[i]], counts[cats[j]]
		if ci != cj {
			return ci > cj
		}
		return cats[i] < cats[j]
	})

	if len(cats)+1 > opts.MaxBin {
		return nil, errors.NewConfigError("max_bin",
			fmt.Sprintf("categorical feature has %d categories, more than max_bin-1", len(cats)), opts.MaxBin)
	}

	bm.binToCat = cats
	bm.catToBin = make(map[int]uint32, len(cats))
	cntInBin := make([]int, len(cats)+1)
	for i, c := range cats {
		bm.catToBin[c] = uint32(i)
		cntInBin[i] = counts[c]
	}
	cntInBin[len(cats)] = otherCnt
	bm.numBin = len(cats) + 1
	bm.isTrivial = nonEmptyBins(cntInBin) <= 1
	bm.defaultBin = bm.ValueToBin(0)
	if len(cats) > 0 {
		bm.minVal, bm.maxVal = float64(cats[0]), float64(cats[0])
		for _, c := range cats {
			bm.minVal = math.Min(bm.minVal, float64(c))
			bm.maxVal = math.Max(bm.maxVal, float64(c))
		}
	}
	return bm, nil
}

// ValueToBin maps a raw value to its bin.
func (bm *BinMapper) ValueToBin(v float64) uint32 {
	if bm.binType == CategoricalBin {
		other := uint32(bm.numBin - 1)
		if math.IsNaN(v) || v < 0 {
			return other
		}
		if b, ok := bm.catToBin[int(v)]; ok {
			return b
		}
		return other
	}

	if math.IsNaN(v) {
		if bm.missingType == MissingNaN {
			return uint32(bm.numBin - 1)
		}
		v = 0
	}
	l, r := 0, bm.numBin-1
	if bm.missingType == MissingNaN {
		r--
	}
	for l < r {
		m := (l + r - 1) / 2
		if v <= bm.upperBounds[m] {
			r = m
		} else {
			l = m + 1
		}
	}
	return uint32(l)
}

// BinToValue returns the raw threshold of a numerical bin (its upper bound) or
// the category of a categorical bin.
func (bm *BinMapper) BinToValue(bin uint32) float64 {
	if bm.binType == CategoricalBin {
		if int(bin) < len(bm.binToCat) {
			return float64(bm.binToCat[bin])
		}
		return -1
	}
	return bm.upperBounds[bin]
}

// NumBin is the number of bins including the missing bin.
func (bm *BinMapper) NumBin() int { return bm.numBin }

// BinType reports numerical or categorical binning.
func (bm *BinMapper) BinType() BinType { return bm.binType }

// MissingType reports how missing values are routed.
func (bm *BinMapper) MissingType() MissingType { return bm.missingType }

// DefaultBin is the bin of 0.0.
func (bm *BinMapper) DefaultBin() uint32 { return bm.defaultBin }

// IsTrivial reports a feature whose sampled values all fell into one bin.
func (bm *BinMapper) IsTrivial() bool { return bm.isTrivial }

// UpperBounds returns a copy of the numerical bin bounds.
func (bm *BinMapper) UpperBounds() []float64 {
	return append([]float64(nil), bm.upperBounds...)
}

// FeatureInfo is the model file description of the feature's value range.
func (bm *BinMapper) FeatureInfo() string {
	if bm.isTrivial {
		return "none"
	}
	if bm.binType == CategoricalBin {
		parts := make([]string, len(bm.binToCat))
		for i, c := range bm.binToCat {
			parts[i] = strconv.Itoa(c)
		}
		return strings.Join(parts, ":")
	}
	return "[" + formatFloat(bm.minVal) + ":" + formatFloat(bm.maxVal) + "]"
}

// String renders the mapper for text dumps.
func (bm *BinMapper) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "type=%s num_bin=%d missing=%s default_bin=%d trivial=%t",
		bm.binType, bm.numBin, bm.missingType, bm.defaultBin, bm.isTrivial)
	if bm.binType == CategoricalBin {
		sb.WriteString(" categories=")
		sb.WriteString(bm.FeatureInfo())
		return sb.String()
	}
	sb.WriteString(" bounds=")
	for i, b := range bm.upperBounds {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(formatFloat(b))
	}
	return sb.String()
}

// Equal reports whether two mappers bin every value identically.
func (bm *BinMapper) Equal(other *BinMapper) bool {
	if bm == other {
		return true
	}
	if bm == nil || other == nil {
		return false
	}
	if bm.numBin != other.numBin || bm.binType != other.binType || bm.missingType != other.missingType {
		return false
	}
	if bm.binType == CategoricalBin {
		for i, c := range bm.binToCat {
			if other.binToCat[i] != c {
				return false
			}
		}
		return true
	}
	for i, b := range bm.upperBounds {
		o := other.upperBounds[i]
		if b != o && !(math.IsNaN(b) && math.IsNaN(o)) {
			return false
		}
	}
	return true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
