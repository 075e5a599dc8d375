package objective

import (
	"math"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// binaryLogloss is the logistic loss for 0/1 labels.
type binaryLogloss struct {
	sigmoid        float64
	isUnbalance    bool
	scalePosWeight float64
	workers        int

	// isPos decides the positive class; multiclassova swaps it per class
	isPos        func(float64) bool
	label        []float64
	weight       []float64
	labelWeights [2]float64
	initScore    float64
}

func newBinary(sigmoid float64, isUnbalance bool, scalePosWeight float64, workers int) *binaryLogloss {
	return &binaryLogloss{
		sigmoid:        sigmoid,
		isUnbalance:    isUnbalance,
		scalePosWeight: scalePosWeight,
		workers:        workers,
		isPos:          func(l float64) bool { return l > 0 },
	}
}

func (o *binaryLogloss) Init(meta Metadata) error {
	err := checkLabels("binary", meta, func(l float64) bool { return l == 0 || l == 1 }, "want 0 or 1")
	if err != nil {
		return err
	}
	return o.initWith(meta)
}

// initWith skips label validation for multiclassova, which derives 0/1 labels.
func (o *binaryLogloss) initWith(meta Metadata) error {
	o.label = meta.Label
	o.weight = meta.Weight

	var cntPos, cntNeg int
	var sumPos, sumW float64
	for i, l := range o.label {
		w := 1.0
		if o.weight != nil {
			w = o.weight[i]
		}
		if o.isPos(l) {
			cntPos++
			sumPos += w
		} else {
			cntNeg++
		}
		sumW += w
	}
	if cntPos == 0 || cntNeg == 0 {
		errors.Warn(errors.New("binary objective: training data contains only one class"))
	}

	o.labelWeights = [2]float64{1, 1}
	if o.isUnbalance && cntPos > 0 && cntNeg > 0 {
		if cntPos > cntNeg {
			o.labelWeights[0] = float64(cntPos) / float64(cntNeg)
		} else {
			o.labelWeights[1] = float64(cntNeg) / float64(cntPos)
		}
	}
	o.labelWeights[1] *= o.scalePosWeight

	pavg := 0.0
	if sumW > 0 {
		pavg = sumPos / sumW
	}
	pavg = math.Min(math.Max(pavg, config.Epsilon), 1-config.Epsilon)
	o.initScore = math.Log(pavg/(1-pavg)) / o.sigmoid
	return nil
}

func (o *binaryLogloss) GetGradients(score, grad, hess []float64) {
	parallel.ParallelizeWithThreshold(o.workers, len(o.label), 1024, func(start, end int) {
		for i := start; i < end; i++ {
			o.gradient(i, score[i], &grad[i], &hess[i])
		}
	})
}

func (o *binaryLogloss) gradient(i int, score float64, grad, hess *float64) {
	label, lw := -1.0, o.labelWeights[0]
	if o.isPos(o.label[i]) {
		label, lw = 1.0, o.labelWeights[1]
	}
	response := -label * o.sigmoid / (1 + math.Exp(label*o.sigmoid*score))
	abs := math.Abs(response)
	g := response * lw
	h := abs * (o.sigmoid - abs) * lw
	if o.weight != nil {
		g *= o.weight[i]
		h *= o.weight[i]
	}
	*grad, *hess = g, h
}

func (o *binaryLogloss) BoostFromScore(int) float64 { return o.initScore }

func (o *binaryLogloss) ConvertOutput(raw, out []float64) {
	out[0] = 1 / (1 + math.Exp(-o.sigmoid*raw[0]))
}

func (o *binaryLogloss) NumModelPerIteration() int { return 1 }

func (o *binaryLogloss) String() string { return "binary sigmoid:" + formatFloat(o.sigmoid) }
