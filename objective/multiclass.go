package objective

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/core/parallel"
)

func classLabel(numClass int) func(float64) bool {
	return func(l float64) bool {
		return l >= 0 && l < float64(numClass) && l == math.Trunc(l)
	}
}

// Softmax writes the softmax of raw into out.
func Softmax(raw, out []float64) {
	m := floats.Max(raw)
	sum := 0.0
	for k, v := range raw {
		out[k] = math.Exp(v - m)
		sum += out[k]
	}
	floats.Scale(1/sum, out)
}

// multiclassSoftmax is the cross entropy of a softmax over numClass trees.
type multiclassSoftmax struct {
	numClass int
	workers  int

	label      []float64
	weight     []float64
	classProbs []float64
}

func (o *multiclassSoftmax) Init(meta Metadata) error {
	want := "want an integer in [0, " + strconv.Itoa(o.numClass) + ")"
	if err := checkLabels("multiclass", meta, classLabel(o.numClass), want); err != nil {
		return err
	}
	o.label = meta.Label
	o.weight = meta.Weight

	o.classProbs = make([]float64, o.numClass)
	sumW := 0.0
	for i, l := range o.label {
		w := 1.0
		if o.weight != nil {
			w = o.weight[i]
		}
		o.classProbs[int(l)] += w
		sumW += w
	}
	if sumW > 0 {
		floats.Scale(1/sumW, o.classProbs)
	}
	return nil
}

func (o *multiclassSoftmax) GetGradients(score, grad, hess []float64) {
	n := len(o.label)
	k := o.numClass
	factor := float64(k) / float64(k-1)
	parallel.ParallelizeWithThreshold(o.workers, n, 1024, func(start, end int) {
		raw := make([]float64, k)
		prob := make([]float64, k)
		for i := start; i < end; i++ {
			for c := 0; c < k; c++ {
				raw[c] = score[c*n+i]
			}
			Softmax(raw, prob)
			w := 1.0
			if o.weight != nil {
				w = o.weight[i]
			}
			y := int(o.label[i])
			for c, p := range prob {
				g := p
				if c == y {
					g = p - 1
				}
				grad[c*n+i] = g * w
				hess[c*n+i] = factor * p * (1 - p) * w
			}
		}
	})
}

func (o *multiclassSoftmax) BoostFromScore(class int) float64 {
	return math.Log(math.Max(config.Epsilon, o.classProbs[class]))
}

func (o *multiclassSoftmax) ConvertOutput(raw, out []float64) { Softmax(raw, out) }

func (o *multiclassSoftmax) NumModelPerIteration() int { return o.numClass }

func (o *multiclassSoftmax) String() string {
	return "multiclass num_class:" + strconv.Itoa(o.numClass)
}

// multiclassOVA trains one binary logistic model per class.
type multiclassOVA struct {
	numClass int
	sigmoid  float64
	binaries []*binaryLogloss
	numData  int
}

func newMulticlassOVA(cfg *config.Config, workers int) *multiclassOVA {
	o := &multiclassOVA{numClass: cfg.NumClass, sigmoid: cfg.Sigmoid}
	for c := 0; c < cfg.NumClass; c++ {
		b := newBinary(cfg.Sigmoid, cfg.IsUnbalance, cfg.ScalePosWeight, workers)
		class := float64(c)
		b.isPos = func(l float64) bool { return l == class }
		o.binaries = append(o.binaries, b)
	}
	return o
}

func (o *multiclassOVA) Init(meta Metadata) error {
	want := "want an integer in [0, " + strconv.Itoa(o.numClass) + ")"
	if err := checkLabels("multiclassova", meta, classLabel(o.numClass), want); err != nil {
		return err
	}
	o.numData = len(meta.Label)
	for _, b := range o.binaries {
		if err := b.initWith(meta); err != nil {
			return err
		}
	}
	return nil
}

func (o *multiclassOVA) GetGradients(score, grad, hess []float64) {
	n := o.numData
	for c, b := range o.binaries {
		b.GetGradients(score[c*n:(c+1)*n], grad[c*n:(c+1)*n], hess[c*n:(c+1)*n])
	}
}

func (o *multiclassOVA) BoostFromScore(class int) float64 {
	return o.binaries[class].BoostFromScore(0)
}

func (o *multiclassOVA) ConvertOutput(raw, out []float64) {
	for c, v := range raw {
		out[c] = 1 / (1 + math.Exp(-o.sigmoid*v))
	}
}

func (o *multiclassOVA) NumModelPerIteration() int { return o.numClass }

func (o *multiclassOVA) String() string {
	return "multiclassova num_class:" + strconv.Itoa(o.numClass) + " sigmoid:" + formatFloat(o.sigmoid)
}
