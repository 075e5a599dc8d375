package boosting

import (
	"math"
	"strconv"
	"time"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
)

// EarlyStopping tracks the best value of one metric across rounds.
type EarlyStopping struct {
	Rounds          int
	BestScore       float64
	BestIteration   int
	RoundsNoImprove int
	Metric          string
	HigherBetter    bool
	Enabled         bool
	started         bool
}

// NewEarlyStopping stops after rounds rounds without improvement; rounds <= 0
// disables it.
func NewEarlyStopping(rounds int) *EarlyStopping {
	return &EarlyStopping{Rounds: rounds, Enabled: rounds > 0}
}

// Update records the result of a round and reports whether to stop. The
// metric and its direction are taken from the first result seen.
func (es *EarlyStopping) Update(iteration int, r EvalResult) bool {
	if !es.Enabled {
		return false
	}
	if !es.started {
		es.started = true
		es.Metric = r.MetricName
		es.HigherBetter = r.HigherBetter
		es.BestScore = math.Inf(1)
		if es.HigherBetter {
			es.BestScore = math.Inf(-1)
		}
	}
	improved := r.Value < es.BestScore
	if es.HigherBetter {
		improved = r.Value > es.BestScore
	}
	if improved {
		es.BestScore = r.Value
		es.BestIteration = iteration
		es.RoundsNoImprove = 0
	} else {
		es.RoundsNoImprove++
	}
	return es.RoundsNoImprove >= es.Rounds
}

// ShouldStop reports whether the patience is used up.
func (es *EarlyStopping) ShouldStop() bool {
	return es.Enabled && es.RoundsNoImprove >= es.Rounds
}

// ValidData is a named validation Dataset for Train.
type ValidData struct {
	Name string
	Data *dataset.Dataset
}

// Train creates a Booster on train and runs cfg.NumIterations rounds, or
// fewer when no tree can be split or a callback stops training. Metrics are
// evaluated every metric_freq rounds; with early_stopping_round > 0 and at
// least one validation set, training stops once the first validation metric
// stops improving, and the best round is kept as BestIteration.
func Train(ctx *config.Context, cfg *config.Config, train *dataset.Dataset, valids []ValidData,
	callbacks ...Callback,
) (*Booster, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	b, err := NewBooster(ctx, cfg, train)
	if err != nil {
		return nil, err
	}
	for i, v := range valids {
		name := v.Name
		if name == "" {
			name = "valid_" + strconv.Itoa(i)
		}
		if err := b.AddValid(v.Data, name); err != nil {
			return nil, err
		}
	}

	history := make(EvalHistory)
	b.history = history
	all := []Callback{RecordEvaluation(history)}
	if cfg.EarlyStoppingRound > 0 && len(valids) > 0 {
		all = append(all, EarlyStoppingCallback(cfg.EarlyStoppingRound))
	}
	if cfg.Verbose > 0 {
		all = append(all, LogEvaluation(cfg.MetricFreq))
	}
	cl := NewCallbackList(append(all, callbacks...)...)

	start := time.Now()
	for it := 0; it < cfg.NumIterations; it++ {
		if err := cl.BeforeIteration(it, b); err != nil {
			return nil, err
		}
		if cl.ShouldStop() {
			break
		}
		finished, err := b.Update()
		if err != nil {
			return nil, errors.Wrapf(err, "iteration %d", it+1)
		}
		if finished {
			break
		}
		var results []EvalResult
		if (it+1)%cfg.MetricFreq == 0 || it+1 == cfg.NumIterations {
			if results, err = b.evalAll(); err != nil {
				return nil, err
			}
		}
		if err := cl.AfterIteration(it, b, results); err != nil {
			return nil, err
		}
		if cl.ShouldStop() {
			break
		}
	}
	b.logger.Info("Training finished",
		log.NumTreesKey, b.NumTrees(),
		"best_iteration", b.bestIteration,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return b, nil
}

// evalAll evaluates the training metrics followed by every validation set.
func (b *Booster) evalAll() ([]EvalResult, error) {
	train, err := b.EvalTrain()
	if err != nil {
		return nil, err
	}
	valid, err := b.EvalValid()
	if err != nil {
		return nil, err
	}
	return append(train, valid...), nil
}
