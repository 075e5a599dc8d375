package boosting

import (
	"fmt"
	"time"

	"github.com/YuminosukeSato/scigbm/pkg/log"
)

// CallbackEnv is the state passed to callbacks around a boosting round.
type CallbackEnv struct {
	Booster      *Booster
	Iteration    int
	BeginTime    time.Time
	EndTime      time.Time
	EvalResults  []EvalResult
	StopTraining bool
}

// Callback is called before and after every round of Train. Returning an
// error aborts training.
type Callback func(env *CallbackEnv) error

// LogEvaluation logs the evaluation results every period rounds.
func LogEvaluation(period int) Callback {
	return func(env *CallbackEnv) error {
		if period <= 0 || env.EvalResults == nil || (env.Iteration+1)%period != 0 {
			return nil
		}
		for _, r := range env.EvalResults {
			env.Booster.logger.Info("Evaluation",
				log.IterationKey, env.Iteration+1,
				log.DataNameKey, r.DataName,
				log.MetricKey, r.MetricName,
				log.MetricValueKey, r.Value,
			)
		}
		return nil
	}
}

// RecordEvaluation appends every round's results to history.
func RecordEvaluation(history EvalHistory) Callback {
	return func(env *CallbackEnv) error {
		if env.EvalResults != nil {
			history.Add(env.EvalResults)
		}
		return nil
	}
}

// EarlyStoppingCallback stops training when the first validation metric has
// not improved for rounds rounds. The best round is recorded on the Booster.
func EarlyStoppingCallback(rounds int) Callback {
	es := NewEarlyStopping(rounds)
	return func(env *CallbackEnv) error {
		if env.EvalResults == nil {
			return nil
		}
		r, ok := firstValidResult(env.EvalResults)
		if !ok {
			return nil
		}
		if es.Update(env.Iteration, r) {
			env.Booster.bestIteration = es.BestIteration + 1
			env.Booster.logger.Info("Early stopping",
				log.IterationKey, env.Iteration+1,
				"best_iteration", es.BestIteration+1,
				log.MetricKey, es.Metric,
				log.MetricValueKey, es.BestScore,
			)
			env.StopTraining = true
		}
		return nil
	}
}

func firstValidResult(results []EvalResult) (EvalResult, bool) {
	for _, r := range results {
		if r.DataName != TrainingDataName {
			return r, true
		}
	}
	return EvalResult{}, false
}

// TimeLimit stops training once maxDuration has passed since the first round.
func TimeLimit(maxDuration time.Duration) Callback {
	var start time.Time
	return func(env *CallbackEnv) error {
		if start.IsZero() {
			start = time.Now()
		}
		if time.Since(start) > maxDuration {
			env.Booster.logger.Warn("Time limit reached", log.IterationKey, env.Iteration+1)
			env.StopTraining = true
		}
		return nil
	}
}

// LearningRateSchedule multiplies the learning rate by decayRate every
// decaySteps rounds.
func LearningRateSchedule(decayRate float64, decaySteps int) Callback {
	return func(env *CallbackEnv) error {
		if env.EvalResults != nil || decaySteps <= 0 {
			return nil
		}
		if env.Iteration > 0 && env.Iteration%decaySteps == 0 {
			return env.Booster.SetLearningRate(env.Booster.cfg.LearningRate * decayRate)
		}
		return nil
	}
}

// ModelCheckpoint saves the model text every period rounds to
// "<prefix>_iter_<n>.txt".
func ModelCheckpoint(prefix string, period int) Callback {
	return func(env *CallbackEnv) error {
		if env.EvalResults == nil || period <= 0 || (env.Iteration+1)%period != 0 {
			return nil
		}
		return env.Booster.SaveModel(fmt.Sprintf("%s_iter_%d.txt", prefix, env.Iteration+1), 0, 0)
	}
}

// CallbackList runs callbacks in order around each round. Before a round
// EvalResults is nil; after it, it holds the round's results (possibly empty).
type CallbackList struct {
	callbacks []Callback
	env       *CallbackEnv
}

// NewCallbackList creates a list over callbacks.
func NewCallbackList(callbacks ...Callback) *CallbackList {
	return &CallbackList{callbacks: callbacks, env: &CallbackEnv{}}
}

// BeforeIteration calls the callbacks before a round.
func (cl *CallbackList) BeforeIteration(iteration int, b *Booster) error {
	cl.env.Booster = b
	cl.env.Iteration = iteration
	cl.env.BeginTime = time.Now()
	cl.env.EvalResults = nil
	return cl.run()
}

// AfterIteration calls the callbacks after a round.
func (cl *CallbackList) AfterIteration(iteration int, b *Booster, results []EvalResult) error {
	cl.env.Booster = b
	cl.env.Iteration = iteration
	cl.env.EndTime = time.Now()
	if results == nil {
		results = []EvalResult{}
	}
	cl.env.EvalResults = results
	return cl.run()
}

func (cl *CallbackList) run() error {
	for _, cb := range cl.callbacks {
		if err := cb(cl.env); err != nil {
			return err
		}
		if cl.env.StopTraining {
			break
		}
	}
	return nil
}

// ShouldStop reports whether a callback asked to stop.
func (cl *CallbackList) ShouldStop() bool { return cl.env.StopTraining }
