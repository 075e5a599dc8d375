// Package report renders training artifacts: learning curves, feature
// importance charts and CSV exports of the evaluation history.
package report

import (
	"cmp"
	"encoding/csv"
	"io"
	"slices"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/scigbm/boosting"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// dataNames orders the datasets of a history with the training data first.
func dataNames(history boosting.EvalHistory) []string {
	names := make([]string, 0, len(history))
	for name := range history {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == boosting.TrainingDataName:
			return -1
		case b == boosting.TrainingDataName:
			return 1
		}
		return cmp.Compare(a, b)
	})
	return names
}

// LearningCurve plots metric against the evaluation round, one line per
// dataset that recorded it.
func LearningCurve(history boosting.EvalHistory, metric string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Learning curve"
	p.X.Label.Text = "Evaluation"
	p.Y.Label.Text = metric
	p.Legend.Top = true

	var lines []any
	for _, name := range dataNames(history) {
		values, ok := history[name][metric]
		if !ok || len(values) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(values))
		for i, v := range values {
			pts[i].X = float64(i + 1)
			pts[i].Y = v
		}
		lines = append(lines, name, pts)
	}
	if len(lines) == 0 {
		return nil, errors.NewPreconditionErrorf("report.LearningCurve", "metric %q was not recorded", metric)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return nil, errors.Wrap(err, "add learning curve lines")
	}
	return p, nil
}

// Importance draws a bar chart of the top features by importance. top <= 0
// keeps every feature with non-zero importance.
func Importance(names []string, importance []float64, top int) (*plot.Plot, error) {
	const op = "report.Importance"
	if len(names) != len(importance) {
		return nil, errors.NewDimensionError(op, len(names), len(importance), 0)
	}
	order := make([]int, 0, len(names))
	for i, v := range importance {
		if v > 0 {
			order = append(order, i)
		}
	}
	if len(order) == 0 {
		return nil, errors.NewPreconditionError(op, "no feature has positive importance")
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(importance[b], importance[a]) })
	if top > 0 && len(order) > top {
		order = order[:top]
	}

	values := make(plotter.Values, len(order))
	labels := make([]string, len(order))
	for i, f := range order {
		values[i] = importance[f]
		labels[i] = names[f]
	}
	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, errors.Wrap(err, "build importance bars")
	}
	bars.Color = plotutil.Color(0)

	p := plot.New()
	p.Title.Text = "Feature importance"
	p.Y.Label.Text = "Importance"
	p.Add(bars)
	p.NominalX(labels...)
	return p, nil
}

// Save writes p to path; the format follows the file extension.
func Save(p *plot.Plot, path string) error {
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save plot to %s", path)
	}
	return nil
}

// WriteHistoryCSV writes one row per evaluation round with a column per
// dataset and metric, named "<data>_<metric>".
func WriteHistoryCSV(w io.Writer, history boosting.EvalHistory) error {
	type column struct {
		name   string
		values []float64
	}
	var cols []column
	rounds := 0
	for _, data := range dataNames(history) {
		metrics := make([]string, 0, len(history[data]))
		for m := range history[data] {
			metrics = append(metrics, m)
		}
		slices.Sort(metrics)
		for _, m := range metrics {
			values := history[data][m]
			cols = append(cols, column{name: data + "_" + m, values: values})
			rounds = max(rounds, len(values))
		}
	}

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(cols)+1)
	header = append(header, "round")
	for _, c := range cols {
		header = append(header, c.name)
	}
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write history header")
	}
	for i := 0; i < rounds; i++ {
		rec := make([]string, 0, len(cols)+1)
		rec = append(rec, strconv.Itoa(i+1))
		for _, c := range cols {
			if i < len(c.values) {
				rec = append(rec, strconv.FormatFloat(c.values[i], 'g', -1, 64))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, "write history row")
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush history")
}
