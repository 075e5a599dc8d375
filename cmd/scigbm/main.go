// Command scigbm trains, applies and inspects gradient boosted tree models on
// svmlight files.
//
//	scigbm train   -data train.svm [-valid valid.svm] [-config train.conf] [-output model.txt] [key=value ...]
//	scigbm predict -model model.txt -data test.svm [-output preds.txt] [-raw] [key=value ...]
//	scigbm cv      -data train.svm [-folds 5] [-config train.conf] [key=value ...]
//	scigbm dump    -model model.txt [-output model.json]
//
// Parameters given as key=value override the config file. A "<data>.query"
// file next to a data file supplies query group sizes.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/YuminosukeSato/scigbm/boosting"
	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/dataset"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
	"github.com/YuminosukeSato/scigbm/report"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "scigbm:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: scigbm <train|predict|cv|dump> [flags] [key=value ...]")
	}
	switch args[0] {
	case "train":
		return runTrain(args[1:], stdout, stderr)
	case "predict":
		return runPredict(args[1:], stdout, stderr)
	case "cv":
		return runCV(args[1:], stdout, stderr)
	case "dump":
		return runDump(args[1:], stdout, stderr)
	}
	return errors.Newf("unknown command %q", args[0])
}

// loadConfig reads the optional config file and applies key=value overrides.
func loadConfig(path string, overrides []string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	for _, kv := range overrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.Newf("expected key=value, got %q", kv)
		}
		if err := cfg.Set(strings.TrimSpace(k), strings.TrimSpace(v)); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newContext(cfg *config.Config, stderr io.Writer) *config.Context {
	return config.NewContext(
		config.WithThreads(cfg.NumThreads),
		config.WithLogger(log.NewLogger(stderr, log.LevelFromVerbosity(cfg.Verbose))),
	)
}

// loadData reads an svmlight file and its optional query file. numCols widens
// the sparse matrix so it lines up with a training set.
func loadData(path string, numCols int) (*dataset.LibSVM, []int, error) {
	svm, err := dataset.LoadLibSVM(path)
	if err != nil {
		return nil, nil, err
	}
	if svm.X.NumCols < numCols {
		svm.X.NumCols = numCols
	}
	var groups []int
	if _, err := os.Stat(path + ".query"); err == nil {
		if groups, err = dataset.LoadQueryFile(path + ".query"); err != nil {
			return nil, nil, err
		}
	}
	return svm, groups, nil
}

func trainingSet(ctx *config.Context, cfg *config.Config, path string) (*dataset.Dataset, int, error) {
	svm, groups, err := loadData(path, 0)
	if err != nil {
		return nil, 0, err
	}
	opts := []dataset.Option{dataset.WithParams(cfg), dataset.WithLabel(svm.Label)}
	if groups != nil {
		opts = append(opts, dataset.WithGroup(groups))
	}
	return dataset.New(ctx, svm.X, opts...), svm.X.NumCols, nil
}

func runTrain(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	fs.SetOutput(stderr)
	data := fs.String("data", "", "training data in svmlight format")
	valid := fs.String("valid", "", "comma separated validation files")
	confPath := fs.String("config", "", "parameter file (.conf, .yaml or .toml)")
	output := fs.String("output", "model.txt", "model output path")
	curve := fs.String("curve", "", "learning curve image path")
	importance := fs.String("importance", "", "feature importance image path")
	history := fs.String("history", "", "evaluation history CSV path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *data == "" {
		return errors.New("train: -data is required")
	}
	cfg, err := loadConfig(*confPath, fs.Args())
	if err != nil {
		return err
	}
	ctx := newContext(cfg, stderr)

	train, numCols, err := trainingSet(ctx, cfg, *data)
	if err != nil {
		return err
	}
	var valids []boosting.ValidData
	if *valid != "" {
		for _, path := range strings.Split(*valid, ",") {
			svm, groups, err := loadData(path, numCols)
			if err != nil {
				return err
			}
			opts := []dataset.Option{dataset.WithLabel(svm.Label)}
			if groups != nil {
				opts = append(opts, dataset.WithGroup(groups))
			}
			valids = append(valids, boosting.ValidData{Name: path, Data: train.CreateValid(svm.X, opts...)})
		}
	}

	b, err := boosting.Train(ctx, cfg, train, valids)
	if err != nil {
		return err
	}
	if err := b.SaveModel(*output, 0, 0); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "trained %d iterations, best %d, saved to %s\n", b.CurrentIteration(), b.BestIteration(), *output)

	if *curve != "" {
		if err := saveCurve(b, *curve); err != nil {
			return err
		}
	}
	if *importance != "" {
		p, err := report.Importance(b.FeatureNames(), b.FeatureImportance(boosting.ImportanceGain, 0), 20)
		if err != nil {
			return err
		}
		if err := report.Save(p, *importance); err != nil {
			return err
		}
	}
	if *history != "" {
		f, err := os.Create(*history)
		if err != nil {
			return errors.Wrapf(err, "create %s", *history)
		}
		defer f.Close()
		if err := report.WriteHistoryCSV(f, b.EvalHistory()); err != nil {
			return err
		}
	}
	return nil
}

// saveCurve plots the first metric recorded on the training data.
func saveCurve(b *boosting.Booster, path string) error {
	h := b.EvalHistory()
	var metric string
	for m := range h[boosting.TrainingDataName] {
		if metric == "" || m < metric {
			metric = m
		}
	}
	p, err := report.LearningCurve(h, metric)
	if err != nil {
		return err
	}
	return report.Save(p, path)
}

func runPredict(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modelPath := fs.String("model", "model.txt", "model file")
	data := fs.String("data", "", "data in svmlight format")
	output := fs.String("output", "", "prediction output path, stdout when empty")
	raw := fs.Bool("raw", false, "write raw scores")
	numIteration := fs.Int("num_iteration", 0, "rounds to use, 0 for the best or all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *data == "" {
		return errors.New("predict: -data is required")
	}
	cfg, err := loadConfig("", fs.Args())
	if err != nil {
		return err
	}
	ctx := newContext(cfg, stderr)
	b, err := boosting.LoadModelFromFile(ctx, *modelPath)
	if err != nil {
		return err
	}
	opts := []boosting.PredictOption{boosting.WithPredictConfig(cfg), boosting.WithNumIteration(*numIteration)}
	if *raw {
		opts = append(opts, boosting.WithRawScore())
	}
	pred, err := b.PredictFile(*data, opts...)
	if err != nil {
		return err
	}

	w := stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return errors.Wrapf(err, "create %s", *output)
		}
		defer f.Close()
		w = f
	}
	rows, _ := pred.Dims()
	var sb strings.Builder
	for i := 0; i < rows; i++ {
		for j, v := range pred.RawRowView(i) {
			if j > 0 {
				sb.WriteByte('\t')
			}
			fmt.Fprintf(&sb, "%.17g", v)
		}
		sb.WriteByte('\n')
	}
	_, err = io.WriteString(w, sb.String())
	return err
}

func runCV(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("cv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	data := fs.String("data", "", "training data in svmlight format")
	confPath := fs.String("config", "", "parameter file (.conf, .yaml or .toml)")
	folds := fs.Int("folds", 5, "number of folds")
	stratified := fs.Bool("stratified", true, "stratify folds by label for classification")
	seed := fs.Int("seed", 0, "shuffle seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *data == "" {
		return errors.New("cv: -data is required")
	}
	cfg, err := loadConfig(*confPath, fs.Args())
	if err != nil {
		return err
	}
	ctx := newContext(cfg, stderr)
	train, _, err := trainingSet(ctx, cfg, *data)
	if err != nil {
		return err
	}

	var splitter boosting.Splitter
	switch {
	case cfg.Objective == "lambdarank":
		splitter = &boosting.GroupKFold{NSplits: *folds}
	case *stratified && (cfg.Objective == "binary" || strings.HasPrefix(cfg.Objective, "multiclass")):
		splitter = boosting.NewStratifiedKFold(*folds, true, *seed)
	default:
		splitter = boosting.NewKFold(*folds, true, *seed)
	}
	res, err := boosting.CrossValidate(ctx, cfg, train, splitter)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(res.Mean))
	for name := range res.Mean {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		mean := res.Mean[name]
		last := len(mean) - 1
		if last < 0 {
			continue
		}
		fmt.Fprintf(stdout, "%s: %.6f +/- %.6f (%d rounds)\n", name, mean[last], res.Std[name][last], len(mean))
	}
	return nil
}

func runDump(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	fs.SetOutput(stderr)
	modelPath := fs.String("model", "model.txt", "model file")
	output := fs.String("output", "", "JSON output path, stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ctx := config.NewContext(config.WithLogger(log.NewLogger(stderr, log.LevelError)))
	b, err := boosting.LoadModelFromFile(ctx, *modelPath)
	if err != nil {
		return err
	}
	out, err := b.DumpModel(0, 0)
	if err != nil {
		return err
	}
	if *output == "" {
		_, err = stdout.Write(append(out, '\n'))
		return err
	}
	return errors.Wrapf(os.WriteFile(*output, out, 0o644), "write %s", *output)
}
