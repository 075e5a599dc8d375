// Package scigbm is a histogram based gradient boosting decision tree engine
// for Go, compatible with LightGBM's parameters and model text format.
//
// Models are trained from dense gonum matrices, row slices or svmlight files,
// with leaf-wise tree growth on binned features. Saved models load in
// LightGBM and LightGBM models load here.
//
// # Installation
//
//	go get github.com/YuminosukeSato/scigbm
//
// # Quick Start
//
//	cfg, err := config.FromMap(map[string]any{
//	    "objective":      "binary",
//	    "num_iterations": 100,
//	    "learning_rate":  0.1,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx := config.ContextFor(cfg)
//	train := dataset.New(ctx, dataset.FromMatrix(X), dataset.WithParams(cfg), dataset.WithLabel(y))
//	b, err := boosting.Train(ctx, cfg, train, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	prob, err := b.Predict(Xtest)
//
// # Packages
//
//   - config: parameters, aliases, config files and the runtime Context
//   - dataset: binning, Dataset construction, svmlight loading, subsets and merges
//   - learner: leaf-wise tree learner over feature histograms
//   - objective: regression, classification and ranking objectives
//   - metrics: evaluation metrics
//   - tree: the tree model, its text and JSON forms, and SHAP contributions
//   - boosting: the Booster, training loop, callbacks, cross validation and prediction
//   - report: learning curve and importance plots, evaluation history export
//   - sklearn/lightgbm: scikit-learn style regressor and classifier
//   - core/model: estimator interfaces and model persistence
//   - core/parallel: worker pool helpers
//   - pkg/errors, pkg/log: error kinds and structured logging
//
// The scigbm command under cmd/scigbm trains, predicts, cross validates and
// dumps models from the command line.
package scigbm
