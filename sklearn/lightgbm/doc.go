// Package lightgbm wraps the boosting engine in scikit-learn style estimators.
//
// LGBMRegressor and LGBMClassifier take their hyperparameters by name, with
// the same aliases the engine accepts (n_estimators, min_child_samples,
// reg_lambda, colsample_bytree and so on), and train on gonum matrices:
//
//	clf := lightgbm.NewLGBMClassifier().
//	    WithNumIterations(200).
//	    WithLearningRate(0.05).
//	    WithEarlyStopping(20)
//	if err := clf.FitWithEval(X, y, lightgbm.EvalSet{X: Xval, Y: yval}); err != nil {
//	    return err
//	}
//	proba, err := clf.PredictProba(Xtest)
//
// The classifier maps arbitrary class labels to 0..K-1 internally and back
// again in Predict. A fitted estimator persists as LightGBM model text via
// model.SaveModel and model.LoadModel.
package lightgbm
