package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeData writes a binary classification problem in svmlight format.
func writeData(t *testing.T, dir, name string, n int, seed int64) string {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	var sb strings.Builder
	for i := 0; i < n; i++ {
		x0, x1, x2 := rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()
		label := 0
		if x0-x1 > 0 {
			label = 1
		}
		fmt.Fprintf(&sb, "%d 0:%g 1:%g 2:%g\n", label, x0, x1, x2)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestTrainPredictDump(t *testing.T) {
	dir := t.TempDir()
	train := writeData(t, dir, "train.svm", 300, 1)
	valid := writeData(t, dir, "valid.svm", 100, 2)
	model := filepath.Join(dir, "model.txt")
	history := filepath.Join(dir, "history.csv")

	var stdout, stderr bytes.Buffer
	err := run([]string{"train", "-data", train, "-valid", valid, "-output", model, "-history", history,
		"objective=binary", "num_iterations=20", "metric=auc", "early_stopping_round=5", "verbose=-1"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stdout.String(), "saved to "+model)

	text, err := os.ReadFile(model)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(text), "tree\n"))

	csv, err := os.ReadFile(history)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(csv), "round,training_auc,"))

	stdout.Reset()
	require.NoError(t, run([]string{"predict", "-model", model, "-data", valid}, &stdout, &stderr))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 100)
	for _, l := range lines {
		p, err := strconv.ParseFloat(l, 64)
		require.NoError(t, err)
		assert.True(t, p > 0 && p < 1)
	}

	preds := filepath.Join(dir, "preds.txt")
	require.NoError(t, run([]string{"predict", "-model", model, "-data", valid, "-output", preds, "-raw",
		"pred_early_stop=true", "pred_early_stop_margin=100"}, &stdout, &stderr))
	data, err := os.ReadFile(preds)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 100)

	stdout.Reset()
	require.NoError(t, run([]string{"dump", "-model", model}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), `"tree_info"`)
}

func TestCV(t *testing.T) {
	dir := t.TempDir()
	train := writeData(t, dir, "train.svm", 150, 3)
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"cv", "-data", train, "-folds", "3",
		"objective=binary", "num_iterations=5", "verbose=-1"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "binary_logloss: ")
	assert.Contains(t, stdout.String(), "(5 rounds)")
}

func TestRunErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"serve"}},
		{"missing data", []string{"train"}},
		{"bad override", []string{"train", "-data", "x.svm", "num_leaves"}},
		{"missing model", []string{"predict", "-model", filepath.Join(t.TempDir(), "none.txt"), "-data", "x.svm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, run(tt.args, &stdout, &stderr))
		})
	}
}
