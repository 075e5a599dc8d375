package boosting

import (
	"cmp"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigbm/config"
	"github.com/YuminosukeSato/scigbm/objective"
	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/pkg/log"
	"github.com/YuminosukeSato/scigbm/tree"
)

const modelVersion = "v3"

// ModelToString renders the model text of rounds [startIteration,
// startIteration+numIteration). numIteration <= 0 means up to the best
// iteration when early stopping recorded one, otherwise up to the last round.
// The same ensemble always renders to the same bytes.
func (b *Booster) ModelToString(startIteration, numIteration int) string {
	first, last := b.treeRange(startIteration, numIteration)
	trees := b.trees[first:last]

	blocks := make([]string, len(trees))
	sizes := make([]string, len(trees))
	for i, t := range trees {
		blocks[i] = "Tree=" + strconv.Itoa(i) + "\n" + t.ToString() + "\n"
		sizes[i] = strconv.Itoa(len(blocks[i]))
	}

	var sb strings.Builder
	line := func(key, value string) {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(value)
		sb.WriteByte('\n')
	}
	sb.WriteString("tree\n")
	line("version", modelVersion)
	line("num_class", strconv.Itoa(b.numClass))
	line("num_tree_per_iteration", strconv.Itoa(b.numTreePerIteration))
	line("label_index", "0")
	line("max_feature_idx", strconv.Itoa(len(b.featureNames)-1))
	line("objective", b.obj.String())
	line("feature_names", strings.Join(b.featureNames, " "))
	line("feature_infos", strings.Join(b.featureInfos, " "))
	if len(b.monotone) > 0 {
		mc := make([]string, len(b.monotone))
		for i, v := range b.monotone {
			mc[i] = strconv.Itoa(v)
		}
		line("monotone_constraints", strings.Join(mc, " "))
	}
	if len(b.penalty) > 0 {
		fp := make([]string, len(b.penalty))
		for i, v := range b.penalty {
			fp[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		line("feature_penalty", strings.Join(fp, " "))
	}
	line("tree_sizes", strings.Join(sizes, " "))
	sb.WriteByte('\n')

	for _, block := range blocks {
		sb.WriteString(block)
		sb.WriteByte('\n')
	}
	sb.WriteString("end of trees\n")

	sb.WriteString("\nfeature_importances:\n")
	for _, fi := range b.splitImportance(first, last) {
		line(b.featureNames[fi.feature], strconv.Itoa(fi.count))
	}

	sb.WriteString("\nparameters:\n")
	for _, p := range b.paramLines {
		sb.WriteString(p)
		sb.WriteByte('\n')
	}
	sb.WriteString("end of parameters\n")
	return sb.String()
}

// SaveModel writes ModelToString(startIteration, numIteration) to path.
func (b *Booster) SaveModel(path string, startIteration, numIteration int) error {
	if err := os.WriteFile(path, []byte(b.ModelToString(startIteration, numIteration)), 0o644); err != nil {
		return errors.Wrapf(err, "save model to %s", path)
	}
	b.logger.Info("Model saved", "path", path, log.NumTreesKey, len(b.trees))
	return nil
}

// treeRange converts a round range into tree indices, clamped to the ensemble.
// numIteration <= 0 selects rounds up to the best iteration, or all of them.
func (b *Booster) treeRange(startIteration, numIteration int) (int, int) {
	if numIteration <= 0 && b.bestIteration > 0 {
		numIteration = b.bestIteration
	}
	k := b.numTreePerIteration
	total := len(b.trees) / k
	start := min(max(startIteration, 0), total)
	end := total
	if numIteration > 0 {
		end = min(start+numIteration, total)
	}
	return start * k, end * k
}

type featureCount struct {
	feature int
	count   int
}

// splitImportance lists the features used by trees[first:last] by descending
// split count, ties in feature order.
func (b *Booster) splitImportance(first, last int) []featureCount {
	counts := make([]int, len(b.featureNames))
	for _, t := range b.trees[first:last] {
		for node := 0; node < t.NumLeaves()-1; node++ {
			if t.SplitGain(node) > 0 {
				counts[t.SplitFeature(node)]++
			}
		}
	}
	var out []featureCount
	for f, c := range counts {
		if c > 0 {
			out = append(out, featureCount{feature: f, count: c})
		}
	}
	slices.SortStableFunc(out, func(a, b featureCount) int { return cmp.Compare(b.count, a.count) })
	return out
}

// LoadModelFromFile reads a model file written by SaveModel.
func LoadModelFromFile(ctx *config.Context, path string) (*Booster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read model file %s", path)
	}
	return LoadModelFromString(ctx, string(data))
}

// LoadModelFromString restores a predict-only Booster from model text.
// Malformed text is an engine error.
func LoadModelFromString(ctx *config.Context, text string) (b *Booster, err error) {
	const op = "LoadModelFromString"
	defer errors.Recover(&err, op)
	ctx = ctx.OrDefault()

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "tree" {
		return nil, malformedModel("missing \"tree\" header")
	}

	header := make(map[string]string)
	pos := 1
	for ; pos < len(lines); pos++ {
		l := strings.TrimSpace(lines[pos])
		if l == "" {
			if len(header) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(l, "Tree=") {
			break
		}
		k, v, _ := strings.Cut(l, "=")
		header[k] = v
	}

	b, err = newLoadedBooster(ctx, header)
	if err != nil {
		return nil, err
	}

	var block []string
	flush := func() error {
		if block == nil {
			return nil
		}
		t, err := tree.Parse(strings.Join(block, "\n"))
		if err != nil {
			return errors.Wrapf(err, "tree %d", len(b.trees))
		}
		for node := 0; node < t.NumLeaves()-1; node++ {
			if f := t.SplitFeature(node); f < 0 || f >= len(b.featureNames) {
				return malformedModel("tree %d splits on feature %d, the model has %d", len(b.trees), f, len(b.featureNames))
			}
		}
		b.trees = append(b.trees, t)
		block = nil
		return nil
	}
	ended := false
	for ; pos < len(lines) && !ended; pos++ {
		l := strings.TrimSpace(lines[pos])
		switch {
		case l == "end of trees":
			ended = true
		case strings.HasPrefix(l, "Tree="):
			if err := flush(); err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(strings.TrimPrefix(l, "Tree="))
			if err != nil || idx != len(b.trees) {
				return nil, malformedModel("unexpected tree header %q", l)
			}
			block = []string{}
		case block != nil:
			block = append(block, l)
		case l != "":
			return nil, malformedModel("unexpected line %q before the first tree", l)
		}
	}
	if !ended {
		return nil, malformedModel("missing \"end of trees\"")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if sizes, ok := header["tree_sizes"]; ok && len(strings.Fields(sizes)) != len(b.trees) {
		return nil, malformedModel("tree_sizes lists %d trees, found %d", len(strings.Fields(sizes)), len(b.trees))
	}
	if len(b.trees)%b.numTreePerIteration != 0 {
		return nil, malformedModel("%d trees is not a multiple of num_tree_per_iteration=%d", len(b.trees), b.numTreePerIteration)
	}

	inParams := false
	for ; pos < len(lines); pos++ {
		l := strings.TrimSpace(lines[pos])
		switch {
		case l == "parameters:":
			inParams = true
		case l == "end of parameters":
			inParams = false
		case inParams && l != "":
			b.paramLines = append(b.paramLines, l)
		}
	}

	b.logger.Info("Model loaded", log.NumTreesKey, len(b.trees), log.FeaturesKey, len(b.featureNames))
	return b, nil
}

// newLoadedBooster builds an empty predict-only Booster from the header keys.
func newLoadedBooster(ctx *config.Context, header map[string]string) (*Booster, error) {
	headerInt := func(key string) (int, error) {
		v, ok := header[key]
		if !ok {
			return 0, malformedModel("missing %s", key)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, malformedModel("bad %s %q", key, v)
		}
		return n, nil
	}
	numClass, err := headerInt("num_class")
	if err != nil {
		return nil, err
	}
	numPerIter, err := headerInt("num_tree_per_iteration")
	if err != nil {
		return nil, err
	}
	maxFeatureIdx, err := headerInt("max_feature_idx")
	if err != nil {
		return nil, err
	}
	if numClass < 1 || numPerIter < 1 || maxFeatureIdx < 0 {
		return nil, malformedModel("bad model shape num_class=%d num_tree_per_iteration=%d max_feature_idx=%d",
			numClass, numPerIter, maxFeatureIdx)
	}
	objText, ok := header["objective"]
	if !ok {
		return nil, malformedModel("missing objective")
	}
	obj, err := objective.FromString(objText)
	if err != nil {
		return nil, err
	}
	if obj.NumModelPerIteration() != numPerIter {
		return nil, malformedModel("objective %q has %d models per iteration, header says %d",
			objText, obj.NumModelPerIteration(), numPerIter)
	}

	numFeatures := maxFeatureIdx + 1
	names := strings.Fields(header["feature_names"])
	if len(names) != numFeatures {
		return nil, malformedModel("%d feature names for %d features", len(names), numFeatures)
	}
	infos := strings.Fields(header["feature_infos"])
	if len(infos) != numFeatures {
		return nil, malformedModel("%d feature infos for %d features", len(infos), numFeatures)
	}
	b := &Booster{
		ctx:                 ctx,
		cfg:                 config.Default(),
		logger:              ctx.Logger("booster"),
		obj:                 obj,
		numClass:            numClass,
		numTreePerIteration: numPerIter,
		featureNames:        names,
		featureInfos:        infos,
	}
	b.cfg.NumClass = numClass
	if v, ok := header["monotone_constraints"]; ok {
		for _, f := range strings.Fields(v) {
			n, err := strconv.Atoi(f)
			if err != nil {
				return nil, malformedModel("bad monotone_constraints %q", v)
			}
			b.monotone = append(b.monotone, n)
		}
	}
	if v, ok := header["feature_penalty"]; ok {
		for _, f := range strings.Fields(v) {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, malformedModel("bad feature_penalty %q", v)
			}
			b.penalty = append(b.penalty, x)
		}
	}
	return b, nil
}

func malformedModel(format string, args ...any) error {
	return errors.NewEngineErrorf("LoadModelFromString", "malformed model", format, args...)
}
