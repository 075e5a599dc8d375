package tree

import (
	"strconv"
	"strings"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
)

// ToString renders the tree block of the model file without its "Tree=i"
// header. Floats use the shortest form that parses back to the same value.
func (t *Tree) ToString() string {
	var sb strings.Builder
	line := func(key, value string) {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(value)
		sb.WriteByte('\n')
	}
	numCat := len(t.catBoundaries) - 1
	line("num_leaves", strconv.Itoa(t.numLeaves))
	line("num_cat", strconv.Itoa(numCat))
	if t.numLeaves > 1 {
		line("split_feature", joinInts(t.splitFeature))
		line("split_gain", joinFloats(t.splitGain))
		line("threshold", joinFloats(t.threshold))
		dt := make([]int, len(t.decisionType))
		for i, d := range t.decisionType {
			dt[i] = int(d)
		}
		line("decision_type", joinInts(dt))
		line("left_child", joinInts(t.leftChild))
		line("right_child", joinInts(t.rightChild))
	}
	line("leaf_value", joinFloats(t.leafValue))
	if t.numLeaves > 1 {
		line("leaf_weight", joinFloats(t.leafWeight))
		line("leaf_count", joinInts(t.leafCount))
		line("internal_value", joinFloats(t.internalValue))
		line("internal_weight", joinFloats(t.internalWeight))
		line("internal_count", joinInts(t.internalCount))
	}
	if numCat > 0 {
		line("cat_boundaries", joinInts(t.catBoundaries))
		cats := make([]int, len(t.catThreshold))
		for i, c := range t.catThreshold {
			cats[i] = int(c)
		}
		line("cat_threshold", joinInts(cats))
	}
	line("is_linear", "0")
	line("shrinkage", formatFloat(t.shrinkage))
	return sb.String()
}

// Parse reads a tree block as written by ToString. Lines that are not
// key=value pairs, such as the "Tree=i" header, are ignored. The parsed tree
// predicts from raw values only.
func Parse(block string) (*Tree, error) {
	params := make(treeParams)
	for _, raw := range strings.Split(block, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "Tree=") {
			continue
		}
		k, v, ok := strings.Cut(raw, "=")
		if !ok {
			continue
		}
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	numLeaves, err := params.toInt("num_leaves")
	if err != nil {
		return nil, err
	}
	if numLeaves < 1 {
		return nil, malformed("num_leaves must be positive, got %d", numLeaves)
	}
	numCat, err := params.toInt("num_cat")
	if err != nil {
		return nil, err
	}

	t := New(numLeaves)
	t.numLeaves = numLeaves
	if t.leafValue, err = params.floats("leaf_value", numLeaves); err != nil {
		return nil, err
	}
	t.shrinkage = 1
	if _, ok := params["shrinkage"]; ok {
		if t.shrinkage, err = params.toFloat("shrinkage"); err != nil {
			return nil, err
		}
	}
	t.leafWeight = make([]float64, numLeaves)
	t.leafCount = make([]int, numLeaves)
	t.leafParent = make([]int, numLeaves)
	t.leafDepth = make([]int, numLeaves)
	t.leafParent[0] = -1
	if numLeaves == 1 {
		return t, nil
	}

	n := numLeaves - 1
	if t.splitFeature, err = params.ints("split_feature", n); err != nil {
		return nil, err
	}
	if t.splitGain, err = params.floats("split_gain", n); err != nil {
		return nil, err
	}
	if t.threshold, err = params.floats("threshold", n); err != nil {
		return nil, err
	}
	dt, err := params.ints("decision_type", n)
	if err != nil {
		return nil, err
	}
	t.decisionType = make([]uint8, n)
	for i, d := range dt {
		if d < 0 || d > 15 {
			return nil, malformed("decision_type %d out of range", d)
		}
		t.decisionType[i] = uint8(d)
	}
	if t.leftChild, err = params.ints("left_child", n); err != nil {
		return nil, err
	}
	if t.rightChild, err = params.ints("right_child", n); err != nil {
		return nil, err
	}
	if t.leafWeight, err = params.optionalFloats("leaf_weight", numLeaves); err != nil {
		return nil, err
	}
	if t.leafCount, err = params.optionalInts("leaf_count", numLeaves); err != nil {
		return nil, err
	}
	if t.internalValue, err = params.optionalFloats("internal_value", n); err != nil {
		return nil, err
	}
	if t.internalWeight, err = params.optionalFloats("internal_weight", n); err != nil {
		return nil, err
	}
	if t.internalCount, err = params.optionalInts("internal_count", n); err != nil {
		return nil, err
	}
	t.thresholdBin = make([]uint32, n)

	if numCat > 0 {
		if t.catBoundaries, err = params.ints("cat_boundaries", numCat+1); err != nil {
			return nil, err
		}
		cats, err := params.ints("cat_threshold", -1)
		if err != nil {
			return nil, err
		}
		if t.catBoundaries[0] != 0 || t.catBoundaries[numCat] != len(cats) {
			return nil, malformed("cat_boundaries do not cover cat_threshold")
		}
		t.catThreshold = make([]uint32, len(cats))
		for i, c := range cats {
			t.catThreshold[i] = uint32(c)
		}
	}
	if err := t.link(numCat); err != nil {
		return nil, err
	}
	return t, nil
}

// link checks child references and restores leaf parents and depths.
func (t *Tree) link(numCat int) error {
	n := t.numLeaves - 1
	seen := make([]bool, t.numLeaves)
	var walk func(node, depth int) error
	walk = func(node, depth int) error {
		if t.IsCategorical(node) {
			if c := int(t.threshold[node]); c < 0 || c >= numCat {
				return malformed("categorical split %d refers to bitset %d", node, c)
			}
		}
		for _, child := range []int{t.leftChild[node], t.rightChild[node]} {
			if child < 0 {
				leaf := ^child
				if leaf >= t.numLeaves || seen[leaf] {
					return malformed("bad leaf reference %d", child)
				}
				seen[leaf] = true
				t.leafParent[leaf] = node
				t.leafDepth[leaf] = depth + 1
				continue
			}
			if child <= node || child >= n {
				return malformed("bad child reference %d at node %d", child, node)
			}
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, 0); err != nil {
		return err
	}
	for leaf, ok := range seen {
		if !ok {
			return malformed("leaf %d is unreachable", leaf)
		}
	}
	return nil
}

func malformed(format string, args ...any) error {
	return errors.NewEngineErrorf("tree.Parse", "malformed model", format, args...)
}

type treeParams map[string]string

func (p treeParams) get(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", malformed("key %s not found", key)
	}
	return v, nil
}

func (p treeParams) toInt(key string) (int, error) {
	v, err := p.get(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, malformed("%s: %v", key, err)
	}
	return n, nil
}

func (p treeParams) toFloat(key string) (float64, error) {
	v, err := p.get(key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, malformed("%s: %v", key, err)
	}
	return f, nil
}

// floats parses a space separated list of want values; want < 0 accepts any
// length.
func (p treeParams) floats(key string, want int) ([]float64, error) {
	v, err := p.get(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(v)
	if want >= 0 && len(parts) != want {
		return nil, malformed("%s has %d values, want %d", key, len(parts), want)
	}
	out := make([]float64, len(parts))
	for i, s := range parts {
		if out[i], err = strconv.ParseFloat(s, 64); err != nil {
			return nil, malformed("%s: %v", key, err)
		}
	}
	return out, nil
}

func (p treeParams) ints(key string, want int) ([]int, error) {
	v, err := p.get(key)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(v)
	if want >= 0 && len(parts) != want {
		return nil, malformed("%s has %d values, want %d", key, len(parts), want)
	}
	out := make([]int, len(parts))
	for i, s := range parts {
		if out[i], err = strconv.Atoi(s); err != nil {
			return nil, malformed("%s: %v", key, err)
		}
	}
	return out, nil
}

func (p treeParams) optionalFloats(key string, want int) ([]float64, error) {
	if _, ok := p[key]; !ok {
		return make([]float64, want), nil
	}
	return p.floats(key, want)
}

func (p treeParams) optionalInts(key string, want int) ([]int, error) {
	if _, ok := p[key]; !ok {
		return make([]int, want), nil
	}
	return p.ints(key, want)
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, " ")
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
