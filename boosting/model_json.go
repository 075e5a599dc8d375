package boosting

import (
	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/scigbm/pkg/errors"
	"github.com/YuminosukeSato/scigbm/tree"
)

// ModelDump is the JSON description of a model.
type ModelDump struct {
	Name                string         `json:"name"`
	Version             string         `json:"version"`
	NumClass            int            `json:"num_class"`
	NumTreePerIteration int            `json:"num_tree_per_iteration"`
	LabelIndex          int            `json:"label_index"`
	MaxFeatureIdx       int            `json:"max_feature_idx"`
	Objective           string         `json:"objective"`
	FeatureNames        []string       `json:"feature_names"`
	FeatureInfos        []string       `json:"feature_infos"`
	MonotoneConstraints []int          `json:"monotone_constraints,omitempty"`
	FeaturePenalty      []float64      `json:"feature_penalty,omitempty"`
	TreeInfo            []TreeDump     `json:"tree_info"`
	FeatureImportances  map[string]int `json:"feature_importances"`
}

// TreeDump is one tree of a ModelDump.
type TreeDump struct {
	TreeIndex     int        `json:"tree_index"`
	NumLeaves     int        `json:"num_leaves"`
	NumCat        int        `json:"num_cat"`
	Shrinkage     float64    `json:"shrinkage"`
	TreeStructure *tree.Node `json:"tree_structure"`
}

// Dump builds the JSON description of rounds [startIteration,
// startIteration+numIteration), with numIteration <= 0 read as in
// ModelToString.
func (b *Booster) Dump(startIteration, numIteration int) *ModelDump {
	first, last := b.treeRange(startIteration, numIteration)
	d := &ModelDump{
		Name:                "tree",
		Version:             modelVersion,
		NumClass:            b.numClass,
		NumTreePerIteration: b.numTreePerIteration,
		MaxFeatureIdx:       len(b.featureNames) - 1,
		Objective:           b.obj.String(),
		FeatureNames:        b.featureNames,
		FeatureInfos:        b.featureInfos,
		MonotoneConstraints: b.monotone,
		FeaturePenalty:      b.penalty,
		TreeInfo:            make([]TreeDump, 0, last-first),
		FeatureImportances:  make(map[string]int),
	}
	for i, t := range b.trees[first:last] {
		d.TreeInfo = append(d.TreeInfo, TreeDump{
			TreeIndex:     i,
			NumLeaves:     t.NumLeaves(),
			NumCat:        t.NumCat(),
			Shrinkage:     t.Shrinkage(),
			TreeStructure: t.Structure(),
		})
	}
	for _, fc := range b.splitImportance(first, last) {
		d.FeatureImportances[b.featureNames[fc.feature]] = fc.count
	}
	return d
}

// DumpModel renders Dump as indented JSON.
func (b *Booster) DumpModel(startIteration, numIteration int) ([]byte, error) {
	out, err := json.MarshalIndent(b.Dump(startIteration, numIteration), "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "dump model")
	}
	return out, nil
}
