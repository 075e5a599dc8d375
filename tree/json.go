package tree

import "strings"

// Node is the nested form of a tree used by the JSON model dump. Internal
// nodes fill the split fields and both children; leaves fill the leaf fields.
type Node struct {
	SplitIndex    *int    `json:"split_index,omitempty"`
	SplitFeature  *int    `json:"split_feature,omitempty"`
	SplitGain     float64 `json:"split_gain,omitempty"`
	Threshold     any     `json:"threshold,omitempty"`
	DecisionType  string  `json:"decision_type,omitempty"`
	DefaultLeft   *bool   `json:"default_left,omitempty"`
	MissingType   string  `json:"missing_type,omitempty"`
	InternalValue float64 `json:"internal_value,omitempty"`
	InternalCount int     `json:"internal_count,omitempty"`
	LeftChild     *Node   `json:"left_child,omitempty"`
	RightChild    *Node   `json:"right_child,omitempty"`

	LeafIndex  *int    `json:"leaf_index,omitempty"`
	LeafValue  float64 `json:"leaf_value"`
	LeafWeight float64 `json:"leaf_weight,omitempty"`
	LeafCount  int     `json:"leaf_count,omitempty"`
}

// Structure returns the tree as nested nodes rooted at node 0.
func (t *Tree) Structure() *Node {
	if t.numLeaves == 1 {
		return t.leafNode(0)
	}
	return t.node(0)
}

func (t *Tree) node(i int) *Node {
	if i < 0 {
		return t.leafNode(^i)
	}
	idx, f, dl := i, t.splitFeature[i], t.DefaultLeft(i)
	n := &Node{
		SplitIndex:    &idx,
		SplitFeature:  &f,
		SplitGain:     t.splitGain[i],
		DefaultLeft:   &dl,
		MissingType:   t.missingType(i).String(),
		InternalValue: t.internalValue[i],
		InternalCount: t.internalCount[i],
		LeftChild:     t.node(t.leftChild[i]),
		RightChild:    t.node(t.rightChild[i]),
	}
	if t.IsCategorical(i) {
		n.DecisionType = "=="
		n.Threshold = t.categories(i)
	} else {
		n.DecisionType = "<="
		n.Threshold = t.threshold[i]
	}
	return n
}

func (t *Tree) leafNode(leaf int) *Node {
	l := leaf
	return &Node{
		LeafIndex:  &l,
		LeafValue:  t.leafValue[leaf],
		LeafWeight: t.leafWeight[leaf],
		LeafCount:  t.leafCount[leaf],
	}
}

// categories renders the raw category set of a categorical node as "a||b".
func (t *Tree) categories(node int) string {
	idx := int(t.threshold[node])
	set := t.catThreshold[t.catBoundaries[idx]:t.catBoundaries[idx+1]]
	var cats []string
	for w, bits := range set {
		for b := 0; b < 32; b++ {
			if bits>>b&1 == 1 {
				cats = append(cats, formatFloat(float64(w*32+b)))
			}
		}
	}
	return strings.Join(cats, "||")
}
