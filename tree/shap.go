package tree

// pathElement is one feature on the path from the root in TreeSHAP.
type pathElement struct {
	feature      int
	zeroFraction float64
	oneFraction  float64
	weight       float64
}

// ExpectedValue is the mean output of the tree over the training rows, the
// leaf values weighted by their row counts.
func (t *Tree) ExpectedValue() float64 {
	if t.numLeaves == 1 {
		return t.leafValue[0]
	}
	total := float64(t.internalCount[0])
	if total == 0 {
		return 0
	}
	v := 0.0
	for leaf := 0; leaf < t.numLeaves; leaf++ {
		v += float64(t.leafCount[leaf]) / total * t.leafValue[leaf]
	}
	return v
}

// PredictContrib adds the SHAP contribution of every feature of row to
// phi[:len(phi)-1] and the expected value to phi[len(phi)-1]. The entries
// added sum to Predict(row).
func (t *Tree) PredictContrib(row, phi []float64) {
	phi[len(phi)-1] += t.ExpectedValue()
	if t.numLeaves == 1 {
		return
	}
	maxPath := t.MaxDepth() + 2
	path := make([]pathElement, maxPath*(maxPath+1)/2)
	t.treeSHAP(row, phi, 0, 0, path, 1, 1, -1)
}

func (t *Tree) dataCount(node int) float64 {
	if node < 0 {
		return float64(t.leafCount[^node])
	}
	return float64(t.internalCount[node])
}

func (t *Tree) decision(node int, row []float64) int {
	v := 0.0
	if f := t.splitFeature[node]; f < len(row) {
		v = row[f]
	}
	if t.IsCategorical(node) {
		return t.categoricalDecision(node, v)
	}
	return t.numericalDecision(node, v)
}

// treeSHAP is the recursive path-dependent algorithm of Lundberg et al.
// Each level works on its own copy of the path, stored after the parent's.
func (t *Tree) treeSHAP(row, phi []float64, node, depth int, parent []pathElement,
	zeroFraction, oneFraction float64, feature int,
) {
	path := parent[depth:]
	copy(path, parent[:depth])
	extendPath(path, depth, zeroFraction, oneFraction, feature)

	if node < 0 {
		value := t.leafValue[^node]
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.oneFraction - el.zeroFraction) * value
		}
		return
	}

	hot := t.decision(node, row)
	cold := t.leftChild[node]
	if hot == cold {
		cold = t.rightChild[node]
	}
	w := t.dataCount(node)
	hotZero := t.dataCount(hot) / w
	coldZero := t.dataCount(cold) / w
	inZero, inOne := 1.0, 1.0

	// a feature already on the path is unwound so this split can redo it
	f := t.splitFeature[node]
	i := 0
	for ; i <= depth; i++ {
		if path[i].feature == f {
			break
		}
	}
	if i <= depth {
		inZero, inOne = path[i].zeroFraction, path[i].oneFraction
		unwindPath(path, depth, i)
		depth--
	}

	t.treeSHAP(row, phi, hot, depth+1, path, hotZero*inZero, inOne, f)
	t.treeSHAP(row, phi, cold, depth+1, path, coldZero*inZero, 0, f)
}

func extendPath(path []pathElement, depth int, zeroFraction, oneFraction float64, feature int) {
	path[depth] = pathElement{feature: feature, zeroFraction: zeroFraction, oneFraction: oneFraction}
	if depth == 0 {
		path[depth].weight = 1
	}
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += oneFraction * path[i].weight * float64(i+1) / float64(depth+1)
		path[i].weight = zeroFraction * path[i].weight * float64(depth-i) / float64(depth+1)
	}
}

func unwindPath(path []pathElement, depth, index int) {
	one, zero := path[index].oneFraction, path[index].zeroFraction
	next := path[depth].weight
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(depth+1) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/float64(depth+1)
		} else {
			path[i].weight = path[i].weight * float64(depth+1) / (zero * float64(depth-i))
		}
	}
	for i := index; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
}

func unwoundPathSum(path []pathElement, depth, index int) float64 {
	one, zero := path[index].oneFraction, path[index].zeroFraction
	next := path[depth].weight
	total := 0.0
	for i := depth - 1; i >= 0; i-- {
		switch {
		case one != 0:
			tmp := next * float64(depth+1) / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/float64(depth+1)
		case zero != 0:
			total += path[i].weight / zero / (float64(depth-i) / float64(depth+1))
		}
	}
	return total
}
