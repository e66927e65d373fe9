// Package anomaly implements the isolation-forest estimator, the immutable
// trained model wrapper and its lifecycle (trainer, hot-swap manager).
package anomaly

import (
	"math"
	"math/rand"
)

// treeNode is one node of an isolation tree. External nodes have nil children
// and carry the size of the subsample that reached them.
type treeNode struct {
	SplitAttr  int       `json:"a"`
	SplitValue float64   `json:"v"`
	Left       *treeNode `json:"l,omitempty"`
	Right      *treeNode `json:"r,omitempty"`
	Size       int       `json:"n,omitempty"`
}

// forest is a trained isolation forest. Immutable after fitting, so scoring
// needs no locking.
type forest struct {
	Trees         []*treeNode `json:"trees"`
	SubsampleSize int         `json:"subsample_size"`
}

// fitForest builds an isolation forest over the sample matrix. The RNG is
// supplied by the trainer so fits are reproducible.
func fitForest(samples [][]float64, trees, subsampleSize int, rng *rand.Rand) *forest {
	if subsampleSize > len(samples) {
		subsampleSize = len(samples)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(subsampleSize))))

	f := &forest{
		Trees:         make([]*treeNode, trees),
		SubsampleSize: subsampleSize,
	}

	for i := 0; i < trees; i++ {
		sub := make([][]float64, subsampleSize)
		for j, idx := range rng.Perm(len(samples))[:subsampleSize] {
			sub[j] = samples[idx]
		}
		f.Trees[i] = buildTree(sub, 0, maxDepth, rng)
	}

	return f
}

func buildTree(samples [][]float64, depth, maxDepth int, rng *rand.Rand) *treeNode {
	if depth >= maxDepth || len(samples) <= 1 {
		return &treeNode{Size: len(samples)}
	}

	dims := len(samples[0])
	attr := rng.Intn(dims)

	min, max := samples[0][attr], samples[0][attr]
	for _, s := range samples[1:] {
		if s[attr] < min {
			min = s[attr]
		}
		if s[attr] > max {
			max = s[attr]
		}
	}
	if min == max {
		// No spread on this attribute; the partition cannot progress.
		return &treeNode{Size: len(samples)}
	}

	split := min + rng.Float64()*(max-min)

	var left, right [][]float64
	for _, s := range samples {
		if s[attr] < split {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}

	return &treeNode{
		SplitAttr:  attr,
		SplitValue: split,
		Left:       buildTree(left, depth+1, maxDepth, rng),
		Right:      buildTree(right, depth+1, maxDepth, rng),
	}
}

// pathLength follows x down one tree, adding the average-path adjustment at
// the external node it lands in.
func pathLength(x []float64, node *treeNode, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		return depth + avgPathLength(node.Size)
	}
	if x[node.SplitAttr] < node.SplitValue {
		return pathLength(x, node.Left, depth+1)
	}
	return pathLength(x, node.Right, depth+1)
}

// rawScore is the standard isolation-forest anomaly measure
// s(x) = 2^(-E[h(x)]/c(psi)), in (0, 1], higher = more anomalous.
func (f *forest) rawScore(x []float64) float64 {
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(x, tree, 0)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/avgPathLength(f.SubsampleSize))
}

const eulerMascheroni = 0.5772156649

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}
