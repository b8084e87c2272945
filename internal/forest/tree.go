package forest

import (
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
)

const leaf = -1

// Node is one entry of a tree's flat node array. Internal nodes send a sample
// left when x[Feature] <= Threshold. Leaves have Left == Right == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Samples   int     `json:"n"`
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool { return n.Left == leaf }

// Tree is a fitted regression tree stored as a flat node array rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for a single feature vector.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the length of the longest root to leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// treeBuilder grows one CART regression tree on a bootstrap sample.
type treeBuilder struct {
	x          [][]float64
	y          []float64
	params     Params
	nFeatures  int
	nodes      []Node
	importance []float64
	scratch    []float64
}

func fitTree(x [][]float64, y []float64, nFeatures int, p Params, rng *rand.Rand) (Tree, []float64) {
	n := len(y)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = rng.IntN(n)
	}

	b := &treeBuilder{
		x:          x,
		y:          y,
		params:     p,
		nFeatures:  nFeatures,
		importance: make([]float64, nFeatures),
		scratch:    make([]float64, 0, n),
	}
	b.grow(sample, 0)
	return Tree{Nodes: b.nodes}, b.importance
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	mean, sse := b.stats(idx)
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf, Left: leaf, Right: leaf, Value: mean, Samples: len(idx)})

	if depth >= b.params.MaxDepth || len(idx) < b.params.MinSamplesSplit || len(idx) < 2*b.params.MinSamplesLeaf || sse <= 0 {
		return self
	}

	s, ok := b.bestSplit(idx, sse)
	if !ok {
		return self
	}

	left := make([]int, 0, s.nLeft)
	right := make([]int, 0, len(idx)-s.nLeft)
	for _, i := range idx {
		if b.x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	b.importance[s.feature] += s.gain

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self].Feature = s.feature
	b.nodes[self].Threshold = s.threshold
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

// stats returns the mean target and the sum of squared deviations for idx.
func (b *treeBuilder) stats(idx []int) (float64, float64) {
	b.scratch = b.scratch[:0]
	for _, i := range idx {
		b.scratch = append(b.scratch, b.y[i])
	}
	mean, variance := stat.PopMeanVariance(b.scratch, nil)
	return mean, variance * float64(len(idx))
}

type split struct {
	feature   int
	threshold float64
	nLeft     int
	gain      float64
}

// bestSplit scans every feature for the threshold with the largest reduction
// in squared error. Ties keep the first candidate found.
func (b *treeBuilder) bestSplit(idx []int, parentSSE float64) (split, bool) {
	n := len(idx)
	minLeaf := max(b.params.MinSamplesLeaf, 1)
	sorted := make([]int, n)

	var total, totalSq float64
	for _, i := range idx {
		total += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}

	best := split{gain: 0}
	found := false
	for f := range b.nFeatures {
		copy(sorted, idx)
		slices.SortStableFunc(sorted, func(a, c int) int {
			va, vc := b.x[a][f], b.x[c][f]
			switch {
			case va < vc:
				return -1
			case va > vc:
				return 1
			default:
				return 0
			}
		})

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			yi := b.y[sorted[k]]
			leftSum += yi
			leftSq += yi * yi

			nl := k + 1
			nr := n - nl
			cur, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if cur == next || nl < minLeaf || nr < minLeaf {
				continue
			}

			rightSum := total - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			gain := parentSSE - sse
			if gain > best.gain {
				threshold := cur + (next-cur)/2
				if threshold >= next {
					threshold = cur
				}
				best = split{
					feature:   f,
					threshold: threshold,
					nLeft:     nl,
					gain:      gain,
				}
				found = true
			}
		}
	}
	return best, found
}
