// Package op provides extended Gorgonia graph operations.
//
// Adapted from aunum/G.ld on GitHub
package op

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Clip clips the value of a node element-wise to [min, max]. Values
// exactly on a boundary pass through unchanged, so the clipped node is
// continuous at min and max.
func Clip(value *G.Node, min, max float64) (retVal *G.Node, err error) {
	if min > max {
		return nil, fmt.Errorf("clip: min %v > max %v", min, max)
	}

	// Construct clipping nodes
	var minNode, maxNode *G.Node
	switch value.Dtype() {
	case G.Float32:
		minNode = G.NewScalar(value.Graph(), G.Float32,
			G.WithValue(float32(min)), G.WithName(uniqueName(value, "clip_min")))
		maxNode = G.NewScalar(value.Graph(), G.Float32,
			G.WithValue(float32(max)), G.WithName(uniqueName(value, "clip_max")))
	case G.Float64:
		minNode = G.NewScalar(value.Graph(), G.Float64,
			G.WithValue(min), G.WithName(uniqueName(value, "clip_min")))
		maxNode = G.NewScalar(value.Graph(), G.Float64,
			G.WithValue(max), G.WithName(uniqueName(value, "clip_max")))
	default:
		return nil, fmt.Errorf("clip: unsupported dtype %v", value.Dtype())
	}

	// Check if its the min value
	minMask, err := G.Lt(value, minNode, true)
	if err != nil {
		return nil, err
	}
	minVal, err := G.HadamardProd(minNode, minMask)
	if err != nil {
		return nil, err
	}

	// Check if its the given value
	isMaskGte, err := G.Gte(value, minNode, true)
	if err != nil {
		return nil, err
	}
	isMaskLte, err := G.Lte(value, maxNode, true)
	if err != nil {
		return nil, err
	}
	isMask, err := G.HadamardProd(isMaskGte, isMaskLte)
	if err != nil {
		return nil, err
	}
	isVal, err := G.HadamardProd(value, isMask)
	if err != nil {
		return nil, err
	}

	// Check if its the max value
	maxMask, err := G.Gt(value, maxNode, true)
	if err != nil {
		return nil, err
	}
	maxVal, err := G.HadamardProd(maxNode, maxMask)
	if err != nil {
		return nil, err
	}
	return G.ReduceAdd(G.Nodes{minVal, isVal, maxVal})
}

// Min returns the min value between the nodes. If values are equal
// the first value is returned
func Min(a *G.Node, b *G.Node) (retVal *G.Node, err error) {
	aMask, err := G.Lte(a, b, true)
	if err != nil {
		return nil, err
	}
	aVal, err := G.HadamardProd(a, aMask)
	if err != nil {
		return nil, err
	}

	bMask, err := G.Lt(b, a, true)
	if err != nil {
		return nil, err
	}
	bVal, err := G.HadamardProd(b, bMask)
	if err != nil {
		return nil, err
	}
	return G.Add(aVal, bVal)
}

// LogSumExp calculates the log of the summation of exponentials of
// all logits along axis 1 of a (batch, n) matrix, returning a vector
// of size batch.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect.
func LogSumExp(logits *G.Node) *G.Node {
	batch := logits.Shape()[0]
	max := G.Must(G.Max(logits, 1))
	maxCol := G.Must(G.Reshape(max, tensor.Shape{batch, 1}))

	exponent := G.Must(G.BroadcastSub(logits, maxCol, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, 1))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogSoftmax returns the row-wise log-softmax of a (batch, n) matrix
// of logits.
func LogSoftmax(logits *G.Node) *G.Node {
	batch := logits.Shape()[0]
	lse := G.Must(G.Reshape(LogSumExp(logits), tensor.Shape{batch, 1}))
	return G.Must(G.BroadcastSub(logits, lse, nil, []byte{1}))
}

// SelectLogProb gathers the log-probabilities of the actions encoded
// by the one-hot (batch, n) matrix actions, returning a vector of size
// batch.
func SelectLogProb(logProbs, actions *G.Node) *G.Node {
	selected := G.Must(G.HadamardProd(actions, logProbs))
	return G.Must(G.Sum(selected, 1))
}

// CategoricalKL returns the row-wise KL(p‖q) = Σ p (log p − log q)
// between two categorical distributions given as (batch, n) matrices
// of log-probabilities.
func CategoricalKL(logP, logQ *G.Node) *G.Node {
	diff := G.Must(G.Sub(logP, logQ))
	weighted := G.Must(G.HadamardProd(G.Must(G.Exp(logP)), diff))
	return G.Must(G.Sum(weighted, 1))
}

// CategoricalEntropy returns the row-wise entropy −Σ p log p of a
// (batch, n) matrix of log-probabilities.
func CategoricalEntropy(logP *G.Node) *G.Node {
	plogp := G.Must(G.HadamardProd(G.Must(G.Exp(logP)), logP))
	return G.Must(G.Neg(G.Must(G.Sum(plogp, 1))))
}

// ClippedSurrogate returns the element-wise PPO surrogate
// min(ratio·adv, clip(ratio, 1−ε, 1+ε)·adv). Callers negate and average
// it to obtain a loss.
func ClippedSurrogate(ratio, adv *G.Node, epsilon float64) (*G.Node,
	error) {
	unclipped, err := G.HadamardProd(ratio, adv)
	if err != nil {
		return nil, fmt.Errorf("clippedSurrogate: %w", err)
	}

	clippedRatio, err := Clip(ratio, 1-epsilon, 1+epsilon)
	if err != nil {
		return nil, fmt.Errorf("clippedSurrogate: %w", err)
	}
	clipped, err := G.HadamardProd(clippedRatio, adv)
	if err != nil {
		return nil, fmt.Errorf("clippedSurrogate: %w", err)
	}

	return Min(unclipped, clipped)
}

// uniqueName derives a node name that does not collide when the same
// op is applied more than once in a single graph.
func uniqueName(n *G.Node, prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, n.ID())
}

// Clipped reports whether the ratio lies outside [1−ε, 1+ε]
func Clipped(ratio, epsilon float64) bool {
	return ratio < 1-epsilon || ratio > 1+epsilon
}
