// Package gae implements generalized advantage estimation - GAE(λ) -
// over batches of transitions collected from vectorized environments,
// following https://arxiv.org/abs/1506.02438.
package gae

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Input is a time-major batch of per-step rewards, values, and episode
// terminations. Element t*NumEnvs + e of each slice holds step t of
// environment e. Bootstrap holds the value estimate of the observation
// following the last step of each environment.
type Input struct {
	NumEnvs   int
	Rewards   []float64
	Values    []float64
	Dones     []bool
	Bootstrap []float64
}

// Horizon returns the number of timesteps in the batch
func (in Input) Horizon() int {
	if in.NumEnvs == 0 {
		return 0
	}
	return len(in.Rewards) / in.NumEnvs
}

func (in Input) validate() error {
	if in.NumEnvs <= 0 {
		return fmt.Errorf("validate: number of environments must be " +
			"positive")
	}
	if len(in.Rewards)%in.NumEnvs != 0 {
		return fmt.Errorf("validate: %v rewards cannot be split between %v "+
			"environments", len(in.Rewards), in.NumEnvs)
	}
	if len(in.Values) != len(in.Rewards) || len(in.Dones) != len(in.Rewards) {
		return fmt.Errorf("validate: mismatched lengths \n\trewards(%v)"+
			"\n\tvalues(%v)\n\tdones(%v)", len(in.Rewards), len(in.Values),
			len(in.Dones))
	}
	if len(in.Bootstrap) != in.NumEnvs {
		return fmt.Errorf("validate: illegal bootstrap length \n\twant(%v)"+
			"\n\thave(%v)", in.NumEnvs, len(in.Bootstrap))
	}
	return nil
}

// Estimate computes the advantage and return of every step in the
// batch. Each environment's column is processed in reverse: the
// temporal difference error δ = r + γ·V'·(1−done) − V is accumulated as
// A = δ + γ·λ·(1−done)·A', starting from A' = 0 past the final step.
// A done at step t stops both the bootstrap from step t+1 and credit
// assignment across the episode boundary. Returns are A + V.
//
// Advantages are not normalized.
func Estimate(in Input, gamma, lambda float64) (adv, ret []float64,
	err error) {
	if err := in.validate(); err != nil {
		return nil, nil, fmt.Errorf("estimate: %w", err)
	}
	if gamma < 0 || gamma > 1 || lambda < 0 || lambda > 1 {
		return nil, nil, fmt.Errorf("estimate: γ (%v) and λ (%v) must be "+
			"in [0, 1]", gamma, lambda)
	}

	n := in.NumEnvs
	horizon := in.Horizon()
	adv = make([]float64, len(in.Rewards))
	ret = make([]float64, len(in.Rewards))

	for e := 0; e < n; e++ {
		nextValue := in.Bootstrap[e]
		nextAdv := 0.0

		for t := horizon - 1; t >= 0; t-- {
			i := t*n + e
			notDone := 1.0
			if in.Dones[i] {
				notDone = 0.0
			}

			delta := in.Rewards[i] + gamma*nextValue*notDone - in.Values[i]
			nextAdv = delta + gamma*lambda*notDone*nextAdv

			adv[i] = nextAdv
			ret[i] = nextAdv + in.Values[i]
			nextValue = in.Values[i]
		}
	}
	return adv, ret, nil
}

// Standardize returns a copy of x shifted and scaled to mean 0 and
// standard deviation 1. A small constant is added to the standard
// deviation so that constant inputs map to zeros.
func Standardize(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	copy(out, x)

	var std float64
	mean := stat.Mean(x, nil)
	if len(x) > 1 {
		std = stat.StdDev(x, nil)
	}

	floats.AddConst(-mean, out)
	floats.Scale(1/(std+1e-8), out)
	return out
}

// DiscountCumSum computes and returns the discounted cumulative sum
// of all elements of a vector. Given a vector v = [x0 x1 x2 ... xN]
// and discount ℽ, this function computes and returns:
//
//	[
//		x0 + ℽ x1 + ℽ^2 x2 + ℽ^3 x3 + ... + ℽ^(N-1) x(N-1) + ℽ^N xN
//		x1 + ℽ^1 x2 + ℽ^2 x3 + ... + ℽ^(N-2) x(N-1) + ℽ^(N-1) xN
//		x2 + ℽ^1 x3 + ... + ℽ^(N-3) x(N-1) + ℽ^(N-2) xN
//		...
//		xN
//	]
//
// For a single episode fragment with no terminations, the GAE(λ)
// advantages are DiscountCumSum(δ, γλ).
func DiscountCumSum(x *mat.VecDense, discount float64) []float64 {
	discounts := mat.NewVecDense(x.Len(), nil)
	cumSums := make([]float64, x.Len())
	nextScaledRews := mat.NewVecDense(x.Len(), nil)
	backing := nextScaledRews.RawVector().Data

	for i := 0; i < x.Len(); i++ {
		discounts.ScaleVec(discount, discounts)
		discounts.SetVec(x.Len()-i-1, 1)

		nextScaledRews.MulElemVec(discounts, x)
		cumSums[x.Len()-i-1] = floats.Sum(backing[x.Len()-i-1:])
	}

	return cumSums
}
