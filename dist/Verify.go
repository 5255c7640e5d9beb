package dist

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrParamDrift is returned by VerifyIdentical when a rank's values
// differ from rank 0's. It wraps ErrCollectiveDesync.
var ErrParamDrift = fmt.Errorf("%w: parameters differ across ranks",
	ErrCollectiveDesync)

// VerifyIdentical checks that values is bit-identical on every rank of
// the group. Every rank returns ErrParamDrift if any rank differs.
func VerifyIdentical(ctx context.Context, c Comm, values []float64) error {
	reference := append([]float64(nil), values...)
	if err := c.Broadcast(ctx, 0, reference); err != nil {
		return fmt.Errorf("verifyIdentical: %w", err)
	}

	mismatch := []float64{0}
	for i, v := range values {
		if math.Float64bits(v) != math.Float64bits(reference[i]) {
			mismatch[0] = 1
			break
		}
	}
	if err := c.AllReduceSum(ctx, mismatch); err != nil {
		return fmt.Errorf("verifyIdentical: %w", err)
	}

	if mismatch[0] > 0 {
		return fmt.Errorf("verifyIdentical: %w (%v of %v ranks)",
			ErrParamDrift, mismatch[0], c.Size())
	}
	return nil
}

// IsDesync returns whether err reports a failed collective
func IsDesync(err error) bool {
	return errors.Is(err, ErrCollectiveDesync)
}
