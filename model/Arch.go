package model

import (
	"fmt"
	"strings"
)

// Arch selects the network topology of a PhasicValueModel and which
// gradients may flow into the policy trunk from the value loss.
type Arch int

const (
	// Shared uses a single trunk for the policy and value heads. Value
	// gradients reach the trunk in both phases. There is no auxiliary
	// value head.
	Shared Arch = iota

	// Detach uses a single trunk, but the value head sees it through a
	// frozen copy during the policy phase so that value gradients reach
	// the trunk only during the auxiliary phase. An auxiliary value
	// head sits on the trunk.
	Detach

	// Dual uses separate policy and value trunks. An auxiliary value
	// head sits on the policy trunk.
	Dual
)

// String implements the fmt.Stringer interface
func (a Arch) String() string {
	switch a {
	case Shared:
		return "shared"
	case Detach:
		return "detach"
	case Dual:
		return "dual"
	default:
		return fmt.Sprintf("Arch(%d)", int(a))
	}
}

// HasAuxHead returns whether the architecture has an auxiliary value
// head.
func (a Arch) HasAuxHead() bool {
	return a == Detach || a == Dual
}

// ParseArch returns the Arch with the given case-insensitive name
func ParseArch(name string) (Arch, error) {
	switch strings.ToLower(name) {
	case "shared":
		return Shared, nil
	case "detach":
		return Detach, nil
	case "dual":
		return Dual, nil
	default:
		return 0, fmt.Errorf("parseArch: unknown architecture %q", name)
	}
}

// Phase selects which part of a PhasicValueModel a View is built for
type Phase int

const (
	// Rollout views only run the forward pass to act
	Rollout Phase = iota

	// PolicyPhase views are differentiated by the clipped surrogate and
	// the value regression
	PolicyPhase

	// AuxPhase views are differentiated by the distillation loss and
	// include the auxiliary value head
	AuxPhase
)

func (p Phase) String() string {
	switch p {
	case Rollout:
		return "rollout"
	case PolicyPhase:
		return "policy"
	case AuxPhase:
		return "aux"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}
