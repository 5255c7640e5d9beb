// Package initwfn selects Gorgonia weight initializers by name so that
// they can be chosen on the command line and in configuration files.
package initwfn

import (
	"fmt"
	"sort"
	"strings"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Kind names a family of weight initializers
type Kind string

// Available initializer kinds
const (
	GlorotU  Kind = "glorot_u"
	GlorotN  Kind = "glorot_n"
	HeU      Kind = "he_u"
	HeN      Kind = "he_n"
	Zeroes   Kind = "zeroes"
	Ones     Kind = "ones"
	Constant Kind = "constant"
	Gaussian Kind = "gaussian"
	Uniform  Kind = "uniform"
)

// kinds constructs the Gorgonia initializer of each Kind from the
// configured gain. The gain scales the Glorot and He initializers, is
// the value of Constant, the standard deviation of a zero-mean
// Gaussian, and the half-width of a Uniform centred on zero. Zeroes and
// Ones ignore it.
var kinds = map[Kind]func(gain float64) G.InitWFn{
	GlorotU:  G.GlorotU,
	GlorotN:  G.GlorotN,
	HeU:      G.HeU,
	HeN:      G.HeN,
	Zeroes:   func(float64) G.InitWFn { return G.Zeroes() },
	Ones:     func(float64) G.InitWFn { return G.Ones() },
	Constant: func(v float64) G.InitWFn { return G.ValuesOf(v) },
	Gaussian: func(s float64) G.InitWFn { return G.Gaussian(0, s) },
	Uniform:  func(h float64) G.InitWFn { return G.Uniform(-h, h) },
}

// Kinds returns the available kinds in lexical order
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// normalize lowercases name and drops underscores, so that "GlorotU"
// and "glorot_u" name the same Kind
func normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// InitWFn is a Gorgonia weight initializer together with the Kind and
// gain it was built from
type InitWFn struct {
	kind Kind
	gain float64
	fn   G.InitWFn
}

// Parse returns the initializer of the named Kind with the given gain.
// Names are case-insensitive and underscores are optional.
func Parse(name string, gain float64) (*InitWFn, error) {
	for k, create := range kinds {
		if normalize(string(k)) != normalize(name) {
			continue
		}
		if (k == Gaussian || k == Uniform) && gain <= 0 {
			return nil, fmt.Errorf("parse: %v needs a positive gain, got %v",
				k, gain)
		}
		return &InitWFn{kind: k, gain: gain, fn: create(gain)}, nil
	}
	return nil, fmt.Errorf("parse: unknown weight initializer %q", name)
}

// Kind returns the kind of the initializer
func (i *InitWFn) Kind() Kind {
	return i.kind
}

// Gain returns the gain the initializer was built with
func (i *InitWFn) Gain() float64 {
	return i.gain
}

// InitWFn returns the wrapped Gorgonia InitWFn
func (i *InitWFn) InitWFn() G.InitWFn {
	return i.fn
}

// Float64s draws float64 weights for a tensor of the given shape
func (i *InitWFn) Float64s(shape ...int) ([]float64, error) {
	values, ok := i.fn(tensor.Float64, shape...).([]float64)
	if !ok {
		return nil, fmt.Errorf("float64s: initializer %v did not produce "+
			"float64 values", i.kind)
	}
	return values, nil
}

// String implements the fmt.Stringer interface
func (i *InitWFn) String() string {
	return fmt.Sprintf("%v(%v)", i.kind, i.gain)
}
