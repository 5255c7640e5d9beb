package model

import (
	"fmt"
	"math"
	"sort"
)

// Tensor is a named, flat, row-major parameter tensor
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// Size returns the number of scalars the tensor holds
func (t Tensor) Size() int {
	size := 1
	for _, d := range t.Shape {
		size *= d
	}
	return size
}

// Params is the canonical copy of a model's parameters. Tensors are
// kept in a fixed order so that flattening is identical on every
// process holding the same model configuration.
type Params struct {
	Tensors []Tensor
	index   map[string]int
}

func newParams(tensors []Tensor) *Params {
	sort.SliceStable(tensors, func(i, j int) bool {
		return tensors[i].Name < tensors[j].Name
	})
	p := &Params{Tensors: tensors}
	p.reindex()
	return p
}

func (p *Params) reindex() {
	p.index = make(map[string]int, len(p.Tensors))
	for i, t := range p.Tensors {
		p.index[t.Name] = i
	}
}

// Get returns the tensor with the given name
func (p *Params) Get(name string) (Tensor, bool) {
	if p.index == nil {
		p.reindex()
	}
	i, ok := p.index[name]
	if !ok {
		return Tensor{}, false
	}
	return p.Tensors[i], true
}

// Names returns the tensor names in canonical order
func (p *Params) Names() []string {
	names := make([]string, len(p.Tensors))
	for i, t := range p.Tensors {
		names[i] = t.Name
	}
	return names
}

// Len returns the total number of scalars over all tensors
func (p *Params) Len() int {
	var n int
	for _, t := range p.Tensors {
		n += len(t.Data)
	}
	return n
}

// Flatten concatenates all tensors in canonical order into dst,
// allocating dst if it is too small.
func (p *Params) Flatten(dst []float64) []float64 {
	if cap(dst) < p.Len() {
		dst = make([]float64, p.Len())
	}
	dst = dst[:p.Len()]

	var offset int
	for _, t := range p.Tensors {
		offset += copy(dst[offset:], t.Data)
	}
	return dst
}

// Unflatten overwrites all tensors, in canonical order, from src
func (p *Params) Unflatten(src []float64) error {
	if len(src) != p.Len() {
		return fmt.Errorf("unflatten: illegal length \n\twant(%v)"+
			"\n\thave(%v)", p.Len(), len(src))
	}

	var offset int
	for _, t := range p.Tensors {
		offset += copy(t.Data, src[offset:])
	}
	return nil
}

// Clone returns a deep copy of the Params
func (p *Params) Clone() *Params {
	tensors := make([]Tensor, len(p.Tensors))
	for i, t := range p.Tensors {
		tensors[i] = Tensor{
			Name:  t.Name,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float64(nil), t.Data...),
		}
	}
	return newParams(tensors)
}

// CopyFrom overwrites p with the values of q. Both must have the same
// layout.
func (p *Params) CopyFrom(q *Params) error {
	if err := p.sameLayout(q); err != nil {
		return fmt.Errorf("copyFrom: %w", err)
	}
	for i := range p.Tensors {
		copy(p.Tensors[i].Data, q.Tensors[i].Data)
	}
	return nil
}

// Equal reports whether p and q have the same layout and bit-identical
// values.
func (p *Params) Equal(q *Params) bool {
	if p.sameLayout(q) != nil {
		return false
	}
	for i := range p.Tensors {
		for j, v := range p.Tensors[i].Data {
			if math.Float64bits(v) != math.Float64bits(q.Tensors[i].Data[j]) {
				return false
			}
		}
	}
	return true
}

func (p *Params) sameLayout(q *Params) error {
	if len(p.Tensors) != len(q.Tensors) {
		return fmt.Errorf("%v tensors != %v tensors", len(p.Tensors),
			len(q.Tensors))
	}
	for i := range p.Tensors {
		a, b := p.Tensors[i], q.Tensors[i]
		if a.Name != b.Name || len(a.Data) != len(b.Data) {
			return fmt.Errorf("tensor %d: %v[%v] != %v[%v]", i, a.Name,
				len(a.Data), b.Name, len(b.Data))
		}
	}
	return nil
}
