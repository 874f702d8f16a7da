// Package layout derives the tensor names and shapes a pruned checkpoint
// must contain from its patched config, and checks a checkpoint against them.
package layout

import (
	"fmt"
	"slices"

	"github.com/samcharles93/prunecfg/internal/pruning"
)

// Tensor is one expected tensor. A nil Shape means the tensor must be absent
// because its block was pruned away.
type Tensor struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape,omitempty"`
}

func (t Tensor) Absent() bool { return t.Shape == nil }

// LayerPlan lists the tensors of one decoder layer.
type LayerPlan struct {
	Dims    pruning.LayerDims `json:"dims"`
	Tensors []Tensor          `json:"tensors"`
}

// Plan is the expected tensor layout of every decoder layer.
type Plan struct {
	Arch       string      `json:"arch"`
	HiddenSize int         `json:"hidden_size"`
	Layers     []LayerPlan `json:"layers"`
}

// Build derives the plan for a config that has already been patched.
func Build(cfg *pruning.Config) (*Plan, error) {
	spec, err := detectArch(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.HiddenSize <= 0 {
		return nil, fmt.Errorf("hidden_size must be set")
	}
	if !cfg.IntermediateSize.IsPerLayer() || !cfg.NumAttentionHeads.IsPerLayer() || !cfg.NumKeyValueHeads.IsPerLayer() {
		return nil, fmt.Errorf("config has not been patched for pruning")
	}

	plan := &Plan{Arch: spec.Name, HiddenSize: cfg.HiddenSize}
	for _, dims := range cfg.Layers() {
		plan.Layers = append(plan.Layers, LayerPlan{
			Dims:    dims,
			Tensors: layerTensors(spec, cfg.HiddenSize, dims),
		})
	}
	return plan, nil
}

func layerTensors(spec *archSpec, hidden int, dims pruning.LayerDims) []Tensor {
	i := dims.Index
	names := spec.Names
	out := make([]Tensor, 0, 14)
	add := func(name string, shape ...int) {
		out = append(out, Tensor{Name: name, Shape: shape})
	}
	absent := func(names ...string) {
		for _, n := range names {
			out = append(out, Tensor{Name: n})
		}
	}

	attn := dims.Attention
	if attn.NumHeads > 0 {
		qDim := attn.NumHeads * attn.HeadDim
		kvDim := attn.NumKeyValueHeads * attn.HeadDim
		add(names.wq(i), qDim, hidden)
		add(names.wk(i), kvDim, hidden)
		add(names.wv(i), kvDim, hidden)
		add(names.wo(i), hidden, qDim)
		if attn.Bias || spec.QKVBias {
			add(biasName(names.wq(i)), qDim)
			add(biasName(names.wk(i)), kvDim)
			add(biasName(names.wv(i)), kvDim)
		}
		if attn.Bias {
			add(biasName(names.wo(i)), hidden)
		}
	} else {
		absent(names.wq(i), names.wk(i), names.wv(i), names.wo(i))
	}

	mlp := dims.MLP
	if mlp.IntermediateSize > 0 {
		add(names.ffnGate(i), mlp.IntermediateSize, hidden)
		add(names.ffnUp(i), mlp.IntermediateSize, hidden)
		add(names.ffnDown(i), hidden, mlp.IntermediateSize)
		if mlp.Bias {
			add(biasName(names.ffnGate(i)), mlp.IntermediateSize)
			add(biasName(names.ffnUp(i)), mlp.IntermediateSize)
			add(biasName(names.ffnDown(i)), hidden)
		}
	} else {
		absent(names.ffnGate(i), names.ffnUp(i), names.ffnDown(i))
	}
	return out
}

// ParamCount returns the number of parameters held by the decoder layers.
func (p *Plan) ParamCount() int64 {
	var total int64
	for _, layer := range p.Layers {
		for _, t := range layer.Tensors {
			if t.Absent() {
				continue
			}
			n := int64(1)
			for _, d := range t.Shape {
				n *= int64(d)
			}
			total += n
		}
	}
	return total
}

// ShapeSource reports tensor shapes, typically from checkpoint headers.
type ShapeSource interface {
	TensorShape(name string) ([]int, bool)
}

type MismatchKind string

const (
	Missing    MismatchKind = "missing"
	WrongShape MismatchKind = "shape"
	Unexpected MismatchKind = "unexpected"
)

// Mismatch is one disagreement between a plan and a checkpoint.
type Mismatch struct {
	Layer  int          `json:"layer"`
	Tensor string       `json:"tensor"`
	Kind   MismatchKind `json:"kind"`
	Want   []int        `json:"want,omitempty"`
	Got    []int        `json:"got,omitempty"`
}

func (m Mismatch) String() string {
	switch m.Kind {
	case Missing:
		return fmt.Sprintf("layer %d: %s missing (want %v)", m.Layer, m.Tensor, m.Want)
	case Unexpected:
		return fmt.Sprintf("layer %d: %s present with shape %v but its block is pruned", m.Layer, m.Tensor, m.Got)
	default:
		return fmt.Sprintf("layer %d: %s has shape %v, want %v", m.Layer, m.Tensor, m.Got, m.Want)
	}
}

// Check compares every planned tensor against src.
func (p *Plan) Check(src ShapeSource) []Mismatch {
	var out []Mismatch
	for _, layer := range p.Layers {
		for _, t := range layer.Tensors {
			got, ok := src.TensorShape(t.Name)
			switch {
			case t.Absent() && ok:
				out = append(out, Mismatch{Layer: layer.Dims.Index, Tensor: t.Name, Kind: Unexpected, Got: got})
			case t.Absent():
			case !ok:
				out = append(out, Mismatch{Layer: layer.Dims.Index, Tensor: t.Name, Kind: Missing, Want: t.Shape})
			case !slices.Equal(got, t.Shape):
				out = append(out, Mismatch{Layer: layer.Dims.Index, Tensor: t.Name, Kind: WrongShape, Want: t.Shape, Got: got})
			}
		}
	}
	return out
}
