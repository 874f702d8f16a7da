package pruning

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// LayerValue is a per-layer dimension. It is either a single value shared by
// every layer or an explicit list with one entry per layer. The zero value is
// unset and behaves like an empty list.
type LayerValue struct {
	set    bool
	isList bool
	scalar int
	list   []int
}

// Scalar returns a LayerValue shared by every layer.
func Scalar(v int) LayerValue {
	return LayerValue{set: true, scalar: v}
}

// PerLayer returns a LayerValue holding one entry per layer. The slice is
// kept as is, not copied.
func PerLayer(vs ...int) LayerValue {
	if vs == nil {
		vs = []int{}
	}
	return LayerValue{set: true, isList: true, list: vs}
}

func (v LayerValue) IsSet() bool      { return v.set }
func (v LayerValue) IsPerLayer() bool { return v.isList }

// Value returns the shared value when v is a scalar.
func (v LayerValue) Value() (int, bool) {
	if !v.set || v.isList {
		return 0, false
	}
	return v.scalar, true
}

// Values returns the per-layer list, or nil for scalars and unset values.
func (v LayerValue) Values() []int {
	return v.list
}

// At returns the value for a layer. Indexing a list out of range panics.
func (v LayerValue) At(layer int) int {
	if v.isList || !v.set {
		return v.list[layer]
	}
	return v.scalar
}

func (v LayerValue) String() string {
	switch {
	case !v.set:
		return "<unset>"
	case !v.isList:
		return strconv.Itoa(v.scalar)
	}
	parts := make([]string, len(v.list))
	for i, x := range v.list {
		parts[i] = strconv.Itoa(x)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (v *LayerValue) UnmarshalJSON(b []byte) error {
	if v == nil {
		return fmt.Errorf("layer value: nil receiver")
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*v = LayerValue{}
		return nil
	}
	if b[0] == '[' {
		var raw []*float64
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("layer value: %w", err)
		}
		list := make([]int, len(raw))
		for i, f := range raw {
			if f == nil {
				return fmt.Errorf("layer value[%d]: null entry", i)
			}
			n, err := exactInt(*f)
			if err != nil {
				return fmt.Errorf("layer value[%d]: %w", i, err)
			}
			list[i] = n
		}
		*v = PerLayer(list...)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("layer value: expected integer or list of integers, got %s", string(b))
	}
	n, err := exactInt(f)
	if err != nil {
		return fmt.Errorf("layer value: %w", err)
	}
	*v = Scalar(n)
	return nil
}

func exactInt(f float64) (int, error) {
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int(f), nil
}

func (v LayerValue) MarshalJSON() ([]byte, error) {
	switch {
	case !v.set:
		return []byte("null"), nil
	case v.isList:
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.scalar)
	}
}

func (v *LayerValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			*v = LayerValue{}
			return nil
		}
		var n int
		if err := node.Decode(&n); err != nil {
			return fmt.Errorf("layer value: expected integer, got %q", node.Value)
		}
		*v = Scalar(n)
		return nil
	case yaml.SequenceNode:
		list := make([]int, len(node.Content))
		for i, item := range node.Content {
			if item.Kind != yaml.ScalarNode || item.ShortTag() == "!!null" {
				return fmt.Errorf("layer value[%d]: expected integer at line %d", i, item.Line)
			}
			if err := item.Decode(&list[i]); err != nil {
				return fmt.Errorf("layer value[%d]: expected integer, got %q", i, item.Value)
			}
		}
		*v = PerLayer(list...)
		return nil
	default:
		return fmt.Errorf("layer value: expected integer or list of integers at line %d", node.Line)
	}
}

func (v LayerValue) MarshalYAML() (any, error) {
	switch {
	case !v.set:
		return nil, nil
	case v.isList:
		return v.list, nil
	default:
		return v.scalar, nil
	}
}

// noLayerSentinel is the float written by older tooling in place of an
// unset first_pruned_layer_idx. Anything at or above it means "none".
const noLayerSentinel = 1e9

// LayerIndex is an optional zero-based layer index.
type LayerIndex struct {
	idx int
	set bool
}

// LayerAt returns a set LayerIndex.
func LayerAt(i int) LayerIndex {
	return LayerIndex{idx: i, set: true}
}

func (l LayerIndex) Get() (int, bool) { return l.idx, l.set }
func (l LayerIndex) IsSet() bool      { return l.set }

func (l LayerIndex) String() string {
	if !l.set {
		return "none"
	}
	return strconv.Itoa(l.idx)
}

func layerIndexFromFloat(f float64) (LayerIndex, error) {
	if f >= noLayerSentinel {
		return LayerIndex{}, nil
	}
	if f < 0 || f != math.Trunc(f) {
		return LayerIndex{}, fmt.Errorf("layer index: invalid value %v", f)
	}
	return LayerAt(int(f)), nil
}

func (l *LayerIndex) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = LayerIndex{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("layer index: %w", err)
	}
	idx, err := layerIndexFromFloat(f)
	if err != nil {
		return err
	}
	*l = idx
	return nil
}

func (l LayerIndex) MarshalJSON() ([]byte, error) {
	if !l.set {
		return []byte("null"), nil
	}
	return json.Marshal(l.idx)
}

func (l *LayerIndex) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("layer index: expected scalar at line %d", node.Line)
	}
	if node.ShortTag() == "!!null" {
		*l = LayerIndex{}
		return nil
	}
	var f float64
	if err := node.Decode(&f); err != nil {
		return fmt.Errorf("layer index: %w", err)
	}
	idx, err := layerIndexFromFloat(f)
	if err != nil {
		return err
	}
	*l = idx
	return nil
}

func (l LayerIndex) MarshalYAML() (any, error) {
	if !l.set {
		return nil, nil
	}
	return l.idx, nil
}
