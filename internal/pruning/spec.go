package pruning

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Spec is a pruning_config block. Nil fields were not supplied and fall back
// to defaults or to the config's own values.
type Spec struct {
	MLPBias             *bool       `json:"mlp_bias,omitempty" yaml:"mlp_bias,omitempty"`
	AttentionBias       *bool       `json:"attention_bias,omitempty" yaml:"attention_bias,omitempty"`
	FirstPrunedLayerIdx *LayerIndex `json:"first_pruned_layer_idx,omitempty" yaml:"first_pruned_layer_idx,omitempty"`
	NumHiddenLayers     *int        `json:"num_hidden_layers,omitempty" yaml:"num_hidden_layers,omitempty"`
	IntermediateSize    *LayerValue `json:"intermediate_size,omitempty" yaml:"intermediate_size,omitempty"`
	NumAttentionHeads   *LayerValue `json:"num_attention_heads,omitempty" yaml:"num_attention_heads,omitempty"`
	NumKeyValueHeads    *LayerValue `json:"num_key_value_heads,omitempty" yaml:"num_key_value_heads,omitempty"`

	// Extra holds keys this package does not interpret.
	Extra map[string]any `json:"-" yaml:"-"`
}

var specKeys = map[string]struct{}{
	"mlp_bias":               {},
	"attention_bias":         {},
	"first_pruned_layer_idx": {},
	"num_hidden_layers":      {},
	"intermediate_size":      {},
	"num_attention_heads":    {},
	"num_key_value_heads":    {},
}

// IsEmpty reports whether s carries no keys at all. A nil Spec is empty.
func (s *Spec) IsEmpty() bool {
	if s == nil {
		return true
	}
	return s.MLPBias == nil &&
		s.AttentionBias == nil &&
		s.FirstPrunedLayerIdx == nil &&
		s.NumHiddenLayers == nil &&
		s.IntermediateSize == nil &&
		s.NumAttentionHeads == nil &&
		s.NumKeyValueHeads == nil &&
		len(s.Extra) == 0
}

// remainder returns a copy of s without the per-layer keys, which are
// consumed when the config is patched.
func (s *Spec) remainder() *Spec {
	out := *s
	out.IntermediateSize = nil
	out.NumAttentionHeads = nil
	out.NumKeyValueHeads = nil
	out.Extra = maps.Clone(s.Extra)
	return &out
}

func extraKeys(raw map[string]any) map[string]any {
	var extra map[string]any
	for k, v := range raw {
		if _, known := specKeys[k]; known {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}

func (s *Spec) UnmarshalJSON(b []byte) error {
	type plain Spec
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("pruning config: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("pruning config: %w", err)
	}
	*s = Spec(p)
	s.Extra = extraKeys(raw)
	return nil
}

func (s Spec) MarshalJSON() ([]byte, error) {
	type plain Spec
	b, err := json.Marshal(plain(s))
	if err != nil || len(s.Extra) == 0 {
		return b, err
	}
	var merged map[string]any
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	type plain Spec
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("pruning config: %w", err)
	}
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("pruning config: %w", err)
	}
	*s = Spec(p)
	s.Extra = extraKeys(raw)
	return nil
}

// ParseSpec decodes a spec document. format is "yaml"/"yml" or anything else
// for JSON.
func ParseSpec(data []byte, format string) (*Spec, error) {
	var spec Spec
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, err
		}
	}
	return &spec, nil
}

// LoadSpecFile reads a spec from disk, choosing the decoder by extension.
// A file holding a whole config.json is accepted too; its pruning_config
// block is returned.
func LoadSpecFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := strings.TrimPrefix(filepath.Ext(path), ".")
	spec, err := ParseSpec(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if nested, ok := spec.Extra["pruning_config"]; ok {
		b, err := json.Marshal(nested)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return ParseSpec(b, "json")
	}
	return spec, nil
}
