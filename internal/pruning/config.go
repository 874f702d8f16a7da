package pruning

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/samcharles93/prunecfg/internal/logger"
)

// Config is the subset of an HF config.json that pruning rewrites, plus the
// fields needed to derive tensor shapes.
type Config struct {
	ModelType     string   `json:"model_type"`
	Architectures []string `json:"architectures,omitempty"`
	HiddenSize    int      `json:"hidden_size"`

	NumHiddenLayers   int        `json:"num_hidden_layers"`
	IntermediateSize  LayerValue `json:"intermediate_size"`
	NumAttentionHeads LayerValue `json:"num_attention_heads"`
	NumKeyValueHeads  LayerValue `json:"num_key_value_heads"`

	MLPBias             bool       `json:"mlp_bias"`
	AttentionBias       bool       `json:"attention_bias"`
	FirstPrunedLayerIdx LayerIndex `json:"first_pruned_layer_idx"`

	// Pruning echoes the applied pruning_config, minus the per-layer keys.
	Pruning *Spec `json:"pruning_config,omitempty"`
}

// Decode parses config.json without applying pruning. Fields missing at the
// top level are filled from a nested text_config, and num_key_value_heads
// defaults to num_attention_heads.
func Decode(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := mergeTextConfigMissing(&cfg, raw); err != nil {
		return nil, fmt.Errorf("decode text_config: %w", err)
	}
	if !cfg.NumKeyValueHeads.IsSet() {
		cfg.NumKeyValueHeads = cfg.NumAttentionHeads
	}
	return &cfg, nil
}

// mergeTextConfigMissing fills missing fields from a nested text_config
// object. Multimodal checkpoints (mistral3 and friends) keep the language
// model parameters there.
func mergeTextConfigMissing(dst *Config, raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return err
	}
	textRaw, ok := top["text_config"]
	if !ok || len(textRaw) == 0 || string(textRaw) == "null" {
		return nil
	}
	var text Config
	if err := json.Unmarshal(textRaw, &text); err != nil {
		return err
	}

	// Model identity stays with the outer config.
	if dst.HiddenSize == 0 {
		dst.HiddenSize = text.HiddenSize
	}
	if dst.NumHiddenLayers == 0 {
		dst.NumHiddenLayers = text.NumHiddenLayers
	}
	if !dst.IntermediateSize.IsSet() {
		dst.IntermediateSize = text.IntermediateSize
	}
	if !dst.NumAttentionHeads.IsSet() {
		dst.NumAttentionHeads = text.NumAttentionHeads
	}
	if !dst.NumKeyValueHeads.IsSet() {
		dst.NumKeyValueHeads = text.NumKeyValueHeads
	}
	if !dst.MLPBias && text.MLPBias {
		dst.MLPBias = true
	}
	if !dst.AttentionBias && text.AttentionBias {
		dst.AttentionBias = true
	}
	if !dst.FirstPrunedLayerIdx.IsSet() {
		dst.FirstPrunedLayerIdx = text.FirstPrunedLayerIdx
	}
	if dst.Pruning == nil {
		dst.Pruning = text.Pruning
	}
	return nil
}

// Load decodes config.json and applies its embedded pruning_config.
func Load(ctx context.Context, raw []byte) (*Config, error) {
	return LoadWithSpec(ctx, raw, nil)
}

// LoadWithSpec decodes config.json and applies spec, or the embedded
// pruning_config when spec is nil.
func LoadWithSpec(ctx context.Context, raw []byte, spec *Spec) (*Config, error) {
	cfg, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if spec == nil {
		spec = cfg.Pruning
	}

	log := logger.FromContext(ctx)
	if !spec.IsEmpty() {
		log.Info("loading config for a pruned model", "model_type", cfg.ModelType)
	}
	if err := Apply(cfg, spec); err != nil {
		return nil, err
	}
	log.Debug("resolved layer dimensions",
		"num_hidden_layers", cfg.NumHiddenLayers,
		"first_pruned_layer_idx", cfg.FirstPrunedLayerIdx.String(),
		"intermediate_size", cfg.IntermediateSize.String(),
		"num_attention_heads", cfg.NumAttentionHeads.String(),
		"num_key_value_heads", cfg.NumKeyValueHeads.String(),
	)
	return cfg, nil
}
