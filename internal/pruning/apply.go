package pruning

import (
	"errors"
	"fmt"
)

// Apply rewrites cfg for a pruned model. With an empty spec the config keeps
// its own bias flags and layer count; otherwise those come from spec, with
// false/false/none as defaults. In both cases intermediate_size,
// num_attention_heads and num_key_value_heads end up with one entry per
// layer. cfg is left untouched when an error is returned.
func Apply(cfg *Config, spec *Spec) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	next := *cfg

	if spec.IsEmpty() {
		next.Pruning = nil
	} else {
		next.MLPBias = valueOr(spec.MLPBias, false)
		next.AttentionBias = valueOr(spec.AttentionBias, false)
		next.FirstPrunedLayerIdx = valueOr(spec.FirstPrunedLayerIdx, LayerIndex{})
		next.NumHiddenLayers = valueOr(spec.NumHiddenLayers, cfg.NumHiddenLayers)
		next.IntermediateSize = valueOr(spec.IntermediateSize, cfg.IntermediateSize)
		next.NumAttentionHeads = valueOr(spec.NumAttentionHeads, cfg.NumAttentionHeads)
		next.NumKeyValueHeads = valueOr(spec.NumKeyValueHeads, cfg.NumKeyValueHeads)
		next.Pruning = spec.remainder()
	}

	if !validLayerCount(next.NumHiddenLayers) {
		return &MismatchError{Field: "num_hidden_layers", Want: next.NumHiddenLayers}
	}

	fields := []struct {
		name string
		v    *LayerValue
	}{
		{"intermediate_size", &next.IntermediateSize},
		{"num_attention_heads", &next.NumAttentionHeads},
		{"num_key_value_heads", &next.NumKeyValueHeads},
	}
	for _, f := range fields {
		vals, err := Broadcast(next.NumHiddenLayers, *f.v)
		if err != nil {
			var mismatch *MismatchError
			if errors.As(err, &mismatch) {
				mismatch.Field = f.name
			}
			return err
		}
		*f.v = PerLayer(vals...)
	}

	*cfg = next
	return nil
}

func valueOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
