package pruning

// HeadDim is the per-head width of every attention block in a pruned model.
// Pruning removes whole heads, never head channels.
const HeadDim = 128

// MLPDims are the working sizes of one feed-forward block.
type MLPDims struct {
	IntermediateSize int  `json:"intermediate_size"`
	Bias             bool `json:"bias"`
}

// AttentionDims are the working sizes of one attention block.
type AttentionDims struct {
	NumHeads         int  `json:"num_heads"`
	NumKeyValueHeads int  `json:"num_key_value_heads"`
	HeadDim          int  `json:"head_dim"`
	Bias             bool `json:"bias"`
}

// MLPDimsFor returns the feed-forward sizes for layerIdx. cfg must have been
// patched by Apply; layerIdx must be below cfg.NumHiddenLayers.
func MLPDimsFor(cfg *Config, layerIdx int) MLPDims {
	return MLPDims{
		IntermediateSize: cfg.IntermediateSize.At(layerIdx),
		Bias:             cfg.MLPBias,
	}
}

// AttentionDimsFor returns the attention sizes for layerIdx. Same contract
// as MLPDimsFor.
func AttentionDimsFor(cfg *Config, layerIdx int) AttentionDims {
	return AttentionDims{
		NumHeads:         cfg.NumAttentionHeads.At(layerIdx),
		NumKeyValueHeads: cfg.NumKeyValueHeads.At(layerIdx),
		HeadDim:          HeadDim,
		Bias:             cfg.AttentionBias,
	}
}

// IsPrunedLayer reports whether layer is at or past the first pruned layer.
func (c *Config) IsPrunedLayer(layer int) bool {
	first, ok := c.FirstPrunedLayerIdx.Get()
	return ok && layer >= first
}

// LayerDims groups both blocks of one decoder layer.
type LayerDims struct {
	Index     int           `json:"index"`
	Pruned    bool          `json:"pruned"`
	MLP       MLPDims       `json:"mlp"`
	Attention AttentionDims `json:"attention"`
}

// Layers returns the dimensions of every layer in order.
func (c *Config) Layers() []LayerDims {
	out := make([]LayerDims, c.NumHiddenLayers)
	for i := range out {
		out[i] = LayerDims{
			Index:     i,
			Pruned:    c.IsPrunedLayer(i),
			MLP:       MLPDimsFor(c, i),
			Attention: AttentionDimsFor(c, i),
		}
	}
	return out
}
