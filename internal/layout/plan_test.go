package layout

import (
	"slices"
	"testing"

	"github.com/samcharles93/prunecfg/internal/pruning"
)

type mapSource map[string][]int

func (m mapSource) TensorShape(name string) ([]int, bool) {
	s, ok := m[name]
	return s, ok
}

func patchedConfig(t *testing.T, modelType string, spec *pruning.Spec) *pruning.Config {
	t.Helper()
	cfg := &pruning.Config{
		ModelType:         modelType,
		HiddenSize:        256,
		NumHiddenLayers:   2,
		IntermediateSize:  pruning.Scalar(512),
		NumAttentionHeads: pruning.Scalar(2),
		NumKeyValueHeads:  pruning.Scalar(2),
	}
	if err := pruning.Apply(cfg, spec); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return cfg
}

func findTensor(t *testing.T, layer LayerPlan, name string) Tensor {
	t.Helper()
	for _, tensor := range layer.Tensors {
		if tensor.Name == name {
			return tensor
		}
	}
	t.Fatalf("tensor %s not in plan", name)
	return Tensor{}
}

func TestDetectArch(t *testing.T) {
	tests := []struct {
		name      string
		cfg       pruning.Config
		wantArch  string
		wantError bool
	}{
		{name: "llama", cfg: pruning.Config{ModelType: "llama"}, wantArch: "llama"},
		{name: "llama-arch", cfg: pruning.Config{Architectures: []string{"LlamaForCausalLM"}}, wantArch: "llama"},
		{name: "mistral", cfg: pruning.Config{ModelType: "mistral"}, wantArch: "mistral"},
		{name: "mistral3", cfg: pruning.Config{ModelType: "mistral3"}, wantArch: "mistral3"},
		{name: "qwen2", cfg: pruning.Config{ModelType: "qwen2"}, wantArch: "qwen2"},
		{name: "qwen3", cfg: pruning.Config{ModelType: "qwen3"}, wantArch: "qwen3"},
		{name: "granite", cfg: pruning.Config{ModelType: "granite"}, wantArch: "granite"},
		{name: "unknown", cfg: pruning.Config{ModelType: "mamba"}, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			spec, err := detectArch(&tt.cfg)
			if tt.wantError {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if spec.Name != tt.wantArch {
				t.Fatalf("arch mismatch: want %q, got %q", tt.wantArch, spec.Name)
			}
		})
	}
}

func TestBuildShapes(t *testing.T) {
	t.Parallel()
	spec := &pruning.Spec{
		NumAttentionHeads: ptr(pruning.PerLayer(2, 1)),
		NumKeyValueHeads:  ptr(pruning.PerLayer(1, 1)),
		IntermediateSize:  ptr(pruning.PerLayer(512, 128)),
	}
	plan, err := Build(patchedConfig(t, "llama", spec))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if plan.Arch != "llama" || len(plan.Layers) != 2 {
		t.Fatalf("unexpected plan: arch=%s layers=%d", plan.Arch, len(plan.Layers))
	}

	l1 := plan.Layers[1]
	checks := map[string][]int{
		"model.layers.1.self_attn.q_proj.weight": {128, 256},
		"model.layers.1.self_attn.k_proj.weight": {128, 256},
		"model.layers.1.self_attn.o_proj.weight": {256, 128},
		"model.layers.1.mlp.gate_proj.weight":    {128, 256},
		"model.layers.1.mlp.down_proj.weight":    {256, 128},
	}
	for name, want := range checks {
		if got := findTensor(t, l1, name).Shape; !slices.Equal(got, want) {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
	}
	// No bias tensors without bias flags.
	if len(l1.Tensors) != 7 {
		t.Fatalf("expected 7 tensors, got %d", len(l1.Tensors))
	}
}

func TestBuildBiases(t *testing.T) {
	t.Parallel()
	yes := true
	plan, err := Build(patchedConfig(t, "llama", &pruning.Spec{MLPBias: &yes, AttentionBias: &yes}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	l0 := plan.Layers[0]
	if got := findTensor(t, l0, "model.layers.0.self_attn.o_proj.bias").Shape; !slices.Equal(got, []int{256}) {
		t.Fatalf("o_proj bias: got %v", got)
	}
	if got := findTensor(t, l0, "model.layers.0.mlp.up_proj.bias").Shape; !slices.Equal(got, []int{512}) {
		t.Fatalf("up_proj bias: got %v", got)
	}
}

func TestBuildQwen2QKVBias(t *testing.T) {
	t.Parallel()
	plan, err := Build(patchedConfig(t, "qwen2", nil))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	l0 := plan.Layers[0]
	if got := findTensor(t, l0, "model.layers.0.self_attn.k_proj.bias").Shape; !slices.Equal(got, []int{256}) {
		t.Fatalf("k_proj bias: got %v", got)
	}
	for _, tensor := range l0.Tensors {
		if tensor.Name == "model.layers.0.self_attn.o_proj.bias" {
			t.Fatalf("qwen2 o_proj has no bias")
		}
	}
}

func TestBuildMistral3Prefix(t *testing.T) {
	t.Parallel()
	plan, err := Build(patchedConfig(t, "mistral3", nil))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	findTensor(t, plan.Layers[0], "language_model.model.layers.0.self_attn.q_proj.weight")
}

func TestBuildPrunedAwayBlocks(t *testing.T) {
	t.Parallel()
	spec := &pruning.Spec{
		NumAttentionHeads: ptr(pruning.PerLayer(2, 0)),
		NumKeyValueHeads:  ptr(pruning.PerLayer(2, 0)),
		IntermediateSize:  ptr(pruning.PerLayer(0, 512)),
	}
	plan, err := Build(patchedConfig(t, "llama", spec))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !findTensor(t, plan.Layers[1], "model.layers.1.self_attn.q_proj.weight").Absent() {
		t.Fatal("attention of layer 1 should be absent")
	}
	if !findTensor(t, plan.Layers[0], "model.layers.0.mlp.up_proj.weight").Absent() {
		t.Fatal("mlp of layer 0 should be absent")
	}
}

func TestBuildRequiresPatchedConfig(t *testing.T) {
	t.Parallel()
	cfg := &pruning.Config{
		ModelType:         "llama",
		HiddenSize:        64,
		NumHiddenLayers:   1,
		IntermediateSize:  pruning.Scalar(1),
		NumAttentionHeads: pruning.Scalar(1),
		NumKeyValueHeads:  pruning.Scalar(1),
	}
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected error for unpatched config")
	}
	if err := pruning.Apply(cfg, nil); err != nil {
		t.Fatal(err)
	}
	cfg.HiddenSize = 0
	if _, err := Build(cfg); err == nil {
		t.Fatal("expected error without hidden_size")
	}
}

func TestParamCount(t *testing.T) {
	t.Parallel()
	plan, err := Build(patchedConfig(t, "llama", nil))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Per layer: 4 attention projections of 256x256 and 3 mlp of 512x256.
	want := int64(2 * (4*256*256 + 3*512*256))
	if got := plan.ParamCount(); got != want {
		t.Fatalf("ParamCount: got %d, want %d", got, want)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	spec := &pruning.Spec{
		NumHiddenLayers:   ptr(1),
		NumAttentionHeads: ptr(pruning.PerLayer(2)),
		NumKeyValueHeads:  ptr(pruning.PerLayer(1)),
		IntermediateSize:  ptr(pruning.PerLayer(0)),
	}
	plan, err := Build(patchedConfig(t, "llama", spec))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	src := mapSource{
		"model.layers.0.self_attn.q_proj.weight": {256, 256},
		"model.layers.0.self_attn.k_proj.weight": {256, 256},
		"model.layers.0.self_attn.o_proj.weight": {256, 256},
		"model.layers.0.mlp.down_proj.weight":    {256, 512},
	}
	got := plan.Check(src)
	kinds := map[string]MismatchKind{}
	for _, m := range got {
		kinds[m.Tensor] = m.Kind
	}
	want := map[string]MismatchKind{
		"model.layers.0.self_attn.k_proj.weight": WrongShape,
		"model.layers.0.self_attn.v_proj.weight": Missing,
		"model.layers.0.mlp.down_proj.weight":    Unexpected,
	}
	if len(kinds) != len(want) {
		t.Fatalf("mismatches: got %v, want %v", got, want)
	}
	for name, kind := range want {
		if kinds[name] != kind {
			t.Fatalf("%s: got %q, want %q", name, kinds[name], kind)
		}
	}

	for _, m := range got {
		if m.String() == "" {
			t.Fatalf("empty mismatch description")
		}
	}
}

func ptr[T any](v T) *T { return &v }
