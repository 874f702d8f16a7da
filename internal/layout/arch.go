package layout

import (
	"fmt"
	"strings"

	"github.com/samcharles93/prunecfg/internal/pruning"
)

// archNames maps a decoder layer to its HF tensor names.
type archNames struct {
	wq func(layer int) string
	wk func(layer int) string
	wv func(layer int) string
	wo func(layer int) string

	ffnGate func(layer int) string
	ffnUp   func(layer int) string
	ffnDown func(layer int) string
}

type archSpec struct {
	Name string
	// QKVBias marks families whose q/k/v projections always carry a bias,
	// independent of attention_bias.
	QKVBias bool
	Names   archNames
}

func namesWithPrefix(prefix string) archNames {
	layerName := func(suffix string) func(int) string {
		return func(layer int) string {
			return fmt.Sprintf("%slayers.%d.%s.weight", prefix, layer, suffix)
		}
	}
	return archNames{
		wq:      layerName("self_attn.q_proj"),
		wk:      layerName("self_attn.k_proj"),
		wv:      layerName("self_attn.v_proj"),
		wo:      layerName("self_attn.o_proj"),
		ffnGate: layerName("mlp.gate_proj"),
		ffnUp:   layerName("mlp.up_proj"),
		ffnDown: layerName("mlp.down_proj"),
	}
}

func llamaSpec() *archSpec {
	return &archSpec{Name: "llama", Names: namesWithPrefix("model.")}
}

func mistralSpec() *archSpec {
	return &archSpec{Name: "mistral", Names: namesWithPrefix("model.")}
}

// mistral3Spec covers the text model inside Mistral3 multimodal checkpoints.
func mistral3Spec() *archSpec {
	return &archSpec{Name: "mistral3", Names: namesWithPrefix("language_model.model.")}
}

func qwen2Spec() *archSpec {
	return &archSpec{Name: "qwen2", QKVBias: true, Names: namesWithPrefix("model.")}
}

func qwen3Spec() *archSpec {
	return &archSpec{Name: "qwen3", Names: namesWithPrefix("model.")}
}

func graniteSpec() *archSpec {
	return &archSpec{Name: "granite", Names: namesWithPrefix("model.")}
}

func detectArch(cfg *pruning.Config) (*archSpec, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	modelType := strings.ToLower(strings.TrimSpace(cfg.ModelType))
	archs := make([]string, 0, len(cfg.Architectures))
	for _, arch := range cfg.Architectures {
		archs = append(archs, strings.ToLower(arch))
	}
	hasArch := func(substr string) bool {
		if strings.Contains(modelType, substr) {
			return true
		}
		for _, arch := range archs {
			if strings.Contains(arch, substr) {
				return true
			}
		}
		return false
	}

	switch {
	case hasArch("qwen3"):
		return qwen3Spec(), nil
	case hasArch("qwen2"):
		return qwen2Spec(), nil
	case hasArch("granite"):
		return graniteSpec(), nil
	case hasArch("mistral3"):
		return mistral3Spec(), nil
	case hasArch("mistral"):
		return mistralSpec(), nil
	case hasArch("llama"):
		return llamaSpec(), nil
	default:
		return nil, fmt.Errorf("unsupported model_type %q (architectures=%v)", cfg.ModelType, cfg.Architectures)
	}
}

func biasName(weight string) string {
	return strings.TrimSuffix(weight, ".weight") + ".bias"
}
