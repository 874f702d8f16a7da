package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/prunecfg/internal/layout"
	"github.com/samcharles93/prunecfg/internal/pruning"
)

type inspectReport struct {
	ModelType           string              `json:"model_type"`
	NumHiddenLayers     int                 `json:"num_hidden_layers"`
	FirstPrunedLayerIdx pruning.LayerIndex  `json:"first_pruned_layer_idx"`
	MLPBias             bool                `json:"mlp_bias"`
	AttentionBias       bool                `json:"attention_bias"`
	Pruning             *pruning.Spec       `json:"pruning_config,omitempty"`
	Layers              []pruning.LayerDims `json:"layers"`
	Plan                *layout.Plan        `json:"plan,omitempty"`
}

func inspectCmd() *cli.Command {
	var (
		configPath string
		specPath   string
		asJSON     bool
		showPlan   bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print the per-layer dimensions of a (pruned) config.json",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config.json or a model directory",
				Destination: &configPath,
				Required:    true,
			},
			pruningFlag(&specPath),
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
			&cli.BoolFlag{Name: "plan", Usage: "include the expected tensor layout", Destination: &showPlan},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadResolved(ctx, configPath, specPath)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}

			report := inspectReport{
				ModelType:           cfg.ModelType,
				NumHiddenLayers:     cfg.NumHiddenLayers,
				FirstPrunedLayerIdx: cfg.FirstPrunedLayerIdx,
				MLPBias:             cfg.MLPBias,
				AttentionBias:       cfg.AttentionBias,
				Pruning:             cfg.Pruning,
				Layers:              cfg.Layers(),
			}
			if showPlan {
				plan, err := layout.Build(cfg)
				if err != nil {
					return cli.Exit("error: "+err.Error(), 1)
				}
				report.Plan = plan
			}

			w := c.Root().Writer
			if asJSON {
				b, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			}
			printReport(w, report)
			return nil
		},
	}
}

// loadResolved reads config.json and applies specPath when set, else the
// embedded pruning_config.
func loadResolved(ctx context.Context, configPath, specPath string) (*pruning.Config, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec *pruning.Spec
	if specPath != "" {
		spec, err = pruning.LoadSpecFile(specPath)
		if err != nil {
			return nil, err
		}
	}
	cfg, err := pruning.LoadWithSpec(ctx, raw, spec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func printReport(w io.Writer, r inspectReport) {
	fmt.Fprintf(w, "model_type:             %s\n", r.ModelType)
	fmt.Fprintf(w, "num_hidden_layers:      %d\n", r.NumHiddenLayers)
	fmt.Fprintf(w, "first_pruned_layer_idx: %s\n", r.FirstPrunedLayerIdx)
	fmt.Fprintf(w, "mlp_bias:               %t\n", r.MLPBias)
	fmt.Fprintf(w, "attention_bias:         %t\n", r.AttentionBias)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-6s %-6s %-9s %-9s %-13s %s\n", "layer", "heads", "kv_heads", "head_dim", "intermediate", "pruned")
	for _, l := range r.Layers {
		pruned := "no"
		if l.Pruned {
			pruned = "yes"
		}
		fmt.Fprintf(w, "%-6d %-6d %-9d %-9d %-13d %s\n",
			l.Index, l.Attention.NumHeads, l.Attention.NumKeyValueHeads, l.Attention.HeadDim, l.MLP.IntermediateSize, pruned)
	}

	if r.Plan == nil {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "arch:           %s\n", r.Plan.Arch)
	fmt.Fprintf(w, "decoder params: %s\n", formatCount(r.Plan.ParamCount()))
	for _, layer := range r.Plan.Layers {
		for _, t := range layer.Tensors {
			if t.Absent() {
				fmt.Fprintf(w, "  %s  (absent)\n", t.Name)
				continue
			}
			fmt.Fprintf(w, "  %s  %v\n", t.Name, t.Shape)
		}
	}
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.2fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}
