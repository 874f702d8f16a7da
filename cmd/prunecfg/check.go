package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/prunecfg/internal/layout"
	"github.com/samcharles93/prunecfg/internal/logger"
	"github.com/samcharles93/prunecfg/internal/safetensors"
)

func checkCmd() *cli.Command {
	var (
		modelDir string
		specPath string
	)

	return &cli.Command{
		Name:  "check",
		Usage: "Compare a checkpoint's safetensors headers against its pruned config",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model directory with config.json and *.safetensors, or its config.json",
				Destination: &modelDir,
				Required:    true,
			},
			pruningFlag(&specPath),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)

			configPath, err := resolveConfigPath(modelDir)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			cfg, err := loadResolved(ctx, configPath, specPath)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			plan, err := layout.Build(cfg)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			ck, err := safetensors.OpenDir(filepath.Dir(configPath))
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			log.Debug("opened checkpoint", "dir", ck.Dir, "shards", len(ck.Shards), "tensors", ck.Len())

			mismatches := plan.Check(ck)
			w := c.Root().Writer
			for _, m := range mismatches {
				_, _ = fmt.Fprintln(w, m.String())
			}
			if len(mismatches) > 0 {
				return cli.Exit(fmt.Sprintf("error: %d tensor(s) disagree with the config", len(mismatches)), 1)
			}
			log.Info("checkpoint matches config",
				"arch", plan.Arch,
				"layers", len(plan.Layers),
				"decoder_params", plan.ParamCount(),
				"data_bytes", ck.DataBytes(),
			)
			return nil
		},
	}
}
