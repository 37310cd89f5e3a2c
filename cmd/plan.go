package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/planner"
)

var (
	planObjective string
	planOut       string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Analyze the research objective and build tiered search strategies",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		o, err := initOracle(cfg.Anthropic.SonnetModel)
		if err != nil {
			return err
		}
		p := planner.New(o)

		analysis, err := p.Analyze(ctx, planObjective)
		if err != nil {
			return eris.Wrap(err, "analyze objective")
		}
		strategies, err := p.BuildStrategies(ctx, analysis)
		if err != nil {
			return eris.Wrap(err, "build strategies")
		}

		counts := p.CountQueries(strategies)
		zap.L().Info("plan built",
			zap.Int("strategies", len(strategies)),
			zap.Int("direct", counts.Direct),
			zap.Int("semi_direct", counts.SemiDirect),
			zap.Int("indirect", counts.Indirect),
			zap.Int("total", counts.Total))

		out := planOut
		if out == "" {
			out = filepath.Join(cfg.Scan.OutputDir, "strategy_plan.json")
		}
		if err := p.SavePlan(out); err != nil {
			return err
		}
		zap.L().Info("plan saved", zap.String("path", out))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(strategies)
	},
}

func init() {
	planCmd.Flags().StringVar(&planObjective, "objective", "", "research objective in plain language (required)")
	planCmd.Flags().StringVar(&planOut, "out", "", "plan dump path (default <output-dir>/strategy_plan.json, where scan picks it up)")
	_ = planCmd.MarkFlagRequired("objective")
	rootCmd.AddCommand(planCmd)
}
