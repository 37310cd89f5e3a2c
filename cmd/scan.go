package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/scout"
)

var (
	scanRegions    []string
	scanUnattended bool
	scanFast       bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the full region-by-region creator scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if scanUnattended {
			cfg.Scan.Unattended = true
		}

		model := cfg.Anthropic.SonnetModel
		if scanFast {
			model = cfg.Anthropic.HaikuModel
		}

		env, err := initScout(ctx, model, func(ev scout.Event) {
			if ev.Type == "category_resolved" {
				zap.L().Info("resolved",
					zap.String("region", ev.Region),
					zap.String("locality", ev.Locality),
					zap.String("category", ev.Category))
			}
		})
		if err != nil {
			return err
		}
		defer env.Close()

		if len(scanRegions) > 0 {
			filtered := env.Criteria.Regions[:0]
			for _, r := range env.Criteria.Regions {
				for _, want := range scanRegions {
					if r.Name == want {
						filtered = append(filtered, r)
						break
					}
				}
			}
			if len(filtered) == 0 {
				return eris.Errorf("no configured region matches %v", scanRegions)
			}
			env.Criteria.Regions = filtered
		}

		if err := env.Scout.Run(ctx); err != nil {
			return eris.Wrap(err, "scan")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(env.Scout.Progress())
	},
}

func init() {
	scanCmd.Flags().StringSliceVar(&scanRegions, "region", nil, "limit the scan to these regions (repeatable)")
	scanCmd.Flags().BoolVar(&scanUnattended, "unattended", false, "skip human checkpoints")
	scanCmd.Flags().BoolVar(&scanFast, "fast", false, "use the cheaper model for all phases")
	rootCmd.AddCommand(scanCmd)
}
