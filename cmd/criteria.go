package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/scout-cli/internal/config"
	"github.com/sells-group/scout-cli/internal/graph"
)

var criteriaCmd = &cobra.Command{
	Use:   "criteria",
	Short: "Manage scan criteria and graph scoring rules",
}

var criteriaInitOut string

var criteriaInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default scan criteria to a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := config.DefaultCriteria()
		if err := config.SaveCriteria(criteriaInitOut, c); err != nil {
			return err
		}
		zap.L().Info("criteria written",
			zap.String("path", criteriaInitOut),
			zap.Int("regions", len(c.Regions)),
			zap.Int("categories", len(c.Categories)))
		return nil
	},
}

var criteriaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective scan criteria",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadCriteria(cfg.CriteriaPath)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	},
}

var (
	criteriaThreshold int
	criteriaFile      string
)

// loadScoringCriteria reads a criteria list from a JSON or YAML file. An
// empty path means the built-in default set.
func loadScoringCriteria(path string) ([]graph.Criterion, error) {
	if path == "" {
		return graph.DefaultCriteria(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read criteria file")
	}
	var crits []graph.Criterion
	if json.Unmarshal(data, &crits) == nil && len(crits) > 0 {
		return crits, nil
	}

	// YAML path: normalize through JSON so the json tags apply.
	var loose any
	if err := yaml.Unmarshal(data, &loose); err != nil {
		return nil, eris.Wrap(err, "decode criteria file")
	}
	normalized, err := json.Marshal(loose)
	if err != nil {
		return nil, eris.Wrap(err, "normalize criteria file")
	}
	if err := json.Unmarshal(normalized, &crits); err != nil {
		return nil, eris.Wrap(err, "decode criteria list")
	}
	if len(crits) == 0 {
		return nil, eris.Errorf("no criteria in %s", path)
	}
	return crits, nil
}

var criteriaScoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Install graph scoring criteria and recompute all target scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		crits, err := loadScoringCriteria(criteriaFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := st.ConfigureCriteria(ctx, crits, criteriaThreshold); err != nil {
			return eris.Wrap(err, "configure criteria")
		}

		summary, err := st.ComputeAllScores(ctx)
		if err != nil {
			return eris.Wrap(err, "recompute scores")
		}
		zap.L().Info("scores recomputed",
			zap.Int("targets", summary.TotalTargets),
			zap.Int("validated", summary.Validated),
			zap.Int("rejected", summary.Rejected))
		return nil
	},
}

func init() {
	criteriaInitCmd.Flags().StringVar(&criteriaInitOut, "out", "criteria.yaml", "output path")
	criteriaScoreCmd.Flags().IntVar(&criteriaThreshold, "threshold", graph.DefaultThreshold, "validation cutoff (0-100)")
	criteriaScoreCmd.Flags().StringVar(&criteriaFile, "file", "", "criteria list file (YAML or JSON, default built-in set)")
	criteriaCmd.AddCommand(criteriaInitCmd, criteriaShowCmd, criteriaScoreCmd)
	rootCmd.AddCommand(criteriaCmd)
}
