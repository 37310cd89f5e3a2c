package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/scout-cli/internal/cost"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graph and cost-engine state from the last run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		stats, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "graph stats")
		}

		out := map[string]any{"graph": stats}

		statePath := filepath.Join(cfg.Scan.OutputDir, "cost_state.json")
		if _, err := os.Stat(statePath); err == nil {
			engine, err := cost.Load(statePath, cost.DefaultConfig())
			if err == nil {
				out["cost"] = engine.Summarize()
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
