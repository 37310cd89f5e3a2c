package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/export"
	"github.com/sells-group/scout-cli/internal/graph"
)

var (
	exportOut string
	exportAll bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export graph targets to CSV or XLSX",
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

		var rows []graph.ExportRow
		if exportAll {
			rows, err = st.ExportAll(ctx)
		} else {
			rows, err = st.ExportValidated(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "export targets")
		}

		switch {
		case strings.HasSuffix(exportOut, ".xlsx"):
			err = export.WriteGraphXLSX(exportOut, rows)
		case strings.HasSuffix(exportOut, ".csv"):
			err = export.WriteGraphCSV(exportOut, rows)
		default:
			return eris.Errorf("unsupported export format: %s (want .csv or .xlsx)", exportOut)
		}
		if err != nil {
			return err
		}

		zap.L().Info("export written", zap.String("path", exportOut), zap.Int("rows", len(rows)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "targets.csv", "output file (.csv or .xlsx)")
	exportCmd.Flags().BoolVar(&exportAll, "all", false, "include unscored and rejected targets")
	rootCmd.AddCommand(exportCmd)
}
