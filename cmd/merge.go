package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/workflow"
)

var (
	mergeForce  bool
	mergeOutput string
)

var mergeCmd = &cobra.Command{
	Use:   "merge <file> <file> [file...]",
	Short: "Merge assay files against the entity registry",
	Long:  "Uploads each file into a throwaway session, merges them and writes the merged table as CSV (stdout or --output) or XLSX (--output *.xlsx).",
	Args:  cobra.MinimumNArgs(workflow.MinMergeFiles),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("cli"); err != nil {
			return err
		}

		env, err := initEngine(ctx, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		id, err := uploadFiles(ctx, env.Engine, args)
		if err != nil {
			return err
		}

		res, err := env.Engine.Merge(ctx, id, mergeForce)
		if err != nil {
			return eris.Wrap(err, "merge")
		}
		zap.L().Info("merge complete",
			zap.Int("rows", res.Total),
			zap.Int("matched", res.Matched),
			zap.Int("unmatched", res.Unmatched),
			zap.String("fingerprint", res.Fingerprint),
		)
		formatMergeSummary(os.Stderr, res)

		if mergeOutput == "" {
			return env.Engine.Export(ctx, id, workflow.ExportCSV, cmd.OutOrStdout())
		}

		f, err := os.Create(mergeOutput)
		if err != nil {
			return eris.Wrapf(err, "create %s", mergeOutput)
		}
		if err := env.Engine.Export(ctx, id, exportFormat(mergeOutput), f); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		return eris.Wrapf(f.Close(), "close %s", mergeOutput)
	},
}

// uploadFiles reads each path into a new session and returns its id.
func uploadFiles(ctx context.Context, engine *workflow.Engine, paths []string) (string, error) {
	id := engine.CreateSession()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", eris.Wrapf(err, "read %s", p)
		}
		res, err := engine.Upload(ctx, id, filepath.Base(p), data)
		if err != nil {
			return "", eris.Wrapf(err, "upload %s", p)
		}
		for _, issue := range res.Issues {
			zap.L().Warn("row issue",
				zap.String("file", p),
				zap.Int("row", issue.Row),
				zap.String("reason", issue.Reason),
			)
		}
	}
	return id, nil
}

func exportFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return workflow.ExportXLSX
	}
	return workflow.ExportCSV
}

func formatMergeSummary(out io.Writer, res *model.MergeResult) {
	_, _ = fmt.Fprintf(out, "Merged %d rows (%d matched, %d unmatched), %d columns\n",
		res.Total, res.Matched, res.Unmatched, len(res.Headers))
	for _, issue := range res.Issues {
		_, _ = fmt.Fprintf(out, "  %s row %d: %s\n", issue.File, issue.Row, issue.Reason)
	}
}

func init() {
	mergeCmd.Flags().BoolVar(&mergeForce, "force", false, "recompute even if a cached merge exists")
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", "", "write the merged table to this file (.csv or .xlsx)")
	rootCmd.AddCommand(mergeCmd)
}
