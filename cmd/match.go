package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/assay-cli/internal/workflow"
)

var matchJSON bool

var matchCmd = &cobra.Command{
	Use:   "match <file>",
	Short: "Show how each row of one file matches the entity registry",
	Args:  cobra.ExactArgs(1),
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

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}
		id := env.Engine.CreateSession()
		up, err := env.Engine.Upload(ctx, id, filepath.Base(args[0]), data)
		if err != nil {
			return eris.Wrapf(err, "upload %s", args[0])
		}

		rep, err := env.Engine.MatchFile(ctx, id, up.FileID)
		if err != nil {
			return eris.Wrap(err, "match")
		}

		if matchJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		}
		formatMatchReport(cmd.OutOrStdout(), rep)
		return nil
	},
}

func formatMatchReport(out io.Writer, rep *workflow.FileMatchReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tNAME\tENTITY\tKIND\tMETHOD\tCONFIDENCE\tSCORE\tREASON")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t----\t------\t----------\t-----\t------")

	for _, t := range rep.Tests {
		m := t.Match
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
			t.Row, dash(t.Name), dash(m.EntityID), dash(string(m.EntityKind)),
			m.Method(), m.Confidence(), m.Score(), dash(m.Reason))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%s: %d rows, %d matched, %d unmatched\n", rep.Filename, rep.Total, rep.Matched, rep.Unmatched)
	methods := make([]string, 0, len(rep.ByMethod))
	for m := range rep.ByMethod {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		_, _ = fmt.Fprintf(out, "  %s: %d\n", m, rep.ByMethod[m])
	}
}

func init() {
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(matchCmd)
}
