package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/assay-cli/internal/entity"
	"github.com/sells-group/assay-cli/internal/model"
	"github.com/sells-group/assay-cli/internal/store"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Manage the canonical Design/Build registry",
}

// -- entities import --

var entitiesImportFile string

var entitiesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import entities from a YAML seed file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		entities, err := entity.LoadSeed(entitiesImportFile)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := store.Import(ctx, st, entities)
		if err != nil {
			return eris.Wrap(err, "entities import")
		}

		zap.L().Info("entities imported",
			zap.String("file", entitiesImportFile),
			zap.Int("records", len(entities)),
			zap.Int64("rows", n),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d entities from %s\n", len(entities), entitiesImportFile)
		return nil
	},
}

// -- entities list --

var entitiesListFormat string

var entitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored entities with computed lineage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := store.Snapshot(ctx, st)
		if err != nil {
			return eris.Wrap(err, "entities list")
		}
		entities := snap.Entities()

		switch entitiesListFormat {
		case "yaml":
			data, err := entity.MarshalSeed(entities)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		case "table":
			if len(entities) == 0 {
				fmt.Fprintln(os.Stderr, "No entities found.")
				return nil
			}
			formatEntitiesList(cmd.OutOrStdout(), entities)
			return nil
		default:
			return eris.Errorf("unknown format %q (supported: table, yaml)", entitiesListFormat)
		}
	},
}

func formatEntitiesList(out io.Writer, entities []model.Entity) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tNAME\tALIAS\tPARENT\tGEN\tMUTATIONS\tLINEAGE")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t-----\t------\t---\t---------\t-------")

	for _, e := range entities {
		hash := e.LineageHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.Kind, e.Name, dash(e.Alias), dash(e.ParentID), e.Generation,
			dash(strings.Join(e.Mutations, ",")), hash)
	}
	_ = w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	entitiesImportCmd.Flags().StringVar(&entitiesImportFile, "file", "", "YAML seed file")
	_ = entitiesImportCmd.MarkFlagRequired("file")

	entitiesListCmd.Flags().StringVar(&entitiesListFormat, "format", "table", "output format (table, yaml)")

	entitiesCmd.AddCommand(entitiesImportCmd, entitiesListCmd)
	rootCmd.AddCommand(entitiesCmd)
}
