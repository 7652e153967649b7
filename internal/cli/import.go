package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/dataset"
)

var importCmd = &cobra.Command{
	Use:   "import <manifest>",
	Short: "Import a dataset manifest into SurrealDB",
	Long: `Import a YAML dataset manifest into SurrealDB, replacing the samples
previously stored for the same dataset id. Needs the surrealdb dataset or
store backend.

Examples:
  DQ_DATASET_BACKEND=surrealdb dataquality import flowers.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := deps.DB()
		if client == nil {
			return errNoDatabase
		}
		m, err := dataset.LoadManifest(args[0])
		if err != nil {
			return err
		}
		ds, err := client.ImportManifest(cmd.Context(), m.Manifest())
		if err != nil {
			return err
		}
		n, err := ds.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%s): %d samples\n", ds.Name(), ds.ID(), n)
		return nil
	},
}
