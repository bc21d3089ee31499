package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/feature-store/internal/registry"
	"github.com/sells-group/feature-store/internal/training"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Build and inspect training datasets",
}

var datasetBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a point-in-time correct training dataset",
	Long: `Build joins a labels file against a feature set: each labeled example
gets the feature values that were knowable at its label time. The labels file
is a JSON array of {"entity_id", "label_time", "label"} objects.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		setID, _ := cmd.Flags().GetString("set")
		labelsPath, _ := cmd.Flags().GetString("labels")
		strict, _ := cmd.Flags().GetBool("strict")

		raw, err := os.ReadFile(labelsPath)
		if err != nil {
			return eris.Wrapf(err, "dataset: read labels file %s", labelsPath)
		}
		var labels []training.Label
		if err := json.Unmarshal(raw, &labels); err != nil {
			return eris.Wrapf(err, "dataset: parse labels file %s", labelsPath)
		}

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := openOffline(ctx, pool)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		builder := training.NewBuilder(registry.New(pool), store, pool)
		artifact, err := builder.Build(ctx, setID, labels, training.BuildOpts{Strict: strict})
		if err != nil {
			return err
		}

		fmt.Printf("Dataset %s built: %d rows (%d with coverage gaps) from set %s v%d\n",
			artifact.DatasetID, artifact.RowCount, artifact.CoverageWarnings,
			artifact.FeatureSetID, artifact.FeatureSetVer)
		return nil
	},
}

var datasetGetCmd = &cobra.Command{
	Use:   "get <dataset_id>",
	Short: "Show a dataset's artifact record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := openOffline(ctx, pool)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		builder := training.NewBuilder(registry.New(pool), store, pool)
		artifact, err := builder.Get(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Dataset:   %s\n", artifact.DatasetID)
		fmt.Printf("Set:       %s (v%d)\n", artifact.FeatureSetID, artifact.FeatureSetVer)
		fmt.Printf("Window:    %s .. %s\n",
			artifact.WindowStart.Format("2006-01-02 15:04:05"),
			artifact.WindowEnd.Format("2006-01-02 15:04:05"))
		fmt.Printf("Rows:      %d (%d with coverage gaps)\n", artifact.RowCount, artifact.CoverageWarnings)
		fmt.Printf("Created:   %s\n", artifact.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var datasetExportCmd = &cobra.Command{
	Use:   "export <dataset_id>",
	Short: "Export a dataset's rows as JSON lines to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		store, err := openOffline(ctx, pool)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		builder := training.NewBuilder(registry.New(pool), store, pool)
		rows, err := builder.Rows(ctx, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		for i := range rows {
			if err := enc.Encode(&rows[i]); err != nil {
				return eris.Wrap(err, "dataset: encode row")
			}
		}
		return nil
	},
}

func init() {
	datasetBuildCmd.Flags().String("set", "", "feature set id to join against")
	datasetBuildCmd.Flags().String("labels", "", "path to JSON labels file")
	datasetBuildCmd.Flags().Bool("strict", false, "fail on any missing feature instead of warning")
	datasetBuildCmd.MarkFlagRequired("set")    //nolint:errcheck
	datasetBuildCmd.MarkFlagRequired("labels") //nolint:errcheck

	datasetCmd.AddCommand(datasetBuildCmd)
	datasetCmd.AddCommand(datasetGetCmd)
	datasetCmd.AddCommand(datasetExportCmd)
	rootCmd.AddCommand(datasetCmd)
}
