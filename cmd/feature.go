package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/feature-store/internal/materialize"
	"github.com/sells-group/feature-store/internal/model"
	"github.com/sells-group/feature-store/internal/registry"
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Manage the feature catalog",
}

var featureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered features (latest version each)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		all, _ := cmd.Flags().GetBool("all")
		defs, err := registry.New(pool).List(ctx, !all)
		if err != nil {
			return err
		}

		if len(defs) == 0 {
			fmt.Println("No features registered")
			return nil
		}
		for _, def := range defs {
			status := "active"
			if !def.Active {
				status = "inactive"
			}
			fmt.Printf("%-24s v%-3d %-10s %-10s %-8s %s\n",
				def.FeatureID, def.Version, def.EntityType, string(def.Mode), status, def.DisplayName)
		}
		return nil
	},
}

var featureGetCmd = &cobra.Command{
	Use:   "get <feature_id>",
	Short: "Show a feature's latest definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		def, err := registry.New(pool).Get(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Feature:     %s (v%d)\n", def.FeatureID, def.Version)
		fmt.Printf("Name:        %s\n", def.DisplayName)
		fmt.Printf("Group:       %s\n", def.Group)
		fmt.Printf("Entity:      %s\n", def.EntityType)
		fmt.Printf("Type:        %s\n", def.ValueType)
		fmt.Printf("Mode:        %s\n", def.Mode)
		if def.Cadence != "" {
			fmt.Printf("Cadence:     %s\n", def.Cadence)
		}
		if def.Expression != "" {
			fmt.Printf("Expression:  %s\n", def.Expression)
		}
		fmt.Printf("Active:      %t\n", def.Active)
		fmt.Printf("Created:     %s\n", def.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var featureSyncCmd = &cobra.Command{
	Use:   "sync-catalog",
	Short: "Register the compiled-in feature library",
	Long:  "Registers every builtin feature implementation in the catalog. Already-registered features are left untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		reg := registry.New(pool)
		var registered int
		for _, f := range materialize.NewLibrary().All() {
			sf, ok := f.(*materialize.SQLFeature)
			if !ok {
				continue
			}
			if _, err := reg.Register(ctx, sf.Definition()); err != nil {
				return eris.Wrapf(err, "register %s", f.Name())
			}
			registered++
		}

		zap.L().Info("catalog synced", zap.Int("features", registered))
		return nil
	},
}

var featureBumpCmd = &cobra.Command{
	Use:   "bump <feature_id>",
	Short: "Create a new version of a feature definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		reg := registry.New(pool)
		def, err := reg.Get(ctx, args[0])
		if err != nil {
			return err
		}

		if v, _ := cmd.Flags().GetString("type"); v != "" {
			def.ValueType = model.ValueType(v)
		}
		if v, _ := cmd.Flags().GetString("mode"); v != "" {
			def.Mode = model.ComputeMode(v)
		}
		if v, _ := cmd.Flags().GetString("cadence"); v != "" {
			def.Cadence = model.Cadence(v)
		}
		if v, _ := cmd.Flags().GetString("expr"); v != "" {
			def.Expression = v
		}

		version, err := reg.NewVersion(ctx, def)
		if err != nil {
			return err
		}
		fmt.Printf("Feature %s bumped to v%d\n", def.FeatureID, version)
		return nil
	},
}

var featureDeactivateCmd = &cobra.Command{
	Use:   "deactivate <feature_id>",
	Short: "Exclude a feature from new materialization runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := registry.New(pool).Deactivate(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Feature %s deactivated; historical facts remain readable\n", args[0])
		return nil
	},
}

func init() {
	featureListCmd.Flags().Bool("all", false, "include inactive features")
	featureBumpCmd.Flags().String("type", "", "new value type: numeric, boolean, categorical, json")
	featureBumpCmd.Flags().String("mode", "", "new compute mode: batch, streaming")
	featureBumpCmd.Flags().String("cadence", "", "new cadence: hourly, daily, weekly, monthly")
	featureBumpCmd.Flags().String("expr", "", "new catalog expression")

	featureCmd.AddCommand(featureListCmd)
	featureCmd.AddCommand(featureGetCmd)
	featureCmd.AddCommand(featureSyncCmd)
	featureCmd.AddCommand(featureBumpCmd)
	featureCmd.AddCommand(featureDeactivateCmd)
	rootCmd.AddCommand(featureCmd)
}
