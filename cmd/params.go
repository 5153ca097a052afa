package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/coaching-cli/internal/model"
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Manage the behavior parameter catalog",
}

var paramsSeedFile string

// paramsSeedFileShape is the YAML shape of a parameter seed file.
type paramsSeedFileShape struct {
	Parameters []model.BehaviorParameter `yaml:"parameters"`
}

var paramsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import behavior parameters from a YAML seed file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := os.ReadFile(paramsSeedFile)
		if err != nil {
			return eris.Wrap(err, "read seed file")
		}
		var seed paramsSeedFileShape
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return eris.Wrap(err, "parse seed file")
		}
		if len(seed.Parameters) == 0 {
			return eris.New("seed file defines no parameters")
		}

		for _, p := range seed.Parameters {
			if p.ID == "" || p.Name == "" || p.Definition == "" {
				return eris.Errorf("parameter %q missing id, name, or definition", p.ID)
			}
			if err := env.Store.UpsertParameter(ctx, p); err != nil {
				return eris.Wrapf(err, "upsert parameter %s", p.ID)
			}
		}

		zap.L().Info("parameters imported",
			zap.Int("count", len(seed.Parameters)),
			zap.String("file", paramsSeedFile))
		return nil
	},
}

var paramsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the parameter catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		params, err := env.Store.ListParameters(ctx)
		if err != nil {
			return eris.Wrap(err, "list parameters")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(params)
	},
}

func init() {
	paramsImportCmd.Flags().StringVar(&paramsSeedFile, "file", "", "path to YAML seed file (required)")
	_ = paramsImportCmd.MarkFlagRequired("file")

	paramsCmd.AddCommand(paramsImportCmd, paramsListCmd)
	rootCmd.AddCommand(paramsCmd)
}
