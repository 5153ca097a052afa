package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/coaching-cli/internal/model"
)

var importJSONPath string

// importFileShape is the JSON shape of a call import file: subjects are
// upserted first so calls can reference them.
type importFileShape struct {
	Subjects []model.Subject `json:"subjects"`
	Calls    []model.Call    `json:"calls"`
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import subjects and call transcripts from a JSON file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := os.ReadFile(importJSONPath)
		if err != nil {
			return eris.Wrap(err, "read import file")
		}
		var file importFileShape
		if err := json.Unmarshal(data, &file); err != nil {
			return eris.Wrap(err, "parse import file")
		}

		for _, s := range file.Subjects {
			if s.ID == "" {
				return eris.New("subject missing id")
			}
			if err := env.Store.UpsertSubject(ctx, s); err != nil {
				return eris.Wrapf(err, "upsert subject %s", s.ID)
			}
		}

		created, err := env.Store.ImportCalls(ctx, file.Calls)
		if err != nil {
			return eris.Wrap(err, "import calls")
		}

		zap.L().Info("import complete",
			zap.Int("subjects", len(file.Subjects)),
			zap.Int("calls", created),
			zap.String("file", importJSONPath))
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importJSONPath, "file", "", "path to JSON file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
