package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var composeSubjectID string

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Compose a fresh guidance prompt for a subject",
	Long:  "Resolves the subject's effective targets, folds in memory, traits, and recent negative calls, and writes a new active prompt. The previous active prompt is superseded.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		prompt, err := env.Composer.Compose(ctx, composeSubjectID)
		if err != nil {
			return eris.Wrap(err, "compose prompt")
		}

		zap.L().Info("prompt composed",
			zap.String("subject", composeSubjectID),
			zap.String("prompt_id", prompt.ID))
		fmt.Println(prompt.Text)
		return nil
	},
}

func init() {
	composeCmd.Flags().StringVar(&composeSubjectID, "subject", "", "subject ID (required)")
	_ = composeCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(composeCmd)
}
