package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Pull recent Federal Register documents into the corpus table",
		Long: `Searches the Federal Register for documents published within the
configured lookback window and inserts every document number not already
stored. Raw search pages are archived when an archive is configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job := appInstance.SyncJob()
			return appInstance.RunJob(cmd.Context(), "sync", func(ctx context.Context, runID string) error {
				res, err := job.Run(ctx, runID)
				appInstance.Logger().Info("sync summary",
					zap.Int("pages", res.Pages),
					zap.Int("fetched", res.Fetched),
					zap.Int("inserted", res.Inserted),
				)
				return err
			})
		},
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Classify unlabeled documents for AI-policy relevance",
		Long: `Selects corpus rows without a verdict, asks the LLM whether each is
AI related, stores the verdict and copies AI-related rows into the AI table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := appInstance.ClassifyJob()
			if err != nil {
				return fmt.Errorf("build classify job: %w", err)
			}
			return appInstance.RunJob(cmd.Context(), "classify", func(ctx context.Context, runID string) error {
				res, err := job.Run(ctx, runID)
				appInstance.Logger().Info("classify summary",
					zap.Int("selected", res.Selected),
					zap.Int("classified", res.Classified),
					zap.Int("skipped", res.Skipped),
					zap.Int("inserted", res.Inserted),
				)
				return err
			})
		},
	}
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "refresh",
		Aliases: []string{"refresh-metrics"},
		Short:   "Refresh page views and comment counts of stored documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := appInstance.RefreshJob()
			if err != nil {
				return fmt.Errorf("build refresh job: %w", err)
			}
			return appInstance.RunJob(cmd.Context(), "refresh", func(ctx context.Context, runID string) error {
				res, err := job.Run(ctx, runID)
				appInstance.Logger().Info("refresh summary", zap.Int("updated", res.Updated()))
				return err
			})
		},
	}
}
