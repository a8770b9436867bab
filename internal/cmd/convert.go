package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/drawmill/internal/observability"
	"github.com/3leaps/drawmill/pkg/pipeline"
)

var (
	convertWait     bool
	convertPollMs   int
	convertTextOut  string
	convertManifest bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <document>",
	Short: "Convert one document through the full pipeline",
	Long: `Convert a document to PDF, page images, and extracted text.

The document is fingerprinted and stored; stages whose outputs already
exist are skipped.

Example:
  drawmill convert conops.docx
  drawmill convert conops.docx --text-out ./conops-text
  drawmill convert conops.docx --no-wait`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().BoolVar(&convertWait, "wait", true, "Wait for the job to finish")
	convertCmd.Flags().IntVar(&convertPollMs, "poll-ms", 250, "Status poll interval in milliseconds")
	convertCmd.Flags().StringVar(&convertTextOut, "text-out", "", "Directory to copy extracted page text into")
	convertCmd.Flags().BoolVar(&convertManifest, "manifest", false, "Print the artifact manifest as JSON on success")
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	docPath := args[0]

	data, err := os.ReadFile(docPath)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	env, err := openPipelineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	env.orch.Start(ctx)
	defer env.orch.Stop()

	jobID, err := env.orch.Submit(ctx, data, filepath.Base(docPath))
	if err != nil {
		return fmt.Errorf("submit document: %w", err)
	}

	observability.CLILogger.Info("Job submitted",
		zap.String("job_id", jobID),
		zap.String("document", docPath))

	if !convertWait {
		fmt.Println(jobID)
		return nil
	}

	job, err := waitForJob(ctx, env, jobID)
	if err != nil {
		return err
	}

	if job.Status != pipeline.JobSucceeded {
		return fmt.Errorf("job %s failed at stage %s (%s): %s",
			jobID, job.FailureStage, job.FailureCode, job.FailureDetail)
	}

	manifest, err := env.orch.Result(jobID)
	if err != nil {
		return fmt.Errorf("load result: %w", err)
	}

	observability.CLILogger.Info("Conversion complete",
		zap.String("fingerprint", manifest.Fingerprint),
		zap.Int("pages", manifest.PageCount))

	if convertTextOut != "" {
		if err := copyPageText(env, manifest, convertTextOut); err != nil {
			return err
		}
	}

	if convertManifest {
		return printJSON(manifest)
	}

	fmt.Printf("fingerprint=%s pages=%d\n", manifest.Fingerprint, manifest.PageCount)
	return nil
}

func waitForJob(ctx context.Context, env *pipelineEnv, jobID string) (*pipeline.Job, error) {
	interval := time.Duration(convertPollMs) * time.Millisecond
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := env.orch.Status(jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// copyPageText writes each page's extracted text into dir, keeping the
// stored page-NNNN.txt names.
func copyPageText(env *pipelineEnv, m *pipeline.Manifest, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create text output dir: %w", err)
	}
	for _, page := range m.Pages {
		if page.Text == nil {
			observability.CLILogger.Warn("No text for page",
				zap.Int("page", page.Page),
				zap.String("reason", page.TextError))
			continue
		}
		src := filepath.Join(env.store.Root(), page.Text.Path)
		data, err := os.ReadFile(src)
		if err != nil {
			return fmt.Errorf("read page text: %w", err)
		}
		dst := filepath.Join(dir, filepath.Base(page.Text.Path))
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write page text: %w", err)
		}
	}
	return nil
}
