package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/3leaps/drawmill/pkg/pipeline"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage conversion jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known jobs, newest first",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job's status and stage history",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsResultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print a completed job's artifact manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsResult,
}

var jobsStopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Cancel a queued or running job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStop,
}

var jobsListJSON bool

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsResultCmd)
	jobsCmd.AddCommand(jobsStopCmd)

	jobsListCmd.Flags().BoolVar(&jobsListJSON, "json", false, "Emit JSON instead of a table")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	env, err := openPipelineEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	jobs := env.reg.List()
	if jobsListJSON {
		return printJSON(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tFILENAME\tFINGERPRINT\tCREATED")
	for _, job := range jobs {
		fp := job.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			job.ID, job.Status, job.Filename, fp,
			job.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	env, err := openPipelineEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := env.reg.Get(args[0])
	if err != nil {
		return fmt.Errorf("job %s: %w", args[0], err)
	}
	return printJSON(job)
}

func runJobsResult(cmd *cobra.Command, args []string) error {
	env, err := openPipelineEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := env.reg.Get(args[0])
	if err != nil {
		return fmt.Errorf("job %s: %w", args[0], err)
	}
	if job.Status != pipeline.JobSucceeded {
		return fmt.Errorf("job %s is %s; no manifest available", args[0], job.Status)
	}

	manifest, err := pipeline.LoadManifest(env.store, job.Fingerprint)
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	return printJSON(manifest)
}

func runJobsStop(cmd *cobra.Command, args []string) error {
	env, err := openPipelineEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.orch.Cancel(args[0]); err != nil {
		return fmt.Errorf("cancel job %s: %w", args[0], err)
	}
	fmt.Printf("job %s cancelled\n", args[0])
	return nil
}
