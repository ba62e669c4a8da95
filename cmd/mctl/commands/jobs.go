package commands

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/missionctl/agent"
	"github.com/teranos/missionctl/am"
	"github.com/teranos/missionctl/display"
	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/pulse/async"
	"github.com/teranos/missionctl/sym"
)

// JobsCmd groups job commands
var JobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"job"},
	Short:   sym.Pulse + " Create, inspect, route, review and run jobs",
	Long: sym.Pulse + ` jobs - the job queue

A job moves queued -> assigned -> running -> done | failed | paused_*,
and done jobs go through review. Claims are atomic, so any number of
runners (mctl pulse, mctl jobs run, the HTTP run-once endpoint) can share
one database.

Examples:
  mctl jobs add --title "Lint" --prompt "golangci-lint run" --priority 3
  mctl jobs ls --status queued,running
  mctl jobs route <id> --assign
  mctl jobs run                   # claim and run the next job here
  mctl jobs review <id> --reviewer qa-1 --completeness 8 --accuracy 7 \
      --actionability 7 --relevance 8 --evidence 6`,
}

var (
	jobsStatus  string
	jobsProject string
	jobsEngine  string
	jobsAgent   string
	jobsLimit   int

	addTitle    string
	addPrompt   string
	addEngine   string
	addPriority int
	addType     string
	addProject  string
	addAgent    string
	addParent   string
	addWorkDir  string
	addOutput   string

	patchPriority int
	patchType     string
	patchAgent    string
	patchTitle    string
	patchStatus   string

	routeAssign bool

	reviewReviewer string
	reviewFeedback string
	reviewDims     agent.Dimensions
)

var jobsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List jobs, highest priority first",
	RunE:    runJobsList,
}

var jobsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Enqueue a job",
	RunE:  runJobsAdd,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsPatchCmd = &cobra.Command{
	Use:   "patch <id>",
	Short: "Change priority, type, agent, title or status",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsPatch,
}

var jobsRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Put a finished job back in the queue with its retry count reset",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRequeue,
}

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count jobs by status",
	RunE:  runJobsStats,
}

var jobsRouteCmd = &cobra.Command{
	Use:   "route <id>",
	Short: "Pick the best agent for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRoute,
}

var jobsReviewCmd = &cobra.Command{
	Use:   "review <id>",
	Short: "Score a finished job on five 1-10 dimensions",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsReview,
}

var jobsReviewsCmd = &cobra.Command{
	Use:   "reviews <id>",
	Short: "List the reviews of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsReviews,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run [id]",
	Short: "Claim and run one job in this process",
	Long: `Claim the next queued job (or the given one) and run it to completion here.
Nothing claimable is not an error.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobsRun,
}

func init() {
	jobsListCmd.Flags().StringVar(&jobsStatus, "status", "", "Comma separated statuses (e.g. queued,running)")
	jobsListCmd.Flags().StringVar(&jobsProject, "project", "", "Only jobs of this project")
	jobsListCmd.Flags().StringVar(&jobsEngine, "engine", "", "Only jobs for this engine")
	jobsListCmd.Flags().StringVar(&jobsAgent, "agent", "", "Only jobs assigned to this agent")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 50, "Maximum jobs to show")
	jobsListCmd.Flags().Bool("json", false, "Print JSON")

	jobsAddCmd.Flags().StringVar(&addTitle, "title", "", "Job title (required)")
	jobsAddCmd.Flags().StringVar(&addPrompt, "prompt", "", "Shell script or LLM prompt (required)")
	jobsAddCmd.Flags().StringVar(&addEngine, "engine", string(async.EngineShell), "shell, openrouter, anthropic or local")
	jobsAddCmd.Flags().IntVar(&addPriority, "priority", 5, "1 (highest) to 10")
	jobsAddCmd.Flags().StringVar(&addType, "type", string(async.JobTypeTask), "task, decomposition, review, integration or pm")
	jobsAddCmd.Flags().StringVar(&addProject, "project", "", "Project ID")
	jobsAddCmd.Flags().StringVar(&addAgent, "agent", "", "Agent ID")
	jobsAddCmd.Flags().StringVar(&addParent, "parent", "", "Parent job ID")
	jobsAddCmd.Flags().StringVar(&addWorkDir, "work-dir", "", "Working directory for the shell engine")
	jobsAddCmd.Flags().StringVar(&addOutput, "output-dir", "", "Where LLM engines write their result")
	jobsAddCmd.MarkFlagRequired("title")
	jobsAddCmd.MarkFlagRequired("prompt")

	jobsShowCmd.Flags().Bool("json", false, "Print JSON")

	jobsPatchCmd.Flags().IntVar(&patchPriority, "priority", 0, "New priority")
	jobsPatchCmd.Flags().StringVar(&patchType, "type", "", "New job type")
	jobsPatchCmd.Flags().StringVar(&patchAgent, "agent", "", "New agent ID")
	jobsPatchCmd.Flags().StringVar(&patchTitle, "title", "", "New title")
	jobsPatchCmd.Flags().StringVar(&patchStatus, "status", "", "New status (must be a legal transition)")

	jobsRouteCmd.Flags().BoolVar(&routeAssign, "assign", false, "Assign the job to the chosen agent")

	jobsReviewCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "Reviewer ID (required)")
	jobsReviewCmd.Flags().StringVar(&reviewFeedback, "feedback", "", "Free-form feedback")
	jobsReviewCmd.Flags().IntVar(&reviewDims.Completeness, "completeness", 0, "1-10")
	jobsReviewCmd.Flags().IntVar(&reviewDims.Accuracy, "accuracy", 0, "1-10")
	jobsReviewCmd.Flags().IntVar(&reviewDims.Actionability, "actionability", 0, "1-10")
	jobsReviewCmd.Flags().IntVar(&reviewDims.Relevance, "relevance", 0, "1-10")
	jobsReviewCmd.Flags().IntVar(&reviewDims.Evidence, "evidence", 0, "1-10")
	jobsReviewCmd.MarkFlagRequired("reviewer")

	jobsRunCmd.Flags().Bool("json", false, "Print JSON")

	JobsCmd.AddCommand(jobsListCmd)
	JobsCmd.AddCommand(jobsAddCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsPatchCmd)
	JobsCmd.AddCommand(jobsRequeueCmd)
	JobsCmd.AddCommand(jobsStatsCmd)
	JobsCmd.AddCommand(jobsRouteCmd)
	JobsCmd.AddCommand(jobsReviewCmd)
	JobsCmd.AddCommand(jobsReviewsCmd)
	JobsCmd.AddCommand(jobsRunCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	statuses, err := parseStatuses(jobsStatus)
	if err != nil {
		return err
	}
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		jobs, err := async.NewQueue(database).ListJobs(cmd.Context(), async.JobFilter{
			Statuses:  statuses,
			ProjectID: jobsProject,
			Engine:    async.EngineName(jobsEngine),
			AgentID:   jobsAgent,
			Limit:     jobsLimit,
		})
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(cmd.OutOrStdout(), jobs)
		}
		if len(jobs) == 0 {
			pterm.Info.Println("No jobs")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs, time.Now())).Render()
	})
}

func runJobsAdd(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		job, err := async.NewQueue(database).Enqueue(cmd.Context(), async.JobSpec{
			Title:       addTitle,
			Prompt:      addPrompt,
			Engine:      async.EngineName(addEngine),
			WorkDir:     addWorkDir,
			OutputDir:   addOutput,
			Priority:    &addPriority,
			ParentJobID: addParent,
			ProjectID:   addProject,
			AgentID:     addAgent,
			JobType:     async.JobType(addType),
			Source:      "cli",
		})
		if err != nil {
			return err
		}
		pterm.Success.Printf("Queued %s %q (priority %d, %s)\n", job.ID, job.Title, job.Priority, job.Engine)
		return nil
	})
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		job, err := async.NewQueue(database).GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(cmd.OutOrStdout(), job)
		}
		printJob(job)
		return nil
	})
}

func printJob(job *async.Job) {
	fields := [][2]string{
		{"ID", job.ID},
		{"Title", job.Title},
		{"Status", string(job.Status)},
		{"Engine", string(job.Engine)},
		{"Type", string(job.JobType)},
		{"Priority", strconv.Itoa(job.Priority)},
		{"Retries", strconv.Itoa(job.RetryCount)},
		{"Agent", job.AgentID},
		{"Project", job.ProjectID},
		{"Parent", job.ParentJobID},
		{"Source", job.Source},
		{"Created", job.CreatedAt.Format(time.RFC3339)},
		{"Updated", job.UpdatedAt.Format(time.RFC3339)},
	}
	if job.QualityScore != nil {
		fields = append(fields, [2]string{"Quality", strconv.Itoa(*job.QualityScore)})
	}
	if job.LastRunOutcome != nil {
		fields = append(fields, [2]string{"Outcome", string(job.LastRunOutcome.Status)})
	}
	if job.LastError != "" {
		fields = append(fields, [2]string{"Last error", truncate(job.LastError, 200)})
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		fmt.Printf("%-11s %s\n", f[0]+":", f[1])
	}
	fmt.Printf("\n%s\n", job.Prompt)
	if job.Result != "" {
		fmt.Printf("\n--- result ---\n%s\n", job.Result)
	}
}

func runJobsPatch(cmd *cobra.Command, args []string) error {
	var patch async.JobPatch
	flags := cmd.Flags()
	if flags.Changed("priority") {
		patch.Priority = &patchPriority
	}
	if flags.Changed("type") {
		jt := async.JobType(patchType)
		patch.JobType = &jt
	}
	if flags.Changed("agent") {
		patch.AgentID = &patchAgent
	}
	if flags.Changed("title") {
		patch.Title = &patchTitle
	}
	if flags.Changed("status") {
		st := async.JobStatus(patchStatus)
		patch.Status = &st
	}

	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		job, err := async.NewQueue(database).Patch(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Patched %s (%s, priority %d)\n", job.ID, job.Status, job.Priority)
		return nil
	})
}

func runJobsRequeue(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		queue := async.NewQueue(database)
		won, err := queue.Requeue(cmd.Context(), args[0], async.RequeueOptions{ResetRetries: true})
		if err != nil {
			return err
		}
		if !won {
			job, err := queue.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return errors.NewConflictError("job %s is %s and cannot be requeued", job.ID, job.Status)
		}
		pterm.Success.Printf("Requeued %s\n", args[0])
		return nil
	})
}

func runJobsStats(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		stats, err := async.NewQueue(database).Stats(cmd.Context())
		if err != nil {
			return err
		}
		statuses := make([]string, 0, len(stats.ByStatus))
		for st := range stats.ByStatus {
			statuses = append(statuses, string(st))
		}
		sort.Strings(statuses)

		data := pterm.TableData{{"Status", "Jobs"}}
		for _, st := range statuses {
			data = append(data, []string{st, strconv.Itoa(stats.ByStatus[async.JobStatus(st)])})
		}
		data = append(data, []string{"total", strconv.Itoa(stats.Total)})
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}

func runJobsRoute(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		ctx := cmd.Context()
		route, err := agent.NewRouter(database).Route(ctx, args[0])
		if err != nil {
			return err
		}
		if route == nil {
			pterm.Warning.Println("No eligible agent for this job")
			return nil
		}
		pterm.Info.Printf("%s %s (%s)\n", sym.Agent, route.AgentName, route.Reason)
		if !routeAssign {
			return nil
		}
		job, err := async.NewQueue(database).Assign(ctx, args[0], route.AgentID)
		if err != nil {
			return err
		}
		pterm.Success.Printf("Assigned %s to %s\n", job.ID, route.AgentName)
		return nil
	})
}

func runJobsReview(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		policy := agent.ScoreConfig{
			PassThreshold: cfg.Review.PassThreshold,
			RollingWindow: cfg.Review.RollingWindow,
		}
		result, err := agent.NewScorer(database).Score(cmd.Context(), args[0], reviewReviewer, reviewDims, reviewFeedback, policy)
		if err != nil {
			return err
		}
		if result.Passed {
			pterm.Success.Printf("Passed with %d/50, job is %s\n", result.Total, result.Status)
		} else {
			pterm.Warning.Printf("Rejected with %d/50 (needs %d), job is %s\n", result.Total, policy.PassThreshold, result.Status)
		}
		return nil
	})
}

func runJobsReviews(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		reviews, err := agent.NewReviewStore(database).ListForJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(reviews) == 0 {
			pterm.Info.Println("No reviews")
			return nil
		}
		data := pterm.TableData{{"Reviewer", "Total", "Passed", "C", "A", "Act", "R", "E", "Feedback"}}
		for _, r := range reviews {
			data = append(data, []string{
				r.ReviewerID,
				strconv.Itoa(r.Total),
				strconv.FormatBool(r.Passed),
				strconv.Itoa(r.Completeness),
				strconv.Itoa(r.Accuracy),
				strconv.Itoa(r.Actionability),
				strconv.Itoa(r.Relevance),
				strconv.Itoa(r.Evidence),
				truncate(r.Feedback, 40),
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	return withDatabase(func(cfg *am.Config, database *sql.DB) error {
		rt, err := newRuntime(cfg, database)
		if err != nil {
			return err
		}

		var result *async.RunResult
		if len(args) == 1 {
			result, err = rt.runner.RunJob(cmd.Context(), args[0])
		} else {
			result, err = rt.runner.RunOnce(cmd.Context())
		}
		if err != nil {
			return err
		}
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(cmd.OutOrStdout(), result)
		}
		if !result.Claimed {
			pterm.Info.Println("Nothing to claim")
			return nil
		}
		msg := fmt.Sprintf("%s %s finished %s", sym.Pulse, result.Job.ID, result.Job.Status)
		if result.Job.Status == async.JobStatusDone {
			pterm.Success.Println(msg)
		} else {
			pterm.Warning.Println(msg)
		}
		return nil
	})
}
