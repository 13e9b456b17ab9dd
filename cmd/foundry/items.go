package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/foundry/internal/manufacturing"
	"github.com/steveyegge/foundry/internal/types"
)

var createCmd = &cobra.Command{
	Use:     "create <title>",
	GroupID: "items",
	Short:   "Create a manufacturing work item in the workflow's first phase",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		org, _ := cmd.Flags().GetString("org")
		project, _ := cmd.Flags().GetString("project")
		description, _ := cmd.Flags().GetString("description")
		witType, _ := cmd.Flags().GetString("type")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		generator, _ := cmd.Flags().GetString("generator")

		key := a.projectKey(org, project)
		item, err := a.orch.CreateWorkItem(rootCtx, manufacturing.CreateRequest{
			Organization: key.Organization,
			Project:      key.Project,
			Title:        args[0],
			Description:  description,
			WorkItemType: witType,
			Tags:         tags,
			Metadata:     types.Metadata{AIGenerator: generator},
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(item)
			return nil
		}
		fmt.Printf("Created %s (remote #%s) in phase %s\n", item.ID, item.ExternalID, item.CurrentPhase)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status <id>",
	GroupID: "items",
	Short:   "Show a work item's phase, history and next phases",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		st, err := a.orch.GetStatus(rootCtx, args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(st)
			return nil
		}
		item := st.WorkItem
		fmt.Printf("%s  %s\n", item.ID, item.Title)
		fmt.Printf("  remote:   #%s (%s/%s)\n", item.ExternalID, item.Organization, item.Project)
		fmt.Printf("  phase:    %s\n", item.CurrentPhase)
		fmt.Printf("  progress: %d%%\n", item.Metadata.ProgressPercentage)
		if len(st.NextPhases) > 0 {
			fmt.Printf("  next:     %s\n", joinPhases(st.NextPhases))
		}
		if st.ConfigError != "" {
			fmt.Printf("  config:   %s\n", st.ConfigError)
		}
		if st.Reconciled {
			fmt.Println("  (an interrupted transition was reconciled)")
		}
		if len(item.History) > 0 {
			fmt.Println("  history:")
			for _, rec := range item.History {
				fmt.Printf("    %3d  %s  %s -> %s  [%s, %s]\n",
					rec.Seq, rec.Timestamp.Format("2006-01-02 15:04"), rec.FromPhase, rec.ToPhase, rec.Kind, rec.Outcome)
			}
		}
		if len(item.Metadata.Artifacts) > 0 {
			fmt.Println("  artifacts:")
			for _, art := range item.Metadata.Artifacts {
				fmt.Printf("    %-12s %s\n", art.Kind, art.URL)
			}
		}
		return nil
	},
}

var transitionCmd = &cobra.Command{
	Use:     "transition <id> <phase>",
	GroupID: "items",
	Short:   "Move a work item to another phase",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		res, err := a.orch.Transition(rootCtx, args[0], args[1])
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

var rollbackCmd = &cobra.Command{
	Use:     "rollback <id>",
	GroupID: "items",
	Short:   "Revert a work item's most recent transition",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		res, err := a.orch.Rollback(rootCtx, args[0])
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

var progressCmd = &cobra.Command{
	Use:     "progress <id>",
	GroupID: "items",
	Short:   "Record manufacturing progress and optionally transition",
	Long: `Record manufacturing progress on a work item. Metrics are stored before
any transition is attempted, so they take part in the gate evaluation.

Examples:
  foundry progress wi-1 --percent 60 --confidence 0.82 --require code_generated
  foundry progress wi-1 --metric code_coverage=84 --to testing`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		target, _ := cmd.Flags().GetString("to")
		metrics, _ := cmd.Flags().GetStringToString("metric")
		requires, _ := cmd.Flags().GetStringSlice("require")
		notes, _ := cmd.Flags().GetString("notes")
		generator, _ := cmd.Flags().GetString("generator")

		p := manufacturing.Progress{
			AIGenerator:  generator,
			Notes:        notes,
			Requirements: make(map[string]bool, len(requires)),
		}
		if cmd.Flags().Changed("percent") {
			v, _ := cmd.Flags().GetInt("percent")
			p.Percentage = &v
		}
		if cmd.Flags().Changed("confidence") {
			v, _ := cmd.Flags().GetFloat64("confidence")
			p.ConfidenceScore = &v
		}
		for _, r := range requires {
			name, done := strings.CutPrefix(r, "!")
			p.Requirements[name] = !done
		}
		if len(metrics) > 0 {
			p.QualityMetrics = make(map[string]float64, len(metrics))
			for k, raw := range metrics {
				v, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return fmt.Errorf("metric %s: %q is not a number", k, raw)
				}
				p.QualityMetrics[k] = v
			}
		}

		res, err := a.orch.UpdateProgress(rootCtx, args[0], target, p)
		if err != nil {
			return err
		}
		return printResult(res)
	},
}

var bulkCmd = &cobra.Command{
	Use:     "bulk <phase> <id>...",
	GroupID: "items",
	Short:   "Move several work items to the same phase in parallel",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		items := make([]manufacturing.BulkItem, 0, len(args)-1)
		for _, id := range args[1:] {
			items = append(items, manufacturing.BulkItem{ID: id, Target: args[0]})
		}
		results, err := a.orch.TransitionMany(rootCtx, items)

		type row struct {
			ID      string                `json:"id"`
			Outcome manufacturing.Outcome `json:"outcome,omitempty"`
			Phase   types.Phase           `json:"phase,omitempty"`
			Error   string                `json:"error,omitempty"`
		}
		rows := make([]row, len(results))
		for i, r := range results {
			rows[i].ID = r.ID
			if r.Err != nil {
				rows[i].Error = r.Err.Error()
				continue
			}
			rows[i].Outcome = r.Result.Outcome
			rows[i].Phase = r.Result.WorkItem.CurrentPhase
		}
		if jsonOutput {
			outputJSON(rows)
		} else {
			for _, r := range rows {
				if r.Error != "" {
					fmt.Printf("%-40s error: %s\n", r.ID, r.Error)
					continue
				}
				fmt.Printf("%-40s %-15s %s\n", r.ID, r.Outcome, r.Phase)
			}
		}
		return err
	},
}

var attachCmd = &cobra.Command{
	Use:     "attach <id> <kind> <url>",
	GroupID: "items",
	Short:   "Attach a commit, pull request, build or deployment to a work item",
	Long: `Attach a development artifact to a work item. Commits need --hash and
take the repository URL; pull requests take the pull request URL.

Examples:
  foundry attach wi-1 commit https://github.com/contoso/parser --hash 3f2a9c1
  foundry attach wi-1 pull_request https://github.com/contoso/parser/pull/12
  foundry attach wi-1 build https://dev.azure.com/contoso/mfg/_build/results?buildId=9`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		hash, _ := cmd.Flags().GetString("hash")
		title, _ := cmd.Flags().GetString("title")
		link, err := a.orch.AttachArtifact(rootCtx, args[0], manufacturing.ArtifactRequest{
			Kind:  args[1],
			URL:   args[2],
			Hash:  hash,
			Title: title,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(link)
			return nil
		}
		fmt.Printf("Attached %s %s to %s\n", link.Kind, link.URL, args[0])
		return nil
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "items",
	Short:   "Summarize a project's work items by phase",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp(rootCtx)
		if err != nil {
			return err
		}
		org, _ := cmd.Flags().GetString("org")
		project, _ := cmd.Flags().GetString("project")
		d, err := a.orch.Dashboard(rootCtx, a.projectKey(org, project))
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(d)
			return nil
		}
		fmt.Printf("%s/%s: %d items (%d active, %d completed), average progress %.0f%%\n",
			d.Organization, d.Project, d.Total, d.Active, d.Completed, d.AverageProgress)
		for _, pc := range d.ByPhase {
			fmt.Printf("  %-16s %d\n", pc.Phase, pc.Count)
		}
		fmt.Printf("  transitions: %d, rollbacks: %d\n", d.Transitions, d.Rollbacks)
		return nil
	},
}

// printResult renders a Result. Refused transitions exit non-zero so
// scripts can branch on them.
func printResult(res *manufacturing.Result) error {
	if jsonOutput {
		outputJSON(res)
	} else {
		switch res.Outcome {
		case manufacturing.OutcomeTransitioned:
			fmt.Printf("%s: %s -> %s (state %s, %d attempt(s))\n",
				res.WorkItem.ID, res.Record.FromPhase, res.Record.ToPhase, res.Record.State, res.Record.Attempts)
		case manufacturing.OutcomeNoOp:
			fmt.Printf("%s: already in %s\n", res.WorkItem.ID, res.WorkItem.CurrentPhase)
		case manufacturing.OutcomeUpdated:
			fmt.Printf("%s: progress recorded (%d%%)\n", res.WorkItem.ID, res.WorkItem.Metadata.ProgressPercentage)
		default:
			fmt.Printf("%s: %s: %s\n", res.WorkItem.ID, res.Outcome, res.Reason)
			for _, g := range res.GateResults {
				mark := "ok"
				if g.Status != types.GatePass {
					mark = string(g.Status)
				}
				opt := ""
				if !g.Mandatory {
					opt = " (optional)"
				}
				fmt.Printf("  %-32s %s%s\n", g.GateID, mark, opt)
			}
		}
	}
	if !res.OK() {
		exit(2)
	}
	return nil
}

func joinPhases(ps []types.Phase) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func init() {
	for _, c := range []*cobra.Command{createCmd, dashboardCmd} {
		c.Flags().String("org", "", "Organization (default: tracker.organization)")
		c.Flags().String("project", "", "Project (default: tracker.project)")
	}
	createCmd.Flags().StringP("description", "d", "", "Work item description")
	createCmd.Flags().String("type", "", "Remote work item type (default: the workflow's type)")
	createCmd.Flags().StringSlice("tag", nil, "Tag to apply (repeatable)")
	createCmd.Flags().String("generator", "", "AI generator producing the work")

	progressCmd.Flags().Int("percent", 0, "Progress percentage (0-100)")
	progressCmd.Flags().Float64("confidence", 0, "Generator confidence score (0-1)")
	progressCmd.Flags().StringToString("metric", nil, "Quality metric name=value (repeatable)")
	progressCmd.Flags().StringSlice("require", nil, "Mark a requirement met; prefix with ! to mark it unmet")
	progressCmd.Flags().String("notes", "", "Free-form notes")
	progressCmd.Flags().String("generator", "", "AI generator producing the work")
	progressCmd.Flags().String("to", "", "Phase to transition to after recording progress")

	attachCmd.Flags().String("hash", "", "Commit hash (commit artifacts)")
	attachCmd.Flags().String("title", "", "Override the artifact title")

	rootCmd.AddCommand(createCmd, statusCmd, transitionCmd, rollbackCmd, progressCmd, bulkCmd, attachCmd, dashboardCmd)
}
