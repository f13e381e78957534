package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/scoring"
	"github.com/spigell/grant-matcher/internal/triage"
	"github.com/spigell/grant-matcher/internal/utils"
)

const PromptBack = "back"

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Work the review backlog of ABSTAIN and failed results",
}

var triageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and in-review items, highest priority first",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withQueue(cmd, func(ctx context.Context, q *triage.Queue, log *zap.Logger) error {
			f, err := listFilter(cmd)
			if err != nil {
				return err
			}
			items, err := q.ListPending(ctx, f)
			if err != nil {
				return err
			}
			log.Info("pending triage items", zap.Int("count", len(items)))
			return renderItems(cmd.OutOrStdout(), items)
		})
	},
}

var triageClaimCmd = &cobra.Command{
	Use:   "claim ID",
	Short: "Take a pending item into review",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withQueue(cmd, func(ctx context.Context, q *triage.Queue, log *zap.Logger) error {
			reviewer, _ := cmd.Flags().GetString("reviewer")
			_, err := q.Claim(ctx, args[0], reviewer)
			return err
		})
	},
}

var triageResolveCmd = &cobra.Command{
	Use:   "resolve [ID]",
	Short: "Record the expert decision for an item; prompts for anything not given as flags",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withQueue(cmd, func(ctx context.Context, q *triage.Queue, log *zap.Logger) error {
			return resolve(ctx, cmd, q, args)
		})
	},
}

var triageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count items by status and priority",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		withQueue(cmd, func(ctx context.Context, q *triage.Queue, _ *zap.Logger) error {
			stats, err := q.Stats(ctx)
			if err != nil {
				return err
			}
			return renderStats(cmd.OutOrStdout(), stats)
		})
	},
}

func init() {
	rootCmd.AddCommand(triageCmd)
	triageCmd.AddCommand(triageListCmd, triageClaimCmd, triageResolveCmd, triageStatsCmd)

	triageListCmd.Flags().StringP("priority", "p", "", "only items of this priority (high, medium, low)")
	triageListCmd.Flags().String("status", "", "only items in this status (PENDING, IN_REVIEW)")
	triageListCmd.Flags().String("seeker", "", "only items for this seeker id")
	triageListCmd.Flags().IntP("limit", "n", 0, "maximum number of items")

	triageClaimCmd.Flags().StringP("reviewer", "r", "", "reviewer name")
	triageClaimCmd.MarkFlagRequired("reviewer")

	triageResolveCmd.Flags().StringP("reviewer", "r", "", "reviewer name")
	triageResolveCmd.Flags().String("decision", "", "PASS or FAIL")
	triageResolveCmd.Flags().String("justification", "", "why the decision was made")
}

// withQueue opens the configured triage store, runs fn and exits on error.
func withQueue(cmd *cobra.Command, fn func(ctx context.Context, q *triage.Queue, log *zap.Logger) error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, config := setup()
	queue, err := openQueue(ctx, config, log)
	if err != nil {
		log.Fatal("opening triage queue", zap.Error(err), zap.String("db", config.Triage.DBPath))
	}
	defer queue.Close()

	if err := fn(ctx, queue, log); err != nil {
		if errors.Is(err, errExit) {
			return
		}
		queue.Close()
		log.Fatal("triage "+cmd.Name(), zap.Error(err))
	}
}

func listFilter(cmd *cobra.Command) (triage.Filter, error) {
	flags := cmd.Flags()
	priority, _ := flags.GetString("priority")
	status, _ := flags.GetString("status")
	seeker, _ := flags.GetString("seeker")
	limit, _ := flags.GetInt("limit")

	f := triage.Filter{
		Priority: triage.Priority(strings.ToLower(strings.TrimSpace(priority))),
		Status:   triage.Status(strings.ToUpper(strings.TrimSpace(status))),
		SeekerID: strings.TrimSpace(seeker),
		Limit:    limit,
	}
	switch f.Priority {
	case "", triage.PriorityHigh, triage.PriorityMedium, triage.PriorityLow:
		return f, nil
	default:
		return f, fmt.Errorf("%w: priority %q", triage.ErrInvalidFilter, priority)
	}
}

func resolve(ctx context.Context, cmd *cobra.Command, q *triage.Queue, args []string) error {
	flags := cmd.Flags()
	reviewer, _ := flags.GetString("reviewer")
	decision, _ := flags.GetString("decision")
	justification, _ := flags.GetString("justification")

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		selected, err := selectItem(ctx, q)
		if err != nil {
			return err
		}
		id = selected
	}

	var err error
	if strings.TrimSpace(decision) == "" {
		if decision, err = selectDecision(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(reviewer) == "" {
		if reviewer, err = promptText("Reviewer"); err != nil {
			return err
		}
	}
	if strings.TrimSpace(justification) == "" {
		if justification, err = promptText("Justification"); err != nil {
			return err
		}
	}

	_, err = q.Resolve(ctx, id, triage.ExpertDecision{
		Decision:      scoring.Decision(strings.ToUpper(strings.TrimSpace(decision))),
		Reviewer:      reviewer,
		Justification: justification,
	})
	return err
}

func selectItem(ctx context.Context, q *triage.Queue) (string, error) {
	items, err := q.ListPending(ctx, triage.Filter{})
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", errors.New("no pending triage items")
	}

	labels := make([]string, 0, len(items)+1)
	for _, it := range items {
		labels = append(labels, fmt.Sprintf("%s %s / %s / %.2f / %s",
			it.ID, it.Priority, it.Result.CandidateName, it.Result.Score, it.Status))
	}

	itemPrompt := promptui.Select{
		Label: "Choose an item and press ENTER",
		Items: append(labels, PromptBack),
	}
	_, selected, err := itemPrompt.Run()
	if err != nil {
		return "", err
	}
	if selected == PromptBack {
		return "", errExit
	}
	return strings.Split(selected, " ")[0], nil
}

func selectDecision() (string, error) {
	decisionPrompt := promptui.Select{
		Label: "Expert decision",
		Items: []string{string(scoring.DecisionPass), string(scoring.DecisionFail), PromptBack},
	}
	_, selected, err := decisionPrompt.Run()
	if err != nil {
		return "", err
	}
	if selected == PromptBack {
		return "", errExit
	}
	return selected, nil
}

func promptText(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s must not be empty", strings.ToLower(label))
			}
			return nil
		},
	}
	return p.Run()
}

func renderItems(w io.Writer, items []*triage.Item) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Priority", "Status", "Seeker", "Candidate", "Score", "Reviewer", "Enqueued", "Reason")
	for _, it := range items {
		r := it.Result
		scoreCell := strconv.FormatFloat(r.Score, 'f', 2, 64)
		if r.Failed() {
			scoreCell = "failed"
		}
		if err := table.Append(
			it.ID,
			string(it.Priority),
			string(it.Status),
			r.SeekerID,
			r.CandidateEIN+" "+r.CandidateName,
			scoreCell,
			it.ReviewerClaim,
			it.EnqueuedAt.Format(time.DateTime),
			utils.TruncateForLog(r.Reason, reasonColumn),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderStats(w io.Writer, stats triage.Stats) error {
	table := tablewriter.NewWriter(w)
	table.Header("Group", "Value", "Count")
	rows := [][]string{
		{"status", string(triage.StatusPending), strconv.Itoa(stats.ByStatus[triage.StatusPending])},
		{"status", string(triage.StatusInReview), strconv.Itoa(stats.ByStatus[triage.StatusInReview])},
		{"status", string(triage.StatusResolved), strconv.Itoa(stats.ByStatus[triage.StatusResolved])},
		{"priority", string(triage.PriorityHigh), strconv.Itoa(stats.ByPriority[triage.PriorityHigh])},
		{"priority", string(triage.PriorityMedium), strconv.Itoa(stats.ByPriority[triage.PriorityMedium])},
		{"priority", string(triage.PriorityLow), strconv.Itoa(stats.ByPriority[triage.PriorityLow])},
		{"total", "", strconv.Itoa(stats.Total)},
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
