package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/grant-matcher/internal/ai"
	"github.com/spigell/grant-matcher/internal/ai/gemini"
	"github.com/spigell/grant-matcher/internal/foundation"
	"github.com/spigell/grant-matcher/internal/scoring"
	"github.com/spigell/grant-matcher/internal/secrets"
	"github.com/spigell/grant-matcher/internal/triage"
	"github.com/spigell/grant-matcher/internal/utils"
)

const (
	PromptYes          = "Yes"
	PromptNo           = "No"
	PromptDumpToFile   = "Dump results to file"
	PromptShowAbstains = "Show results needing review"

	asOfLayout   = "2006-01-02"
	reasonColumn = 60
)

var errExit = errors.New("exit requested")

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score candidate foundations against a seeker profile",
	Run: func(cmd *cobra.Command, _ []string) {
		score(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)

	scoreCmd.Flags().StringP("seeker", "s", "", "JSON file with the seeker profile")
	scoreCmd.Flags().StringP("candidates", "c", "", "JSON file with an array of candidate foundations")
	scoreCmd.Flags().IntP("workers", "w", 0, "concurrent evaluations (default GOMAXPROCS)")
	scoreCmd.Flags().String("as-of", "", "reference date for filing recency, YYYY-MM-DD (default today)")
	scoreCmd.Flags().StringP("output", "o", "", "file to write results to (default a temporary file)")
	scoreCmd.Flags().BoolP("auto-approve", "y", false, "enqueue results needing review without asking")

	scoreCmd.MarkFlagRequired("seeker")
	scoreCmd.MarkFlagRequired("candidates")
}

func score(cmd *cobra.Command) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, config := setup()
	log.Info("starting the grant-matcher", zap.String("version", version))

	flags := cmd.Flags()
	seekerPath, _ := flags.GetString("seeker")
	candidatesPath, _ := flags.GetString("candidates")
	workers, _ := flags.GetInt("workers")
	asOfRaw, _ := flags.GetString("as-of")
	output, _ := flags.GetString("output")
	autoApprove, _ := flags.GetBool("auto-approve")

	asOf, err := parseAsOf(asOfRaw)
	if err != nil {
		log.Fatal("parsing --as-of", zap.Error(err))
	}

	seeker, err := foundation.LoadSeekerFromFile(seekerPath)
	if err != nil {
		log.Fatal("loading seeker profile", zap.Error(err))
	}
	candidates, err := foundation.LoadCandidatesFromFile(candidatesPath)
	if err != nil {
		log.Fatal("loading candidate foundations", zap.Error(err))
	}
	log.Info("loaded candidates", zap.String("seeker", seeker.Name), zap.Int("count", len(candidates)))

	if len(candidates) == 0 {
		log.Info("exiting", zap.String("reason", "no candidates to score"))
		return
	}

	scorer, err := scoring.New(config.Scoring, log)
	if err != nil {
		log.Fatal("building scorer", zap.Error(err))
	}

	// do not bother error since the config was already decoded
	pretty, _ := json.MarshalIndent(scorer.Config(), "", "  ")
	log.Debug(fmt.Sprintf("scoring with config: \n %s", pretty))
	log.Debug("safeguards", zap.Any("steps", scorer.Safeguards()))

	opts := scoring.BatchOptions{Workers: workers, AsOf: asOf}
	if config.AI.Enabled {
		component, err := newScreeningComponent(ctx, config.AI, log)
		if err != nil {
			log.Fatal("building AI screening", zap.Error(err))
		}
		opts.External = component.Evaluate
	}

	results, err := scorer.ScoreBatch(ctx, seeker, candidates, opts)
	if err != nil {
		log.Fatal("scoring candidates", zap.Error(err))
	}

	filename, err := foundation.DumpToFile(output, results)
	if err != nil {
		log.Fatal("writing results", zap.Error(err))
	}
	log.Info("results written", zap.String("filename", filename))

	if err := renderResults(cmd.OutOrStdout(), results); err != nil {
		log.Fatal("rendering results", zap.Error(err))
	}

	var review []*scoring.CompositeResult
	for _, r := range results {
		if r.NeedsReview() {
			review = append(review, r)
		}
	}
	if len(review) == 0 {
		log.Info("exiting", zap.String("reason", "no results need review"))
		return
	}

	action := PromptYes
	for {
		if !autoApprove {
			prompt := promptui.Select{
				Label: fmt.Sprintf("Send %d results to the triage queue?", len(review)),
				Items: []string{PromptYes, PromptNo, PromptShowAbstains, PromptDumpToFile},
			}
			_, action, err = prompt.Run()
			if err != nil {
				log.Fatal("exiting", zap.Error(err))
			}
		}

		if err := handleAction(ctx, cmd.OutOrStdout(), action, log, config, review); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			log.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, w io.Writer, action string, log *zap.Logger, config *Config, review []*scoring.CompositeResult) error {
	switch action {
	case PromptYes:
		if err := enqueue(ctx, log, config, review); err != nil {
			return err
		}
		return errExit
	case PromptNo:
		log.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptShowAbstains:
		return renderResults(w, review)
	case PromptDumpToFile:
		filename, err := foundation.DumpToFile("", review)
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		log.Info("dumping results needing review to file", zap.String("filename", filename))
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

func enqueue(ctx context.Context, log *zap.Logger, config *Config, review []*scoring.CompositeResult) error {
	queue, err := openQueue(ctx, config, log)
	if err != nil {
		return err
	}
	defer queue.Close()

	for _, r := range review {
		if _, err := queue.Enqueue(ctx, r); err != nil {
			return err
		}
	}
	log.Info("enqueued results for review", zap.Int("count", len(review)), zap.String("db", config.Triage.DBPath))
	return nil
}

func openQueue(ctx context.Context, config *Config, log *zap.Logger) (*triage.Queue, error) {
	store, err := triage.OpenSQLite(ctx, config.Triage.DBPath)
	if err != nil {
		return nil, err
	}
	return triage.New(store, triage.WithLogger(log)), nil
}

func newScreeningComponent(ctx context.Context, cfg AIConfig, log *zap.Logger) (*ai.ScreeningComponent, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   cfg.Gemini.APIKeyEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file or %s)", err, cfg.Gemini.APIKeyEnv)
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries,
		log.With(zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries)))
	if err != nil {
		return nil, err
	}

	minScore := max(cfg.MinimumScore, 0)
	screener := gemini.NewScreener(generator, log.With(zap.Float64("minimum_score", minScore)), minScore, cfg.Gemini.MaxLogLength)

	return ai.NewScreeningComponent(screener, cfg.FallbackOnError, log), nil
}

func parseAsOf(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(asOfLayout, raw)
}

func renderResults(w io.Writer, results []*scoring.CompositeResult) error {
	table := tablewriter.NewWriter(w)
	table.Header("EIN", "Candidate", "Score", "Decision", "Safeguards", "Reason")
	for _, r := range results {
		scoreCell := fmt.Sprintf("%.2f", r.Score)
		if r.Failed() {
			scoreCell = "-"
		}
		if err := table.Append(
			r.CandidateEIN,
			r.CandidateName,
			scoreCell,
			string(r.Decision),
			strings.Join(r.TriggeredSafeguards(), ", "),
			utils.TruncateForLog(r.Reason, reasonColumn),
		); err != nil {
			return err
		}
	}
	return table.Render()
}
