package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/conceptmapper/mapcore/internal/curriculum"
	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
	"github.com/conceptmapper/mapcore/internal/loader"
	"github.com/conceptmapper/mapcore/internal/recommend"
	"github.com/conceptmapper/mapcore/internal/sampler"
	"github.com/conceptmapper/mapcore/internal/state"
)

var (
	replayDataDir   string
	replayDomainID  string
	replayResponses string
	replayStateDir  string
	replayModeFlag  string
	replayConfig    string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a response log through the estimator, sampler, and recommender",
	Run:   runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayDataDir, "data", "data", "Base directory holding domains/ and videos/")
	replayCmd.Flags().StringVar(&replayDomainID, "domain", "all", "Domain ID to replay against")
	replayCmd.Flags().StringVar(&replayResponses, "responses", "data/sample_responses.json", "Path to a JSON array of responses to replay")
	replayCmd.Flags().StringVar(&replayStateDir, "state-dir", ".mapper-state", "Directory for persisted atoms (responses, schema, watched videos)")
	replayCmd.Flags().StringVar(&replayModeFlag, "mode", "auto", "Question mode: auto, easy, hardest-can-answer, dont-know")
	replayCmd.Flags().StringVar(&replayConfig, "config", "", "Optional YAML run-config overriding the flags above")
}

func runReplay(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if replayConfig != "" {
		cfg, err := LoadRunConfig(replayConfig)
		if err != nil {
			logrus.Fatalf("loading run config: %v", err)
		}
		applyString(&replayDataDir, cfg.DataDir)
		applyString(&replayDomainID, cfg.Domain)
		applyString(&replayResponses, cfg.Responses)
		applyString(&replayStateDir, cfg.StateDir)
		applyString(&replayModeFlag, cfg.Mode)
	}

	jsonLoader := loader.NewJSONLoader(replayDataDir)
	bundle, err := jsonLoader.Load(ctx, replayDomainID, loader.Callbacks{})
	if err != nil {
		logrus.Fatalf("loading domain bundle %q: %v", replayDomainID, err)
	}

	responses, err := readResponses(replayResponses)
	if err != nil {
		logrus.Fatalf("reading responses %q: %v", replayResponses, err)
	}

	kv, err := state.NewFileStore(replayStateDir)
	if err != nil {
		logrus.Fatalf("opening state directory %q: %v", replayStateDir, err)
	}

	rec := recommend.New()
	store := state.New(kv, rec)
	if incompatible := store.Init(); incompatible {
		logrus.Warn("persisted schema was incompatible; progress could not be restored")
	}
	store.SetActiveDomain(bundle.Domain.ID)
	store.SetQuestionMode(sampler.Mode(replayModeFlag))

	est := estimator.New(bundle.Domain.GridSize, bundle.Domain.Region)
	questionDifficulty := make(map[string]int, len(bundle.Questions))
	questionByID := make(map[string]domainmap.Question, len(bundle.Questions))
	for _, q := range bundle.Questions {
		questionDifficulty[q.ID] = q.Difficulty
		questionByID[q.ID] = q
	}

	for _, r := range responses {
		if err := store.AddResponse(r); err != nil {
			logrus.Warnf("persisting response %q: %v", r.QuestionID, err)
		}
		difficulty := questionDifficulty[r.QuestionID]
		if r.Skipped {
			est.ObserveSkip(r.X, r.Y, nil, &difficulty)
			rec.ObserveSkip(r.X, r.Y, nil, &difficulty)
			continue
		}
		est.Observe(r.X, r.Y, r.IsCorrect, nil, &difficulty)
		rec.Observe(r.X, r.Y, r.IsCorrect, nil, &difficulty)
	}

	estimates := est.Predict(nil)
	store.SetEstimates(estimates)

	coverage := store.Coverage()
	answered := store.AnsweredIDs()
	phase := sampler.ComputePhase(len(answered), coverage)
	curriculumWeight := curriculum.GetWeight(len(answered), coverage)

	fmt.Printf("domain=%s answered=%d coverage=%.4f phase=%s curriculumWeight=%.4f insightsAvailable=%v\n",
		bundle.Domain.ID, len(answered), coverage, phase, curriculumWeight, store.InsightsAvailable())

	var unanswered []domainmap.Question
	for _, q := range bundle.Questions {
		if !answered[q.ID] {
			unanswered = append(unanswered, q)
		}
	}
	candidates := sampler.BuildCandidates(est, unanswered)
	viewport := bundle.Domain.Region
	sel := sampler.SelectMode(store.QuestionMode(), candidates, len(answered), coverage, &viewport)
	if sel == nil {
		fmt.Println("next question: none (every question answered)")
	} else {
		fmt.Printf("next question: %s (score=%.4f, cell=(%d,%d))\n", sel.QuestionID, sel.Score, sel.GX, sel.GY)
	}

	videos, err := jsonLoader.GetVideos(ctx)
	if err != nil {
		logrus.Warnf("loading video catalog: %v", err)
	} else {
		ranked := rec.Rank(videos)
		fmt.Println("top video recommendations:")
		for i, r := range ranked {
			if i >= 3 {
				break
			}
			fmt.Printf("  %d. %s (score=%.4f, watched=%v)\n", i+1, r.VideoID, r.Score, store.IsWatched(r.VideoID))
		}
	}

	blob, err := store.Export()
	if err != nil {
		logrus.Warnf("exporting state: %v", err)
		return
	}
	logrus.Debugf("export blob: %s", string(blob))
}

func readResponses(path string) ([]domainmap.Response, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var responses []domainmap.Response
	if err := json.Unmarshal(b, &responses); err != nil {
		return nil, fmt.Errorf("decoding responses: %w", err)
	}
	return responses, nil
}
