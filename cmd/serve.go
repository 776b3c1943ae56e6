package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
	"github.com/conceptmapper/mapcore/internal/loader"
	"github.com/conceptmapper/mapcore/internal/recommend"
	"github.com/conceptmapper/mapcore/internal/renderer"
	"github.com/conceptmapper/mapcore/internal/sampler"
	"github.com/conceptmapper/mapcore/internal/state"
)

var (
	serveDataDir  string
	serveDomainID string
	serveAddr     string
	serveStateDir string
	serveConfig   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the estimator/sampler/recommender over HTTP and websocket push",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveDataDir, "data", "data", "Base directory holding domains/ and videos/")
	serveCmd.Flags().StringVar(&serveDomainID, "domain", "all", "Domain ID to serve")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveStateDir, "state-dir", ".mapper-state", "Directory for persisted atoms")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Optional YAML run-config overriding the flags above")
}

// engine bundles the per-process singletons a serving session mutates,
// with mu guarding cross-goroutine access from the HTTP handlers.
type engine struct {
	mu sync.Mutex

	bundle             domainmap.DomainBundle
	questionDifficulty map[string]int
	questionByID       map[string]domainmap.Question

	est   *estimator.Estimator
	rec   *recommend.Recommender
	store *state.Store
	rndr  *renderer.WebSocketRenderer

	videos []domainmap.Video
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func runServe(cmd *cobra.Command, args []string) {
	ctx := context.Background()

	if serveConfig != "" {
		cfg, err := LoadRunConfig(serveConfig)
		if err != nil {
			logrus.Fatalf("loading run config: %v", err)
		}
		applyString(&serveDataDir, cfg.DataDir)
		applyString(&serveDomainID, cfg.Domain)
		applyString(&serveStateDir, cfg.StateDir)
		applyString(&serveAddr, cfg.Addr)
	}

	jsonLoader := loader.NewJSONLoader(serveDataDir)
	bundle, err := jsonLoader.Load(ctx, serveDomainID, loader.Callbacks{})
	if err != nil {
		logrus.Fatalf("loading domain bundle %q: %v", serveDomainID, err)
	}
	videos, err := jsonLoader.GetVideos(ctx)
	if err != nil {
		logrus.Warnf("loading video catalog: %v", err)
	}

	kv, err := state.NewFileStore(serveStateDir)
	if err != nil {
		logrus.Fatalf("opening state directory %q: %v", serveStateDir, err)
	}
	rec := recommend.New()
	store := state.New(kv, rec)
	if incompatible := store.Init(); incompatible {
		logrus.Warn("persisted schema was incompatible; progress could not be restored")
	}
	store.SetActiveDomain(bundle.Domain.ID)

	est := estimator.New(bundle.Domain.GridSize, bundle.Domain.Region)
	questionDifficulty := make(map[string]int, len(bundle.Questions))
	questionByID := make(map[string]domainmap.Question, len(bundle.Questions))
	for _, q := range bundle.Questions {
		questionDifficulty[q.ID] = q.Difficulty
		questionByID[q.ID] = q
	}
	// Replay any previously-persisted responses so a restarted server picks
	// up where it left off; replaying the same ordered responses always
	// rebuilds the same posterior.
	est.Restore(store.Responses(), 0, questionDifficulty)

	e := &engine{
		bundle:             bundle,
		questionDifficulty: questionDifficulty,
		questionByID:       questionByID,
		est:                est,
		rec:                rec,
		store:              store,
		rndr:               renderer.NewWebSocketRenderer(bundle.Domain.Region),
		videos:             videos,
	}

	estimates := est.Predict(nil)
	store.SetEstimates(estimates)
	e.rndr.SetLabels(bundle.Labels)
	e.rndr.SetHeatmap(estimates, bundle.Domain.Region)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", e.handleWS)
	mux.HandleFunc("/answer", e.handleAnswer)
	mux.HandleFunc("/next", e.handleNext)
	mux.HandleFunc("/videos", e.handleVideos)
	mux.HandleFunc("/watch", e.handleWatch)

	logrus.Infof("serving domain %q on %s (ws at /ws)", bundle.Domain.ID, serveAddr)
	if err := http.ListenAndServe(serveAddr, mux); err != nil {
		logrus.Fatalf("serve: %v", err)
	}
}

func (e *engine) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade: %v", err)
		return
	}
	e.rndr.Attach(conn)
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	Selected   string `json:"selected"`
	Skipped    bool   `json:"skipped"`
}

// handleAnswer records one confirmed answer: recompute runs synchronously
// before the response is written, so predictions issued after an
// observation always reflect it.
func (e *engine) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.questionByID[req.QuestionID]
	if !ok {
		http.Error(w, "unknown question_id", http.StatusNotFound)
		return
	}
	isCorrect := !req.Skipped && req.Selected == q.CorrectLabel
	difficulty := q.Difficulty

	resp := domainmap.Response{
		QuestionID: q.ID,
		DomainID:   e.bundle.Domain.ID,
		Selected:   req.Selected,
		Skipped:    req.Skipped,
		IsCorrect:  isCorrect,
		X:          q.X,
		Y:          q.Y,
		Difficulty: difficulty,
	}
	if err := e.store.AddResponse(resp); err != nil {
		logrus.Warnf("persisting response: %v", err)
	}

	if req.Skipped {
		e.est.ObserveSkip(q.X, q.Y, nil, &difficulty)
		e.rec.ObserveSkip(q.X, q.Y, nil, &difficulty)
	} else {
		e.est.Observe(q.X, q.Y, isCorrect, nil, &difficulty)
		e.rec.Observe(q.X, q.Y, isCorrect, nil, &difficulty)
	}
	e.rec.OnAnswer()

	estimates := e.est.Predict(nil)
	e.store.SetEstimates(estimates)
	e.rndr.SetHeatmap(estimates, e.bundle.Domain.Region)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"is_correct": isCorrect,
		"coverage":   e.store.Coverage(),
		"phase":      e.store.Phase(),
	})
}

func (e *engine) handleNext(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	answered := e.store.AnsweredIDs()
	var unanswered []domainmap.Question
	for _, q := range e.bundle.Questions {
		if !answered[q.ID] {
			unanswered = append(unanswered, q)
		}
	}
	candidates := sampler.BuildCandidates(e.est, unanswered)
	viewport := e.rndr.GetViewport()
	sel := sampler.SelectMode(e.store.QuestionMode(), candidates, len(answered), e.store.Coverage(), &viewport)
	e.store.SetNextQuestion(sel)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sel)
}

func (e *engine) handleVideos(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ranked := e.rec.Rank(e.videos)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ranked)
}

type watchRequest struct {
	VideoID string `json:"video_id"`
	Start   bool   `json:"start"`
}

// handleWatch marks the start (TakeSnapshot) or completion (RecordWatch) of
// a video-watching session.
func (e *engine) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if req.Start {
		e.rec.TakeSnapshot()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var video domainmap.Video
	found := false
	for _, v := range e.videos {
		if v.ID == req.VideoID {
			video, found = v, true
			break
		}
	}
	if !found {
		http.Error(w, "unknown video_id", http.StatusNotFound)
		return
	}
	e.rec.RecordWatch(video)
	if err := e.store.MarkWatched(video.ID); err != nil {
		logrus.Warnf("persisting watched video: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
