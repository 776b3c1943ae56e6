// Package state implements the reactive atom store backing the core:
// persisted, session, and computed atoms, the schema gate, export, and
// reset.
package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
	"github.com/conceptmapper/mapcore/internal/recommend"
	"github.com/conceptmapper/mapcore/internal/sampler"
)

// CurrentSchemaVersion is rewritten to mapper:schema on every successful
// Init; a mismatch in the persisted value triggers the schema gate.
const CurrentSchemaVersion = "1"

const (
	keyResponses     = "mapper:responses"
	keySchema        = "mapper:schema"
	keyWatchedVideos = "mapper:watchedVideos"
)

// TransitionState is the minimap/viewport animation state.
type TransitionState string

const (
	TransitionIdle      TransitionState = "idle"
	TransitionAnimating TransitionState = "animating"
)

// Store holds every atom the core exposes. Atoms are plain fields read
// through getters; Store has no subscription or change-notification
// mechanism, so readers poll. Unlike the Estimator/Sampler/Recommender
// (plain synchronous methods matching a single-threaded event-loop model),
// Store guards its fields with a mutex so its methods are safe to call from
// several goroutines.
type Store struct {
	mu sync.RWMutex
	kv KVStore

	// Persisted atoms.
	responses     []domainmap.Response
	schemaVersion string
	watchedVideos map[string]bool

	// Session atoms.
	activeDomain    string
	domainCache     map[string]domainmap.DomainBundle
	estimates       []estimator.CellEstimate
	transitionState TransitionState
	questionMode    sampler.Mode

	// The recommender owns the snapshot/difference/running-transfer atoms;
	// Store holds a reference so computed readers can observe them without
	// duplicating that ownership.
	recommender *recommend.Recommender

	// Computed-atom cache: nextQuestion is recomputed by the owning glue
	// code (the Sampler has no knowledge of Store) and cached here so
	// repeated reads don't re-invoke SelectNext.
	nextQuestion *sampler.Selection
}

// New constructs a Store backed by kv (use NewMemoryStore() for a
// zero-dependency default) and the shared Recommender instance.
func New(kv KVStore, recommender *recommend.Recommender) *Store {
	return &Store{
		kv:            kv,
		watchedVideos: make(map[string]bool),
		domainCache:   make(map[string]domainmap.DomainBundle),
		recommender:   recommender,
		schemaVersion: CurrentSchemaVersion,
	}
}

// Init loads persisted atoms from kv and runs the schema gate. Returns
// incompatible=true when the persisted schema version differs from
// CurrentSchemaVersion, in which case responses were cleared and the
// caller should surface a "progress could not be restored" signal to the
// UI.
func (s *Store) Init() (incompatible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var persistedSchema string
	hadSchema := getJSON(s.kv, keySchema, &persistedSchema)
	switch {
	case hadSchema && persistedSchema != CurrentSchemaVersion:
		incompatible = true
		logrus.Warnf("schema mismatch: persisted %q != current %q, clearing responses", persistedSchema, CurrentSchemaVersion)
		s.responses = nil
	case hadSchema:
		var responses []domainmap.Response
		if getJSON(s.kv, keyResponses, &responses) {
			s.responses = responses
		}
	default:
		// No prior schema recorded: fresh install, nothing to clear.
	}

	s.schemaVersion = CurrentSchemaVersion
	if err := setJSON(s.kv, keySchema, s.schemaVersion); err != nil {
		logrus.Warnf("persisting schema version: %v", err)
	}

	var watchedList []string
	if getJSON(s.kv, keyWatchedVideos, &watchedList) {
		for _, id := range watchedList {
			s.watchedVideos[id] = true
		}
	}

	return incompatible
}

// AddResponse appends a response to the authoritative log and persists it.
func (s *Store) AddResponse(r domainmap.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return setJSON(s.kv, keyResponses, s.responses)
}

// Responses returns a copy of the response log.
func (s *Store) Responses() []domainmap.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domainmap.Response, len(s.responses))
	copy(out, s.responses)
	return out
}

// SetActiveDomain updates the active-domain atom, owned by the
// controls/minimap surface.
func (s *Store) SetActiveDomain(domainID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeDomain = domainID
}

func (s *Store) ActiveDomain() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeDomain
}

// CacheDomain stores a loaded bundle keyed by domain ID, with no eviction:
// the set of domain bundles is finite and small.
func (s *Store) CacheDomain(bundle domainmap.DomainBundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainCache[bundle.Domain.ID] = bundle
}

func (s *Store) CachedDomain(domainID string) (domainmap.DomainBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.domainCache[domainID]
	return b, ok
}

// SetEstimates atomically swaps the estimates atom to a full new array;
// it is never mutated in place.
func (s *Store) SetEstimates(estimates []estimator.CellEstimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates = estimates
}

func (s *Store) Estimates() []estimator.CellEstimate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.estimates
}

func (s *Store) SetTransitionState(t TransitionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionState = t
}

func (s *Store) TransitionState() TransitionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transitionState
}

func (s *Store) SetQuestionMode(m sampler.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questionMode = m
}

func (s *Store) QuestionMode() sampler.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionMode
}

// MarkWatched records a video as watched, persisting the updated set.
func (s *Store) MarkWatched(videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchedVideos[videoID] = true
	return s.persistWatched()
}

func (s *Store) IsWatched(videoID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watchedVideos[videoID]
}

func (s *Store) persistWatched() error {
	ids := make([]string, 0, len(s.watchedVideos))
	for id := range s.watchedVideos {
		ids = append(ids, id)
	}
	return setJSON(s.kv, keyWatchedVideos, ids)
}

// SetNextQuestion caches the Sampler's last selection.
func (s *Store) SetNextQuestion(sel *sampler.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextQuestion = sel
}

// NextQuestion returns the cached next-question atom.
func (s *Store) NextQuestion() *sampler.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextQuestion
}

// AnsweredIDs is the computed set of question IDs with a recorded response.
func (s *Store) AnsweredIDs() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.responses))
	for _, r := range s.responses {
		out[r.QuestionID] = true
	}
	return out
}

// Coverage is the computed coverage atom over the current estimates,
// uncertainty-weighted and guarded against NaN.
func (s *Store) Coverage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := estimator.Coverage(s.estimates)
	if c != c { // NaN guard
		return 0
	}
	return c
}

// InsightsAvailable is true once at least 10 responses have been recorded.
func (s *Store) InsightsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.responses) >= 10
}

// Phase is the computed phase atom, derived from answeredIds count and
// coverage.
func (s *Store) Phase() sampler.Phase {
	answered := len(s.AnsweredIDs())
	return sampler.ComputePhase(answered, s.Coverage())
}

// DifferenceMap exposes the recommender-owned difference-map atom.
func (s *Store) DifferenceMap() map[string]float64 {
	if s.recommender == nil {
		return nil
	}
	return s.recommender.DifferenceMap()
}

// RunningDifferenceMap exposes the recommender-owned running-transfer atom.
func (s *Store) RunningDifferenceMap() map[string]float64 {
	if s.recommender == nil {
		return nil
	}
	return s.recommender.RunningTransfer()
}

type ExportedResponse struct {
	QuestionID string  `json:"question_id"`
	DomainID   string  `json:"domain_id"`
	Selected   string  `json:"selected,omitempty"`
	IsCorrect  bool    `json:"is_correct"`
	Timestamp  int64   `json:"timestamp"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

type ExportBlob struct {
	ExportedAt    string             `json:"exported_at"`
	SchemaVersion string             `json:"schema_version"`
	Responses     []ExportedResponse `json:"responses"`
}

// Export serializes the current response log.
func (s *Store) Export() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob := ExportBlob{
		ExportedAt:    time.Now().UTC().Format(time.RFC3339),
		SchemaVersion: s.schemaVersion,
		Responses:     make([]ExportedResponse, 0, len(s.responses)),
	}
	for _, r := range s.responses {
		blob.Responses = append(blob.Responses, ExportedResponse{
			QuestionID: r.QuestionID,
			DomainID:   r.DomainID,
			Selected:   r.Selected,
			IsCorrect:  r.IsCorrect,
			Timestamp:  r.Timestamp,
			X:          r.X,
			Y:          r.Y,
		})
	}
	b, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("encoding export blob: %w", err)
	}
	return b, nil
}

// Reset clears every persisted and session atom to its default and
// re-initializes schemaVersion.
func (s *Store) Reset() error {
	s.mu.Lock()
	s.responses = nil
	s.watchedVideos = make(map[string]bool)
	s.activeDomain = ""
	s.domainCache = make(map[string]domainmap.DomainBundle)
	s.estimates = nil
	s.transitionState = TransitionIdle
	s.questionMode = sampler.ModeAuto
	s.nextQuestion = nil
	s.schemaVersion = CurrentSchemaVersion
	rec := s.recommender
	s.mu.Unlock()

	if rec != nil {
		rec.Reset()
	}

	if err := setJSON(s.kv, keyResponses, []domainmap.Response{}); err != nil {
		return fmt.Errorf("resetting responses: %w", err)
	}
	if err := setJSON(s.kv, keySchema, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("resetting schema version: %w", err)
	}
	if err := setJSON(s.kv, keyWatchedVideos, []string{}); err != nil {
		return fmt.Errorf("resetting watched videos: %w", err)
	}
	return nil
}
