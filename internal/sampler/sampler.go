// Package sampler implements adaptive question selection: a three-phase
// calibrate/map/learn policy driven by a BALD expected-information-gain
// scorer, plus mode-constrained selectors for easy/hardest-can-answer/
// dont-know.
package sampler

import (
	"math"
	"sort"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
	"github.com/conceptmapper/mapcore/internal/numerics"
)

// Phase is the active scoring regime.
type Phase string

const (
	PhaseCalibrate Phase = "calibrate"
	PhaseMap       Phase = "map"
	PhaseLearn     Phase = "learn"
)

// Mode constrains selection to a target difficulty band.
type Mode string

const (
	ModeAuto             Mode = "auto"
	ModeEasy             Mode = "easy"
	ModeHardestCanAnswer Mode = "hardest-can-answer"
	ModeDontKnow         Mode = "dont-know"
)

const baldA = 1.5

var baldB = [4]float64{-1.5, -0.5, 0.5, 1.5}

// ComputePhase determines the regime from answered count and coverage:
// calibrate below 10 answers, map below 30 answers or below 15% coverage,
// learn otherwise.
func ComputePhase(answeredCount int, coverage float64) Phase {
	if answeredCount < 10 {
		return PhaseCalibrate
	}
	if answeredCount < 30 || coverage < 0.15 {
		return PhaseMap
	}
	return PhaseLearn
}

// IRTProbability computes P(correct) = sigma(a*(theta-b[d])) with
// theta = 4*value - 2, a = 1.5, b indexed by difficulty.
func IRTProbability(value float64, difficulty int) float64 {
	idx := estimator.ClampDifficulty(difficulty) - 1
	theta := 4*value - 2
	return numerics.Sigmoid(baldA * (theta - baldB[idx]))
}

// BALDScore is the expected-information-gain score: a^2 * P(1-P) * (4U)^2,
// used in the map phase and as the learn-phase high-uncertainty fallback.
func BALDScore(value, uncertainty float64, difficulty int) float64 {
	p := IRTProbability(value, difficulty)
	return baldA * baldA * p * (1 - p) * math.Pow(4*uncertainty, 2)
}

func calibrateScore(uncertainty float64, difficulty int) float64 {
	return uncertainty * (1 - math.Abs(float64(difficulty)-2.5)/2)
}

func learnScore(value, uncertainty float64, difficulty int) float64 {
	if uncertainty > 0.7 {
		return BALDScore(value, uncertainty, difficulty)
	}
	p := IRTProbability(value, difficulty)
	return 1 - math.Abs(p-0.6)
}

// Score computes the phase-appropriate score for a candidate's cell
// estimate and difficulty.
func Score(phase Phase, cell estimator.CellEstimate, difficulty int) float64 {
	switch phase {
	case PhaseCalibrate:
		return calibrateScore(cell.Uncertainty, difficulty)
	case PhaseMap:
		return BALDScore(cell.Value, cell.Uncertainty, difficulty)
	default:
		return learnScore(cell.Value, cell.Uncertainty, difficulty)
	}
}

// Candidate pairs an unanswered question with its current cell estimate.
type Candidate struct {
	Question domainmap.Question
	Cell     estimator.CellEstimate
}

// BuildCandidates resolves each unanswered question to its containing cell
// in est and pairs it with that cell's current estimate.
func BuildCandidates(est *estimator.Estimator, unanswered []domainmap.Question) []Candidate {
	out := make([]Candidate, 0, len(unanswered))
	for _, q := range unanswered {
		gx, gy := est.CellIndex(q.X, q.Y)
		out = append(out, Candidate{Question: q, Cell: est.PredictCell(gx, gy)})
	}
	return out
}

// Selection is the Sampler's chosen next question.
type Selection struct {
	QuestionID string
	Score      float64
	GX, GY     int
}

// filterPool restricts candidates to those inside viewport, falling back
// to the full candidate set when the restriction would empty the pool:
// never return nothing when an unanswered question exists somewhere.
func filterPool(candidates []Candidate, viewport *domainmap.Viewport) []Candidate {
	if viewport == nil {
		return candidates
	}
	restricted := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if viewport.Contains(c.Question.X, c.Question.Y) {
			restricted = append(restricted, c)
		}
	}
	if len(restricted) == 0 {
		return candidates
	}
	return restricted
}

// SelectNext chooses the next question by phase score. coverage is the
// uncertainty-weighted coverage over the full grid (not just the
// viewport), matching the phase definition. Returns nil when candidates
// is empty.
func SelectNext(candidates []Candidate, answeredCount int, coverage float64, viewport *domainmap.Viewport) *Selection {
	if len(candidates) == 0 {
		return nil
	}
	phase := ComputePhase(answeredCount, coverage)
	pool := filterPool(candidates, viewport)

	best := pool[0]
	bestScore := Score(phase, best.Cell, best.Question.Difficulty)
	for _, c := range pool[1:] {
		s := Score(phase, c.Cell, c.Question.Difficulty)
		if s > bestScore {
			best, bestScore = c, s
		}
	}
	return &Selection{QuestionID: best.Question.ID, Score: bestScore, GX: best.Cell.GX, GY: best.Cell.GY}
}

// SelectMode applies a mode-constrained selector, falling back to
// SelectNext when the mode's threshold satisfies no candidate, or when
// mode is ModeAuto.
func SelectMode(mode Mode, candidates []Candidate, answeredCount int, coverage float64, viewport *domainmap.Viewport) *Selection {
	if mode == ModeAuto || mode == "" {
		return SelectNext(candidates, answeredCount, coverage, viewport)
	}
	pool := filterPool(candidates, viewport)
	var sel *Selection
	switch mode {
	case ModeEasy:
		sel = selectEasy(pool)
	case ModeHardestCanAnswer:
		sel = selectHardestCanAnswer(pool)
	case ModeDontKnow:
		sel = selectDontKnow(pool)
	}
	if sel != nil {
		return sel
	}
	return SelectNext(candidates, answeredCount, coverage, viewport)
}

func selectEasy(pool []Candidate) *Selection {
	var best *Candidate
	var bestP, bestUnc float64
	for i := range pool {
		c := &pool[i]
		p := IRTProbability(c.Cell.Value, c.Question.Difficulty)
		if p <= 0.8 {
			continue
		}
		if best == nil || p > bestP || (p == bestP && c.Cell.Uncertainty < bestUnc) {
			best, bestP, bestUnc = c, p, c.Cell.Uncertainty
		}
	}
	return toSelection(best, bestP)
}

func selectHardestCanAnswer(pool []Candidate) *Selection {
	var best *Candidate
	var bestP float64
	for i := range pool {
		c := &pool[i]
		p := IRTProbability(c.Cell.Value, c.Question.Difficulty)
		if p <= 0.5 {
			continue
		}
		if best == nil || c.Question.Difficulty > best.Question.Difficulty ||
			(c.Question.Difficulty == best.Question.Difficulty && p > bestP) {
			best, bestP = c, p
		}
	}
	return toSelection(best, bestP)
}

func selectDontKnow(pool []Candidate) *Selection {
	var best *Candidate
	var bestP float64
	for i := range pool {
		c := &pool[i]
		p := IRTProbability(c.Cell.Value, c.Question.Difficulty)
		if p >= 0.3 {
			continue
		}
		if best == nil || c.Question.Difficulty > best.Question.Difficulty ||
			(c.Question.Difficulty == best.Question.Difficulty && (1-p) > (1-bestP)) {
			best, bestP = c, p
		}
	}
	if best == nil {
		return nil
	}
	return &Selection{QuestionID: best.Question.ID, Score: 1 - bestP, GX: best.Cell.GX, GY: best.Cell.GY}
}

func toSelection(c *Candidate, score float64) *Selection {
	if c == nil {
		return nil
	}
	return &Selection{QuestionID: c.Question.ID, Score: score, GX: c.Cell.GX, GY: c.Cell.GY}
}

// ScoredCandidate is one row of ScoreAll's diagnostic output.
type ScoredCandidate struct {
	QuestionID string
	Score      float64
}

// ScoreAll returns the BALD-EIG score for every candidate, sorted
// descending, for diagnostics/insights.
func ScoreAll(candidates []Candidate) []ScoredCandidate {
	out := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, ScoredCandidate{
			QuestionID: c.Question.ID,
			Score:      BALDScore(c.Cell.Value, c.Cell.Uncertainty, c.Question.Difficulty),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
