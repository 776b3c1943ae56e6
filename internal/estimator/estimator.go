// Package estimator implements the Gaussian-process knowledge surrogate: a
// GP posterior over a rectangular grid, fit to noisy {0, 0.05, 1}
// observations with a Matern-3/2 kernel, per-observation length scales and
// difficulty weights.
package estimator

import (
	"math"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/numerics"
)

// State classifies a cell's evidentiary status.
type State string

const (
	StateUnknown   State = "unknown"
	StateUncertain State = "uncertain"
	StateEstimated State = "estimated"
)

// SkipKnowledgeValue is the observation target recorded for a skipped
// question.
const SkipKnowledgeValue = 0.05

const defaultDifficulty = 3

// correctWeights and incorrectWeights are the two difficulty-weight tables:
// harder correct answers reward more, easier wrong/skipped answers penalize
// more.
var correctWeights = map[int]float64{1: 0.25, 2: 0.5, 3: 0.75, 4: 1.0}
var incorrectWeights = map[int]float64{1: 1.0, 2: 0.75, 3: 0.5, 4: 0.25}

// DifficultyWeight looks up the difficulty-dependent weight for an
// observation, defaulting to difficulty 3 when out of range.
func DifficultyWeight(correct bool, difficulty int) float64 {
	difficulty = ClampDifficulty(difficulty)
	table := incorrectWeights
	if correct {
		table = correctWeights
	}
	return table[difficulty]
}

// ClampDifficulty maps any out-of-range difficulty to the default (3)
// instead of erroring.
func ClampDifficulty(d int) int {
	if d < 1 || d > 4 {
		return defaultDifficulty
	}
	return d
}

var irtThresholds = [...]float64{0.125, 0.375, 0.625, 0.875}

// DifficultyLevel discretizes a posterior value into an IRT level 0..4: the
// count of thresholds {0.125, 0.375, 0.625, 0.875} that value meets or
// exceeds.
func DifficultyLevel(value float64) int {
	level := 0
	for _, t := range irtThresholds {
		if value >= t {
			level++
		}
	}
	return level
}

// Observation is an internal GP training point.
type Observation struct {
	X, Y        float64
	Value       float64
	LengthScale float64
	Weight      float64
}

// CellEstimate is the posterior summary for one grid cell.
type CellEstimate struct {
	GX, GY          int
	X, Y            float64
	Value           float64
	Uncertainty     float64
	EvidenceCount   int
	State           State
	DifficultyLevel int
}

type cellCenter struct {
	gx, gy int
	x, y   float64
}

// Estimator maintains the GP posterior over a rectangular grid for one
// domain. Every mutation (Observe/ObserveSkip/Restore) rebuilds the kernel
// matrix and dual coefficients from scratch; there is no incremental
// Cholesky update, which is acceptable up to a few hundred observations.
type Estimator struct {
	region   domainmap.Region
	gridSize int
	centers  []cellCenter

	observations []Observation

	defaultLengthScale float64
	signalVar          float64
	noiseVar           float64
	priorMean          float64

	solver *numerics.Solver
	alpha  []float64
}

// New constructs an Estimator for the given grid size and region.
func New(gridSize int, region domainmap.Region) *Estimator {
	e := &Estimator{}
	e.Init(gridSize, region)
	return e
}

// Init (re-)initializes the grid geometry and clears all observations.
func (e *Estimator) Init(gridSize int, region domainmap.Region) {
	e.region = region
	e.gridSize = gridSize
	e.defaultLengthScale = numerics.DefaultLengthScale
	e.signalVar = numerics.DefaultSignalVar
	e.noiseVar = numerics.DefaultNoiseVar
	e.priorMean = numerics.DefaultPriorMean
	e.observations = nil
	e.solver = nil
	e.alpha = nil

	dx := region.Width() / float64(gridSize)
	dy := region.Height() / float64(gridSize)
	e.centers = make([]cellCenter, 0, gridSize*gridSize)
	for gy := 0; gy < gridSize; gy++ {
		for gx := 0; gx < gridSize; gx++ {
			cx := region.XMin + (float64(gx)+0.5)*dx
			cy := region.YMin + (float64(gy)+0.5)*dy
			e.centers = append(e.centers, cellCenter{gx, gy, cx, cy})
		}
	}
}

// Reset clears all observations and matrices, keeping the current grid
// geometry.
func (e *Estimator) Reset() {
	e.Init(e.gridSize, e.region)
}

// GridSize returns the configured G for this domain's grid.
func (e *Estimator) GridSize() int { return e.gridSize }

// Region returns the domain's region.
func (e *Estimator) Region() domainmap.Region { return e.region }

// NumObservations returns the number of observations folded into the
// current posterior.
func (e *Estimator) NumObservations() int { return len(e.observations) }

// Observe records a correct/incorrect answer at (x, y). A nil lengthScale
// uses the default length scale; a nil or out-of-range difficulty
// uses/clamps to 3.
func (e *Estimator) Observe(x, y float64, correct bool, lengthScale *float64, difficulty *int) {
	l := e.resolveLengthScale(lengthScale)
	d := e.resolveDifficulty(difficulty)
	value := 0.0
	if correct {
		value = 1.0
	}
	e.addObservation(Observation{X: x, Y: y, Value: value, LengthScale: l, Weight: DifficultyWeight(correct, d)})
}

// ObserveSkip records a skipped question at (x, y) with the fixed skip
// target value 0.05, weighted as an incorrect answer of the given
// difficulty.
func (e *Estimator) ObserveSkip(x, y float64, lengthScale *float64, difficulty *int) {
	l := e.resolveLengthScale(lengthScale)
	d := e.resolveDifficulty(difficulty)
	e.addObservation(Observation{X: x, Y: y, Value: SkipKnowledgeValue, LengthScale: l, Weight: DifficultyWeight(false, d)})
}

func (e *Estimator) resolveLengthScale(l *float64) float64 {
	if l != nil && *l > 0 {
		return *l
	}
	return e.defaultLengthScale
}

func (e *Estimator) resolveDifficulty(d *int) int {
	if d == nil {
		return defaultDifficulty
	}
	return ClampDifficulty(*d)
}

func (e *Estimator) addObservation(o Observation) {
	e.observations = append(e.observations, o)
	e.recompute()
}

// Restore replaces the observation set by replaying responses in order,
// using one uniform length scale for every observation (older
// per-observation length scales from prior exports are ignored).
// questionDifficulty maps question ID to its authored difficulty; a
// response whose question is missing from the map uses the response's own
// recorded difficulty, or the default difficulty when that is unset.
// Because recompute rebuilds the whole posterior from
// the full observation list regardless of how it was assembled, this
// yields bit-identical results to replaying the same responses through
// Observe/ObserveSkip one at a time.
func (e *Estimator) Restore(responses []domainmap.Response, uniformLengthScale float64, questionDifficulty map[string]int) {
	if uniformLengthScale <= 0 {
		uniformLengthScale = e.defaultLengthScale
	}
	observations := make([]Observation, 0, len(responses))
	for _, r := range responses {
		d := defaultDifficulty
		if qd, ok := questionDifficulty[r.QuestionID]; ok {
			d = ClampDifficulty(qd)
		} else if r.Difficulty != 0 {
			d = ClampDifficulty(r.Difficulty)
		}
		if r.Skipped {
			observations = append(observations, Observation{
				X: r.X, Y: r.Y, Value: SkipKnowledgeValue,
				LengthScale: uniformLengthScale, Weight: DifficultyWeight(false, d),
			})
			continue
		}
		value := 0.0
		if r.IsCorrect {
			value = 1.0
		}
		observations = append(observations, Observation{
			X: r.X, Y: r.Y, Value: value,
			LengthScale: uniformLengthScale, Weight: DifficultyWeight(r.IsCorrect, d),
		})
	}
	e.observations = observations
	e.recompute()
}

// recompute rebuilds the kernel matrix and dual coefficients alpha from
// the full current observation list.
func (e *Estimator) recompute() {
	n := len(e.observations)
	if n == 0 {
		e.solver = nil
		e.alpha = nil
		return
	}
	k := make([]float64, n*n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		oi := e.observations[i]
		y[i] = oi.Value - e.priorMean
		for j := 0; j < n; j++ {
			oj := e.observations[j]
			d := numerics.Distance(oi.X, oi.Y, oj.X, oj.Y)
			l := numerics.MergeLengthScale(oi.LengthScale, oj.LengthScale)
			w := numerics.MergeWeight(oi.Weight, oj.Weight)
			kv := numerics.Matern32(d, l, e.signalVar) * w
			if i == j {
				kv += e.noiseVar
			}
			k[i*n+j] = kv
		}
	}
	e.solver = numerics.NewSolver(k, n)
	e.alpha = e.solver.Solve(y)
}

// Predict returns cell estimates in row-major order (gy*G+gx), restricted
// to viewport when non-nil.
func (e *Estimator) Predict(viewport *domainmap.Viewport) []CellEstimate {
	out := make([]CellEstimate, 0, len(e.centers))
	for _, c := range e.centers {
		if viewport != nil && !viewport.Contains(c.x, c.y) {
			continue
		}
		out = append(out, e.predictAt(c))
	}
	return out
}

// PredictCell returns the estimate for a single cell by grid coordinate.
func (e *Estimator) PredictCell(gx, gy int) CellEstimate {
	idx := gy*e.gridSize + gx
	if idx < 0 || idx >= len(e.centers) {
		return CellEstimate{GX: gx, GY: gy, State: StateUnknown, DifficultyLevel: DifficultyLevel(e.priorMean), Value: e.priorMean, Uncertainty: 1.0}
	}
	return e.predictAt(e.centers[idx])
}

func (e *Estimator) predictAt(c cellCenter) CellEstimate {
	n := len(e.observations)
	if n == 0 || e.solver == nil {
		return CellEstimate{
			GX: c.gx, GY: c.gy, X: c.x, Y: c.y,
			Value:           e.priorMean,
			Uncertainty:     1.0,
			EvidenceCount:   0,
			State:           StateUnknown,
			DifficultyLevel: DifficultyLevel(e.priorMean),
		}
	}

	kstar := make([]float64, n)
	evidence := 0
	for j, o := range e.observations {
		d := numerics.Distance(c.x, c.y, o.X, o.Y)
		l := numerics.MergeLengthScale(e.defaultLengthScale, o.LengthScale)
		kstar[j] = numerics.Matern32(d, l, e.signalVar) * o.Weight
		if d <= 2*o.LengthScale {
			evidence++
		}
	}

	mean := e.priorMean
	for j, kv := range kstar {
		mean += kv * e.alpha[j]
	}
	variance := e.signalVar - e.solver.Quad(kstar)
	if variance < 0 {
		variance = 0
	}

	if !numerics.IsFinite(mean) || !numerics.IsFinite(variance) {
		mean, variance = e.priorMean, e.signalVar
	}

	value := numerics.Clamp(mean, 0, 1)
	uncertainty := numerics.Clamp(math.Sqrt(variance)/math.Sqrt(e.signalVar), 0, 1)

	return CellEstimate{
		GX: c.gx, GY: c.gy, X: c.x, Y: c.y,
		Value:           value,
		Uncertainty:     uncertainty,
		EvidenceCount:   evidence,
		State:           computeState(evidence, value, uncertainty),
		DifficultyLevel: DifficultyLevel(value),
	}
}

func computeState(evidence int, value, uncertainty float64) State {
	if evidence == 0 {
		return StateUnknown
	}
	if value > 0.3 && value < 0.7 && uncertainty < 0.2 {
		return StateUncertain
	}
	return StateEstimated
}

// CellIndex maps a point to its containing grid cell using floor-and-clamp
// discretization. The Sampler's viewport/candidate scoring and the
// Curriculum's centrality lookup both use this same discretization so a
// question's (x, y) always resolves to the same cell everywhere.
func (e *Estimator) CellIndex(x, y float64) (gx, gy int) {
	dx := e.region.Width() / float64(e.gridSize)
	dy := e.region.Height() / float64(e.gridSize)
	gx = clampInt(int((x-e.region.XMin)/dx), 0, e.gridSize-1)
	gy = clampInt(int((y-e.region.YMin)/dy), 0, e.gridSize-1)
	return
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Coverage is the uncertainty-weighted coverage fraction: mean of
// (1 - uncertainty) over cells with evidence, guarded against division by
// zero when no cell has evidence yet.
func Coverage(estimates []CellEstimate) float64 {
	var sum float64
	var count int
	for _, c := range estimates {
		if c.State == StateUnknown {
			continue
		}
		sum += 1 - c.Uncertainty
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
