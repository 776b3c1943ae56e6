// Package recommend implements the video recommender: a global 50x50
// Estimator instance fed by every observation regardless of domain, scored
// by Theoretical Learning Potential (TLP) or, once a running transfer map
// exists, ExpectedGain.
package recommend

import (
	"sort"
	"strconv"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
	"github.com/conceptmapper/mapcore/internal/numerics"
)

// GlobalGridSize is the fixed resolution of the recommender's own Estimator,
// independent of any domain's grid: a fixed 50x50 global grid over the
// full unit square.
const GlobalGridSize = 50

const emaAlpha = 0.3
const relevantTransferEpsilon = 1e-4
const answersPerEMAUpdate = 5
const watchedPenalty = 0.1
const topN = 10

func globalRegion() domainmap.Region {
	return domainmap.Region{XMin: 0, XMax: 1, YMin: 0, YMax: 1}
}

// Recommender tracks the global estimator, the snapshot/difference/EMA
// transfer-map lifecycle, and the watched-video set.
type Recommender struct {
	global *estimator.Estimator

	preVideoSnapshot    []float64 // nil when no snapshot is pending
	questionsAfterVideo int
	differenceMap       map[string]float64
	runningTransfer     map[string]float64 // D_running, nil until first EMA update
	recentWindows       []domainmap.Point  // windows of recently-watched videos, for relevance

	watched map[string]bool
}

// New constructs a Recommender with a fresh global estimator.
func New() *Recommender {
	return &Recommender{
		global:  estimator.New(GlobalGridSize, globalRegion()),
		watched: make(map[string]bool),
	}
}

// Observe feeds one answer into the global estimator, independent of the
// active domain.
func (r *Recommender) Observe(x, y float64, correct bool, lengthScale *float64, difficulty *int) {
	r.global.Observe(x, y, correct, lengthScale, difficulty)
}

// ObserveSkip feeds one skipped answer into the global estimator.
func (r *Recommender) ObserveSkip(x, y float64, lengthScale *float64, difficulty *int) {
	r.global.ObserveSkip(x, y, lengthScale, difficulty)
}

// Reset clears the global estimator, the snapshot/difference/EMA state, and
// the watched set.
func (r *Recommender) Reset() {
	r.global.Reset()
	r.preVideoSnapshot = nil
	r.questionsAfterVideo = 0
	r.differenceMap = nil
	r.runningTransfer = nil
	r.recentWindows = nil
	r.watched = make(map[string]bool)
}

func keyOf(gx, gy int) string {
	return strconv.Itoa(gx) + "," + strconv.Itoa(gy)
}

// currentSnapshot returns K values for every global cell in stable
// row-major order, matching the order captured by TakeSnapshot.
func (r *Recommender) currentSnapshot() []float64 {
	cells := r.global.Predict(nil)
	out := make([]float64, len(cells))
	for i, c := range cells {
		out[i] = c.Value
	}
	return out
}

// TakeSnapshot captures the global K values into preVideoSnapshot and
// resets questionsAfterVideo to 0. No-op if a snapshot is already pending;
// only one snapshot can be in flight at a time.
func (r *Recommender) TakeSnapshot() {
	if r.preVideoSnapshot != nil {
		return
	}
	r.preVideoSnapshot = r.currentSnapshot()
	r.questionsAfterVideo = 0
}

// RecordWatch marks a video watched and folds its windows into the
// recently-watched set used for relevance weighting.
func (r *Recommender) RecordWatch(v domainmap.Video) {
	r.watched[v.ID] = true
	r.recentWindows = append(r.recentWindows, v.Windows...)
}

// OnAnswer advances the snapshot/difference/EMA cycle after a user answer.
// No-op if no snapshot is pending.
func (r *Recommender) OnAnswer() {
	if r.preVideoSnapshot == nil {
		return
	}
	r.questionsAfterVideo++

	cells := r.global.Predict(nil)
	diff := make(map[string]float64, len(cells))
	for i, c := range cells {
		diff[keyOf(c.GX, c.GY)] = c.Value - r.preVideoSnapshot[i]
	}
	r.differenceMap = diff

	if r.questionsAfterVideo >= answersPerEMAUpdate {
		r.updateRunningTransfer(cells, diff)
		r.preVideoSnapshot = nil
		r.questionsAfterVideo = 0
		r.differenceMap = nil
	}
}

// updateRunningTransfer computes relevanceMap and folds D_new*relevance
// into D_running via EMA.
func (r *Recommender) updateRunningTransfer(cells []estimator.CellEstimate, diff map[string]float64) {
	relevance := r.relevanceMap(cells)

	dNew := make(map[string]float64, len(cells))
	for _, c := range cells {
		key := keyOf(c.GX, c.GY)
		dNew[key] = diff[key] * relevance[key]
	}

	if r.runningTransfer == nil {
		r.runningTransfer = dNew
		return
	}
	merged := make(map[string]float64, len(dNew))
	for key, v := range dNew {
		merged[key] = emaAlpha*v + (1-emaAlpha)*r.runningTransfer[key]
	}
	r.runningTransfer = merged
}

// relevanceMap computes, for every cell, the maximum kernel similarity to
// any window of any recently-watched video.
func (r *Recommender) relevanceMap(cells []estimator.CellEstimate) map[string]float64 {
	out := make(map[string]float64, len(cells))
	if len(r.recentWindows) == 0 {
		return out
	}
	for _, c := range cells {
		best := 0.0
		for _, w := range r.recentWindows {
			d := numerics.Distance(c.X, c.Y, w.X, w.Y)
			k := numerics.Matern32(d, numerics.DefaultLengthScale, numerics.DefaultSignalVar)
			if k > best {
				best = k
			}
		}
		out[keyOf(c.GX, c.GY)] = best
	}
	return out
}

// TLP computes the Theoretical Learning Potential of a video: the mean,
// over its windows, of (1 - K(x,y)) * U(x,y) at the snapped global cell.
func (r *Recommender) TLP(v domainmap.Video) float64 {
	if len(v.Windows) == 0 {
		return 0
	}
	var sum float64
	for _, w := range v.Windows {
		gx, gy := r.global.CellIndex(w.X, w.Y)
		cell := r.global.PredictCell(gx, gy)
		sum += (1 - cell.Value) * cell.Uncertainty
	}
	return sum / float64(len(v.Windows))
}

// ExpectedGain computes the running-transfer-weighted score for a video:
// the mean, over its windows, of (1 - K(x,y)) * effectiveTransfer(cell).
func (r *Recommender) ExpectedGain(v domainmap.Video) float64 {
	if len(v.Windows) == 0 {
		return 0
	}
	globalAvg := r.globalAverageTransfer()
	var sum float64
	for _, w := range v.Windows {
		gx, gy := r.global.CellIndex(w.X, w.Y)
		cell := r.global.PredictCell(gx, gy)
		transfer := r.effectiveTransfer(cell, w, globalAvg)
		sum += (1 - cell.Value) * transfer
	}
	gain := sum / float64(len(v.Windows))
	if gain < 0 {
		return 0
	}
	return gain
}

// effectiveTransfer resolves T_c = max(0, D_running[c]) when it is
// well-determined (non-negligible magnitude, or a window within 2l of the
// cell center), otherwise falls back to the global average transfer over
// sufficient-coverage cells.
func (r *Recommender) effectiveTransfer(cell estimator.CellEstimate, window domainmap.Point, globalAvg float64) float64 {
	if r.runningTransfer == nil {
		return 0
	}
	key := keyOf(cell.GX, cell.GY)
	t := r.runningTransfer[key]
	running := maxFloat(0, t)

	near := numerics.Distance(cell.X, cell.Y, window.X, window.Y) <= 2*numerics.DefaultLengthScale
	if absFloat(t) >= relevantTransferEpsilon || near {
		return running
	}
	return globalAvg
}

// globalAverageTransfer averages D_running over cells with sufficient
// coverage (evidence present), as the fallback for under-determined cells.
func (r *Recommender) globalAverageTransfer() float64 {
	if r.runningTransfer == nil {
		return 0
	}
	cells := r.global.Predict(nil)
	var sum float64
	var count int
	for _, c := range cells {
		if c.EvidenceCount == 0 {
			continue
		}
		key := keyOf(c.GX, c.GY)
		sum += maxFloat(0, r.runningTransfer[key])
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Recommendation is one ranked row of Rank's output.
type Recommendation struct {
	VideoID string
	Score   float64
}

// Rank scores every candidate video (ExpectedGain once a running transfer
// map exists, TLP before that), applies a 0.1x penalty to already-watched
// videos, sorts descending, and returns the top 10. Domain filtering is
// intentionally a passthrough.
func (r *Recommender) Rank(videos []domainmap.Video) []Recommendation {
	out := make([]Recommendation, 0, len(videos))
	useExpectedGain := r.runningTransfer != nil
	for _, v := range videos {
		var score float64
		if useExpectedGain {
			score = r.ExpectedGain(v)
		} else {
			score = r.TLP(v)
		}
		if r.watched[v.ID] {
			score *= watchedPenalty
		}
		out = append(out, Recommendation{VideoID: v.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}

// DifferenceMap exposes the current (pending-snapshot) difference map, or
// nil if no snapshot is in flight.
func (r *Recommender) DifferenceMap() map[string]float64 {
	return r.differenceMap
}

// RunningTransfer exposes the current D_running map, or nil before the
// first EMA update.
func (r *Recommender) RunningTransfer() map[string]float64 {
	return r.runningTransfer
}

// SnapshotPending reports whether TakeSnapshot has been called without a
// matching resolution yet.
func (r *Recommender) SnapshotPending() bool {
	return r.preVideoSnapshot != nil
}
