// Package curriculum computes the landmark/niche weighting that biases the
// Sampler toward high-centrality cells early and away from them later.
package curriculum

import (
	"strconv"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
	"github.com/conceptmapper/mapcore/internal/numerics"
)

// GetWeight computes the curriculum bias w = 1 - sigma((coverage - 0.3)*10):
// a sharp transition around 30% coverage, ~0.95 at 0%, 0.5 at 30%, ~0.05 at
// 60%. answeredCount is accepted for signature symmetry with callers that
// track it but does not affect the current formula.
func GetWeight(answeredCount int, coveragePercent float64) float64 {
	_ = answeredCount
	return 1 - numerics.Sigmoid((coveragePercent-0.3)*10)
}

type cellKey struct{ gx, gy int }

// GetCentrality counts articles per cell and normalizes by the maximum cell
// count. Domains with no articles return an empty map.
func GetCentrality(bundle domainmap.DomainBundle) map[string]float64 {
	out := make(map[string]float64)
	if len(bundle.Articles) == 0 {
		return out
	}

	region := bundle.Domain.Region
	gridSize := bundle.Domain.GridSize
	if gridSize <= 0 {
		return out
	}

	counts := make(map[cellKey]int)
	maxCount := 0
	for _, a := range bundle.Articles {
		gx, gy := cellIndex(a.X, a.Y, region, gridSize)
		key := cellKey{gx, gy}
		counts[key]++
		if counts[key] > maxCount {
			maxCount = counts[key]
		}
	}
	if maxCount == 0 {
		return out
	}
	for key, count := range counts {
		out[formatKey(key.gx, key.gy)] = float64(count) / float64(maxCount)
	}
	return out
}

// ComputeCentralityForQuestion maps a question's (x, y) to its cell using
// the same floor-and-clamp discretization as the Sampler/Estimator
// (estimator.Estimator.CellIndex) and looks it up in a centrality map,
// defaulting to 0.
func ComputeCentralityForQuestion(est *estimator.Estimator, centrality map[string]float64, x, y float64) float64 {
	gx, gy := est.CellIndex(x, y)
	if v, ok := centrality[formatKey(gx, gy)]; ok {
		return v
	}
	return 0
}

func cellIndex(x, y float64, region domainmap.Region, gridSize int) (gx, gy int) {
	dx := region.Width() / float64(gridSize)
	dy := region.Height() / float64(gridSize)
	gx = clampInt(int((x-region.XMin)/dx), 0, gridSize-1)
	gy = clampInt(int((y-region.YMin)/dy), 0, gridSize-1)
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

func formatKey(gx, gy int) string {
	return strconv.Itoa(gx) + "," + strconv.Itoa(gy)
}
