package curriculum

import (
	"math"
	"testing"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
)

// Invariant 10: curriculum sigmoid values at 0/30/60 coverage.
func TestGetWeight_SigmoidBoundary(t *testing.T) {
	tests := []struct {
		coverage float64
		want     float64
	}{
		{0.0, 0.953},
		{0.3, 0.5},
		{0.6, 0.047},
	}
	for _, tt := range tests {
		got := GetWeight(0, tt.coverage)
		if math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("GetWeight(_, %v) = %v, want ~%v", tt.coverage, got, tt.want)
		}
	}
}

func TestGetWeight_MonotoneDecreasing(t *testing.T) {
	low := GetWeight(0, 0.1)
	high := GetWeight(0, 0.9)
	if !(low > high) {
		t.Fatalf("GetWeight should decrease as coverage rises: low=%v high=%v", low, high)
	}
}

func region() domainmap.Region {
	return domainmap.Region{XMin: 0, XMax: 1, YMin: 0, YMax: 1}
}

func TestGetCentrality_EmptyDomainReturnsEmptyMap(t *testing.T) {
	bundle := domainmap.DomainBundle{
		Domain: domainmap.BundleDomain{Domain: domainmap.Domain{Region: region(), GridSize: 10}},
	}
	got := GetCentrality(bundle)
	if len(got) != 0 {
		t.Fatalf("expected empty map for domain with no articles, got %v", got)
	}
}

func TestGetCentrality_NormalizesByMaxCount(t *testing.T) {
	bundle := domainmap.DomainBundle{
		Domain: domainmap.BundleDomain{Domain: domainmap.Domain{Region: region(), GridSize: 2}},
		Articles: []domainmap.Article{
			{ID: "a1", X: 0.1, Y: 0.1},
			{ID: "a2", X: 0.1, Y: 0.1},
			{ID: "a3", X: 0.9, Y: 0.9},
		},
	}
	got := GetCentrality(bundle)
	if got["0,0"] != 1.0 {
		t.Errorf("expected max cell (0,0) centrality 1.0, got %v", got["0,0"])
	}
	if got["1,1"] != 0.5 {
		t.Errorf("expected cell (1,1) centrality 0.5, got %v", got["1,1"])
	}
}

func TestComputeCentralityForQuestion_DefaultsToZero(t *testing.T) {
	est := estimator.New(2, region())
	centrality := map[string]float64{"0,0": 1.0}
	got := ComputeCentralityForQuestion(est, centrality, 0.9, 0.9)
	if got != 0 {
		t.Errorf("expected default 0 for uncovered cell, got %v", got)
	}
	got = ComputeCentralityForQuestion(est, centrality, 0.1, 0.1)
	if got != 1.0 {
		t.Errorf("expected 1.0 for covered cell, got %v", got)
	}
}
