package numerics

import (
	"errors"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// ErrCholeskyFailed is the sentinel a caller may check for with errors.Is
// after Solver.Err(); the Estimator itself never surfaces it and degrades
// to the prior mean instead, but lower-level callers and tests may want to
// distinguish "degraded to prior" from "solved".
var ErrCholeskyFailed = errors.New("numerics: cholesky factorization failed after adaptive-jitter retries")

// maxJitterRetries is the number of additional attempts after the first,
// each multiplying the jitter by 10.
const maxJitterRetries = 3

// baseJitter returns the base diagonal jitter for an n x n matrix:
// epsilon = 1e-6 * max(1, n/10).
func baseJitter(n int) float64 {
	return 1e-6 * math.Max(1, float64(n)/10)
}

// Solver factorizes a symmetric positive-definite kernel matrix once and
// answers multiple Solve calls against it, so a single Cholesky
// factorization can serve every grid cell during Estimator.predict instead
// of refactorizing per cell.
type Solver struct {
	n   int
	ok  bool
	err error
	chl mat.Cholesky
}

// NewSolver factorizes the n x n row-major matrix k with adaptive jitter:
// base jitter on the diagonal, up to 3 retries at 10x jitter on a
// non-positive pivot. If every attempt fails, Solver degrades: Solve
// returns a zero vector and one warning is logged.
func NewSolver(k []float64, n int) *Solver {
	s := &Solver{n: n}
	if n == 0 {
		s.ok = true
		return s
	}
	jitter := baseJitter(n)
	for attempt := 0; attempt <= maxJitterRetries; attempt++ {
		data := make([]float64, len(k))
		copy(data, k)
		for i := 0; i < n; i++ {
			data[i*n+i] += jitter
		}
		sym := mat.NewSymDense(n, data)
		if s.chl.Factorize(sym) {
			s.ok = true
			return s
		}
		jitter *= 10
	}
	s.err = ErrCholeskyFailed
	logrus.Warn("numerics: cholesky factorization failed after adaptive-jitter retries; degrading to prior mean")
	return s
}

// OK reports whether factorization succeeded.
func (s *Solver) OK() bool { return s.ok }

// Err returns ErrCholeskyFailed if factorization never succeeded, else nil.
func (s *Solver) Err() error { return s.err }

// Solve returns x such that K_jittered * x ~= b. On factorization failure
// (already warned about by NewSolver) it returns a zero vector of length n;
// on a solve error or a NaN appearing in x it returns a zero vector and logs
// a warning. Callers must treat a zero result as "use the prior mean" rather
// than propagating an error.
func (s *Solver) Solve(b []float64) []float64 {
	if !s.ok || s.n == 0 {
		return make([]float64, s.n)
	}
	bv := mat.NewVecDense(s.n, append([]float64(nil), b...))
	var xv mat.VecDense
	if err := s.chl.SolveVecTo(&xv, bv); err != nil {
		logrus.Warn("numerics: cholesky solve failed; falling back to zero vector")
		return make([]float64, s.n)
	}
	raw := xv.RawVector().Data
	if hasNaN(raw) {
		logrus.Warn("numerics: cholesky solve produced a non-finite value; falling back to zero vector")
		return make([]float64, s.n)
	}
	out := make([]float64, s.n)
	copy(out, raw)
	return out
}

// Quad computes v . Solve(v), the quadratic form used for posterior
// variance (k* . K^-1 . k*). It reuses the already-factorized matrix.
func (s *Solver) Quad(v []float64) float64 {
	x := s.Solve(v)
	var sum float64
	for i, xi := range x {
		sum += xi * v[i]
	}
	return sum
}

func hasNaN(xs []float64) bool {
	for _, x := range xs {
		if !IsFinite(x) {
			return true
		}
	}
	return false
}

// CholeskySolve is a convenience one-shot solve for callers that do not
// need to reuse the factorization (tests, scripts). Prefer NewSolver for
// repeated solves against the same matrix.
func CholeskySolve(k []float64, n int, b []float64) []float64 {
	return NewSolver(k, n).Solve(b)
}
