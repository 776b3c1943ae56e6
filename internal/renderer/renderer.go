// Package renderer defines the contract the core calls into after each
// observation and on domain change, plus a websocket-backed
// implementation.
package renderer

import (
	"time"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
)

// MaxTransitionDuration caps TransitionTo's animation: the renderer chooses
// its own palette and animation timing, but transitions never run longer
// than this.
const MaxTransitionDuration = 1000 * time.Millisecond

// Renderer is the collaborator the core pushes view updates to. The core
// calls SetHeatmap after every observation and on domain change;
// palette/animation choices belong to the renderer, not the core.
type Renderer interface {
	SetPoints(points []domainmap.Point)
	SetHeatmap(cells []estimator.CellEstimate, region domainmap.Region)
	SetLabels(labels []domainmap.GridLabel)
	GetViewport() domainmap.Viewport
	TransitionTo(region domainmap.Region, duration time.Duration)
}
