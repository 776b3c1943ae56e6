package renderer

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/estimator"
)

// pushResolution throttles outgoing frames: a push within this window of
// the last one is dropped rather than queued.
const pushResolution = 100 * time.Millisecond

// payload is the envelope pushed over the websocket for every renderer
// call; kind selects which view-model union member is populated.
type payload struct {
	Kind      string               `json:"kind"`
	Points    []domainmap.Point    `json:"points,omitempty"`
	Cells     []estimator.CellEstimate `json:"cells,omitempty"`
	Region    *domainmap.Region    `json:"region,omitempty"`
	Labels    []domainmap.GridLabel `json:"labels,omitempty"`
	DurationMs int64               `json:"duration_ms,omitempty"`
}

// WebSocketRenderer pushes each Renderer call as a JSON frame to connected
// clients, resolution-windowed so a burst of calls collapses to one frame
// per pushResolution interval.
type WebSocketRenderer struct {
	mu       sync.Mutex
	conns    []*websocket.Conn
	viewport domainmap.Viewport
	last     time.Time
}

// NewWebSocketRenderer constructs a renderer with no connections attached
// yet; Attach registers a client connection to push frames to.
func NewWebSocketRenderer(initialViewport domainmap.Viewport) *WebSocketRenderer {
	return &WebSocketRenderer{viewport: initialViewport}
}

// Attach registers a websocket connection to receive pushed frames.
func (r *WebSocketRenderer) Attach(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, conn)
}

// push writes p to every attached connection, dropping the frame if the
// last push was within pushResolution.
func (r *WebSocketRenderer) push(p payload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.last) < pushResolution {
		return
	}
	r.last = time.Now()

	for _, conn := range r.conns {
		if err := conn.WriteJSON(p); err != nil {
			logrus.Warnf("renderer: websocket push failed: %v", err)
		}
	}
}

func (r *WebSocketRenderer) SetPoints(points []domainmap.Point) {
	r.push(payload{Kind: "points", Points: points})
}

func (r *WebSocketRenderer) SetHeatmap(cells []estimator.CellEstimate, region domainmap.Region) {
	r.push(payload{Kind: "heatmap", Cells: cells, Region: &region})
}

func (r *WebSocketRenderer) SetLabels(labels []domainmap.GridLabel) {
	r.push(payload{Kind: "labels", Labels: labels})
}

func (r *WebSocketRenderer) GetViewport() domainmap.Viewport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewport
}

// SetViewport lets the owning goroutine update the viewport atom that
// GetViewport reads (e.g. after a pan/zoom from the client).
func (r *WebSocketRenderer) SetViewport(v domainmap.Viewport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewport = v
}

// TransitionTo pushes a transition frame, capping duration at
// MaxTransitionDuration.
func (r *WebSocketRenderer) TransitionTo(region domainmap.Region, duration time.Duration) {
	if duration > MaxTransitionDuration {
		duration = MaxTransitionDuration
	}
	r.push(payload{Kind: "transition", Region: &region, DurationMs: duration.Milliseconds()})
}
