// Package loader implements the collaborator boundaries the core suspends
// on: domain bundle fetches and the video catalog fetch, with progress
// events throttled to 100 ms between notifications.
package loader

import (
	"context"

	"github.com/conceptmapper/mapcore/internal/domainmap"
)

// Progress reports bytes read so far out of a (possibly unknown) total.
type Progress struct {
	BytesRead int64
	Total     int64 // 0 when unknown
}

// Callbacks bundles the three notifications a Load call can make, adapted
// to Go's callback idiom since this package has no promise type.
type Callbacks struct {
	OnProgress func(Progress)
	OnComplete func(domainmap.DomainBundle)
	OnError    func(error)
}

// Loader is the collaborator the core depends on for domain and video
// data. Load blocks until the bundle is fully read or reading fails; loads
// are not cancellable. Progress/complete/error callbacks fire from the
// calling goroutine. On
// error the core remains usable with whatever was already loaded.
type Loader interface {
	Load(ctx context.Context, domainID string, cb Callbacks) (domainmap.DomainBundle, error)
	Registry(ctx context.Context) (domainmap.DomainRegistry, error)
}

// VideoCallbacks mirrors Callbacks for the video-catalog load.
type VideoCallbacks struct {
	OnProgress func(Progress)
	OnComplete func([]domainmap.Video)
	OnError    func(error)
}

// VideoLoader is the video-catalog counterpart of Loader.
type VideoLoader interface {
	StartBackgroundLoad(ctx context.Context, cb VideoCallbacks)
	GetVideos(ctx context.Context) ([]domainmap.Video, error)
}
