package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	channerics "github.com/niceyeti/channerics/channels"
	"github.com/sirupsen/logrus"

	"github.com/conceptmapper/mapcore/internal/domainmap"
)

const progressThrottle = 100 * time.Millisecond
const readChunkSize = 4096

// JSONLoader is the file-backed Loader/VideoLoader implementation: reads
// data/domains/index.json, data/domains/{id}.json, and
// data/videos/catalog.json from a configurable base directory.
type JSONLoader struct {
	baseDir string
}

// NewJSONLoader constructs a JSONLoader rooted at baseDir (containing
// domains/ and videos/ subdirectories).
func NewJSONLoader(baseDir string) *JSONLoader {
	return &JSONLoader{baseDir: baseDir}
}

// readWithProgress reads all of r's bytes, emitting throttled progress
// events: at most one per progressThrottle, but the final event (complete
// read) is always delivered regardless of timing.
func readWithProgress(done <-chan struct{}, r io.Reader, total int64, onProgress func(Progress)) ([]byte, error) {
	if onProgress == nil {
		return io.ReadAll(r)
	}

	ticks := channerics.NewTicker(done, progressThrottle)
	var buf []byte
	chunk := make([]byte, readChunkSize)
	var pending *Progress

	flush := func(p Progress) {
		onProgress(p)
		pending = nil
	}

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			p := Progress{BytesRead: int64(len(buf)), Total: total}
			pending = &p
		}

		select {
		case <-ticks:
			if pending != nil {
				flush(*pending)
			}
		default:
		}

		if err == io.EOF {
			if pending != nil {
				flush(*pending)
			}
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (l *JSONLoader) domainBundlePath(domainID string) string {
	return filepath.Join(l.baseDir, "domains", domainID+".json")
}

func (l *JSONLoader) registryPath() string {
	return filepath.Join(l.baseDir, "domains", "index.json")
}

func (l *JSONLoader) videoCatalogPath() string {
	return filepath.Join(l.baseDir, "videos", "catalog.json")
}

// Registry reads the domain registry file.
func (l *JSONLoader) Registry(ctx context.Context) (domainmap.DomainRegistry, error) {
	var registry domainmap.DomainRegistry
	b, err := os.ReadFile(l.registryPath())
	if err != nil {
		return registry, fmt.Errorf("reading domain registry: %w", err)
	}
	if err := json.Unmarshal(b, &registry); err != nil {
		return registry, fmt.Errorf("decoding domain registry: %w", err)
	}
	return registry, nil
}

// Load reads one domain bundle file, reporting throttled progress and
// invoking the matching callback. On error the core is expected to remain
// usable with whatever is already loaded; Load both returns the error and
// invokes cb.OnError so callers that only poll the return value and those
// that only subscribe to callbacks both observe the failure.
func (l *JSONLoader) Load(ctx context.Context, domainID string, cb Callbacks) (domainmap.DomainBundle, error) {
	var bundle domainmap.DomainBundle

	path := l.domainBundlePath(domainID)
	f, err := os.Open(path)
	if err != nil {
		wrapped := fmt.Errorf("opening domain bundle %q: %w", domainID, err)
		l.fail(cb, wrapped)
		return bundle, wrapped
	}
	defer f.Close()

	var total int64
	if info, statErr := f.Stat(); statErr == nil {
		total = info.Size()
	}

	b, err := readWithProgress(ctx.Done(), f, total, cb.OnProgress)
	if err != nil {
		wrapped := fmt.Errorf("reading domain bundle %q: %w", domainID, err)
		l.fail(cb, wrapped)
		return bundle, wrapped
	}

	if err := json.Unmarshal(b, &bundle); err != nil {
		wrapped := fmt.Errorf("decoding domain bundle %q: %w", domainID, err)
		l.fail(cb, wrapped)
		return bundle, wrapped
	}

	if cb.OnComplete != nil {
		cb.OnComplete(bundle)
	}
	return bundle, nil
}

func (l *JSONLoader) fail(cb Callbacks, err error) {
	logrus.Warnf("loader: %v", err)
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// GetVideos reads the video catalog file synchronously.
func (l *JSONLoader) GetVideos(ctx context.Context) ([]domainmap.Video, error) {
	b, err := os.ReadFile(l.videoCatalogPath())
	if err != nil {
		return nil, fmt.Errorf("reading video catalog: %w", err)
	}
	var videos []domainmap.Video
	if err := json.Unmarshal(b, &videos); err != nil {
		return nil, fmt.Errorf("decoding video catalog: %w", err)
	}
	return videos, nil
}

// StartBackgroundLoad fetches the video catalog in its own goroutine,
// reporting progress/completion/error via cb.
func (l *JSONLoader) StartBackgroundLoad(ctx context.Context, cb VideoCallbacks) {
	go func() {
		path := l.videoCatalogPath()
		f, err := os.Open(path)
		if err != nil {
			wrapped := fmt.Errorf("opening video catalog: %w", err)
			logrus.Warnf("loader: %v", wrapped)
			if cb.OnError != nil {
				cb.OnError(wrapped)
			}
			return
		}
		defer f.Close()

		var total int64
		if info, statErr := f.Stat(); statErr == nil {
			total = info.Size()
		}

		b, err := readWithProgress(ctx.Done(), f, total, cb.OnProgress)
		if err != nil {
			wrapped := fmt.Errorf("reading video catalog: %w", err)
			logrus.Warnf("loader: %v", wrapped)
			if cb.OnError != nil {
				cb.OnError(wrapped)
			}
			return
		}

		var videos []domainmap.Video
		if err := json.Unmarshal(b, &videos); err != nil {
			wrapped := fmt.Errorf("decoding video catalog: %w", err)
			logrus.Warnf("loader: %v", wrapped)
			if cb.OnError != nil {
				cb.OnError(wrapped)
			}
			return
		}

		if cb.OnComplete != nil {
			cb.OnComplete(videos)
		}
	}()
}
