package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/conceptmapper/mapcore/internal/domainmap"
)

func writeFixture(t *testing.T, dir, rel string, v interface{}) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(full, b, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestJSONLoader_RegistryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	registry := domainmap.DomainRegistry{
		SchemaVersion: "1",
		Domains: []domainmap.Domain{
			{ID: "d1", Name: "Domain One", Level: domainmap.LevelAll, GridSize: 10},
		},
	}
	writeFixture(t, dir, "domains/index.json", registry)

	l := NewJSONLoader(dir)
	got, err := l.Registry(context.Background())
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if len(got.Domains) != 1 || got.Domains[0].ID != "d1" {
		t.Fatalf("unexpected registry: %+v", got)
	}
}

func TestJSONLoader_LoadBundleInvokesOnComplete(t *testing.T) {
	dir := t.TempDir()
	bundle := domainmap.DomainBundle{
		Domain: domainmap.BundleDomain{
			Domain:      domainmap.Domain{ID: "d1", GridSize: 5},
			QuestionIDs: []string{"q1"},
		},
		Questions: []domainmap.Question{{ID: "q1", X: 0.5, Y: 0.5}},
	}
	writeFixture(t, dir, "domains/d1.json", bundle)

	l := NewJSONLoader(dir)
	var completed *domainmap.DomainBundle
	var progressEvents int
	cb := Callbacks{
		OnProgress: func(p Progress) { progressEvents++ },
		OnComplete: func(b domainmap.DomainBundle) { completed = &b },
	}
	got, err := l.Load(context.Background(), "d1", cb)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Domain.ID != "d1" {
		t.Fatalf("expected domain d1, got %+v", got.Domain)
	}
	if completed == nil || completed.Domain.ID != "d1" {
		t.Fatal("expected OnComplete to fire with the loaded bundle")
	}
	if progressEvents == 0 {
		t.Fatal("expected at least the final progress event (last-event-always-sent guarantee)")
	}
}

func TestJSONLoader_LoadMissingDomainReportsError(t *testing.T) {
	l := NewJSONLoader(t.TempDir())
	var reported error
	cb := Callbacks{OnError: func(err error) { reported = err }}
	_, err := l.Load(context.Background(), "missing", cb)
	if err == nil {
		t.Fatal("expected an error for a missing domain bundle")
	}
	if reported == nil {
		t.Fatal("expected OnError to be invoked")
	}
}

func TestJSONLoader_GetVideosSynchronous(t *testing.T) {
	dir := t.TempDir()
	videos := []domainmap.Video{
		{ID: "v1", Title: "Intro", Duration: 120, Windows: []domainmap.Point{{X: 0.1, Y: 0.1}}},
	}
	writeFixture(t, dir, "videos/catalog.json", videos)

	l := NewJSONLoader(dir)
	got, err := l.GetVideos(context.Background())
	if err != nil {
		t.Fatalf("GetVideos: %v", err)
	}
	if len(got) != 1 || got[0].ID != "v1" {
		t.Fatalf("unexpected videos: %+v", got)
	}
}

// TestJSONLoader_RealFixtures_RegistryHasNestedSubDomain exercises the
// repo's own data/ fixtures (not a synthetic t.TempDir one), verifying the
// registry carries both the `all` domain and a `sub`-level `algebra` domain
// whose region lies inside its parent's.
func TestJSONLoader_RealFixtures_RegistryHasNestedSubDomain(t *testing.T) {
	l := NewJSONLoader(filepath.Join("..", "..", "data"))
	registry, err := l.Registry(context.Background())
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}

	var parent, sub *domainmap.Domain
	for i := range registry.Domains {
		d := &registry.Domains[i]
		switch d.ID {
		case "all":
			parent = d
		case "algebra":
			sub = d
		}
	}
	if parent == nil || sub == nil {
		t.Fatalf("expected both 'all' and 'algebra' domains in registry, got %+v", registry.Domains)
	}
	if sub.Level != domainmap.LevelSub {
		t.Fatalf("expected algebra domain level 'sub', got %q", sub.Level)
	}
	if sub.ParentID == nil || *sub.ParentID != parent.ID {
		t.Fatalf("expected algebra's parent_id to be %q, got %v", parent.ID, sub.ParentID)
	}
	pr, sr := parent.Region, sub.Region
	if sr.XMin < pr.XMin || sr.XMax > pr.XMax || sr.YMin < pr.YMin || sr.YMax > pr.YMax {
		t.Fatalf("sub-domain region %+v does not lie inside parent region %+v", sr, pr)
	}

	bundle, err := l.Load(context.Background(), "algebra", Callbacks{})
	if err != nil {
		t.Fatalf("Load(algebra): %v", err)
	}
	if len(bundle.Questions) != 50 {
		t.Fatalf("expected 50 questions in algebra bundle, got %d", len(bundle.Questions))
	}
	if want := sub.GridSize * sub.GridSize; len(bundle.Labels) != want {
		t.Fatalf("expected %d grid labels (G*G), got %d", want, len(bundle.Labels))
	}
	for _, q := range bundle.Questions {
		if !sr.Contains(q.X, q.Y) {
			t.Fatalf("question %q at (%v,%v) lies outside its domain's region %+v", q.ID, q.X, q.Y, sr)
		}
	}
}

func TestJSONLoader_StartBackgroundLoadCompletesAsynchronously(t *testing.T) {
	dir := t.TempDir()
	videos := []domainmap.Video{{ID: "v1", Windows: []domainmap.Point{{X: 0.2, Y: 0.2}}}}
	writeFixture(t, dir, "videos/catalog.json", videos)

	l := NewJSONLoader(dir)
	done := make(chan struct{})
	var gotVideos []domainmap.Video
	cb := VideoCallbacks{
		OnComplete: func(v []domainmap.Video) {
			gotVideos = v
			close(done)
		},
		OnError: func(err error) {
			t.Errorf("unexpected error: %v", err)
			close(done)
		},
	}
	l.StartBackgroundLoad(context.Background(), cb)
	<-done

	if len(gotVideos) != 1 || gotVideos[0].ID != "v1" {
		t.Fatalf("unexpected videos from background load: %+v", gotVideos)
	}
}
