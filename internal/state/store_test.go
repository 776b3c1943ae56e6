package state

import (
	"encoding/json"
	"testing"

	"github.com/conceptmapper/mapcore/internal/domainmap"
	"github.com/conceptmapper/mapcore/internal/recommend"
	"github.com/conceptmapper/mapcore/internal/sampler"
)

func TestInit_FreshInstallWritesSchemaAndIsCompatible(t *testing.T) {
	kv := NewMemoryStore()
	s := New(kv, recommend.New())
	incompatible := s.Init()
	if incompatible {
		t.Fatal("a fresh install should not report incompatible")
	}
	var got string
	if !getJSON(kv, keySchema, &got) || got != CurrentSchemaVersion {
		t.Fatalf("expected persisted schema %q, got %q", CurrentSchemaVersion, got)
	}
}

// Invariant 12: schema gate clears responses and reports incompatible
// after a schema mismatch.
func TestInit_SchemaMismatchClearsResponsesAndReportsIncompatible(t *testing.T) {
	kv := NewMemoryStore()
	_ = setJSON(kv, keySchema, "0-corrupted")
	_ = setJSON(kv, keyResponses, []domainmap.Response{{QuestionID: "q1"}})

	s := New(kv, recommend.New())
	incompatible := s.Init()
	if !incompatible {
		t.Fatal("expected schema mismatch to report incompatible")
	}
	if len(s.Responses()) != 0 {
		t.Fatalf("expected responses cleared, got %v", s.Responses())
	}

	var got string
	_ = getJSON(kv, keySchema, &got)
	if got != CurrentSchemaVersion {
		t.Fatalf("expected schema rewritten to %q, got %q", CurrentSchemaVersion, got)
	}
}

func TestInit_MatchingSchemaLoadsResponses(t *testing.T) {
	kv := NewMemoryStore()
	_ = setJSON(kv, keySchema, CurrentSchemaVersion)
	_ = setJSON(kv, keyResponses, []domainmap.Response{{QuestionID: "q1"}, {QuestionID: "q2"}})

	s := New(kv, recommend.New())
	incompatible := s.Init()
	if incompatible {
		t.Fatal("matching schema should not report incompatible")
	}
	if len(s.Responses()) != 2 {
		t.Fatalf("expected 2 restored responses, got %d", len(s.Responses()))
	}
}

func TestAddResponse_PersistsAndUpdatesComputedAtoms(t *testing.T) {
	kv := NewMemoryStore()
	s := New(kv, recommend.New())
	s.Init()

	if s.InsightsAvailable() {
		t.Fatal("insights should not be available with zero responses")
	}
	for i := 0; i < 10; i++ {
		if err := s.AddResponse(domainmap.Response{QuestionID: "q" + string(rune('a'+i))}); err != nil {
			t.Fatalf("AddResponse: %v", err)
		}
	}
	if !s.InsightsAvailable() {
		t.Fatal("insights should be available after 10 responses")
	}
	if len(s.AnsweredIDs()) != 10 {
		t.Fatalf("expected 10 answered ids, got %d", len(s.AnsweredIDs()))
	}

	var persisted []domainmap.Response
	if !getJSON(kv, keyResponses, &persisted) || len(persisted) != 10 {
		t.Fatalf("expected 10 persisted responses, got %d", len(persisted))
	}
}

func TestMarkWatched_PersistsSet(t *testing.T) {
	kv := NewMemoryStore()
	s := New(kv, recommend.New())
	s.Init()

	if err := s.MarkWatched("v1"); err != nil {
		t.Fatalf("MarkWatched: %v", err)
	}
	if !s.IsWatched("v1") {
		t.Fatal("expected v1 marked watched")
	}
	if s.IsWatched("v2") {
		t.Fatal("v2 should not be watched")
	}

	var ids []string
	if !getJSON(kv, keyWatchedVideos, &ids) || len(ids) != 1 || ids[0] != "v1" {
		t.Fatalf("expected persisted watched list [v1], got %v", ids)
	}
}

func TestCoverageAndPhase_ZeroAndCalibrateWithoutEstimates(t *testing.T) {
	s := New(NewMemoryStore(), recommend.New())
	if s.Coverage() != 0 {
		t.Fatalf("expected zero coverage with no estimates, got %v", s.Coverage())
	}
	if s.Phase() != sampler.PhaseCalibrate {
		t.Fatalf("expected calibrate phase with no responses, got %v", s.Phase())
	}
}

func TestSetNextQuestion_RoundTrips(t *testing.T) {
	s := New(NewMemoryStore(), recommend.New())
	if s.NextQuestion() != nil {
		t.Fatal("expected nil next question initially")
	}
	sel := &sampler.Selection{QuestionID: "q1", Score: 0.5}
	s.SetNextQuestion(sel)
	if got := s.NextQuestion(); got == nil || got.QuestionID != "q1" {
		t.Fatalf("expected cached selection, got %+v", got)
	}
}

func TestExport_ProducesExpectedShape(t *testing.T) {
	kv := NewMemoryStore()
	s := New(kv, recommend.New())
	s.Init()
	_ = s.AddResponse(domainmap.Response{QuestionID: "q1", DomainID: "d1", Selected: "B", IsCorrect: true, Timestamp: 123, X: 0.1, Y: 0.2})

	blob, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	var parsed ExportBlob
	if err := json.Unmarshal(blob, &parsed); err != nil {
		t.Fatalf("unmarshal export blob: %v", err)
	}
	if parsed.SchemaVersion != CurrentSchemaVersion {
		t.Fatalf("expected schema version %q, got %q", CurrentSchemaVersion, parsed.SchemaVersion)
	}
	if len(parsed.Responses) != 1 || parsed.Responses[0].QuestionID != "q1" {
		t.Fatalf("expected 1 exported response for q1, got %+v", parsed.Responses)
	}
	if parsed.ExportedAt == "" {
		t.Fatal("expected a non-empty exported_at timestamp")
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	kv := NewMemoryStore()
	rec := recommend.New()
	s := New(kv, rec)
	s.Init()
	_ = s.AddResponse(domainmap.Response{QuestionID: "q1"})
	_ = s.MarkWatched("v1")
	s.SetActiveDomain("d1")
	s.SetQuestionMode(sampler.ModeEasy)

	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if len(s.Responses()) != 0 {
		t.Fatal("expected responses cleared after reset")
	}
	if s.IsWatched("v1") {
		t.Fatal("expected watched set cleared after reset")
	}
	if s.ActiveDomain() != "" {
		t.Fatal("expected active domain cleared after reset")
	}
	if s.QuestionMode() != sampler.ModeAuto {
		t.Fatalf("expected question mode reset to auto, got %v", s.QuestionMode())
	}
}
