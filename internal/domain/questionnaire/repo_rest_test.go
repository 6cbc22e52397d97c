package questionnaire

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/upstream"
)

// ---------- Helper ----------

func newRESTSource(t *testing.T, handler http.HandlerFunc) DocumentSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := upstream.New(upstream.Config{
		BaseURL:  srv.URL,
		Provider: "hapi",
		Timeout:  5 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("upstream.New: %v", err)
	}
	return NewDocumentSourceREST(client)
}

// ---------- FetchByID ----------

func TestRESTSourceFetchByID(t *testing.T) {
	source := newRESTSource(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ValueSet/vs-1" {
			t.Errorf("path = %q, want /ValueSet/vs-1", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/fhir+json")
		w.Write([]byte(`{"resourceType":"ValueSet","id":"vs-1","url":"http://example.org/fhir/ValueSet/colors","version":"2.0.0","status":"active"}`))
	})

	doc, err := source.FetchByID(context.Background(), KindValueSet, "vs-1")
	if err != nil {
		t.Fatalf("FetchByID: %v", err)
	}
	if doc.Kind != KindValueSet {
		t.Errorf("Kind = %v, want KindValueSet", doc.Kind)
	}
	if doc.Ref.URL != "http://example.org/fhir/ValueSet/colors" || doc.Ref.Version != "2.0.0" {
		t.Errorf("Ref = %+v", doc.Ref)
	}
	if doc.ID() != "vs-1" {
		t.Errorf("ID() = %q", doc.ID())
	}
}

func TestRESTSourceFetchByIDNotFound(t *testing.T) {
	source := newRESTSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"not-found"}]}`))
	})

	_, err := source.FetchByID(context.Background(), KindQuestionnaire, "missing")
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Errorf("expected upstream.ErrNotFound, got %v", err)
	}
}

func TestRESTSourceFetchByIDWrongResourceType(t *testing.T) {
	source := newRESTSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resourceType":"Patient","id":"p1"}`))
	})

	_, err := source.FetchByID(context.Background(), KindValueSet, "p1")
	if !errors.Is(err, upstream.ErrMalformed) {
		t.Errorf("expected upstream.ErrMalformed, got %v", err)
	}
}

// ---------- FetchByCanonical ----------

func TestRESTSourceFetchByCanonicalVersioned(t *testing.T) {
	source := newRESTSource(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("url") != "http://example.org/fhir/ValueSet/colors" {
			t.Errorf("url param = %q", query.Get("url"))
		}
		if query.Get("version") != "2.0.0" {
			t.Errorf("version param = %q", query.Get("version"))
		}
		if query.Get("status") != "" {
			t.Errorf("a pinned version must not filter on status, got %q", query.Get("status"))
		}
		w.Write([]byte(`{"resourceType":"Bundle","type":"searchset","total":1,"entry":[{"resource":{"resourceType":"ValueSet","id":"vs-1","url":"http://example.org/fhir/ValueSet/colors","version":"2.0.0"}}]}`))
	})

	doc, err := source.FetchByCanonical(context.Background(), KindValueSet,
		fhir.CanonicalReference{URL: "http://example.org/fhir/ValueSet/colors", Version: "2.0.0"})
	if err != nil {
		t.Fatalf("FetchByCanonical: %v", err)
	}
	if doc.Ref.Version != "2.0.0" {
		t.Errorf("Ref.Version = %q", doc.Ref.Version)
	}
}

func TestRESTSourceFetchByCanonicalUnversioned(t *testing.T) {
	source := newRESTSource(t, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("status") != "active" {
			t.Errorf("status param = %q, want active", query.Get("status"))
		}
		if query.Get("_sort") != "-_lastUpdated" {
			t.Errorf("_sort param = %q", query.Get("_sort"))
		}
		if query.Get("_count") != "1" {
			t.Errorf("_count param = %q", query.Get("_count"))
		}
		w.Write([]byte(`{"resourceType":"Bundle","type":"searchset","total":1,"entry":[{"resource":{"resourceType":"CodeSystem","id":"cs-1","url":"http://example.org/fhir/CodeSystem/colors"}}]}`))
	})

	doc, err := source.FetchByCanonical(context.Background(), KindCodeSystem,
		fhir.CanonicalReference{URL: "http://example.org/fhir/CodeSystem/colors"})
	if err != nil {
		t.Fatalf("FetchByCanonical: %v", err)
	}
	if doc.Kind != KindCodeSystem {
		t.Errorf("Kind = %v", doc.Kind)
	}
}

func TestRESTSourceFetchByCanonicalNoMatch(t *testing.T) {
	source := newRESTSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resourceType":"Bundle","type":"searchset","total":0,"entry":[]}`))
	})

	_, err := source.FetchByCanonical(context.Background(), KindValueSet,
		fhir.CanonicalReference{URL: "http://example.org/fhir/ValueSet/missing"})
	if !errors.Is(err, upstream.ErrNotFound) {
		t.Errorf("expected upstream.ErrNotFound, got %v", err)
	}
}
