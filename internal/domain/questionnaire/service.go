package questionnaire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/upstream"
)

var (
	// ErrNotAQuestionnaire rejects payloads whose resourceType is wrong.
	ErrNotAQuestionnaire = errors.New("resource must be of type Questionnaire")

	// ErrInvalidQuestionnaire rejects write payloads that fail the
	// structural checks applied in front of lenient stores.
	ErrInvalidQuestionnaire = errors.New("questionnaire failed validation")

	// ErrIDMismatch rejects updates whose body id contradicts the path.
	ErrIDMismatch = errors.New("resource id does not match the request path")

	// ErrReadOnlyStore blocks write interactions against read-only
	// providers.
	ErrReadOnlyStore = errors.New("wrapped store is read-only")

	// ErrLanguageUnavailable means the questionnaire carries no
	// translations for the requested language.
	ErrLanguageUnavailable = errors.New("language not available")
)

// Service implements the packaging, localization, and proxy operations for
// questionnaires. Packaging reads go through the DocumentSource; the proxy
// endpoints forward to the store client directly so upstream validation
// responses reach the caller unchanged.
type Service struct {
	source     DocumentSource
	store      *upstream.Client
	resolver   *Resolver
	clock      func() time.Time
	maxEntries int
	maxBytes   int
	logger     zerolog.Logger
}

func NewService(source DocumentSource, store *upstream.Client, logger zerolog.Logger) *Service {
	return &Service{
		source:   source,
		store:    store,
		resolver: NewResolver(source, logger),
		clock:    time.Now,
		logger:   logger,
	}
}

// SetClock overrides the timestamp source for assembled bundles.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// SetBundleLimits overrides the default package bundle limits.
func (s *Service) SetBundleLimits(maxEntries, maxBytes int) {
	s.maxEntries = maxEntries
	s.maxBytes = maxBytes
}

func (s *Service) newAssembler() *Assembler {
	a := NewAssembler(s.clock())
	a.SetLimits(s.maxEntries, s.maxBytes)
	return a
}

// PackageByID packages the questionnaire with the given logical id.
func (s *Service) PackageByID(ctx context.Context, id string, includeDeps bool) (*fhir.Bundle, error) {
	result, err := s.resolver.ResolveByID(ctx, id, includeDeps)
	if err != nil {
		return nil, err
	}
	return s.newAssembler().Assemble(result)
}

// PackageByCanonical packages the questionnaire identified by a canonical
// reference.
func (s *Service) PackageByCanonical(ctx context.Context, ref fhir.CanonicalReference, includeDeps bool) (*fhir.Bundle, error) {
	result, err := s.resolver.ResolveByCanonical(ctx, ref, includeDeps)
	if err != nil {
		return nil, err
	}
	return s.newAssembler().Assemble(result)
}

// PackageResource packages a caller-supplied questionnaire without fetching
// the root from the store.
func (s *Service) PackageResource(ctx context.Context, resource map[string]interface{}, includeDeps bool) (*fhir.Bundle, error) {
	if resourceType, _ := resource["resourceType"].(string); resourceType != "Questionnaire" {
		return nil, ErrNotAQuestionnaire
	}
	result, err := s.resolver.ResolveDocument(ctx, NewDocument(KindQuestionnaire, resource), includeDeps)
	if err != nil {
		return nil, err
	}
	return s.newAssembler().Assemble(result)
}

// LocalizeQuestionnaire fetches a questionnaire and reduces it to the
// requested language. The available languages are returned alongside so
// callers can report them when the requested one is missing.
func (s *Service) LocalizeQuestionnaire(ctx context.Context, id, language string) (map[string]interface{}, []string, error) {
	doc, err := s.source.FetchByID(ctx, KindQuestionnaire, id)
	if err != nil {
		return nil, nil, err
	}
	available := AvailableLanguages(doc.Resource)
	if !SupportsLanguage(doc.Resource, language) {
		return nil, available, fmt.Errorf("%w: %q", ErrLanguageUnavailable, language)
	}
	return Localize(doc.Resource, language), available, nil
}

// GetQuestionnaire reads one questionnaire from the store.
func (s *Service) GetQuestionnaire(ctx context.Context, id string) (json.RawMessage, error) {
	return s.store.Read(ctx, "Questionnaire", id)
}

// SearchQuestionnaires forwards a search to the store.
func (s *Service) SearchQuestionnaires(ctx context.Context, params url.Values) (*upstream.Result, error) {
	return s.store.Search(ctx, "Questionnaire", params)
}

// CreateQuestionnaire forwards a create after the write checks.
func (s *Service) CreateQuestionnaire(ctx context.Context, body []byte) (*upstream.Result, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if _, err := s.validateWrite(body); err != nil {
		return nil, err
	}
	return s.store.Create(ctx, "Questionnaire", body)
}

// UpdateQuestionnaire forwards an update. Updates never create: a missing
// id answers not-found instead of letting the store create on update.
func (s *Service) UpdateQuestionnaire(ctx context.Context, id string, body []byte) (*upstream.Result, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	resource, err := s.validateWrite(body)
	if err != nil {
		return nil, err
	}
	if bodyID, ok := resource["id"].(string); ok && bodyID != "" && bodyID != id {
		return nil, ErrIDMismatch
	}
	if resource["id"] != id {
		resource["id"] = id
		body, err = json.Marshal(resource)
		if err != nil {
			return nil, fmt.Errorf("encode questionnaire: %w", err)
		}
	}
	if _, err := s.store.Read(ctx, "Questionnaire", id); err != nil {
		return nil, err
	}
	return s.store.Update(ctx, "Questionnaire", id, body)
}

// DeleteQuestionnaire forwards a delete.
func (s *Service) DeleteQuestionnaire(ctx context.Context, id string) (*upstream.Result, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	return s.store.Delete(ctx, "Questionnaire", id)
}

func (s *Service) checkWritable() error {
	if provider := s.store.Provider(); provider.ReadOnly {
		return fmt.Errorf("%w: provider %s accepts no writes", ErrReadOnlyStore, provider.ID)
	}
	return nil
}

// validateWrite parses a write payload and applies the structural checks a
// lenient store would skip. Strict stores validate on their own and their
// outcome passes through to the caller, so behavior stays uniform across
// providers.
func (s *Service) validateWrite(body []byte) (map[string]interface{}, error) {
	var resource map[string]interface{}
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestionnaire, err)
	}
	if resourceType, _ := resource["resourceType"].(string); resourceType != "Questionnaire" {
		return nil, ErrNotAQuestionnaire
	}
	if !s.store.Provider().ValidationStrict {
		if status, _ := resource["status"].(string); status == "" {
			return nil, fmt.Errorf("%w: Questionnaire.status is required", ErrInvalidQuestionnaire)
		}
	}
	return resource, nil
}
