package questionnaire

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/upstream"
)

type documentSourceREST struct {
	client *upstream.Client
}

// NewDocumentSourceREST returns a DocumentSource backed by the wrapped
// store's REST interface.
func NewDocumentSourceREST(client *upstream.Client) DocumentSource {
	return &documentSourceREST{client: client}
}

func (s *documentSourceREST) FetchByID(ctx context.Context, kind Kind, id string) (*Document, error) {
	payload, err := s.client.Read(ctx, kind.String(), id)
	if err != nil {
		return nil, err
	}
	return decodeDocument(kind, payload)
}

func (s *documentSourceREST) FetchByCanonical(ctx context.Context, kind Kind, ref fhir.CanonicalReference) (*Document, error) {
	payload, err := s.client.ResolveCanonical(ctx, kind.String(), ref)
	if err != nil {
		return nil, err
	}
	return decodeDocument(kind, payload)
}

func decodeDocument(kind Kind, payload []byte) (*Document, error) {
	var resource map[string]interface{}
	if err := json.Unmarshal(payload, &resource); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", upstream.ErrMalformed, kind, err)
	}
	return NewDocument(kind, resource), nil
}
