package questionnaire

import (
	"context"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
)

// DocumentSource retrieves single documents from the wrapped store. Both
// calls are one synchronous round-trip; errors follow the upstream sentinel
// taxonomy (ErrNotFound, ErrUnreachable, ErrMalformed).
type DocumentSource interface {
	FetchByID(ctx context.Context, kind Kind, id string) (*Document, error)
	FetchByCanonical(ctx context.Context, kind Kind, ref fhir.CanonicalReference) (*Document, error)
}
