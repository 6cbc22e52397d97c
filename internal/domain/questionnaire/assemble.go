package questionnaire

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
)

// Package bundles are bounded so one questionnaire with a pathological
// dependency fan-out cannot produce an unserviceable response.
const (
	MaxBundleEntries   = 100
	MaxBundleSizeBytes = 20 * 1024 * 1024
)

// ErrBundleTooLarge is returned when an assembled bundle exceeds the entry
// or byte limits.
var ErrBundleTooLarge = errors.New("package bundle exceeds size limits")

// packageTag marks package bundles so consumers can tell them apart from
// ordinary search results.
var packageTag = fhir.Coding{
	System:  "http://hl7.org/fhir/uv/sdc/CodeSystem/bundle-tag",
	Code:    "questionnaire-package",
	Display: "Questionnaire Package",
}

// Assembler turns a resolution result into a collection Bundle. The
// timestamp is fixed at construction, and the bundle id is derived from the
// root reference, so assembling one result twice yields identical bytes.
type Assembler struct {
	timestamp  time.Time
	maxEntries int
	maxBytes   int
}

func NewAssembler(timestamp time.Time) *Assembler {
	return &Assembler{
		timestamp:  timestamp.UTC(),
		maxEntries: MaxBundleEntries,
		maxBytes:   MaxBundleSizeBytes,
	}
}

// SetLimits overrides the default entry and byte limits. Non-positive
// values keep the current limit.
func (a *Assembler) SetLimits(maxEntries, maxBytes int) {
	if maxEntries > 0 {
		a.maxEntries = maxEntries
	}
	if maxBytes > 0 {
		a.maxBytes = maxBytes
	}
}

// Assemble builds the bundle: entry 0 is the root, entries 1..k the
// dependencies in discovery order, then one OperationOutcome entry when any
// reference failed to resolve. It never reorders and never re-deduplicates;
// both are the resolver's contract.
func (a *Assembler) Assemble(result *PackageResult) (*fhir.Bundle, error) {
	root := result.Root()
	if root == nil {
		return nil, errors.New("assemble: resolution result has no root")
	}

	bundle := fhir.NewCollectionBundle(bundleID(root), packageTag, a.timestamp)

	for _, doc := range result.Resolved {
		raw, err := json.Marshal(doc.Resource)
		if err != nil {
			return nil, fmt.Errorf("assemble: encode %s: %w", doc.Kind, err)
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			FullURL:  doc.Ref.URL,
			Resource: raw,
		})
	}

	if len(result.Failures) > 0 {
		raw, err := json.Marshal(failureOutcome(result.Failures))
		if err != nil {
			return nil, fmt.Errorf("assemble: encode outcome: %w", err)
		}
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{Resource: raw})
	}

	if len(bundle.Entry) > a.maxEntries {
		return nil, fmt.Errorf("%w: %d entries exceed the maximum of %d; consider includeDependencies=false or a modular questionnaire design",
			ErrBundleTooLarge, len(bundle.Entry), a.maxEntries)
	}
	encoded, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("assemble: encode bundle: %w", err)
	}
	if len(encoded) > a.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceed the maximum of %d; consider includeDependencies=false or a modular questionnaire design",
			ErrBundleTooLarge, len(encoded), a.maxBytes)
	}

	return bundle, nil
}

// bundleID derives a stable id from the root's resolution identity.
func bundleID(root *Document) string {
	sum := sha256.Sum256([]byte(root.Ref.Key()))
	return "package-" + hex.EncodeToString(sum[:8])
}

// severityFor maps a failed kind to its issue severity. A missing value set
// or library degrades how usable the package is; a missing code system or
// structure map is informational.
func severityFor(kind Kind) string {
	switch kind {
	case KindCodeSystem, KindStructureMap:
		return fhir.IssueSeverityInformation
	default:
		return fhir.IssueSeverityWarning
	}
}

func failureOutcome(failures []ResolutionFailure) *fhir.OperationOutcome {
	builder := fhir.NewOutcomeBuilder()
	for _, failure := range failures {
		builder.AddIssue(severityFor(failure.Kind), fhir.IssueTypeNotFound,
			fmt.Sprintf("Referenced %s not found: %s", failure.Kind, failure.Ref))
	}
	return builder.Build()
}
