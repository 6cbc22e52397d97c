package questionnaire

import (
	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
)

// Kind enumerates the document kinds the packaging operation can traverse.
// KindUnknown is a real variant, not an error: extraction maps it to an
// empty edge list so an unexpected payload never breaks a run.
type Kind int

const (
	KindUnknown Kind = iota
	KindQuestionnaire
	KindValueSet
	KindCodeSystem
	KindLibrary
	KindStructureMap
)

var kindNames = map[Kind]string{
	KindQuestionnaire: "Questionnaire",
	KindValueSet:      "ValueSet",
	KindCodeSystem:    "CodeSystem",
	KindLibrary:       "Library",
	KindStructureMap:  "StructureMap",
}

// String returns the FHIR resource type name for the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// KindFromResourceType maps a FHIR resourceType value to a Kind.
func KindFromResourceType(resourceType string) Kind {
	switch resourceType {
	case "Questionnaire":
		return KindQuestionnaire
	case "ValueSet":
		return KindValueSet
	case "CodeSystem":
		return KindCodeSystem
	case "Library":
		return KindLibrary
	case "StructureMap":
		return KindStructureMap
	default:
		return KindUnknown
	}
}

// Document is one fetched resource together with the identity it resolves
// under. The payload stays schemaless because the service proxies resources
// it does not own; Kind and Ref are derived once at construction.
type Document struct {
	Kind     Kind
	Ref      fhir.CanonicalReference
	Resource map[string]interface{}
}

// NewDocument wraps a decoded resource. The canonical reference comes from
// the resource's url and version elements; a resource without a url yields
// a zero Ref, which the resolver replaces with a synthetic identity.
func NewDocument(kind Kind, resource map[string]interface{}) *Document {
	doc := &Document{Kind: kind, Resource: resource}
	if resource != nil {
		url, _ := resource["url"].(string)
		version, _ := resource["version"].(string)
		doc.Ref = fhir.CanonicalReference{URL: url, Version: version}
	}
	return doc
}

// ID returns the resource's logical id, if present.
func (d *Document) ID() string {
	if d.Resource == nil {
		return ""
	}
	id, _ := d.Resource["id"].(string)
	return id
}

// Edge is one outgoing typed reference discovered by extraction.
type Edge struct {
	Kind Kind
	Ref  fhir.CanonicalReference
}

// ResolutionFailure records a reference that could not be fetched. The
// resolver produces at most one failure per distinct reference per run.
type ResolutionFailure struct {
	Kind   Kind
	Ref    fhir.CanonicalReference
	Reason string
}

// PackageResult is the transient outcome of one resolution run. Resolved
// holds the root at index 0 followed by dependencies in discovery order;
// it is never persisted or shared across requests.
type PackageResult struct {
	Resolved            []*Document
	Failures            []ResolutionFailure
	IncludeDependencies bool
}

// Root returns the root document of the run.
func (r *PackageResult) Root() *Document {
	if len(r.Resolved) == 0 {
		return nil
	}
	return r.Resolved[0]
}
