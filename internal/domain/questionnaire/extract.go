package questionnaire

import (
	"strings"

	"github.com/BIH-CEI/fhir-sdc-questionnaire-service/internal/platform/fhir"
)

// Extension URLs that attach libraries and target structure maps to a
// Questionnaire.
const (
	extCQFLibrary         = "http://hl7.org/fhir/StructureDefinition/cqf-library"
	extSDCLibrary         = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-library"
	extTargetStructureMap = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-targetStructureMap"
)

// externalTerminologySystems hold terminology served outside any wrapped
// store (LOINC, SNOMED CT). Includes naming them are never turned into
// CodeSystem edges.
var externalTerminologySystems = []string{"loinc.org", "snomed.info"}

// References lists the outgoing canonical references of a document in
// document order. It is pure and total: malformed substructures contribute
// no edges and never disturb extraction of their siblings, and unknown
// kinds yield nil.
func References(doc *Document) []Edge {
	if doc == nil || doc.Resource == nil {
		return nil
	}
	switch doc.Kind {
	case KindQuestionnaire:
		return questionnaireEdges(doc.Resource)
	case KindValueSet:
		return valueSetEdges(doc.Resource)
	default:
		// CodeSystem, Library, and StructureMap are terminal kinds.
		return nil
	}
}

// questionnaireEdges walks item[] for answerValueSet bindings, then the
// root-level extensions for library and structure map attachments.
func questionnaireEdges(resource map[string]interface{}) []Edge {
	edges := answerValueSetEdges(asSlice(resource["item"]))

	for _, raw := range asSlice(resource["extension"]) {
		ext, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := ext["url"].(string)
		switch url {
		case extCQFLibrary, extSDCLibrary:
			if ref := libraryReference(ext); !ref.IsZero() {
				edges = append(edges, Edge{Kind: KindLibrary, Ref: ref})
			}
		case extTargetStructureMap:
			if canonical, ok := ext["valueCanonical"].(string); ok && canonical != "" {
				edges = append(edges, Edge{Kind: KindStructureMap, Ref: fhir.ParseCanonical(canonical)})
			}
		}
	}
	return edges
}

// answerValueSetEdges descends nested items in document order.
func answerValueSetEdges(items []interface{}) []Edge {
	var edges []Edge
	for _, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if binding, ok := item["answerValueSet"].(string); ok && binding != "" {
			edges = append(edges, Edge{Kind: KindValueSet, Ref: fhir.ParseCanonical(binding)})
		}
		edges = append(edges, answerValueSetEdges(asSlice(item["item"]))...)
	}
	return edges
}

// libraryReference reads a library binding from either valueCanonical or
// valueReference.reference.
func libraryReference(ext map[string]interface{}) fhir.CanonicalReference {
	if canonical, ok := ext["valueCanonical"].(string); ok && canonical != "" {
		return fhir.ParseCanonical(canonical)
	}
	if valueRef, ok := ext["valueReference"].(map[string]interface{}); ok {
		if ref, ok := valueRef["reference"].(string); ok && ref != "" {
			return fhir.ParseCanonical(ref)
		}
	}
	return fhir.CanonicalReference{}
}

// valueSetEdges reads compose.include[]: a system element points at a
// CodeSystem, and each valueSet canonical points at another ValueSet. The
// latter edge type is what makes reference cycles possible.
func valueSetEdges(resource map[string]interface{}) []Edge {
	var edges []Edge
	compose, _ := resource["compose"].(map[string]interface{})
	for _, raw := range asSlice(compose["include"]) {
		include, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if system, ok := include["system"].(string); ok && system != "" && !isExternalTerminology(system) {
			ref := fhir.CanonicalReference{URL: system}
			if version, ok := include["version"].(string); ok {
				ref.Version = version
			}
			edges = append(edges, Edge{Kind: KindCodeSystem, Ref: ref})
		}
		for _, vsRaw := range asSlice(include["valueSet"]) {
			if canonical, ok := vsRaw.(string); ok && canonical != "" {
				edges = append(edges, Edge{Kind: KindValueSet, Ref: fhir.ParseCanonical(canonical)})
			}
		}
	}
	return edges
}

func isExternalTerminology(system string) bool {
	for _, external := range externalTerminologySystems {
		if strings.Contains(system, external) {
			return true
		}
	}
	return false
}

func asSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}
