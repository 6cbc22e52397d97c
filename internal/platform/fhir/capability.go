package fhir

import (
	"sort"
	"sync"
	"time"
)

// SearchParam describes a search parameter for use with the CapabilityBuilder.
type SearchParam struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

// OperationCapability describes an operation offered on a resource type.
type OperationCapability struct {
	Name          string `json:"name"`
	Definition    string `json:"definition"`
	Documentation string `json:"documentation,omitempty"`
}

// resourceEntry accumulates registration data for one resource type.
type resourceEntry struct {
	resourceType string
	interactions []string
	searchParams []SearchParam
	operations   []OperationCapability
}

// CapabilityBuilder accumulates resource registrations from handlers and
// builds the /fhir/metadata CapabilityStatement. The statement declares
// conformance to the SDC Form Manager role so clients can discover the
// $package operation.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	resources map[string]*resourceEntry

	ServerName          string
	ServerVersion       string
	BaseURL             string
	Instantiates        []string
	ImplementationGuide []string
}

// NewCapabilityBuilder creates a builder with the given implementation URL
// and software version.
func NewCapabilityBuilder(baseURL, version string) *CapabilityBuilder {
	return &CapabilityBuilder{
		resources:     make(map[string]*resourceEntry),
		ServerName:    "FHIR SDC Questionnaire Service",
		ServerVersion: version,
		BaseURL:       baseURL,
		Instantiates: []string{
			"http://hl7.org/fhir/uv/sdc/CapabilityStatement/sdc-form-manager",
		},
		ImplementationGuide: []string{
			"http://hl7.org/fhir/uv/sdc/ImplementationGuide/hl7.fhir.uv.sdc",
		},
	}
}

// AddResource registers a resource type with its interactions and search
// parameters. Registering the same type again replaces the previous entry.
func (b *CapabilityBuilder) AddResource(resourceType string, interactions []string, searchParams []SearchParam) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resources[resourceType] = &resourceEntry{
		resourceType: resourceType,
		interactions: interactions,
		searchParams: searchParams,
	}
}

// AddOperation attaches an operation to an already-registered resource type.
func (b *CapabilityBuilder) AddOperation(resourceType string, op OperationCapability) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.resources[resourceType]
	if !ok {
		entry = &resourceEntry{resourceType: resourceType}
		b.resources[resourceType] = entry
	}
	entry.operations = append(entry.operations, op)
}

// DefaultInteractions returns the interactions the proxy forwards upstream.
func DefaultInteractions() []string {
	return []string{"read", "search-type", "create", "update", "delete"}
}

// Build renders the CapabilityStatement. Resource types are sorted so the
// output is deterministic.
func (b *CapabilityBuilder) Build() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)

	resources := make([]map[string]interface{}, 0, len(types))
	for _, rt := range types {
		resources = append(resources, b.buildResourceEntry(b.resources[rt]))
	}

	rest := map[string]interface{}{
		"mode":     "server",
		"resource": resources,
	}

	return map[string]interface{}{
		"resourceType":        "CapabilityStatement",
		"status":              "active",
		"date":                time.Now().UTC().Format("2006-01-02"),
		"kind":                "instance",
		"fhirVersion":         "4.0.1",
		"format":              []string{"json"},
		"instantiates":        b.Instantiates,
		"implementationGuide": b.ImplementationGuide,
		"software": map[string]string{
			"name":    b.ServerName,
			"version": b.ServerVersion,
		},
		"implementation": map[string]string{
			"description": "SDC packaging facade over an external FHIR store",
			"url":         b.BaseURL,
		},
		"rest": []map[string]interface{}{rest},
	}
}

func (b *CapabilityBuilder) buildResourceEntry(entry *resourceEntry) map[string]interface{} {
	res := map[string]interface{}{
		"type": entry.resourceType,
	}

	if len(entry.interactions) > 0 {
		ia := make([]map[string]string, len(entry.interactions))
		for i, code := range entry.interactions {
			ia[i] = map[string]string{"code": code}
		}
		res["interaction"] = ia
	}

	if len(entry.searchParams) > 0 {
		params := make([]map[string]interface{}, len(entry.searchParams))
		for i, sp := range entry.searchParams {
			p := map[string]interface{}{
				"name": sp.Name,
				"type": sp.Type,
			}
			if sp.Documentation != "" {
				p["documentation"] = sp.Documentation
			}
			params[i] = p
		}
		res["searchParam"] = params
	}

	if len(entry.operations) > 0 {
		ops := make([]map[string]interface{}, len(entry.operations))
		for i, op := range entry.operations {
			o := map[string]interface{}{
				"name":       op.Name,
				"definition": op.Definition,
			}
			if op.Documentation != "" {
				o["documentation"] = op.Documentation
			}
			ops[i] = o
		}
		res["operation"] = ops
	}

	return res
}
