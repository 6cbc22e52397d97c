package upstream

import (
	"fmt"
	"sort"
)

// Provider describes a known upstream FHIR store flavor and its behavioral
// quirks. The service adapts to these rather than assuming every store
// behaves like HAPI.
type Provider struct {
	ID   string
	Name string

	// ValidationStrict indicates the store rejects structurally invalid
	// resources on its own. Lenient stores get a compensating structural
	// check in front of write operations.
	ValidationStrict bool

	// RequiresAuth indicates the store only accepts authenticated requests.
	RequiresAuth bool

	// ReadOnly indicates writes must not be forwarded to the store.
	ReadOnly bool
}

var providers = map[string]Provider{
	"hapi": {
		ID:   "hapi",
		Name: "HAPI FHIR",
	},
	"aidbox": {
		ID:               "aidbox",
		Name:             "Aidbox",
		ValidationStrict: true,
	},
	"azure": {
		ID:               "azure",
		Name:             "Azure Health Data Services",
		ValidationStrict: true,
		RequiresAuth:     true,
	},
	"firely": {
		ID:               "firely",
		Name:             "Firely Server",
		ValidationStrict: true,
	},
	"smile": {
		ID:               "smile",
		Name:             "Smile CDR",
		ValidationStrict: true,
		ReadOnly:         true,
	},
}

// ProfileFor returns the provider profile for the given identifier.
func ProfileFor(id string) (Provider, error) {
	p, ok := providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("unknown FHIR provider %q (known: %v)", id, KnownProviders())
	}
	return p, nil
}

// KnownProviders lists the supported provider identifiers in sorted order.
func KnownProviders() []string {
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
