// Package relation resolves relation endpoint descriptors and CCT membership.
package relation

import (
	"strings"

	"github.com/starford/cctsync/internal/models"
)

const separator = "::"

// ParseEndpoint splits a descriptor on its first "::". A bare slug is the
// legacy form and always means a CCT.
func ParseEndpoint(descriptor string) models.Endpoint {
	typ, slug, found := strings.Cut(descriptor, separator)
	if !found {
		return models.Endpoint{Type: models.EndpointCCT, Slug: descriptor}
	}
	return models.Endpoint{Type: models.EndpointType(typ), Slug: slug}
}

// ParseEndpointValue is ParseEndpoint for values decoded from loosely typed
// sources. Anything that is not a string parses as unknown.
func ParseEndpointValue(v any) models.Endpoint {
	switch s := v.(type) {
	case string:
		return ParseEndpoint(s)
	case []byte:
		return ParseEndpoint(string(s))
	default:
		return models.Endpoint{Type: models.EndpointUnknown}
	}
}

// IsCCTMember reports whether descriptor names the CCT slug. Taxonomy and
// post-type endpoints never match, even when their slug equals the CCT slug.
func IsCCTMember(slug, descriptor string) bool {
	if strings.HasPrefix(descriptor, string(models.EndpointTerms)+separator) ||
		strings.HasPrefix(descriptor, string(models.EndpointPosts)+separator) {
		return false
	}
	ep := ParseEndpoint(descriptor)
	return ep.Type == models.EndpointCCT && ep.Slug == slug
}

// Humanize turns a slug into a label: "vehicle_models" -> "Vehicle models".
func Humanize(slug string) string {
	s := strings.ReplaceAll(slug, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
