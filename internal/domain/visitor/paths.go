package visitor

import "strings"

// Categories a path can map to. The collector aggregates on these coarse
// labels, not raw URLs.
const (
	CategoryHome     = "home"
	CategoryCustomer = "customer"
	CategoryPolicy   = "policy"
)

// CategorizePath reduces a URL path to its coarse page category. Unrecognized
// paths fall back to their first segment so new site sections degrade to a
// sensible label without a code change.
func CategorizePath(path string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	if trimmed == "" {
		return CategoryHome
	}

	segments := strings.Split(trimmed, "/")
	first := strings.ToLower(segments[0])

	switch first {
	case "customer", "customers":
		return CategoryCustomer
	case "policy", "policies", "privacy", "terms":
		return CategoryPolicy
	default:
		return first
	}
}

// IsCustomerPath reports whether the path is a customer-scoped route, the
// attribution-bearing page type for referrer fallback.
func IsCustomerPath(path string) bool {
	return CategorizePath(path) == CategoryCustomer
}

// ExtractCustomerID pulls the customer identifier out of a customer-scoped
// route like /customer/<id>/... Returns "" when the path carries none.
func ExtractCustomerID(path string) string {
	trimmed := strings.Trim(strings.TrimSpace(path), "/")
	segments := strings.Split(trimmed, "/")
	if len(segments) < 2 {
		return ""
	}
	first := strings.ToLower(segments[0])
	if first != "customer" && first != "customers" {
		return ""
	}
	return segments[1]
}
