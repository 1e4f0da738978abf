package odem

import "strings"

// UUIDPlaceholder marks where Create inserts the generated UUID.
const UUIDPlaceholder = "%u"

// DefaultSeparator splits keys into segments.
const DefaultSeparator = "/"

// NormalizePrefix trims prefix and makes it end with exactly one slash.
// An empty or blank prefix stays empty, meaning no scoping at all.
func NormalizePrefix(prefix string) string {
	trimmed := trimPrefix(prefix)
	if trimmed == "" {
		return ""
	}
	return trimmed + "/"
}

// trimPrefix removes surrounding whitespace and all trailing slashes.
func trimPrefix(prefix string) string {
	return strings.TrimRight(strings.TrimSpace(prefix), "/")
}

// truncateKey keeps the first maxDepth segments of key. A non-positive depth
// or an empty separator leaves key as is.
func truncateKey(key, separator string, maxDepth int) string {
	if maxDepth <= 0 || separator == "" {
		return key
	}
	segments := strings.SplitN(key, separator, maxDepth+1)
	if len(segments) <= maxDepth {
		return key
	}
	return strings.Join(segments[:maxDepth], separator)
}

func resolveTemplate(template, id string) string {
	return strings.ReplaceAll(template, UUIDPlaceholder, id)
}
