package importer

import (
	"regexp"
	"strings"
)

var customFieldHeader = regexp.MustCompile(`^cf\s*(\d+)$`)

// AttributeMap translates normalized header names into attribute keys.
type AttributeMap map[string]string

// Key returns the attribute key for a raw header. Headers are lowercased and
// trimmed first; "cf N" becomes custom_field_N and unmapped names pass through.
func (m AttributeMap) Key(header string) string {
	name := strings.ToLower(strings.TrimSpace(header))
	if key, ok := m[name]; ok {
		return key
	}
	if match := customFieldHeader.FindStringSubmatch(name); match != nil {
		return "custom_field_" + match[1]
	}
	return name
}
