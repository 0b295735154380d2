package mailbox

import "strings"

const (
	keySep     = "|"
	keyMissing = "-"
)

// BuildKey derives the dedup key for a notification from its identifying
// fields. Empty fields collapse to a fixed placeholder so that two events
// missing the same fields only collide when everything else matches, and the
// separator is stripped from field values so a crafted value cannot alias
// another key.
func BuildKey(kind, tenant, ticket, message, sourceTS string) string {
	parts := [5]string{kind, tenant, ticket, message, sourceTS}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			parts[i] = keyMissing
			continue
		}
		parts[i] = strings.ReplaceAll(p, keySep, "_")
	}
	return strings.Join(parts[:], keySep)
}
