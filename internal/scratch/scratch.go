// Package scratch provides the local scratch storage backends: a
// scoped key/value store the web client mirrors its pre-login
// localStorage into. Scopes are device IDs before sign-in and
// identity IDs for per-identity entries such as the LLM quota.
package scratch

import "context"

// Store is the scratch storage contract. A missing key is reported
// through the bool, not an error.
type Store interface {
	Get(ctx context.Context, scope, key string) (string, bool, error)
	Set(ctx context.Context, scope, key, value string) error
	Remove(ctx context.Context, scope, key string) error
}

// The fixed, enumerable set of scratch keys written by the feature
// surfaces before a profile exists. Anything else is rejected at the
// HTTP boundary.
const (
	KeyTheme         = "theme"
	KeyKBFavorites   = "kb-favorites"
	KeyPinnedLinks   = "pinned-links"
	KeyFocus         = "focus"
	KeyScripture     = "scripture"
	KeyPriorities    = "priorities"
	KeyRecentKBItems = "recent-kb-items"
	KeyKBPinned      = "kb-pinned"
)

// MigratableKeys lists every key the migration scan inspects, in scan
// order.
var MigratableKeys = []string{
	KeyTheme,
	KeyKBFavorites,
	KeyPinnedLinks,
	KeyFocus,
	KeyScripture,
	KeyPriorities,
	KeyRecentKBItems,
	KeyKBPinned,
}

// KnownKey reports whether key belongs to the migratable set.
func KnownKey(key string) bool {
	for _, k := range MigratableKeys {
		if k == key {
			return true
		}
	}
	return false
}
