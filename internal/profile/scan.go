package profile

import (
	"context"
	"encoding/json"
	"log"

	"companion/api/internal/scratch"
)

// ScanLocalScratch inspects every migratable scratch entry under the
// given scope and builds the migration patch from the entries present.
// It has no side effects and is safe to call repeatedly. A malformed
// entry is logged and skipped; it is NOT added to consumedKeys, so it
// stays in place rather than being silently destroyed. A storage-level
// read failure aborts the scan so the caller can retry the whole
// bootstrap.
func ScanLocalScratch(ctx context.Context, store scratch.Store, scope string) (Patch, []string, error) {
	var patch Patch
	consumed := make([]string, 0, len(scratch.MigratableKeys))

	get := func(key string) (string, bool, error) {
		return store.Get(ctx, scope, key)
	}

	theme, ok, err := get(scratch.KeyTheme)
	if err != nil {
		return Patch{}, nil, err
	}
	// Only the two valid theme values are migrated; anything else is
	// left behind untouched.
	if ok && (theme == "dark" || theme == "light") {
		ensurePreferences(&patch).Theme = &theme
		consumed = append(consumed, scratch.KeyTheme)
	}

	if raw, ok, err := get(scratch.KeyKBFavorites); err != nil {
		return Patch{}, nil, err
	} else if ok {
		var favorites []string
		if parseErr := json.Unmarshal([]byte(raw), &favorites); parseErr != nil {
			log.Printf("scratch: skipping malformed %s: %v", scratch.KeyKBFavorites, parseErr)
		} else {
			ensureKnowledgeBase(&patch).Favorites = favorites
			consumed = append(consumed, scratch.KeyKBFavorites)
		}
	}

	if raw, ok, err := get(scratch.KeyPinnedLinks); err != nil {
		return Patch{}, nil, err
	} else if ok {
		var links []string
		if parseErr := json.Unmarshal([]byte(raw), &links); parseErr != nil {
			log.Printf("scratch: skipping malformed %s: %v", scratch.KeyPinnedLinks, parseErr)
		} else {
			ensurePreferences(&patch).PinnedLinks = links
			consumed = append(consumed, scratch.KeyPinnedLinks)
		}
	}

	if focus, ok, err := get(scratch.KeyFocus); err != nil {
		return Patch{}, nil, err
	} else if ok && focus != "" {
		ensurePreferences(&patch).Focus = &focus
		consumed = append(consumed, scratch.KeyFocus)
	}

	if scripture, ok, err := get(scratch.KeyScripture); err != nil {
		return Patch{}, nil, err
	} else if ok && scripture != "" {
		ensurePreferences(&patch).Scripture = &scripture
		consumed = append(consumed, scratch.KeyScripture)
	}

	if raw, ok, err := get(scratch.KeyPriorities); err != nil {
		return Patch{}, nil, err
	} else if ok {
		var priorities []Priority
		if parseErr := json.Unmarshal([]byte(raw), &priorities); parseErr != nil {
			log.Printf("scratch: skipping malformed %s: %v", scratch.KeyPriorities, parseErr)
		} else {
			patch.Priorities = priorities
			consumed = append(consumed, scratch.KeyPriorities)
		}
	}

	if raw, ok, err := get(scratch.KeyRecentKBItems); err != nil {
		return Patch{}, nil, err
	} else if ok {
		var recent []string
		if parseErr := json.Unmarshal([]byte(raw), &recent); parseErr != nil {
			log.Printf("scratch: skipping malformed %s: %v", scratch.KeyRecentKBItems, parseErr)
		} else {
			ensureKnowledgeBase(&patch).RecentlyViewed = recent
			consumed = append(consumed, scratch.KeyRecentKBItems)
		}
	}

	if raw, ok, err := get(scratch.KeyKBPinned); err != nil {
		return Patch{}, nil, err
	} else if ok {
		var pinned []string
		if parseErr := json.Unmarshal([]byte(raw), &pinned); parseErr != nil {
			log.Printf("scratch: skipping malformed %s: %v", scratch.KeyKBPinned, parseErr)
		} else {
			ensureKnowledgeBase(&patch).PinnedArticles = pinned
			consumed = append(consumed, scratch.KeyKBPinned)
		}
	}

	return patch, consumed, nil
}

func ensurePreferences(patch *Patch) *PreferencesPatch {
	if patch.Preferences == nil {
		patch.Preferences = &PreferencesPatch{}
	}
	return patch.Preferences
}

func ensureKnowledgeBase(patch *Patch) *KnowledgeBasePatch {
	if patch.KnowledgeBase == nil {
		patch.KnowledgeBase = &KnowledgeBasePatch{}
	}
	return patch.KnowledgeBase
}
