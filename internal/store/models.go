package store

import "time"

// Identity is a credential-store principal. The profile document for
// the same person lives in the profiles table, keyed by this ID.
type Identity struct {
	ID                    string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// KBItem is one record of the flat knowledge-base collection,
// partitioned across the feature surfaces by its type tag.
type KBItem struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Body      string    `json:"body,omitempty"`
	Category  string    `json:"category,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// KBItemPatch carries only the fields present in a partial update.
type KBItemPatch struct {
	Title    *string
	Summary  *string
	Body     *string
	Category *string
	Tags     []string
}

// KBTypes is the closed set of feature-surface type tags.
var KBTypes = []string{
	"announcements",
	"events",
	"tasks",
	"resources",
	"staff-directory",
	"systems",
	"support",
	"onboarding",
}

// ValidKBType reports whether t is a known feature-surface tag.
func ValidKBType(t string) bool {
	for _, known := range KBTypes {
		if known == t {
			return true
		}
	}
	return false
}
